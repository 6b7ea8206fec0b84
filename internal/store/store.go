// Package store bundles the feature repositories behind the narrow
// interface the real-time hub depends on.
package store

import (
	"context"

	"crisisflow/internal/db"
	"crisisflow/internal/message"
	"crisisflow/internal/room"
	"crisisflow/internal/task"
	"crisisflow/internal/user"
)

type Store struct {
	Rooms    *room.Repository
	Messages *message.Repository
	Tasks    *task.Repository
	Users    user.Directory
}

func New(database *db.Database, users user.Directory) *Store {
	return &Store{
		Rooms:    room.NewRepository(database),
		Messages: message.NewRepository(database),
		Tasks:    task.NewRepository(database),
		Users:    users,
	}
}

func (s *Store) AllRoomsWithChannels(ctx context.Context) ([]room.Room, error) {
	return s.Rooms.AllWithChannels(ctx)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (*room.Room, error) {
	return s.Rooms.GetRoom(ctx, roomID)
}

func (s *Store) CreateMessage(ctx context.Context, roomID, author string, reply int64, content string) (int64, float64, error) {
	return s.Messages.Create(ctx, roomID, author, reply, content)
}

func (s *Store) MessagesForRoom(ctx context.Context, roomID string, limit int) ([]*message.Message, error) {
	return s.Messages.ForRoom(ctx, roomID, limit)
}

func (s *Store) UpdateTaskStatus(ctx context.Context, roomID string, taskID int64, old, new task.Status) (int64, error) {
	return s.Tasks.UpdateStatus(ctx, roomID, taskID, old, new)
}

func (s *Store) CreateTaskFollowup(ctx context.Context, taskID int64, content, author string) (int64, float64, error) {
	return s.Tasks.CreateFollowup(ctx, taskID, content, author)
}

func (s *Store) TasksForRoom(ctx context.Context, roomID string) ([]*task.Task, error) {
	return s.Tasks.ForRoom(ctx, roomID, false)
}

func (s *Store) UsersByID(ctx context.Context) (map[string]user.DisplayInfo, error) {
	return s.Users.UsersByID(ctx)
}
