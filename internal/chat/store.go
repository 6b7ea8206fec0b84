package chat

import (
	"context"

	"crisisflow/internal/task"
	"crisisflow/internal/user"
)

// Store is the persistence the hub needs. Calls are made off the hub loop.
type Store interface {
	RoomLister
	CreateMessage(ctx context.Context, roomID, author string, reply int64, content string) (int64, float64, error)
	UpdateTaskStatus(ctx context.Context, roomID string, taskID int64, old, new task.Status) (int64, error)
	CreateTaskFollowup(ctx context.Context, taskID int64, content, author string) (int64, float64, error)
	UsersByID(ctx context.Context) (map[string]user.DisplayInfo, error)
}
