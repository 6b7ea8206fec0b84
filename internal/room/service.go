package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	idLength   = 6
)

// DirectorySync keeps the live membership directory in step with the rooms
// and channels in the database.
type DirectorySync interface {
	EnsureRoom(ctx context.Context, roomID string) error
	RemoveRoom(ctx context.Context, roomID string) error
	AddChannels(ctx context.Context, roomID string, channelIDs ...int64) error
	RemoveChannels(ctx context.Context, roomID string, channelIDs ...int64) error
}

type Service struct {
	repo      *Repository
	directory DirectorySync
	newID     func() string
	log       *slog.Logger
}

func NewService(repo *Repository, directory DirectorySync, log *slog.Logger) (*Service, error) {
	gen, err := nanoid.CustomASCII(idAlphabet, idLength)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		directory: directory,
		newID:     gen,
		log:       log.With("component", "rooms"),
	}, nil
}

func (s *Service) List(ctx context.Context) ([]Room, error) {
	return s.repo.AllWithChannels(ctx)
}

func (s *Service) Get(ctx context.Context, roomID string) (*Room, error) {
	return s.repo.GetRoom(ctx, roomID)
}

// Create stores a new room, plus any initial channels, and opens it in the
// directory so clients can join straight away.
func (s *Service) Create(ctx context.Context, req *CreateRoomRequest) (*Room, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}

	rm := &Room{Name: name, Channels: []Channel{}}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		rm.ID = s.newID()
		err = s.repo.CreateRoom(ctx, rm.ID, name)
		if !errors.Is(err, ErrDuplicateID) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	if err := s.directory.EnsureRoom(ctx, rm.ID); err != nil {
		if delErr := s.repo.DeleteRoom(ctx, rm.ID); delErr != nil {
			s.log.Error("failed to roll back room", "room", rm.ID, "error", delErr)
		}
		return nil, fmt.Errorf("open room %s: %w", rm.ID, err)
	}

	for _, channelName := range req.Channels {
		c, err := s.CreateChannel(ctx, rm.ID, channelName)
		if err != nil {
			return nil, err
		}
		rm.Channels = append(rm.Channels, *c)
	}

	s.log.Info("room created", "room", rm.ID, "channels", len(rm.Channels))
	return rm, nil
}

func (s *Service) Rename(ctx context.Context, roomID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	return s.repo.RenameRoom(ctx, roomID, name)
}

// Delete removes the room from the database first, then from the directory,
// which notifies anyone still inside.
func (s *Service) Delete(ctx context.Context, roomID string) error {
	if err := s.repo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	if err := s.directory.RemoveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("close room %s: %w", roomID, err)
	}
	s.log.Info("room deleted", "room", roomID)
	return nil
}

func (s *Service) CreateChannel(ctx context.Context, roomID, name string) (*Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	c, err := s.repo.CreateChannel(ctx, roomID, name)
	if err != nil {
		return nil, err
	}
	if err := s.directory.AddChannels(ctx, roomID, c.ID); err != nil {
		return nil, fmt.Errorf("open channel %d: %w", c.ID, err)
	}
	return c, nil
}

func (s *Service) RenameChannel(ctx context.Context, channelID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	return s.repo.RenameChannel(ctx, channelID, name)
}

// DeleteChannel returns the id of the room the channel belonged to.
func (s *Service) DeleteChannel(ctx context.Context, channelID int64) (string, error) {
	roomID, err := s.repo.RoomOfChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	if err := s.repo.DeleteChannel(ctx, channelID); err != nil {
		return "", err
	}
	if err := s.directory.RemoveChannels(ctx, roomID, channelID); err != nil {
		return "", fmt.Errorf("close channel %d: %w", channelID, err)
	}
	return roomID, nil
}

// IsNotFound reports whether err means a room or channel does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrChannelNotFound)
}
