package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"crisisflow/internal/room"

	"golang.org/x/sync/errgroup"
)

const maxParallelUploads = 4

// Notifier pushes newly created tasks to the room's live members.
type Notifier interface {
	AddTask(ctx context.Context, roomID string, t *Task) error
}

type RoomGetter interface {
	GetRoom(ctx context.Context, id string) (*room.Room, error)
}

type Service struct {
	repo     *Repository
	rooms    RoomGetter
	uploads  *UploadStore
	notifier Notifier
	log      *slog.Logger
}

func NewService(repo *Repository, rooms RoomGetter, uploads *UploadStore, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		rooms:    rooms,
		uploads:  uploads,
		notifier: notifier,
		log:      log.With("component", "tasks"),
	}
}

// Create stores a task with its tags and files, then announces it to the
// room.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*Task, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrInvalidTask
	}
	if _, err := s.rooms.GetRoom(ctx, req.Room); err != nil {
		return nil, err
	}

	attachments, err := s.saveUploads(ctx, req.Uploads)
	if err != nil {
		return nil, err
	}

	t := &Task{
		Room:              req.Room,
		Author:            req.Author,
		AuthorDisplayName: req.AuthorDisplayName,
		Title:             title,
		HighPriority:      req.HighPriority,
		Content:           req.Content,
		Attachments:       attachments,
	}
	if err := s.repo.Create(ctx, t, req.Tags); err != nil {
		for _, a := range attachments {
			s.uploads.Remove(a.InternalFilename)
		}
		return nil, err
	}

	if err := s.notifier.AddTask(ctx, t.Room, t); err != nil {
		// the task is stored; clients will see it on their next load
		s.log.Warn("failed to announce task", "task", t.ID, "room", t.Room, "error", err)
	}
	return t, nil
}

func (s *Service) saveUploads(ctx context.Context, uploads []Upload) ([]Attachment, error) {
	attachments := make([]Attachment, len(uploads))
	if len(uploads) == 0 {
		return attachments, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUploads)
	for i, u := range uploads {
		g.Go(func() error {
			a, err := s.uploads.Save(gctx, u)
			if err != nil {
				return err
			}
			attachments[i] = a
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, a := range attachments {
			if a.InternalFilename != "" {
				s.uploads.Remove(a.InternalFilename)
			}
		}
		return nil, fmt.Errorf("save attachments: %w", err)
	}
	return attachments, nil
}

func (s *Service) ForRoom(ctx context.Context, roomID string) ([]*Task, error) {
	return s.repo.ForRoom(ctx, roomID, false)
}

func (s *Service) OpenForRoom(ctx context.Context, roomID string) ([]*Task, error) {
	return s.repo.ForRoom(ctx, roomID, true)
}

func (s *Service) Tags(ctx context.Context) ([]Tag, error) {
	return s.repo.AllTags(ctx)
}

// Attachment resolves a stored file name to its metadata and disk path.
func (s *Service) Attachment(ctx context.Context, internalFilename string) (*Attachment, string, error) {
	a, err := s.repo.AttachmentByFilename(ctx, internalFilename)
	if err != nil {
		return nil, "", err
	}
	return a, s.uploads.Path(a.InternalFilename), nil
}
