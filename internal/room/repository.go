package room

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crisisflow/internal/db"
)

type Repository struct {
	db *db.Database
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database}
}

func (r *Repository) CreateRoom(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO rooms (id, name) VALUES (?, ?)", id, name)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("create room %s: %w", id, ErrDuplicateID)
		}
		return fmt.Errorf("create room %s: %w", id, err)
	}
	return nil
}

func (r *Repository) GetRoom(ctx context.Context, id string) (*Room, error) {
	rm := &Room{}
	err := r.db.QueryRowContext(ctx, "SELECT id, name FROM rooms WHERE id = ?", id).Scan(&rm.ID, &rm.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	rm.Channels, err = r.channels(ctx, "WHERE room = ?", id)
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// AllWithChannels returns every room ordered by name, each with its
// channels ordered by name.
func (r *Repository) AllWithChannels(ctx context.Context) ([]Room, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name FROM rooms ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []Room{}
	index := map[string]int{}
	for rows.Next() {
		var rm Room
		if err := rows.Scan(&rm.ID, &rm.Name); err != nil {
			return nil, err
		}
		rm.Channels = []Channel{}
		index[rm.ID] = len(rooms)
		rooms = append(rooms, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	channels, err := r.channels(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, c := range channels {
		if i, ok := index[c.Room]; ok {
			rooms[i].Channels = append(rooms[i].Channels, c)
		}
	}
	return rooms, nil
}

func (r *Repository) channels(ctx context.Context, where string, args ...any) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, room, name, color_index FROM channels "+where+" ORDER BY name, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []Channel{}
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Room, &c.Name, &c.ColorIndex); err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (r *Repository) RenameRoom(ctx context.Context, id, name string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE rooms SET name = ? WHERE id = ?", name, id)
	return affectedOne(res, err, ErrNotFound)
}

// DeleteRoom removes a room; its channels, messages and tasks cascade.
func (r *Repository) DeleteRoom(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM rooms WHERE id = ?", id)
	return affectedOne(res, err, ErrNotFound)
}

// CreateChannel adds a channel whose color index is the number of channels
// the room already has.
func (r *Repository) CreateChannel(ctx context.Context, roomID, name string) (*Channel, error) {
	c := &Channel{Room: roomID, Name: name}
	err := r.db.WithTx(ctx, func(tx *db.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms WHERE id = ?", roomID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}

		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels WHERE room = ?", roomID).Scan(&c.ColorIndex); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			"INSERT INTO channels (room, name, color_index) VALUES (?, ?, ?) RETURNING id",
			roomID, name, c.ColorIndex).Scan(&c.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("create channel in %s: %w", roomID, err)
	}
	return c, nil
}

func (r *Repository) RoomOfChannel(ctx context.Context, channelID int64) (string, error) {
	var roomID string
	err := r.db.QueryRowContext(ctx, "SELECT room FROM channels WHERE id = ?", channelID).Scan(&roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrChannelNotFound
	}
	return roomID, err
}

func (r *Repository) RenameChannel(ctx context.Context, channelID int64, name string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE channels SET name = ? WHERE id = ?", name, channelID)
	return affectedOne(res, err, ErrChannelNotFound)
}

func (r *Repository) DeleteChannel(ctx context.Context, channelID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM channels WHERE id = ?", channelID)
	return affectedOne(res, err, ErrChannelNotFound)
}

func affectedOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
