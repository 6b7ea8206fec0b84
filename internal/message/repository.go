package message

import (
	"context"
	"fmt"
	"time"

	"crisisflow/internal/db"
)

type Repository struct {
	db  *db.Database
	now func() time.Time
}

func NewRepository(database *db.Database) *Repository {
	return &Repository{db: database, now: time.Now}
}

func (r *Repository) timestamp() float64 {
	return float64(r.now().UnixMicro()) / 1e6
}

// Create stores a message and returns its id and submission time.
func (r *Repository) Create(ctx context.Context, roomID, author string, reply int64, content string) (int64, float64, error) {
	at := r.timestamp()
	query := "INSERT INTO messages (room, author, reply, content, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id"

	var id int64
	err := r.db.QueryRowContext(ctx, query, roomID, author, NormalizeReply(reply), content, at).Scan(&id)
	if err != nil {
		return 0, 0, fmt.Errorf("create message in %s: %w", roomID, err)
	}
	return id, at, nil
}

const selectMessage = `
	SELECT m.id, m.room, m.author, COALESCE(u.display_name, m.author), m.reply, m.content, m.created_at
	FROM messages m
	LEFT JOIN users u ON m.author = u.username
`

// ForRoom returns the latest limit top-level messages of a room (newest
// first) followed by every reply beneath them. limit <= 0 returns the
// whole archive.
func (r *Repository) ForRoom(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	query := selectMessage + " WHERE m.room = ? AND m.reply < 0 ORDER BY m.created_at DESC, m.id DESC"
	args := []any{roomID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	messages, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("messages for %s: %w", roomID, err)
	}

	parents := make([]any, 0, len(messages))
	for _, m := range messages {
		parents = append(parents, m.ID)
	}

	// walk the reply tree one level at a time
	for len(parents) > 0 {
		replies, err := r.query(ctx,
			selectMessage+" WHERE m.reply IN ("+db.Placeholders(len(parents))+") ORDER BY m.created_at, m.id",
			parents...)
		if err != nil {
			return nil, fmt.Errorf("replies for %s: %w", roomID, err)
		}

		messages = append(messages, replies...)
		parents = parents[:0]
		for _, m := range replies {
			parents = append(parents, m.ID)
		}
	}
	return messages, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.Room, &m.Author, &m.AuthorDisplayName, &m.Reply, &m.Content, &m.Time); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
