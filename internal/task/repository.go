package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
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

// Create stores t together with its tags and attachments in one
// transaction. Each entry of tags is either the id of an existing tag or
// the name of a tag to create. On success t carries its id, time, status
// and resolved tags.
func (r *Repository) Create(ctx context.Context, t *Task, tags []string) error {
	t.Time = r.timestamp()
	t.Status = StatusSubmitted

	err := r.db.WithTx(ctx, func(tx *db.Tx) error {
		resolved, err := resolveTags(ctx, tx, tags)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			INSERT INTO tasks (room, author, title, status, high_priority, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			t.Room, t.Author, t.Title, t.Status, t.HighPriority, t.Content, t.Time,
		).Scan(&t.ID)
		if err != nil {
			return err
		}

		for _, tag := range resolved {
			if _, err := tx.ExecContext(ctx, "INSERT INTO task_tags (task, tag) VALUES (?, ?)", t.ID, tag.ID); err != nil {
				return err
			}
		}

		for i := range t.Attachments {
			a := &t.Attachments[i]
			err := tx.QueryRowContext(ctx,
				"INSERT INTO attachments (user_filename, internal_filename) VALUES (?, ?) RETURNING id",
				a.UserFilename, a.InternalFilename).Scan(&a.ID)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "INSERT INTO task_attachments (task, attachment) VALUES (?, ?)", t.ID, a.ID); err != nil {
				return err
			}
		}

		t.Tags = resolved
		return nil
	})
	if err != nil {
		return fmt.Errorf("create task in %s: %w", t.Room, err)
	}

	if t.Attachments == nil {
		t.Attachments = []Attachment{}
	}
	t.Followups = []Followup{}
	return nil
}

func resolveTags(ctx context.Context, tx *db.Tx, selected []string) ([]Tag, error) {
	resolved := []Tag{}
	seen := map[int64]bool{}

	for _, value := range selected {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		var tag Tag
		found := false
		if id, err := strconv.ParseInt(value, 10, 64); err == nil {
			err := tx.QueryRowContext(ctx, "SELECT id, name FROM tags WHERE id = ?", id).Scan(&tag.ID, &tag.Name)
			switch {
			case err == nil:
				found = true
			case !errors.Is(err, sql.ErrNoRows):
				return nil, err
			}
		}

		if !found {
			tag.Name = value
			if err := tx.QueryRowContext(ctx, "INSERT INTO tags (name) VALUES (?) RETURNING id", value).Scan(&tag.ID); err != nil {
				return nil, err
			}
		}

		if !seen[tag.ID] {
			seen[tag.ID] = true
			resolved = append(resolved, tag)
		}
	}
	return resolved, nil
}

// UpdateStatus moves a task of roomID from old to new only if it is still
// in old, returning the number of rows changed.
func (r *Repository) UpdateStatus(ctx context.Context, roomID string, taskID int64, old, new Status) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET status = ? WHERE id = ? AND room = ? AND status = ?", new, taskID, roomID, old)
	if err != nil {
		return 0, fmt.Errorf("update status of task %d: %w", taskID, err)
	}
	return res.RowsAffected()
}

func (r *Repository) CreateFollowup(ctx context.Context, taskID int64, content, author string) (int64, float64, error) {
	at := r.timestamp()

	var id int64
	err := r.db.QueryRowContext(ctx,
		"INSERT INTO task_followups (task, author, content, created_at) VALUES (?, ?, ?, ?) RETURNING id",
		taskID, author, content, at).Scan(&id)
	if err != nil {
		return 0, 0, fmt.Errorf("create followup for task %d: %w", taskID, err)
	}
	return id, at, nil
}

// ForRoom returns a room's tasks, newest first, with tags, attachments and
// followups filled in. openOnly skips completed and cancelled tasks.
func (r *Repository) ForRoom(ctx context.Context, roomID string, openOnly bool) ([]*Task, error) {
	query := `
		SELECT t.id, t.room, t.author, COALESCE(u.display_name, t.author), t.title, t.status,
			t.high_priority, t.content, t.created_at
		FROM tasks t
		LEFT JOIN users u ON t.author = u.username
		WHERE t.room = ?`
	args := []any{roomID}
	if openOnly {
		query += " AND t.status NOT IN (?, ?)"
		args = append(args, StatusCompleted, StatusCancelled)
	}
	query += " ORDER BY t.created_at DESC, t.id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tasks for %s: %w", roomID, err)
	}
	defer rows.Close()

	tasks := []*Task{}
	byID := map[int64]*Task{}
	for rows.Next() {
		t := &Task{Tags: []Tag{}, Attachments: []Attachment{}, Followups: []Followup{}}
		if err := rows.Scan(&t.ID, &t.Room, &t.Author, &t.AuthorDisplayName, &t.Title, &t.Status,
			&t.HighPriority, &t.Content, &t.Time); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
		byID[t.ID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	if len(tasks) == 0 {
		return tasks, nil
	}
	if err := r.fillDetails(ctx, byID); err != nil {
		return nil, fmt.Errorf("task details for %s: %w", roomID, err)
	}
	return tasks, nil
}

func (r *Repository) fillDetails(ctx context.Context, byID map[int64]*Task) error {
	ids := make([]any, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	in := "(" + db.Placeholders(len(ids)) + ")"

	err := r.each(ctx, "SELECT tt.task, t.id, t.name FROM task_tags tt JOIN tags t ON tt.tag = t.id WHERE tt.task IN "+in+" ORDER BY t.name", ids,
		func(rows *sql.Rows) error {
			var taskID int64
			var tag Tag
			if err := rows.Scan(&taskID, &tag.ID, &tag.Name); err != nil {
				return err
			}
			byID[taskID].Tags = append(byID[taskID].Tags, tag)
			return nil
		})
	if err != nil {
		return err
	}

	err = r.each(ctx, "SELECT ta.task, a.id, a.user_filename, a.internal_filename FROM task_attachments ta JOIN attachments a ON ta.attachment = a.id WHERE ta.task IN "+in+" ORDER BY a.id", ids,
		func(rows *sql.Rows) error {
			var taskID int64
			var a Attachment
			if err := rows.Scan(&taskID, &a.ID, &a.UserFilename, &a.InternalFilename); err != nil {
				return err
			}
			byID[taskID].Attachments = append(byID[taskID].Attachments, a)
			return nil
		})
	if err != nil {
		return err
	}

	return r.each(ctx, "SELECT id, task, author, content, created_at FROM task_followups WHERE task IN "+in+" ORDER BY created_at, id", ids,
		func(rows *sql.Rows) error {
			var f Followup
			if err := rows.Scan(&f.ID, &f.Task, &f.Author, &f.Content, &f.Time); err != nil {
				return err
			}
			byID[f.Task].Followups = append(byID[f.Task].Followups, f)
			return nil
		})
}

func (r *Repository) each(ctx context.Context, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *Repository) AllTags(ctx context.Context) ([]Tag, error) {
	tags := []Tag{}
	err := r.each(ctx, "SELECT id, name FROM tags ORDER BY name, id", nil, func(rows *sql.Rows) error {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.Name); err != nil {
			return err
		}
		tags = append(tags, tag)
		return nil
	})
	return tags, err
}

// AttachmentByFilename looks up an attachment by its stored name.
func (r *Repository) AttachmentByFilename(ctx context.Context, internalFilename string) (*Attachment, error) {
	a := &Attachment{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_filename, internal_filename FROM attachments WHERE internal_filename = ?",
		internalFilename).Scan(&a.ID, &a.UserFilename, &a.InternalFilename)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
