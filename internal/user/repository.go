package user

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

func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if _, err := r.GetUserByUsername(ctx, user.Username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	query := "INSERT INTO users (username, password_hash, role, display_name) VALUES (?, ?, ?, ?)"
	if _, err := r.db.ExecContext(ctx, query, user.Username, user.PasswordHash, user.Role, user.DisplayName); err != nil {
		return fmt.Errorf("create user %s: %w", user.Username, err)
	}
	return nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := "SELECT username, password_hash, role, display_name FROM users WHERE username = ?"

	err := r.db.QueryRowContext(ctx, query, username).Scan(&u.Username, &u.PasswordHash, &u.Role, &u.DisplayName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

// GetAll returns every user's display info keyed by username.
func (r *Repository) GetAll(ctx context.Context) (map[string]DisplayInfo, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT username, role, display_name FROM users ORDER BY username ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make(map[string]DisplayInfo)
	for rows.Next() {
		var info DisplayInfo
		if err := rows.Scan(&info.Username, &info.Role, &info.DisplayName); err != nil {
			return nil, err
		}
		users[info.Username] = info
	}
	return users, rows.Err()
}
