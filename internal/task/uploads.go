package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UploadStore keeps task attachments on local disk under random names.
type UploadStore struct {
	dir string
}

func NewUploadStore(dir string) (*UploadStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadStore{dir: dir}, nil
}

// Save copies an upload to disk and returns the attachment describing it.
func (s *UploadStore) Save(ctx context.Context, u Upload) (Attachment, error) {
	if err := ctx.Err(); err != nil {
		return Attachment{}, err
	}

	src, err := u.Open()
	if err != nil {
		return Attachment{}, err
	}
	defer src.Close()

	userFilename := filepath.Base(u.Filename)
	internal := uuid.NewString() + strings.ToLower(filepath.Ext(userFilename))

	dst, err := os.OpenFile(filepath.Join(s.dir, internal), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Attachment{}, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		s.Remove(internal)
		return Attachment{}, fmt.Errorf("store %s: %w", userFilename, err)
	}
	if err := dst.Close(); err != nil {
		s.Remove(internal)
		return Attachment{}, err
	}

	return Attachment{UserFilename: userFilename, InternalFilename: internal}, nil
}

// Path returns where an attachment lives on disk.
func (s *UploadStore) Path(internalFilename string) string {
	return filepath.Join(s.dir, filepath.Base(internalFilename))
}

func (s *UploadStore) Remove(internalFilename string) {
	os.Remove(s.Path(internalFilename))
}
