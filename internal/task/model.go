package task

import (
	"errors"
	"io"
)

var (
	ErrNotFound           = errors.New("task not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrInvalidTask        = errors.New("task needs a title")
)

type Status int

const (
	StatusSubmitted Status = iota
	StatusInProgress
	StatusInReview
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusSubmitted:  "Submitted",
	StatusInProgress: "In Progress",
	StatusInReview:   "In Review",
	StatusCompleted:  "Completed",
	StatusCancelled:  "Cancelled",
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Open reports whether a task in this status still needs work.
func (s Status) Open() bool {
	return s != StatusCompleted && s != StatusCancelled
}

// StatusMap is sent to clients so they can label statuses.
func StatusMap() map[Status]string {
	m := make(map[Status]string, len(statusNames))
	for k, v := range statusNames {
		m[k] = v
	}
	return m
}

type Task struct {
	ID                int64        `json:"id"`
	Room              string       `json:"room"`
	Author            string       `json:"author"`
	AuthorDisplayName string       `json:"authorDisplayName,omitempty"`
	Title             string       `json:"title"`
	Status            Status       `json:"status"`
	HighPriority      bool         `json:"high_priority"`
	Content           string       `json:"content"`
	Time              float64      `json:"time"`
	Tags              []Tag        `json:"tags"`
	Attachments       []Attachment `json:"attachments"`
	Followups         []Followup   `json:"followups"`
}

type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Attachment struct {
	ID               int64  `json:"id"`
	UserFilename     string `json:"user_filename"`
	InternalFilename string `json:"internal_filename"`
}

type Followup struct {
	ID      int64   `json:"id"`
	Task    int64   `json:"task"`
	Author  string  `json:"author"`
	Content string  `json:"content"`
	Time    float64 `json:"time"`
}

// Upload is a file submitted along with a new task.
type Upload struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

type CreateRequest struct {
	Room              string
	Author            string
	AuthorDisplayName string
	Title             string
	Content           string
	HighPriority      bool
	// Tags holds ids of existing tags or names of tags to create.
	Tags    []string
	Uploads []Upload
}
