package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status tracks a list job through its lifecycle. A job is created in
// processing and ends in exactly one of completed or failed; pollers never
// observe any other status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when a list with the requested ID does not exist.
var ErrNotFound = errors.New("list not found")

// List is a research job together with its result once completed.
type List struct {
	ID        uuid.UUID        `json:"id"`
	Prompt    string           `json:"prompt"`
	Title     string           `json:"title,omitempty"`
	Status    Status           `json:"status"`
	Data      []map[string]any `json:"data"`
	Error     string           `json:"error,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// LogEntry is a single pipeline log line attached to a list job.
type LogEntry struct {
	ID        int             `json:"id"`
	ListID    uuid.UUID       `json:"list_id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// Store persists list jobs and their logs. Implementations exist for
// PostgreSQL and MongoDB, selected at startup.
type Store interface {
	CreateList(ctx context.Context, list *List) error
	GetList(ctx context.Context, id uuid.UUID) (*List, error)
	ListLists(ctx context.Context, limit int) ([]List, error)
	ListsBySession(ctx context.Context, sessionID string) ([]List, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	CompleteList(ctx context.Context, id uuid.UUID, title string, data []map[string]any) error
	FailList(ctx context.Context, id uuid.UUID, reason string) error
	DeleteList(ctx context.Context, id uuid.UUID) error
	AppendLog(ctx context.Context, entry LogEntry) error
	GetLogs(ctx context.Context, listID uuid.UUID) ([]LogEntry, error)
	Close()
}
