package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Gmelendi/listeando-app/pkg/store"
)

// StoreLogHandler is a slog.Handler that persists records as log entries
// attached to a list job, so pipeline progress can be inspected over the API.
type StoreLogHandler struct {
	Store  store.Store
	ListID uuid.UUID
}

func NewStoreLogHandler(st store.Store, listID uuid.UUID) *StoreLogHandler {
	return &StoreLogHandler{
		Store:  st,
		ListID: listID,
	}
}

func (h *StoreLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *StoreLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// Background context so log lines persist even if the job context cancels.
	return h.Store.AppendLog(context.Background(), store.LogEntry{
		ListID:    h.ListID,
		Timestamp: ts,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *StoreLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *StoreLogHandler) WithGroup(name string) slog.Handler {
	return h
}
