package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/Gmelendi/listeando-app/pkg/research"
	"github.com/Gmelendi/listeando-app/pkg/store"
)

// memStore is an in-memory store.Store used across the server tests. It
// signals on done whenever a list reaches a terminal status.
type memStore struct {
	mu        sync.Mutex
	lists     map[uuid.UUID]*store.List
	logs      map[uuid.UUID][]store.LogEntry
	terminals map[uuid.UUID]int
	done      chan uuid.UUID

	// completeErr, when set, makes CompleteList fail without a terminal write.
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{
		lists:     make(map[uuid.UUID]*store.List),
		logs:      make(map[uuid.UUID][]store.LogEntry),
		terminals: make(map[uuid.UUID]int),
		done:      make(chan uuid.UUID, 16),
	}
}

func (m *memStore) CreateList(ctx context.Context, list *store.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	list.CreatedAt = now
	list.UpdatedAt = now
	clone := *list
	m.lists[list.ID] = &clone
	return nil
}

func (m *memStore) GetList(ctx context.Context, id uuid.UUID) (*store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *list
	return &clone, nil
}

func (m *memStore) ListLists(ctx context.Context, limit int) ([]store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.List
	for _, l := range m.lists {
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) ListsBySession(ctx context.Context, sessionID string) ([]store.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.List
	for _, l := range m.lists {
		if l.SessionID == sessionID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, id uuid.UUID, status store.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.lists[id]
	if !ok {
		return store.ErrNotFound
	}
	list.Status = status
	return nil
}

func (m *memStore) CompleteList(ctx context.Context, id uuid.UUID, title string, data []map[string]any) error {
	m.mu.Lock()
	if m.completeErr != nil {
		m.mu.Unlock()
		return m.completeErr
	}
	list, ok := m.lists[id]
	if !ok {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	list.Status = store.StatusCompleted
	list.Title = title
	list.Data = data
	m.terminals[id]++
	m.mu.Unlock()
	m.done <- id
	return nil
}

func (m *memStore) FailList(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	list, ok := m.lists[id]
	if !ok {
		m.mu.Unlock()
		return store.ErrNotFound
	}
	list.Status = store.StatusFailed
	list.Error = reason
	m.terminals[id]++
	m.mu.Unlock()
	m.done <- id
	return nil
}

func (m *memStore) DeleteList(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.lists, id)
	delete(m.logs, id)
	return nil
}

func (m *memStore) AppendLog(ctx context.Context, entry store.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[entry.ListID] = append(m.logs[entry.ListID], entry)
	return nil
}

func (m *memStore) GetLogs(ctx context.Context, listID uuid.UUID) ([]store.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.LogEntry(nil), m.logs[listID]...), nil
}

func (m *memStore) Close() {}

func (m *memStore) waitDone(t *testing.T, id uuid.UUID) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case doneID := <-m.done:
			if doneID == id {
				return
			}
		case <-deadline:
			t.Fatalf("job %s did not reach a terminal status", id)
		}
	}
}

type runnerFunc func(ctx context.Context, jobID, prompt string) (*research.Result, error)

func (f runnerFunc) Run(ctx context.Context, jobID, prompt string) (*research.Result, error) {
	return f(ctx, jobID, prompt)
}

func staticRunner(result *research.Result, err error) func(*slog.Logger) Runner {
	return func(logger *slog.Logger) Runner {
		return runnerFunc(func(ctx context.Context, jobID, prompt string) (*research.Result, error) {
			return result, err
		})
	}
}

func TestCreateListReturnsProcessingImmediately(t *testing.T) {
	st := newMemStore()
	release := make(chan struct{})
	svc := NewService(st, func(logger *slog.Logger) Runner {
		return runnerFunc(func(ctx context.Context, jobID, prompt string) (*research.Result, error) {
			<-release
			return &research.Result{Title: "T", Records: []map[string]any{}}, nil
		})
	})
	svc.Start(1)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "top ten things"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	// Pollers see processing from submission until the one terminal write.
	if list.Status != store.StatusProcessing {
		t.Errorf("status = %q, want processing", list.Status)
	}
	if list.ID == uuid.Nil {
		t.Error("list ID not assigned")
	}
	stored, err := st.GetList(context.Background(), list.ID)
	if err != nil {
		t.Fatalf("GetList() error = %v", err)
	}
	if stored.Status != store.StatusProcessing {
		t.Errorf("stored status = %q, want processing while the job runs", stored.Status)
	}

	close(release)
	st.waitDone(t, list.ID)
}

func TestWorkerCompletesJob(t *testing.T) {
	st := newMemStore()
	result := &research.Result{
		Title: "Top Vegan Brunch Spots in Lisbon",
		Records: []map[string]any{
			{"spotName": "The Food Temple"},
		},
	}
	svc := NewService(st, staticRunner(result, nil))
	svc.Start(2)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "vegan brunch lisbon"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	st.waitDone(t, list.ID)

	got, err := st.GetList(context.Background(), list.ID)
	if err != nil {
		t.Fatalf("GetList() error = %v", err)
	}
	if got.Status != store.StatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.Title != result.Title {
		t.Errorf("title = %q", got.Title)
	}
	if len(got.Data) != 1 {
		t.Errorf("data = %v", got.Data)
	}
	if n := st.terminals[list.ID]; n != 1 {
		t.Errorf("list reached a terminal status %d times, want exactly 1", n)
	}
}

func TestWorkerFailsJob(t *testing.T) {
	st := newMemStore()
	svc := NewService(st, staticRunner(nil, errors.New("all search queries failed")))
	svc.Start(1)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	st.waitDone(t, list.ID)

	got, _ := st.GetList(context.Background(), list.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.Error, "all search queries failed") {
		t.Errorf("error = %q, want the failure reason", got.Error)
	}
	if n := st.terminals[list.ID]; n != 1 {
		t.Errorf("list reached a terminal status %d times, want exactly 1", n)
	}
}

func TestJobLoggerWritesToStore(t *testing.T) {
	st := newMemStore()
	svc := NewService(st, func(logger *slog.Logger) Runner {
		return runnerFunc(func(ctx context.Context, jobID, prompt string) (*research.Result, error) {
			logger.Info("Starting schema generation", "job_id", jobID)
			return &research.Result{Title: "T", Records: []map[string]any{}}, nil
		})
	})
	svc.Start(1)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	st.waitDone(t, list.ID)

	logs, _ := st.GetLogs(context.Background(), list.ID)
	if len(logs) == 0 {
		t.Fatal("no log entries persisted")
	}
	if logs[0].Message != "Starting schema generation" {
		t.Errorf("first log message = %q", logs[0].Message)
	}
	if logs[0].Level != "INFO" {
		t.Errorf("first log level = %q", logs[0].Level)
	}
}

func TestWorkerFailsJobWhenResultCannotBeSaved(t *testing.T) {
	st := newMemStore()
	st.completeErr = errors.New("connection reset")
	svc := NewService(st, staticRunner(&research.Result{Title: "T", Records: []map[string]any{}}, nil))
	svc.Logger = slog.New(slog.DiscardHandler)
	svc.Start(1)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	st.waitDone(t, list.ID)

	got, _ := st.GetList(context.Background(), list.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("status = %q, want failed when the result cannot be saved", got.Status)
	}
	if !strings.Contains(got.Error, "failed to save result") {
		t.Errorf("error = %q, want the save failure reason", got.Error)
	}
	if n := st.terminals[list.ID]; n != 1 {
		t.Errorf("list reached a terminal status %d times, want exactly 1", n)
	}
}

func TestDeleteList(t *testing.T) {
	st := newMemStore()
	svc := NewService(st, staticRunner(&research.Result{Title: "T", Records: []map[string]any{}}, nil))
	svc.Start(1)
	defer svc.Stop()

	list, err := svc.CreateList(context.Background(), CreateListRequest{Prompt: "anything"})
	if err != nil {
		t.Fatalf("CreateList() error = %v", err)
	}
	st.waitDone(t, list.ID)

	if err := svc.DeleteList(context.Background(), list.ID); err != nil {
		t.Fatalf("DeleteList() error = %v", err)
	}
	if _, err := st.GetList(context.Background(), list.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetList() after delete error = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteList(context.Background(), list.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second DeleteList() error = %v, want ErrNotFound", err)
	}
}

type fakeEnhancer struct {
	lastMessages []llms.MessageContent
	response     string
}

func (f *fakeEnhancer) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	f.lastMessages = messages
	return f.response, nil
}

func TestEnhancePrompt(t *testing.T) {
	st := newMemStore()
	enhancer := &fakeEnhancer{response: "A detailed research prompt."}
	svc := NewService(st, staticRunner(nil, nil))
	svc.Enhancer = enhancer

	got, err := svc.EnhancePrompt(context.Background(), "vegan brunch")
	if err != nil {
		t.Fatalf("EnhancePrompt() error = %v", err)
	}
	if got != "A detailed research prompt." {
		t.Errorf("EnhancePrompt() = %q", got)
	}
	if len(enhancer.lastMessages) != 2 {
		t.Fatalf("got %d messages, want system + human", len(enhancer.lastMessages))
	}
	if enhancer.lastMessages[0].Role != llms.ChatMessageTypeSystem {
		t.Errorf("first message role = %q, want system", enhancer.lastMessages[0].Role)
	}
}

func TestEnhancePromptUnconfigured(t *testing.T) {
	svc := NewService(newMemStore(), staticRunner(nil, nil))
	if _, err := svc.EnhancePrompt(context.Background(), "x"); err == nil {
		t.Error("EnhancePrompt() error = nil, want unconfigured error")
	}
}
