package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/Gmelendi/listeando-app/pkg/research"
	"github.com/Gmelendi/listeando-app/pkg/store"
	"github.com/Gmelendi/listeando-app/pkg/vectorstore"
)

// Runner executes one research run and produces the final list.
type Runner interface {
	Run(ctx context.Context, jobID, userPrompt string) (*research.Result, error)
}

// Enhancer rewrites a short user prompt into a richer one.
type Enhancer interface {
	Complete(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// Embedder produces a single embedding vector for a text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

const defaultQueueSize = 256

type job struct {
	id     uuid.UUID
	prompt string
}

// Service accepts list requests, queues them, and runs them on a fixed pool
// of workers. Each job gets its own store-backed logger so progress is
// visible while the job runs.
type Service struct {
	Store     store.Store
	NewRunner func(logger *slog.Logger) Runner
	Enhancer  Enhancer
	Embedder  Embedder
	Index     *vectorstore.ListIndex
	Logger    *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewService(st store.Store, newRunner func(logger *slog.Logger) Runner) *Service {
	return &Service{
		Store:     st,
		NewRunner: newRunner,
		Logger:    slog.Default(),
		queue:     make(chan job, defaultQueueSize),
	}
}

// Start launches the worker pool. Call exactly once.
func (s *Service) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop drains the queue and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

type CreateListRequest struct {
	Prompt    string `json:"prompt" binding:"required"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// CreateList registers a job and enqueues it, returning immediately. The job
// is created in processing status; pollers see processing until the single
// terminal write.
func (s *Service) CreateList(ctx context.Context, req CreateListRequest) (*store.List, error) {
	list := &store.List{
		ID:        uuid.New(),
		Prompt:    req.Prompt,
		Status:    store.StatusProcessing,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}
	if err := s.Store.CreateList(ctx, list); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, fmt.Errorf("service is shutting down")
	}
	select {
	case s.queue <- job{id: list.ID, prompt: req.Prompt}:
	default:
		_ = s.Store.FailList(ctx, list.ID, "job queue is full")
		return nil, fmt.Errorf("job queue is full")
	}

	return list, nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		s.process(j)
	}
}

// process drives one job to exactly one terminal status.
func (s *Service) process(j job) {
	ctx := context.Background()

	// The job is already in processing status; this touch verifies it still
	// exists and stamps when work actually began.
	if err := s.Store.UpdateStatus(ctx, j.id, store.StatusProcessing); err != nil {
		s.Logger.Error("Failed to touch job before run", "job_id", j.id, "error", err)
		return
	}

	jobLogger := slog.New(NewStoreLogHandler(s.Store, j.id))
	runner := s.NewRunner(jobLogger)

	result, err := runner.Run(ctx, j.id.String(), j.prompt)
	if err != nil {
		jobLogger.Error("Research failed", "error", err)
		if failErr := s.Store.FailList(ctx, j.id, err.Error()); failErr != nil {
			s.Logger.Error("Failed to mark job failed", "job_id", j.id, "error", failErr)
		}
		return
	}

	// A result that cannot be persisted still has to terminate the job.
	if err := s.Store.CompleteList(ctx, j.id, result.Title, result.Records); err != nil {
		s.Logger.Error("Failed to save completed list", "job_id", j.id, "error", err)
		if failErr := s.Store.FailList(ctx, j.id, fmt.Sprintf("failed to save result: %v", err)); failErr != nil {
			s.Logger.Error("Failed to mark job failed", "job_id", j.id, "error", failErr)
		}
		return
	}

	s.indexList(ctx, j.id, result.Title)
}

// indexList adds the finished list's title embedding to the similarity
// index. Best effort: failures are logged and never affect the job status.
func (s *Service) indexList(ctx context.Context, id uuid.UUID, title string) {
	if s.Index == nil || s.Embedder == nil || title == "" {
		return
	}
	vec, err := s.Embedder.EmbedText(ctx, title)
	if err != nil {
		s.Logger.Warn("Failed to embed list title", "job_id", id, "error", err)
		return
	}
	if err := s.Index.Add(ctx, id, title, vec); err != nil {
		s.Logger.Warn("Failed to index list title", "job_id", id, "error", err)
	}
}

// DeleteList removes a job with its logs, and drops its similarity index
// entry. The index cleanup is best effort.
func (s *Service) DeleteList(ctx context.Context, id uuid.UUID) error {
	if err := s.Store.DeleteList(ctx, id); err != nil {
		return err
	}
	if s.Index != nil {
		if err := s.Index.Remove(ctx, id); err != nil {
			s.Logger.Warn("Failed to remove list embedding", "job_id", id, "error", err)
		}
	}
	return nil
}

// EnhancePrompt rewrites a terse user prompt into a detailed research prompt.
func (s *Service) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	if s.Enhancer == nil {
		return "", fmt.Errorf("prompt enhancement is not configured")
	}
	return s.Enhancer.Complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, research.EnhancePrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
}

// SearchSimilar finds completed lists whose titles are semantically close
// to the query.
func (s *Service) SearchSimilar(ctx context.Context, query string, topK int) ([]vectorstore.Match, error) {
	if s.Index == nil || s.Embedder == nil {
		return nil, fmt.Errorf("similarity search is not configured")
	}
	vec, err := s.Embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.Index.Search(ctx, vec, topK)
}
