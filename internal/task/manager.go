package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"wikibook/internal/pdf"
	"wikibook/internal/store"
)

// BuildResult is the outcome of one successful book build.
type BuildResult struct {
	Filename string
	Path     string
	Size     int64
}

// BuildFunc assembles the final book for one task. The default
// implementation is Manager.buildBook; tests inject a fake.
type BuildFunc func(ctx context.Context, t *store.GenerationTask) (BuildResult, error)

// Manager accepts generation requests and drives each one through
// pending -> processing -> {completed, failed} in a background run.
// Concurrency is bounded by a channel semaphore.
type Manager struct {
	tasks     store.TaskStore
	renderer  *pdf.Renderer
	assembler *pdf.Assembler
	opts      Options
	semaphore chan struct{}
	builder   BuildFunc

	mu        sync.Mutex
	baseCtx   context.Context
	workersWG sync.WaitGroup
}

func NewManager(tasks store.TaskStore, engine pdf.Engine, opts Options) *Manager {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	if opts.MaxPagesPerBook <= 0 {
		opts.MaxPagesPerBook = defaultMaxPages
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	m := &Manager{
		tasks:     tasks,
		renderer:  pdf.NewRenderer(engine, opts.FetchTimeout),
		assembler: pdf.NewAssembler(engine),
		opts:      opts,
		semaphore: make(chan struct{}, opts.MaxConcurrentTasks),
		baseCtx:   context.Background(),
	}
	m.builder = m.buildBook
	return m
}

// SetBaseContext sets the context governing background runs. Intended to be
// set at process startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

func (m *Manager) base() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx == nil {
		return context.Background()
	}
	return m.baseCtx
}

// WaitAll blocks until all in-flight runs finish or the context is done.
// Returns true if all runs finished, false if timed out.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// UseBuilder replaces the book builder. Intended for test setup only.
func (m *Manager) UseBuilder(builder BuildFunc) {
	m.builder = builder
}

// Generate validates the request, creates the task row synchronously, and
// schedules the background run. It returns before the run starts.
func (m *Manager) Generate(ctx context.Context, userID int64, req Request) (*store.GenerationTask, error) {
	if len(req.Pages) == 0 {
		return nil, ErrNoPages
	}
	if len(req.Pages) > m.opts.MaxPagesPerBook {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrTooManyPages, len(req.Pages), m.opts.MaxPagesPerBook)
	}
	if req.Title == "" {
		req.Title = defaultTitle
	}
	if req.SourceBase == "" {
		req.SourceBase = m.opts.DefaultSourceBase
	}

	newTask := &store.GenerationTask{
		TaskID:      uuid.NewString(),
		UserID:      userID,
		Pages:       req.Pages,
		Title:       req.Title,
		SourceBase:  req.SourceBase,
		IsPublic:    req.IsPublic,
		Description: req.Description,
		Status:      store.StatusPending,
		Message:     "task created, waiting to start",
	}
	if err := m.tasks.Create(ctx, newTask); err != nil {
		return nil, err
	}
	log.Info().Str("task_id", newTask.TaskID).Int64("user_id", userID).
		Int("pages", len(req.Pages)).Bool("is_public", req.IsPublic).Msg("generation task created")

	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		m.run(newTask.TaskID)
	}()
	return newTask, nil
}
