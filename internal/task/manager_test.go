package task

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wikibook/internal/store"
)

// stubEngine emulates the conversion engine: HTML in, same bytes out as the
// "PDF"; merge concatenates inputs.
type stubEngine struct{}

func (stubEngine) HTMLToPDF(_ context.Context, htmlPath, outPath string) error {
	data, err := os.ReadFile(htmlPath) //nolint:gosec // test-controlled path
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o600)
}

func (stubEngine) Merge(_ context.Context, inputs []string, outPath string) error {
	var out []byte
	for _, in := range inputs {
		data, err := os.ReadFile(in) //nolint:gosec // test-controlled path
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	return os.WriteFile(outPath, out, 0o600)
}

func newTestManager(t *testing.T, opts Options) (*Manager, store.TaskStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tasks := store.NewTaskStore(db)
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.MaxConcurrentTasks == 0 {
		opts.MaxConcurrentTasks = 1
	}
	return NewManager(tasks, stubEngine{}, opts), tasks
}

func waitForTerminal(t *testing.T, tasks store.TaskStore, taskID string) *store.GenerationTask {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := tasks.GetByTaskID(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if got.Status.Terminal() {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for terminal status")
	return nil
}

func TestGenerateValidation(t *testing.T) {
	m, _ := newTestManager(t, Options{MaxPagesPerBook: 2})

	if _, err := m.Generate(context.Background(), 1, Request{}); !errors.Is(err, ErrNoPages) {
		t.Fatalf("expected ErrNoPages, got %v", err)
	}
	req := Request{Pages: []string{"A", "B", "C"}}
	if _, err := m.Generate(context.Background(), 1, req); !errors.Is(err, ErrTooManyPages) {
		t.Fatalf("expected ErrTooManyPages, got %v", err)
	}
}

func TestGenerateCreatesPendingRowSynchronously(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	// block the run so the synchronous part is observable
	blocker := make(chan struct{})
	m.UseBuilder(func(ctx context.Context, tk *store.GenerationTask) (BuildResult, error) {
		<-blocker
		return BuildResult{}, errors.New("never reached")
	})
	defer close(blocker)

	created, err := m.Generate(context.Background(), 1, Request{Pages: []string{"A"}, Title: "Sample"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created.Status != store.StatusPending {
		t.Fatalf("expected pending at acceptance, got %s", created.Status)
	}
	if created.TaskID == "" {
		t.Fatalf("expected a task id")
	}
}

func TestGenerateRunsToCompleted(t *testing.T) {
	m, tasks := newTestManager(t, Options{})
	outDir := t.TempDir()
	m.UseBuilder(func(ctx context.Context, tk *store.GenerationTask) (BuildResult, error) {
		p := filepath.Join(outDir, "Sample_Book.pdf")
		if err := os.WriteFile(p, []byte("book"), 0o600); err != nil {
			return BuildResult{}, err
		}
		return BuildResult{Filename: "Sample_Book.pdf", Path: p, Size: 4}, nil
	})

	created, err := m.Generate(context.Background(), 1, Request{Pages: []string{"A", "B"}, Title: "Sample Book"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if got.Filename != "Sample_Book.pdf" || got.FileSize != 4 {
		t.Fatalf("unexpected result metadata: %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected both timestamps stamped")
	}
}

func TestGenerateBuilderFailureMarksFailed(t *testing.T) {
	m, tasks := newTestManager(t, Options{})
	m.UseBuilder(func(ctx context.Context, tk *store.GenerationTask) (BuildResult, error) {
		return BuildResult{}, errors.New("merge book: disk full")
	})

	created, err := m.Generate(context.Background(), 1, Request{Pages: []string{"A"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Message, "disk full") {
		t.Fatalf("expected failure message to carry the cause, got %q", got.Message)
	}
	if got.Filename != "" {
		t.Fatalf("failed task must not carry a filename")
	}
}

func TestGenerateBuilderPanicMarksFailed(t *testing.T) {
	m, tasks := newTestManager(t, Options{})
	m.UseBuilder(func(ctx context.Context, tk *store.GenerationTask) (BuildResult, error) {
		panic("boom")
	})

	created, err := m.Generate(context.Background(), 1, Request{Pages: []string{"A"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed after panic, got %s", got.Status)
	}
}

func newWikiServer(t *testing.T, good map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for id, body := range good {
			if r.URL.EscapedPath() == "/"+id+"/html" {
				_, _ = w.Write([]byte(body))
				return
			}
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFullBuildSkipsFailedPages(t *testing.T) {
	srv := newWikiServer(t, map[string]string{
		"Alpha": `<html><body><p>ALPHA-CONTENT</p></body></html>`,
		// Beta is served as a 500 and must be skipped
	})
	outputDir := t.TempDir()
	m, tasks := newTestManager(t, Options{OutputDir: outputDir})

	created, err := m.Generate(context.Background(), 1, Request{
		Pages:      []string{"Alpha", "Beta"},
		Title:      "My Book",
		SourceBase: srv.URL,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if got.Filename != "My_Book.pdf" {
		t.Fatalf("unexpected filename %q", got.Filename)
	}

	merged, err := os.ReadFile(filepath.Join(outputDir, created.TaskID, "My_Book.pdf")) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("read merged book: %v", err)
	}
	content := string(merged)
	coverIdx := strings.Index(content, "My Book")
	tocIdx := strings.Index(content, "Table of Contents")
	pageIdx := strings.Index(content, "ALPHA-CONTENT")
	if coverIdx < 0 || tocIdx < 0 || pageIdx < 0 {
		t.Fatalf("merged book missing sections")
	}
	if !(coverIdx < tocIdx && tocIdx < pageIdx) {
		t.Fatalf("merged book out of order: cover=%d toc=%d page=%d", coverIdx, tocIdx, pageIdx)
	}
	if got.FileSize != int64(len(merged)) {
		t.Fatalf("file size mismatch: %d vs %d", got.FileSize, len(merged))
	}

	// scratch workspace must be gone
	if _, err := os.Stat(filepath.Join(os.TempDir(), "pdf_task_"+created.TaskID)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should have been removed")
	}
}

func TestFullBuildPreservesRequestOrder(t *testing.T) {
	srv := newWikiServer(t, map[string]string{
		"Zeta":  `<html><body><p>PART-ZETA</p></body></html>`,
		"Alpha": `<html><body><p>PART-ALPHA</p></body></html>`,
	})
	outputDir := t.TempDir()
	m, tasks := newTestManager(t, Options{OutputDir: outputDir})

	created, err := m.Generate(context.Background(), 1, Request{
		Pages:      []string{"Zeta", "Alpha"}, // request order, not alphabetical
		Title:      "Ordered",
		SourceBase: srv.URL,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	merged, err := os.ReadFile(got.FilePath) //nolint:gosec // test-controlled path
	if err != nil {
		t.Fatalf("read merged book: %v", err)
	}
	if strings.Index(string(merged), "PART-ZETA") > strings.Index(string(merged), "PART-ALPHA") {
		t.Fatalf("chapter order must follow the request order")
	}
}

func TestFullBuildZeroRenderedPagesFails(t *testing.T) {
	srv := newWikiServer(t, nil) // every page fails
	outputDir := t.TempDir()
	m, tasks := newTestManager(t, Options{OutputDir: outputDir})

	created, err := m.Generate(context.Background(), 1, Request{
		Pages:      []string{"Alpha", "Beta"},
		Title:      "Empty",
		SourceBase: srv.URL,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := waitForTerminal(t, tasks, created.TaskID)
	if got.Status != store.StatusFailed {
		t.Fatalf("expected failed when no page renders, got %s", got.Status)
	}
	if _, err := os.Stat(filepath.Join(outputDir, created.TaskID)); !os.IsNotExist(err) {
		t.Fatalf("no output should exist for a failed book")
	}
	if _, err := os.Stat(filepath.Join(os.TempDir(), "pdf_task_"+created.TaskID)); !os.IsNotExist(err) {
		t.Fatalf("scratch dir should have been removed on failure too")
	}
}

func TestBookFilename(t *testing.T) {
	if got := BookFilename("My Great Book"); got != "My_Great_Book.pdf" {
		t.Fatalf("unexpected filename %q", got)
	}
	if got := BookFilename("Single"); got != "Single.pdf" {
		t.Fatalf("unexpected filename %q", got)
	}
}
