package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	fileutil "wikibook/internal/file"
	"wikibook/internal/store"
)

// run drives one background generation end to end. Every error is converted
// into a failed status update; nothing escapes into the process.
func (m *Manager) run(taskID string) {
	m.semaphore <- struct{}{}
	defer func() { <-m.semaphore }()

	ctx := m.base()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task_id", taskID).Any("panic", r).Msg("generation run panicked")
			m.failTask(ctx, taskID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	taskRow, err := m.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		log.Error().Str("task_id", taskID).Err(err).Msg("load task for run failed")
		return
	}

	if err := m.tasks.UpdateStatus(ctx, taskID, store.StatusUpdate{
		Status:  store.StatusProcessing,
		Message: "conversion started",
	}); err != nil {
		// a terminal row means the run is moot (e.g. failed by a restart sweep)
		log.Warn().Str("task_id", taskID).Err(err).Msg("transition to processing failed")
		return
	}

	result, err := m.builder(ctx, taskRow)
	if err != nil {
		log.Warn().Str("task_id", taskID).Int64("user_id", taskRow.UserID).Err(err).Msg("book build failed")
		m.failTask(ctx, taskID, err.Error())
		return
	}

	upd := store.StatusUpdate{
		Status:   store.StatusCompleted,
		Message:  "conversion finished successfully",
		Filename: result.Filename,
		FilePath: result.Path,
		FileSize: result.Size,
	}
	if err := m.tasks.UpdateStatus(ctx, taskID, upd); err != nil {
		log.Error().Str("task_id", taskID).Err(err).Msg("persist completed status failed, retrying once")
		if err := m.tasks.UpdateStatus(ctx, taskID, upd); err != nil {
			log.Error().Str("task_id", taskID).Err(err).Msg("persist completed status failed")
			return
		}
	}
	log.Info().Str("task_id", taskID).Int64("user_id", taskRow.UserID).
		Str("filename", result.Filename).Int64("bytes", result.Size).Msg("book generated")
}

func (m *Manager) failTask(ctx context.Context, taskID, msg string) {
	upd := store.StatusUpdate{Status: store.StatusFailed, Message: msg}
	if err := m.tasks.UpdateStatus(ctx, taskID, upd); err != nil {
		log.Error().Str("task_id", taskID).Err(err).Msg("persist failed status failed, retrying once")
		if err := m.tasks.UpdateStatus(ctx, taskID, upd); err != nil {
			log.Error().Str("task_id", taskID).Err(err).Msg("persist failed status failed")
		}
	}
}

// buildBook renders cover, TOC, and each page in request order inside a
// scratch dir keyed by the task id, then merges the surviving parts into the
// task's permanent output location. The scratch dir is removed whatever the
// outcome.
func (m *Manager) buildBook(ctx context.Context, t *store.GenerationTask) (BuildResult, error) {
	scratchDir := filepath.Join(os.TempDir(), "pdf_task_"+t.TaskID)
	if err := fileutil.EnsureDir(scratchDir); err != nil {
		return BuildResult{}, err
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			log.Warn().Str("task_id", t.TaskID).Str("dir", scratchDir).Err(err).Msg("scratch cleanup failed")
		}
	}()

	coverPath := filepath.Join(scratchDir, "cover.pdf")
	if err := m.assembler.BuildCover(ctx, t.Title, coverPath); err != nil {
		return BuildResult{}, fmt.Errorf("build cover: %w", err)
	}
	tocPath := filepath.Join(scratchDir, "toc.pdf")
	if err := m.assembler.BuildTOC(ctx, t.Pages, tocPath); err != nil {
		return BuildResult{}, fmt.Errorf("build table of contents: %w", err)
	}

	parts := []string{coverPath, tocPath}
	rendered := 0
	for i, pageID := range t.Pages {
		pagePath := filepath.Join(scratchDir, fmt.Sprintf("page_%03d.pdf", i+1))
		if err := m.renderer.RenderPage(ctx, pageID, t.SourceBase, pagePath); err != nil {
			log.Warn().Str("task_id", t.TaskID).Str("page", pageID).Err(err).Msg("page render failed, skipping")
			continue
		}
		parts = append(parts, pagePath)
		rendered++
	}
	// a book with no chapters is not a result worth reporting as success
	if rendered == 0 {
		return BuildResult{}, ErrNoRenderedPages
	}

	filename := BookFilename(t.Title)
	outPath := filepath.Join(m.opts.OutputDir, t.TaskID, filename)
	if err := m.assembler.Merge(ctx, parts, outPath); err != nil {
		return BuildResult{}, fmt.Errorf("merge book: %w", err)
	}
	info, err := os.Stat(outPath)
	if err != nil {
		return BuildResult{}, fmt.Errorf("stat merged book: %w", err)
	}
	return BuildResult{Filename: filename, Path: outPath, Size: info.Size()}, nil
}

// BookFilename derives the artifact filename from the book title.
func BookFilename(title string) string {
	return strings.ReplaceAll(title, " ", "_") + ".pdf"
}
