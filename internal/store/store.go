package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrTerminal is returned when a status write targets a task that already
	// reached completed or failed with a different status.
	ErrTerminal = errors.New("task already in a terminal status")
)

// StatusUpdate carries one lifecycle transition. Filename/FilePath/FileSize
// are set only on the transition into StatusCompleted.
type StatusUpdate struct {
	Status   Status
	Message  string
	Filename string
	FilePath string
	FileSize int64
}

// TaskStore persists GenerationTask rows. All mutation of a task after
// creation goes through UpdateStatus and UpdateVisibility.
type TaskStore interface {
	Create(ctx context.Context, t *GenerationTask) error
	GetByTaskID(ctx context.Context, taskID string) (*GenerationTask, error)
	ListByOwner(ctx context.Context, userID int64, limit int) ([]GenerationTask, error)
	ListPublic(ctx context.Context, limit int) ([]GenerationTask, error)
	SearchPublic(ctx context.Context, query string, limit int) ([]GenerationTask, error)
	UpdateStatus(ctx context.Context, taskID string, upd StatusUpdate) error
	UpdateVisibility(ctx context.Context, taskID string, userID int64, isPublic bool) error
	IsOwner(ctx context.Context, taskID string, userID int64) (bool, error)
	FailInterrupted(ctx context.Context) (int64, error)
}

// Open connects to the database selected by the DSN (postgres when the DSN
// looks like a postgres URL or keyword string, sqlite otherwise) and runs
// migrations.
func Open(dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&GenerationTask{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

type gormStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) TaskStore { //nolint:ireturn
	return &gormStore{db: db}
}

func (s *gormStore) Create(ctx context.Context, t *GenerationTask) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *gormStore) GetByTaskID(ctx context.Context, taskID string) (*GenerationTask, error) {
	var t GenerationTask
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

func (s *gormStore) ListByOwner(ctx context.Context, userID int64, limit int) ([]GenerationTask, error) {
	var tasks []GenerationTask
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list owner tasks: %w", err)
	}
	return tasks, nil
}

func (s *gormStore) ListPublic(ctx context.Context, limit int) ([]GenerationTask, error) {
	var tasks []GenerationTask
	err := s.db.WithContext(ctx).
		Where("is_public = ? AND status = ?", true, StatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list public tasks: %w", err)
	}
	return tasks, nil
}

func (s *gormStore) SearchPublic(ctx context.Context, query string, limit int) ([]GenerationTask, error) {
	var tasks []GenerationTask
	pattern := "%" + query + "%"
	err := s.db.WithContext(ctx).
		Where("is_public = ? AND status = ?", true, StatusCompleted).
		Where("title LIKE ? OR description LIKE ?", pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("search public tasks: %w", err)
	}
	return tasks, nil
}

// UpdateStatus applies one lifecycle transition. The UPDATE carries a
// non-terminal status guard in its WHERE clause, so a late write can never
// overwrite a terminal row even under concurrent transitions. Re-applying
// the status a row already holds is a no-op.
func (s *gormStore) UpdateStatus(ctx context.Context, taskID string, upd StatusUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current GenerationTask
		if err := tx.Where("task_id = ?", taskID).First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("read task: %w", err)
		}
		if current.Status.Terminal() {
			if current.Status == upd.Status {
				return nil
			}
			return ErrTerminal
		}

		now := time.Now().UTC()
		updates := map[string]any{"status": upd.Status}
		if upd.Message != "" {
			updates["message"] = upd.Message
		}
		if upd.Filename != "" {
			updates["filename"] = upd.Filename
			updates["file_path"] = upd.FilePath
			updates["file_size"] = upd.FileSize
		}
		if upd.Status == StatusProcessing && current.StartedAt == nil {
			updates["started_at"] = &now
		}
		if upd.Status.Terminal() && current.CompletedAt == nil {
			updates["completed_at"] = &now
		}

		res := tx.Model(&GenerationTask{}).
			Where("task_id = ? AND status NOT IN ?", taskID, []Status{StatusCompleted, StatusFailed}).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// lost a race to a concurrent terminal write
			return ErrTerminal
		}
		return nil
	})
}

func (s *gormStore) UpdateVisibility(ctx context.Context, taskID string, userID int64, isPublic bool) error {
	res := s.db.WithContext(ctx).
		Model(&GenerationTask{}).
		Where("task_id = ? AND user_id = ?", taskID, userID).
		Update("is_public", isPublic)
	if res.Error != nil {
		return fmt.Errorf("update visibility: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) IsOwner(ctx context.Context, taskID string, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&GenerationTask{}).
		Where("task_id = ? AND user_id = ?", taskID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ownership check: %w", err)
	}
	return count > 0, nil
}

// FailInterrupted marks rows left non-terminal by a previous run as failed.
// A pending row with no live goroutine behind it would otherwise poll as
// waiting forever. Called once at startup, before any new run is scheduled.
func (s *gormStore) FailInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&GenerationTask{}).
		Where("status IN ?", []Status{StatusPending, StatusProcessing}).
		Updates(map[string]any{
			"status":       StatusFailed,
			"message":      "conversion interrupted by a server restart",
			"completed_at": &now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("fail interrupted: %w", res.Error)
	}
	return res.RowsAffected, nil
}
