// Package access answers whether a principal may perform an operation on a
// generation task. Owner-only routes require IsOwner even for public tasks;
// public routes require only IsPubliclyReadable.
package access

import (
	"context"
	"errors"

	"wikibook/internal/store"
)

type Guard struct {
	tasks store.TaskStore
}

func NewGuard(tasks store.TaskStore) *Guard {
	return &Guard{tasks: tasks}
}

// IsOwner reports whether the task exists and belongs to the user. The
// visibility flag has no bearing on the result.
func (g *Guard) IsOwner(ctx context.Context, taskID string, userID int64) (bool, error) {
	return g.tasks.IsOwner(ctx, taskID, userID)
}

// IsPubliclyReadable reports whether the task exists, is public, and has
// completed. A public task that is still processing or has failed is not
// readable by anyone but the owner.
func (g *Guard) IsPubliclyReadable(ctx context.Context, taskID string) (bool, error) {
	t, err := g.tasks.GetByTaskID(ctx, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return t.IsPublic && t.Status == store.StatusCompleted, nil
}
