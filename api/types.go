package api

import (
	"context"

	"aether-sync/domain"
)

// TaskStore abstracts persistence for handlers.
type TaskStore interface {
	FetchTasks(ctx context.Context, scope domain.Scope) ([]domain.Task, error)
	InsertTask(ctx context.Context, t *domain.Task) error
	UpdateTask(ctx context.Context, id string, fields map[string]any) error
	DeleteTask(ctx context.Context, id string) error
	FetchOrganisationID(ctx context.Context, userID string) (string, error)
}

// Publisher announces that a room's persisted state changed.
type Publisher interface {
	PublishRoom(ctx context.Context, scope domain.Scope) error
}

// Deduper prevents reprocessing of redelivered commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key so a failed command may be retried.
	Remove(ctx context.Context, userID, key string) error
}
