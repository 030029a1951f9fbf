package api

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"aether-sync/domain"
)

// Mutator validates and applies client-initiated task mutations. Invalid
// input is dropped without feedback; storage failures are logged and the
// room broadcast still fires so viewers converge on the persisted state.
// The returned error reports a storage failure to the caller (used to roll
// back dedupe state) and is never surfaced to the client.
type Mutator struct {
	store TaskStore
	pub   Publisher
}

func NewMutator(store TaskStore, pub Publisher) *Mutator {
	return &Mutator{store: store, pub: pub}
}

// AddTask inserts a todo task on the scope's board.
func (m *Mutator) AddTask(ctx context.Context, scope domain.Scope, title string) error {
	title = strings.TrimSpace(title)
	if title == "" || scope.OrgID == "" || scope.UserID == "" {
		log.Debug("addTask dropped: missing title or scope")
		return nil
	}
	orgID := scope.OrgID
	t := domain.Task{
		Title:          title,
		Status:         domain.StatusTodo,
		OrganisationID: &orgID,
		UserID:         scope.UserID,
		IsMainBoard:    scope.Main(),
	}
	err := m.store.InsertTask(ctx, &t)
	if err != nil {
		log.WithError(err).Error("add task")
	}
	m.refresh(ctx, scope)
	return err
}

// MoveTask sets a task's status and stamps its updated time. Any of the three
// column values is accepted; there is no transition validation.
func (m *Mutator) MoveTask(ctx context.Context, scope domain.Scope, taskID, newStatus string) error {
	if taskID == "" || newStatus == "" {
		log.Debug("taskMoved dropped: missing task id or status")
		return nil
	}
	status, ok := domain.ParseStatus(newStatus)
	if !ok {
		log.WithField("status", newStatus).Debug("taskMoved dropped: unknown status")
		return nil
	}
	err := m.store.UpdateTask(ctx, taskID, map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).WithField("task", taskID).Error("move task")
	}
	m.refresh(ctx, scope)
	return err
}

// RenameTask updates the title only.
func (m *Mutator) RenameTask(ctx context.Context, scope domain.Scope, taskID, newTitle string) error {
	if taskID == "" || strings.TrimSpace(newTitle) == "" {
		log.Debug("renameTask dropped: missing task id or title")
		return nil
	}
	err := m.store.UpdateTask(ctx, taskID, map[string]any{"title": newTitle})
	if err != nil {
		log.WithError(err).WithField("task", taskID).Error("rename task")
	}
	m.refresh(ctx, scope)
	return err
}

// DeleteTask permanently removes a task.
func (m *Mutator) DeleteTask(ctx context.Context, scope domain.Scope, taskID string) error {
	if taskID == "" {
		log.Debug("deleteTask dropped: missing task id")
		return nil
	}
	err := m.store.DeleteTask(ctx, taskID)
	if err != nil {
		log.WithError(err).WithField("task", taskID).Error("delete task")
	}
	m.refresh(ctx, scope)
	return err
}

func (m *Mutator) refresh(ctx context.Context, scope domain.Scope) {
	if err := m.pub.PublishRoom(ctx, scope); err != nil {
		log.WithError(err).WithField("room", scope.RoomKey()).Error("publish room update")
	}
}
