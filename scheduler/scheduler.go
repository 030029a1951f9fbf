// Package scheduler drives the automatic todo -> progress -> done walk over
// board tasks on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"aether-sync/domain"
	"aether-sync/storage"
)

const (
	DefaultInterval   = 7 * time.Second
	DefaultStaleAfter = 10 * time.Second
)

// Store is the slice of the task store the scheduler needs.
type Store interface {
	TasksInProgress(ctx context.Context) ([]domain.Task, error)
	NextTodoTask(ctx context.Context) (*domain.Task, error)
	UpdateTask(ctx context.Context, id string, fields map[string]any) error
}

// Generator produces a status update text and the model id that wrote it.
type Generator interface {
	Generate(ctx context.Context, taskTitle string) (output, modelID string, err error)
}

// Publisher triggers a snapshot refresh for every tracked connection.
type Publisher interface {
	PublishAll(ctx context.Context) error
}

// Scheduler owns the periodic auto-progression loop.
type Scheduler struct {
	store      Store
	gen        Generator
	pub        Publisher
	interval   time.Duration
	staleAfter time.Duration

	busy atomic.Bool
	now  func() time.Time
}

func New(store Store, gen Generator, pub Publisher, interval, staleAfter time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Scheduler{
		store:      store,
		gen:        gen,
		pub:        pub,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. Ticks never overlap: if a tick is still
// in flight when the next one fires, the new tick is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.WithField("interval", s.interval).Info("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.TryTick(ctx)
		}
	}
}

// TryTick runs a single tick unless one is already in flight.
func (s *Scheduler) TryTick(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		log.Warn("previous tick still running, skipping")
		return false
	}
	defer s.busy.Store(false)
	s.tick(ctx)
	return true
}

// tick completes stale in-progress tasks, or promotes the oldest todo task
// when nothing at all is in progress, then refreshes every connection. Every
// failure is logged and contained; the loop must survive anything.
func (s *Scheduler) tick(ctx context.Context) {
	inProgress, err := s.store.TasksInProgress(ctx)
	if err != nil {
		log.WithError(err).Error("list in-progress tasks")
	} else if len(inProgress) > 0 {
		for _, t := range inProgress {
			if s.now().Sub(t.LastTouched()) <= s.staleAfter {
				continue
			}
			s.complete(ctx, t)
		}
	} else {
		s.promote(ctx)
	}

	if err := s.pub.PublishAll(ctx); err != nil {
		log.WithError(err).Error("publish refresh")
	}
}

func (s *Scheduler) complete(ctx context.Context, t domain.Task) {
	if err := s.store.UpdateTask(ctx, t.ID, map[string]any{
		"ai_status": domain.AIStatusThinking,
	}); err != nil {
		log.WithError(err).WithField("task", t.ID).Error("mark task thinking")
	}

	output, model, err := s.gen.Generate(ctx, t.Title)
	if err != nil {
		// Left in progress; the next tick retries.
		log.WithError(err).WithField("task", t.ID).Error("generate status update")
		if err := s.store.UpdateTask(ctx, t.ID, map[string]any{"ai_status": ""}); err != nil {
			log.WithError(err).WithField("task", t.ID).Error("clear task thinking")
		}
		return
	}

	if err := s.store.UpdateTask(ctx, t.ID, map[string]any{
		"status":    domain.StatusDone,
		"ai_output": output,
		"ai_agent":  model,
		"ai_status": "",
	}); err != nil {
		log.WithError(err).WithField("task", t.ID).Error("complete task")
		return
	}
	log.WithFields(log.Fields{"task": t.ID, "model": model}).Info("task completed by agent")
}

func (s *Scheduler) promote(ctx context.Context) {
	t, err := s.store.NextTodoTask(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrEmptySelection) {
			log.WithError(err).Error("pick next todo task")
		}
		return
	}
	if err := s.store.UpdateTask(ctx, t.ID, map[string]any{
		"status":     domain.StatusProgress,
		"updated_at": s.now().UTC(),
	}); err != nil {
		log.WithError(err).WithField("task", t.ID).Error("promote task")
		return
	}
	log.WithField("task", t.ID).Info("task promoted to progress")
}
