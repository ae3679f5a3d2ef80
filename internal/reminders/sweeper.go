// Package reminders runs the periodic overdue-task sweep.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/internal/services"
	"studio-crm/backend/pkg/models"
)

// DefaultBatch caps how many overdue tasks one sweep handles.
const DefaultBatch = 100

// Store is the slice of the task store the sweeper needs.
type Store interface {
	ListOverdueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// Sweeper sends one task.overdue notification per overdue sequential task.
// It never creates or advances tasks.
type Sweeper struct {
	store    Store
	notifier services.Notifier
	schedule string
	batch    int
	clock    clock.Clock
	logger   services.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock sets the clock used to decide what is overdue.
func WithClock(c clock.Clock) Option {
	return func(s *Sweeper) { s.clock = c }
}

// WithLogger sets the sweeper's logger.
func WithLogger(l services.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

// WithBatch sets how many tasks a sweep picks up.
func WithBatch(n int) Option {
	return func(s *Sweeper) { s.batch = n }
}

// NewSweeper creates a sweeper that runs on the given cron schedule, e.g.
// "@every 15m" or "*/10 * * * *".
func NewSweeper(store Store, notifier services.Notifier, schedule string, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    store,
		notifier: notifier,
		schedule: schedule,
		batch:    DefaultBatch,
		clock:    clock.New(),
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepOnce reminds every overdue task found in one batch and returns how
// many reminders went out.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	tasks, err := s.store.ListOverdueTasks(ctx, now, s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue tasks: %w", err)
	}

	sent, failed := 0, 0
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		taskID := t.ID
		headline := sequence.Headline(t)
		n := &models.Notification{
			ID:          uuid.New().String(),
			Kind:        models.NotificationTaskOverdue,
			QuotationID: t.QuotationID,
			TaskID:      &taskID,
			Title:       "Overdue: " + headline,
			Body:        fmt.Sprintf("%s was due %s", headline, humanize.RelTime(t.DueAt, now, "ago", "from now")),
			CreatedAt:   now,
		}
		if err := s.notifier.Notify(ctx, n); err != nil {
			// Left unmarked so the next sweep retries it.
			s.logger.Warn("failed to send overdue reminder", "task_id", t.ID, "error", err)
			failed++
			continue
		}

		if err := s.store.MarkReminded(ctx, t.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			return sent, fmt.Errorf("failed to mark task %s reminded: %w", t.ID, err)
		}
		sent++
	}

	if sent > 0 {
		s.logger.Info("overdue reminders sent", "count", sent)
	}
	// Overdue tasks are listed oldest first, so a full batch that keeps
	// failing hides every task behind it until the sink recovers.
	if failed > 0 && failed == len(tasks) && len(tasks) >= s.batch {
		s.logger.Warn("overdue reminders stalled",
			"failed", failed,
			"oldest_task_id", tasks[0].ID,
			"oldest_due_at", tasks[0].DueAt,
		)
	}
	return sent, nil
}

// Run sweeps on the schedule until ctx is cancelled, then waits for a
// running sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{s.logger}),
		cron.Recover(cronLogger{s.logger}),
	))
	if _, err := c.AddFunc(s.schedule, func() {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("overdue sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.schedule, err)
	}

	s.logger.Info("reminder sweeper started", "schedule", s.schedule)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("reminder sweeper stopped")
	return nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l services.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
