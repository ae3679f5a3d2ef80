package repository

import (
	"context"
	"errors"
	"time"

	"studio-crm/backend/pkg/models"
)

// Repository errors.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses against a unique index or a
	// conditional update.
	ErrConflict = errors.New("conflict")
)

// TaskStore is an interface for storing and retrieving follow-up tasks.
type TaskStore interface {
	// CreateTask inserts a new task.
	CreateTask(ctx context.Context, task *models.Task) error
	// GetTask retrieves a task by its ID.
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// CreateSuccessor sets advanced_at on the predecessor, provided it is
	// still unset, and inserts next in the same transaction.
	CreateSuccessor(ctx context.Context, predecessorID string, next *models.Task) error
	// MarkAdvanced sets advanced_at on a task that has none yet.
	MarkAdvanced(ctx context.Context, id string, at time.Time) error
	// CompleteTask marks a task completed. Completing an already completed
	// task returns it unchanged.
	CompleteTask(ctx context.Context, id string, completion Completion) (*models.Task, error)
	// ListTasksByQuotation returns a quotation's tasks ordered by step.
	ListTasksByQuotation(ctx context.Context, quotationID string) ([]*models.Task, error)
	// FindSequenceStart returns the first step of a quotation's sequence.
	FindSequenceStart(ctx context.Context, quotationID string) (*models.Task, error)
	// ListOverdueTasks returns pending sequential tasks due before now that
	// have not been reminded yet.
	ListOverdueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error)
	// MarkReminded records that an overdue reminder went out.
	MarkReminded(ctx context.Context, id string, at time.Time) error
}

// Completion carries who finished a task and when.
type Completion struct {
	At    time.Time
	By    *string
	Notes *string
}

// QuotationStore is an interface for the quotations that drive sequences.
type QuotationStore interface {
	// CreateQuotation inserts a new quotation.
	CreateQuotation(ctx context.Context, q *models.Quotation) error
	// GetQuotation retrieves a quotation by its ID.
	GetQuotation(ctx context.Context, id string) (*models.Quotation, error)
	// ApproveQuotation sets the quotation's status to approved.
	ApproveQuotation(ctx context.Context, id string, by *string, at time.Time) (*models.Quotation, error)
}

// NotificationStore is an interface for notification rows.
type NotificationStore interface {
	// CreateNotification inserts a notification.
	CreateNotification(ctx context.Context, n *models.Notification) error
	// ListNotifications returns a quotation's notifications, newest first.
	ListNotifications(ctx context.Context, quotationID string, limit int) ([]*models.Notification, error)
}

// Repository combines every store backed by one database.
type Repository interface {
	TaskStore
	QuotationStore
	NotificationStore
	// Ping checks the database connection.
	Ping(ctx context.Context) error
	// Close releases the database connection.
	Close() error
}
