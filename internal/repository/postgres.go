package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"studio-crm/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const taskColumns = `id, quotation_id, lead_id, is_sequential, sequence_step, sequence_total_steps,
	previous_task_id, purpose, title, description, reasoning, business_impact, priority, status,
	due_at, client_name, total_amount, quotation_number, quotation_title, high_value, source,
	completed_at, completed_by, completion_notes, advanced_at, reminded_at, created_at, updated_at`

const pgInsertTask = `INSERT INTO tasks (` + taskColumns + `) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// CreateTask inserts a new task.
func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	return pgInsert(ctx, s.db, task)
}

func pgInsert(ctx context.Context, execer pgExecer, t *models.Task) error {
	_, err := execer.Exec(ctx, pgInsertTask,
		t.ID, t.QuotationID, t.LeadID, t.IsSequential, t.SequenceStep, t.SequenceTotalSteps,
		t.PreviousTaskID, string(t.Purpose), t.Title, t.Description, t.Reasoning, t.BusinessImpact,
		string(t.Priority), string(t.Status),
		t.DueAt, t.ClientName, t.TotalAmount, t.QuotationNumber, t.QuotationTitle, t.HighValue, t.Source,
		t.CompletedAt, t.CompletedBy, t.CompletionNotes, t.AdvancedAt, t.RemindedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return pgError("insert task", err)
	}
	return nil
}

// GetTask retrieves a task by its ID.
func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, pgError("get task", err)
	}
	return task, nil
}

// CreateSuccessor marks the predecessor advanced and inserts next atomically.
func (s *PostgresStore) CreateSuccessor(ctx context.Context, predecessorID string, next *models.Task) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET advanced_at = $1, updated_at = $1 WHERE id = $2 AND advanced_at IS NULL`,
		next.CreatedAt, predecessorID)
	if err != nil {
		return pgError("claim predecessor", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, predecessorID).Scan(&exists); err != nil {
			return pgError("check predecessor", err)
		}
		if !exists {
			return fmt.Errorf("predecessor %s: %w", predecessorID, ErrNotFound)
		}
		return fmt.Errorf("predecessor %s already advanced: %w", predecessorID, ErrConflict)
	}

	if err := pgInsert(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgError("commit successor", err)
	}
	return nil
}

// MarkAdvanced sets advanced_at on a task that has none yet.
func (s *PostgresStore) MarkAdvanced(ctx context.Context, id string, at time.Time) error {
	return s.markOnce(ctx, "advanced_at", id, at)
}

// MarkReminded sets reminded_at on a task that has none yet.
func (s *PostgresStore) MarkReminded(ctx context.Context, id string, at time.Time) error {
	return s.markOnce(ctx, "reminded_at", id, at)
}

func (s *PostgresStore) markOnce(ctx context.Context, column, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET `+column+` = $1, updated_at = $1 WHERE id = $2 AND `+column+` IS NULL`, at, id)
	if err != nil {
		return pgError("set "+column, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("task %s %s already set: %w", id, column, ErrConflict)
}

// CompleteTask marks a task completed.
func (s *PostgresStore) CompleteTask(ctx context.Context, id string, c Completion) (*models.Task, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE tasks
		SET status = $1, completed_at = $2, completed_by = $3, completion_notes = $4, updated_at = $2
		WHERE id = $5 AND status <> $1
		RETURNING `+taskColumns,
		string(models.TaskStatusCompleted), c.At, c.By, c.Notes, id)

	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or already completed.
		return s.GetTask(ctx, id)
	}
	if err != nil {
		return nil, pgError("complete task", err)
	}
	return task, nil
}

// ListTasksByQuotation returns a quotation's tasks ordered by step.
func (s *PostgresStore) ListTasksByQuotation(ctx context.Context, quotationID string) ([]*models.Task, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE quotation_id = $1 ORDER BY sequence_step, created_at`, quotationID)
	if err != nil {
		return nil, pgError("list tasks", err)
	}
	return collectTasks(rows)
}

// FindSequenceStart returns step 1 of a quotation's sequence.
func (s *PostgresStore) FindSequenceStart(ctx context.Context, quotationID string) (*models.Task, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE quotation_id = $1 AND is_sequential AND sequence_step = 1`, quotationID)
	task, err := scanTask(row)
	if err != nil {
		return nil, pgError("find sequence start", err)
	}
	return task, nil
}

// ListOverdueTasks returns pending sequential tasks due before now.
func (s *PostgresStore) ListOverdueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE is_sequential AND status = $1 AND reminded_at IS NULL AND due_at < $2
		ORDER BY due_at
		LIMIT $3`, string(models.TaskStatusPending), now, limit)
	if err != nil {
		return nil, pgError("list overdue tasks", err)
	}
	return collectTasks(rows)
}

// CreateQuotation inserts a new quotation.
func (s *PostgresStore) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO quotations (id, quotation_number, lead_id, client_name, title, total_amount,
			status, approved_at, approved_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		q.ID, q.Number, q.LeadID, q.ClientName, q.Title, q.TotalAmount,
		string(q.Status), q.ApprovedAt, q.ApprovedBy, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return pgError("insert quotation", err)
	}
	return nil
}

const quotationColumns = `id, quotation_number, lead_id, client_name, title, total_amount,
	status, approved_at, approved_by, created_at, updated_at`

// GetQuotation retrieves a quotation by its ID.
func (s *PostgresStore) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = $1`, id)
	q, err := scanQuotation(row)
	if err != nil {
		return nil, pgError("get quotation", err)
	}
	return q, nil
}

// ApproveQuotation sets the quotation's status to approved. Approving twice
// keeps the first approval.
func (s *PostgresStore) ApproveQuotation(ctx context.Context, id string, by *string, at time.Time) (*models.Quotation, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE quotations
		SET status = $1, approved_at = COALESCE(approved_at, $2), approved_by = COALESCE(approved_by, $3), updated_at = $2
		WHERE id = $4
		RETURNING `+quotationColumns,
		string(models.QuotationStatusApproved), at, by, id)
	q, err := scanQuotation(row)
	if err != nil {
		return nil, pgError("approve quotation", err)
	}
	return q, nil
}

// CreateNotification inserts a notification.
func (s *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notifications (id, kind, quotation_id, task_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, string(n.Kind), n.QuotationID, n.TaskID, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return pgError("insert notification", err)
	}
	return nil
}

// ListNotifications returns a quotation's notifications, newest first.
func (s *PostgresStore) ListNotifications(ctx context.Context, quotationID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, quotation_id, task_id, title, body, created_at
		FROM notifications WHERE quotation_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, quotationID, limit)
	if err != nil {
		return nil, pgError("list notifications", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var kind string
		if err := rows.Scan(&n.ID, &kind, &n.QuotationID, &n.TaskID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, pgError("scan notification", err)
		}
		n.Kind = models.NotificationKind(kind)
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("iterate notifications", err)
	}
	return out, nil
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var purpose, priority, status string
	err := row.Scan(
		&t.ID, &t.QuotationID, &t.LeadID, &t.IsSequential, &t.SequenceStep, &t.SequenceTotalSteps,
		&t.PreviousTaskID, &purpose, &t.Title, &t.Description, &t.Reasoning, &t.BusinessImpact,
		&priority, &status,
		&t.DueAt, &t.ClientName, &t.TotalAmount, &t.QuotationNumber, &t.QuotationTitle, &t.HighValue, &t.Source,
		&t.CompletedAt, &t.CompletedBy, &t.CompletionNotes, &t.AdvancedAt, &t.RemindedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Purpose = models.Purpose(purpose)
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*models.Task, error) {
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, pgError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("iterate tasks", err)
	}
	return tasks, nil
}

func scanQuotation(row pgx.Row) (*models.Quotation, error) {
	var q models.Quotation
	var status string
	err := row.Scan(&q.ID, &q.Number, &q.LeadID, &q.ClientName, &q.Title, &q.TotalAmount,
		&status, &q.ApprovedAt, &q.ApprovedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	q.Status = models.QuotationStatus(status)
	return &q, nil
}

// pgError maps driver errors onto the repository's sentinel errors.
func pgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
