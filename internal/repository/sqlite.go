package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"studio-crm/backend/pkg/models"
)

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

// sqliteTime is fixed width so that text comparison orders like time.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is a single-file implementation of the Repository interface
// for development and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and creates the schema.
// Use ":memory:" for a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := "file:" + path
	if path == ":memory:" {
		dsn = "file::memory:"
	}
	dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serialises writers and keeps in-memory databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type sqlRow interface {
	Scan(dest ...any) error
}

const sqliteInsertTask = `INSERT INTO tasks (` + taskColumns + `) VALUES (
	?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateTask inserts a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *models.Task) error {
	return sqliteInsert(ctx, s.db, task)
}

func sqliteInsert(ctx context.Context, execer sqlExecer, t *models.Task) error {
	_, err := execer.ExecContext(ctx, sqliteInsertTask,
		t.ID, t.QuotationID, t.LeadID, boolInt(t.IsSequential), t.SequenceStep, t.SequenceTotalSteps,
		t.PreviousTaskID, string(t.Purpose), t.Title, t.Description, t.Reasoning, t.BusinessImpact,
		string(t.Priority), string(t.Status),
		fmtTime(t.DueAt), t.ClientName, t.TotalAmount, t.QuotationNumber, t.QuotationTitle, boolInt(t.HighValue), t.Source,
		fmtTimePtr(t.CompletedAt), t.CompletedBy, t.CompletionNotes,
		fmtTimePtr(t.AdvancedAt), fmtTimePtr(t.RemindedAt), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
	)
	if err != nil {
		return sqliteError("insert task", err)
	}
	return nil
}

// GetTask retrieves a task by its ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return s.getTask(ctx, s.db, id)
}

type sqlQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getTask(ctx context.Context, q sqlQueryer, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanSQLiteTask(row)
	if err != nil {
		return nil, sqliteError("get task", err)
	}
	return task, nil
}

// CreateSuccessor marks the predecessor advanced and inserts next atomically.
func (s *SQLiteStore) CreateSuccessor(ctx context.Context, predecessorID string, next *models.Task) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET advanced_at = ?, updated_at = ? WHERE id = ? AND advanced_at IS NULL`,
		fmtTime(next.CreatedAt), fmtTime(next.CreatedAt), predecessorID)
	if err != nil {
		return sqliteError("claim predecessor", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return sqliteError("claim predecessor", err)
	} else if n == 0 {
		if _, err := s.getTask(ctx, tx, predecessorID); err != nil {
			return err
		}
		return fmt.Errorf("predecessor %s already advanced: %w", predecessorID, ErrConflict)
	}

	if err := sqliteInsert(ctx, tx, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return sqliteError("commit successor", err)
	}
	return nil
}

// MarkAdvanced sets advanced_at on a task that has none yet.
func (s *SQLiteStore) MarkAdvanced(ctx context.Context, id string, at time.Time) error {
	return s.markOnce(ctx, "advanced_at", id, at)
}

// MarkReminded sets reminded_at on a task that has none yet.
func (s *SQLiteStore) MarkReminded(ctx context.Context, id string, at time.Time) error {
	return s.markOnce(ctx, "reminded_at", id, at)
}

func (s *SQLiteStore) markOnce(ctx context.Context, column, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+column+` = ?, updated_at = ? WHERE id = ? AND `+column+` IS NULL`,
		fmtTime(at), fmtTime(at), id)
	if err != nil {
		return sqliteError("set "+column, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("task %s %s already set: %w", id, column, ErrConflict)
}

// CompleteTask marks a task completed.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string, c Completion) (*models.Task, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = ?, completed_by = ?, completion_notes = ?, updated_at = ?
		WHERE id = ? AND status <> ?`,
		string(models.TaskStatusCompleted), fmtTime(c.At), c.By, c.Notes, fmtTime(c.At),
		id, string(models.TaskStatusCompleted))
	if err != nil {
		return nil, sqliteError("complete task", err)
	}
	return s.GetTask(ctx, id)
}

// ListTasksByQuotation returns a quotation's tasks ordered by step.
func (s *SQLiteStore) ListTasksByQuotation(ctx context.Context, quotationID string) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE quotation_id = ? ORDER BY sequence_step, created_at`, quotationID)
	if err != nil {
		return nil, sqliteError("list tasks", err)
	}
	return collectSQLiteTasks(rows)
}

// FindSequenceStart returns step 1 of a quotation's sequence.
func (s *SQLiteStore) FindSequenceStart(ctx context.Context, quotationID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE quotation_id = ? AND is_sequential = 1 AND sequence_step = 1`, quotationID)
	task, err := scanSQLiteTask(row)
	if err != nil {
		return nil, sqliteError("find sequence start", err)
	}
	return task, nil
}

// ListOverdueTasks returns pending sequential tasks due before now.
func (s *SQLiteStore) ListOverdueTasks(ctx context.Context, now time.Time, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE is_sequential = 1 AND status = ? AND reminded_at IS NULL AND due_at < ?
		ORDER BY due_at
		LIMIT ?`, string(models.TaskStatusPending), fmtTime(now), limit)
	if err != nil {
		return nil, sqliteError("list overdue tasks", err)
	}
	return collectSQLiteTasks(rows)
}

// CreateQuotation inserts a new quotation.
func (s *SQLiteStore) CreateQuotation(ctx context.Context, q *models.Quotation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotations (`+quotationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Number, q.LeadID, q.ClientName, q.Title, q.TotalAmount,
		string(q.Status), fmtTimePtr(q.ApprovedAt), q.ApprovedBy, fmtTime(q.CreatedAt), fmtTime(q.UpdatedAt))
	if err != nil {
		return sqliteError("insert quotation", err)
	}
	return nil
}

// GetQuotation retrieves a quotation by its ID.
func (s *SQLiteStore) GetQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quotationColumns+` FROM quotations WHERE id = ?`, id)

	var q models.Quotation
	var status, created, updated string
	var approved sql.NullString
	err := row.Scan(&q.ID, &q.Number, &q.LeadID, &q.ClientName, &q.Title, &q.TotalAmount,
		&status, &approved, &q.ApprovedBy, &created, &updated)
	if err != nil {
		return nil, sqliteError("get quotation", err)
	}
	q.Status = models.QuotationStatus(status)
	if err := parseTimes(
		timeField{created, &q.CreatedAt},
		timeField{updated, &q.UpdatedAt},
	); err != nil {
		return nil, err
	}
	if q.ApprovedAt, err = parseTimePtr(approved); err != nil {
		return nil, err
	}
	return &q, nil
}

// ApproveQuotation sets the quotation's status to approved. Approving twice
// keeps the first approval.
func (s *SQLiteStore) ApproveQuotation(ctx context.Context, id string, by *string, at time.Time) (*models.Quotation, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE quotations
		SET status = ?, approved_at = COALESCE(approved_at, ?), approved_by = COALESCE(approved_by, ?), updated_at = ?
		WHERE id = ?`,
		string(models.QuotationStatusApproved), fmtTime(at), by, fmtTime(at), id)
	if err != nil {
		return nil, sqliteError("approve quotation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("approve quotation %s: %w", id, ErrNotFound)
	}
	return s.GetQuotation(ctx, id)
}

// CreateNotification inserts a notification.
func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, kind, quotation_id, task_id, title, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Kind), n.QuotationID, n.TaskID, n.Title, n.Body, fmtTime(n.CreatedAt))
	if err != nil {
		return sqliteError("insert notification", err)
	}
	return nil
}

// ListNotifications returns a quotation's notifications, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, quotationID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, quotation_id, task_id, title, body, created_at
		FROM notifications WHERE quotation_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?`, quotationID, limit)
	if err != nil {
		return nil, sqliteError("list notifications", err)
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		var kind, created string
		if err := rows.Scan(&n.ID, &kind, &n.QuotationID, &n.TaskID, &n.Title, &n.Body, &created); err != nil {
			return nil, sqliteError("scan notification", err)
		}
		n.Kind = models.NotificationKind(kind)
		if err := parseTimes(timeField{created, &n.CreatedAt}); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("iterate notifications", err)
	}
	return out, nil
}

func scanSQLiteTask(row sqlRow) (*models.Task, error) {
	var t models.Task
	var purpose, priority, status, due, created, updated string
	var completed, advanced, reminded sql.NullString
	err := row.Scan(
		&t.ID, &t.QuotationID, &t.LeadID, &t.IsSequential, &t.SequenceStep, &t.SequenceTotalSteps,
		&t.PreviousTaskID, &purpose, &t.Title, &t.Description, &t.Reasoning, &t.BusinessImpact,
		&priority, &status,
		&due, &t.ClientName, &t.TotalAmount, &t.QuotationNumber, &t.QuotationTitle, &t.HighValue, &t.Source,
		&completed, &t.CompletedBy, &t.CompletionNotes, &advanced, &reminded, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	t.Purpose = models.Purpose(purpose)
	t.Priority = models.Priority(priority)
	t.Status = models.TaskStatus(status)

	if err := parseTimes(
		timeField{due, &t.DueAt},
		timeField{created, &t.CreatedAt},
		timeField{updated, &t.UpdatedAt},
	); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseTimePtr(completed); err != nil {
		return nil, err
	}
	if t.AdvancedAt, err = parseTimePtr(advanced); err != nil {
		return nil, err
	}
	if t.RemindedAt, err = parseTimePtr(reminded); err != nil {
		return nil, err
	}
	return &t, nil
}

func collectSQLiteTasks(rows *sql.Rows) ([]*models.Task, error) {
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, sqliteError("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("iterate tasks", err)
	}
	return tasks, nil
}

type timeField struct {
	raw string
	dst *time.Time
}

func parseTimes(fields ...timeField) error {
	for _, f := range fields {
		t, err := time.Parse(sqliteTime, f.raw)
		if err != nil {
			return fmt.Errorf("parse time %q: %w", f.raw, err)
		}
		*f.dst = t
	}
	return nil
}

func parseTimePtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteTime, v.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", v.String, err)
	}
	return &t, nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sqliteError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%s: %w", op, ErrConflict)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
