package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/pkg/models"
)

// FollowUpService connects quotations, tasks and notifications to the
// sequence engine.
type FollowUpService struct {
	repo       repository.Repository
	engine     *sequence.Engine
	quotations *QuotationCache
	notifier   Notifier
	clock      clock.Clock
	logger     Logger
}

// ServiceOption configures a FollowUpService.
type ServiceOption func(*FollowUpService)

// WithQuotationCache puts a cache in front of quotation reads.
func WithQuotationCache(c *QuotationCache) ServiceOption {
	return func(s *FollowUpService) { s.quotations = c }
}

// WithServiceClock sets the clock used for approval and completion times.
func WithServiceClock(c clock.Clock) ServiceOption {
	return func(s *FollowUpService) { s.clock = c }
}

// WithServiceLogger sets the service's logger.
func WithServiceLogger(l Logger) ServiceOption {
	return func(s *FollowUpService) { s.logger = l }
}

// NewFollowUpService creates a new FollowUpService.
func NewFollowUpService(repo repository.Repository, engine *sequence.Engine, notifier Notifier, opts ...ServiceOption) *FollowUpService {
	s := &FollowUpService{
		repo:     repo,
		engine:   engine,
		notifier: notifier,
		clock:    clock.New(),
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApprovalResult is returned when a quotation is approved.
type ApprovalResult struct {
	Quotation *models.Quotation        `json:"quotation"`
	Sequence  *sequence.InitiateResult `json:"sequence"`
	// Existing is set when the sequence had already been started.
	Existing bool `json:"existing"`
}

// CompletionResult is returned when a task is completed.
type CompletionResult struct {
	Task    *TaskView               `json:"task"`
	Advance *sequence.AdvanceResult `json:"advance,omitempty"`
}

// TaskView is a task with its display text.
type TaskView struct {
	*models.Task
	Headline string `json:"headline"`
	Step     string `json:"step,omitempty"`
}

// NewTaskView wraps a task with its rendered headline.
func NewTaskView(t *models.Task) *TaskView {
	v := &TaskView{Task: t, Headline: sequence.Headline(t)}
	if t.IsSequential {
		v.Step = sequence.StepShort(t.SequenceStep, t.SequenceTotalSteps)
	}
	return v
}

// StepPreview describes one step of a resolved sequence.
type StepPreview struct {
	Step     int             `json:"step"`
	Total    int             `json:"total"`
	Label    string          `json:"label"`
	Purpose  models.Purpose  `json:"purpose"`
	Priority models.Priority `json:"priority"`
	DueIn    string          `json:"due_in"`
}

// SequencePreview is the resolved sequence for an amount.
type SequencePreview struct {
	Amount    float64       `json:"amount"`
	Threshold float64       `json:"threshold"`
	HighValue bool          `json:"high_value"`
	Steps     []StepPreview `json:"steps"`
}

// PreviewSequence resolves the steps a quotation worth amount would get.
func (s *FollowUpService) PreviewSequence(amount float64) *SequencePreview {
	r := s.engine.Resolver()
	steps := r.Resolve(amount)

	out := &SequencePreview{
		Amount:    amount,
		Threshold: r.Threshold(),
		HighValue: r.IsHighValue(amount),
		Steps:     make([]StepPreview, 0, len(steps)),
	}
	for _, step := range steps {
		out.Steps = append(out.Steps, StepPreview{
			Step:     step.Number,
			Total:    step.Total,
			Label:    step.Label(),
			Purpose:  step.Purpose(),
			Priority: step.Priority(),
			DueIn:    step.Due().String(),
		})
	}
	return out
}

// StartSequence creates step 1 for the quotation described by ec.
func (s *FollowUpService) StartSequence(ctx context.Context, ec sequence.EntityContext) (*sequence.InitiateResult, error) {
	res, err := s.engine.Initiate(ctx, ec)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, res.Task, models.NotificationSequenceStarted,
		fmt.Sprintf("Follow-up started for %s", res.Task.ClientName),
		fmt.Sprintf("%d-step sequence. First: %s", res.TotalSteps, sequence.Headline(res.Task)))
	return res, nil
}

// ApproveQuotation marks a quotation approved and starts its follow-up
// sequence. Approving again returns the sequence's first task.
func (s *FollowUpService) ApproveQuotation(ctx context.Context, quotationID string, approvedBy *string) (*ApprovalResult, error) {
	quotationID = strings.TrimSpace(quotationID)
	if quotationID == "" {
		return nil, fmt.Errorf("%w: quotation id is required", sequence.ErrInvalidInput)
	}

	q, err := s.getQuotation(ctx, quotationID)
	if err != nil {
		return nil, err
	}
	if q.Status == models.QuotationStatusRejected {
		return nil, fmt.Errorf("%w: quotation %s was rejected", sequence.ErrInvalidInput, q.ID)
	}

	approved, err := s.repo.ApproveQuotation(ctx, q.ID, approvedBy, s.clock.Now().UTC())
	if err != nil {
		return nil, quotationError("approve quotation "+q.ID, err)
	}
	if s.quotations != nil {
		s.quotations.Put(approved)
	}

	res, err := s.StartSequence(ctx, sequence.EntityContext{
		QuotationID:     approved.ID,
		LeadID:          approved.LeadID,
		ClientName:      approved.ClientName,
		TotalAmount:     approved.TotalAmount,
		QuotationNumber: approved.Number,
		Title:           approved.Title,
		Source:          "quotation_approval",
	})
	if errors.Is(err, sequence.ErrSequenceExists) {
		start, ferr := s.repo.FindSequenceStart(ctx, approved.ID)
		if ferr != nil {
			return nil, quotationError("find sequence start", ferr)
		}
		return &ApprovalResult{
			Quotation: approved,
			Sequence: &sequence.InitiateResult{
				Task:        start,
				CurrentStep: start.SequenceStep,
				TotalSteps:  start.SequenceTotalSteps,
			},
			Existing: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation approved", "quotation_id", approved.ID, "task_id", res.Task.ID)
	return &ApprovalResult{Quotation: approved, Sequence: res}, nil
}

// CompleteTask marks a task completed and, for sequential tasks, advances
// the sequence. Completing a task twice returns the successor created the
// first time.
func (s *FollowUpService) CompleteTask(ctx context.Context, taskID string, completedBy, notes *string) (*CompletionResult, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, fmt.Errorf("%w: task id is required", sequence.ErrInvalidInput)
	}

	task, err := s.repo.CompleteTask(ctx, taskID, repository.Completion{
		At:    s.clock.Now().UTC(),
		By:    completedBy,
		Notes: notes,
	})
	if err != nil {
		return nil, taskError("complete task "+taskID, err)
	}

	out := &CompletionResult{Task: NewTaskView(task)}
	if !task.IsSequential {
		return out, nil
	}

	adv, err := s.AdvanceTask(ctx, task.ID)
	if errors.Is(err, sequence.ErrAlreadyAdvanced) {
		if adv, err = s.existingSuccessor(ctx, task); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	out.Advance = adv
	return out, nil
}

// AdvanceTask advances the sequence past a completed task.
func (s *FollowUpService) AdvanceTask(ctx context.Context, taskID string) (*sequence.AdvanceResult, error) {
	adv, err := s.engine.Advance(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch {
	case adv.NextTask != nil:
		s.notify(ctx, adv.NextTask, models.NotificationTaskCreated,
			sequence.Headline(adv.NextTask),
			fmt.Sprintf("Due %s", adv.NextTask.DueAt.Format("Mon 2 Jan 15:04 MST")))
	case adv.Completed && !adv.Repeat:
		last, err := s.repo.GetTask(ctx, taskID)
		if err != nil {
			s.logger.Warn("failed to load last task for notification", "task_id", taskID, "error", err)
			break
		}
		s.notify(ctx, last, models.NotificationSequenceCompleted,
			fmt.Sprintf("Follow-up complete for %s", last.ClientName),
			fmt.Sprintf("All %d steps are done. Hand over to post-sales when ready.", last.SequenceTotalSteps))
	}
	return adv, nil
}

// GetTask returns a task with its display text.
func (s *FollowUpService) GetTask(ctx context.Context, id string) (*TaskView, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		return nil, taskError("get task "+id, err)
	}
	return NewTaskView(task), nil
}

// ListQuotationTasks returns a quotation's tasks ordered by step.
func (s *FollowUpService) ListQuotationTasks(ctx context.Context, quotationID string) ([]*TaskView, error) {
	tasks, err := s.repo.ListTasksByQuotation(ctx, quotationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %w", sequence.ErrPersistence, err)
	}
	out := make([]*TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, NewTaskView(t))
	}
	return out, nil
}

// ListNotifications returns a quotation's stored notifications.
func (s *FollowUpService) ListNotifications(ctx context.Context, quotationID string, limit int) ([]*models.Notification, error) {
	list, err := s.repo.ListNotifications(ctx, quotationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w: %w", sequence.ErrPersistence, err)
	}
	return list, nil
}

// Ping checks the backing store.
func (s *FollowUpService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *FollowUpService) getQuotation(ctx context.Context, id string) (*models.Quotation, error) {
	var (
		q   *models.Quotation
		err error
	)
	if s.quotations != nil {
		q, err = s.quotations.Get(ctx, id)
	} else {
		q, err = s.repo.GetQuotation(ctx, id)
	}
	if err != nil {
		return nil, quotationError("get quotation "+id, err)
	}
	return q, nil
}

func (s *FollowUpService) existingSuccessor(ctx context.Context, done *models.Task) (*sequence.AdvanceResult, error) {
	tasks, err := s.repo.ListTasksByQuotation(ctx, done.QuotationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w: %w", sequence.ErrPersistence, err)
	}
	for _, t := range tasks {
		if t.PreviousTaskID != nil && *t.PreviousTaskID == done.ID {
			return &sequence.AdvanceResult{
				NextTask:    t,
				CurrentStep: t.SequenceStep,
				TotalSteps:  t.SequenceTotalSteps,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: task %s is advanced but has no successor", sequence.ErrInvalidSequenceState, done.ID)
}

// notify delivers a notification. The sequence change is already stored, so
// delivery failures are logged and not returned.
func (s *FollowUpService) notify(ctx context.Context, task *models.Task, kind models.NotificationKind, title, body string) {
	if s.notifier == nil {
		return
	}

	taskID := task.ID
	n := &models.Notification{
		ID:          uuid.New().String(),
		Kind:        kind,
		QuotationID: task.QuotationID,
		TaskID:      &taskID,
		Title:       title,
		Body:        body,
		CreatedAt:   s.clock.Now().UTC(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to deliver notification",
			"kind", string(kind),
			"quotation_id", task.QuotationID,
			"task_id", task.ID,
			"error", err,
		)
	}
}

func taskError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, sequence.ErrTaskNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, sequence.ErrPersistence, err)
}

func quotationError(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, sequence.ErrEntityNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, sequence.ErrPersistence, err)
}
