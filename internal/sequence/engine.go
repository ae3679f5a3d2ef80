package sequence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/pkg/models"
)

const instrumentationName = "studio-crm/backend/internal/sequence"

// TaskStore is the persistence the engine needs.
type TaskStore interface {
	// CreateTask inserts a new task.
	CreateTask(ctx context.Context, task *models.Task) error
	// GetTask retrieves a task by its ID.
	GetTask(ctx context.Context, id string) (*models.Task, error)
	// CreateSuccessor marks the predecessor as advanced and inserts next in
	// one transaction. It fails with repository.ErrConflict if the
	// predecessor was already advanced.
	CreateSuccessor(ctx context.Context, predecessorID string, next *models.Task) error
	// MarkAdvanced records that a task's sequence has moved past it.
	MarkAdvanced(ctx context.Context, id string, at time.Time) error
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// InitiateResult is returned when a sequence starts.
type InitiateResult struct {
	Task        *models.Task `json:"task"`
	CurrentStep int          `json:"current_step"`
	TotalSteps  int          `json:"total_steps"`
}

// AdvanceResult is either a completion signal or the newly created task.
type AdvanceResult struct {
	Completed   bool         `json:"completed"`
	NextTask    *models.Task `json:"next_task,omitempty"`
	CurrentStep int          `json:"current_step,omitempty"`
	TotalSteps  int          `json:"total_steps,omitempty"`

	// Repeat is set when the sequence had already been reported complete.
	Repeat bool `json:"-"`
}

// Engine creates and advances follow-up sequences.
type Engine struct {
	store    TaskStore
	resolver *Resolver
	clock    clock.Clock
	logger   Logger
	tracer   trace.Tracer

	tasksCreated       metric.Int64Counter
	sequencesCompleted metric.Int64Counter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	threshold      float64
	clock          clock.Clock
	logger         Logger
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithHighValueThreshold sets the amount above which the team review step is added.
func WithHighValueThreshold(threshold float64) Option {
	return func(o *engineOptions) { o.threshold = threshold }
}

// WithClock sets the clock used for due times.
func WithClock(c clock.Clock) Option {
	return func(o *engineOptions) { o.clock = c }
}

// WithLogger sets the engine's logger.
func WithLogger(l Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// WithTracerProvider sets the provider for engine spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *engineOptions) { o.tracerProvider = tp }
}

// WithMeterProvider sets the provider for engine counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *engineOptions) { o.meterProvider = mp }
}

// NewEngine creates an Engine over store using the steps from pb.
func NewEngine(store TaskStore, pb *Playbook, opts ...Option) *Engine {
	o := engineOptions{
		threshold:      DefaultHighValueThreshold,
		clock:          clock.New(),
		logger:         nopLogger{},
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		store:    store,
		resolver: NewResolver(pb, o.threshold),
		clock:    o.clock,
		logger:   o.logger,
		tracer:   o.tracerProvider.Tracer(instrumentationName),
	}

	meter := o.meterProvider.Meter(instrumentationName)
	var err error
	if e.tasksCreated, err = meter.Int64Counter("crm.sequence.tasks_created",
		metric.WithDescription("Sequential follow-up tasks created")); err != nil {
		e.logger.Warn("failed to create counter", "name", "crm.sequence.tasks_created", "error", err)
	}
	if e.sequencesCompleted, err = meter.Int64Counter("crm.sequence.completed",
		metric.WithDescription("Follow-up sequences that reached their last step")); err != nil {
		e.logger.Warn("failed to create counter", "name", "crm.sequence.completed", "error", err)
	}

	return e
}

// Resolver returns the engine's sequence resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// ResolveSequence returns the ordered steps for a quotation worth totalAmount.
func (e *Engine) ResolveSequence(totalAmount float64) []Step {
	return e.resolver.Resolve(totalAmount)
}

// Initiate creates the first task of a quotation's sequence.
func (e *Engine) Initiate(ctx context.Context, ec EntityContext) (_ *InitiateResult, err error) {
	ctx, span := e.tracer.Start(ctx, "sequence.Initiate",
		trace.WithAttributes(attribute.String("quotation.id", ec.QuotationID)))
	defer func() { endSpan(span, err) }()

	ec.QuotationID = strings.TrimSpace(ec.QuotationID)
	ec.ClientName = strings.TrimSpace(ec.ClientName)
	if err := validateContext(ec); err != nil {
		return nil, err
	}

	highValue := e.resolver.IsHighValue(ec.TotalAmount)
	steps := e.resolver.ResolveBranch(highValue)
	first := steps[0]

	task, err := e.buildTask(first, ec, nil)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, storeError("create first task", err, ErrSequenceExists)
	}

	e.countCreated(ctx, task)
	span.SetAttributes(
		attribute.Int("sequence.total_steps", first.Total),
		attribute.Bool("sequence.high_value", highValue),
	)
	e.logger.Info("sequence started",
		"quotation_id", ec.QuotationID,
		"task_id", task.ID,
		"total_steps", first.Total,
		"high_value", highValue,
	)

	return &InitiateResult{
		Task:        task,
		CurrentStep: first.Number,
		TotalSteps:  first.Total,
	}, nil
}

// Advance creates the successor of a completed task, or reports that the
// sequence is complete when the task was the last step.
func (e *Engine) Advance(ctx context.Context, completedTaskID string) (_ *AdvanceResult, err error) {
	ctx, span := e.tracer.Start(ctx, "sequence.Advance",
		trace.WithAttributes(attribute.String("task.id", completedTaskID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(completedTaskID) == "" {
		return nil, fmt.Errorf("%w: task id is required", ErrInvalidInput)
	}

	done, err := e.store.GetTask(ctx, completedTaskID)
	if err != nil {
		return nil, storeError("load task "+completedTaskID, err, nil)
	}

	if !done.IsSequential {
		return nil, fmt.Errorf("task %s: %w", done.ID, ErrNotSequential)
	}
	if !done.IsCompleted() {
		return nil, fmt.Errorf("task %s: %w", done.ID, ErrTaskNotCompleted)
	}
	if done.SequenceStep < 1 || done.SequenceTotalSteps < done.SequenceStep {
		return nil, fmt.Errorf("%w: task %s is at step %d of %d",
			ErrInvalidSequenceState, done.ID, done.SequenceStep, done.SequenceTotalSteps)
	}

	span.SetAttributes(
		attribute.String("quotation.id", done.QuotationID),
		attribute.Int("sequence.step", done.SequenceStep),
		attribute.Int("sequence.total_steps", done.SequenceTotalSteps),
	)

	nextStep := done.SequenceStep + 1
	if nextStep > done.SequenceTotalSteps {
		return e.finish(ctx, done)
	}

	// The branch is fixed when the sequence starts; later changes to the
	// quotation amount do not reshape a running sequence.
	steps := e.resolver.ResolveBranch(done.HighValue)
	if len(steps) != done.SequenceTotalSteps {
		return nil, fmt.Errorf("%w: task %s expects %d steps, playbook resolves %d",
			ErrInvalidSequenceState, done.ID, done.SequenceTotalSteps, len(steps))
	}

	step, err := e.resolver.StepAt(done.HighValue, nextStep)
	if err != nil {
		return nil, err
	}

	next, err := e.buildTask(step, contextFromTask(done), &done.ID)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateSuccessor(ctx, done.ID, next); err != nil {
		return nil, storeError(fmt.Sprintf("create step %d", nextStep), err, ErrAlreadyAdvanced)
	}

	e.countCreated(ctx, next)
	e.logger.Info("sequence advanced",
		"quotation_id", next.QuotationID,
		"previous_task_id", done.ID,
		"task_id", next.ID,
		"step", next.SequenceStep,
		"total_steps", next.SequenceTotalSteps,
	)

	return &AdvanceResult{
		NextTask:    next,
		CurrentStep: next.SequenceStep,
		TotalSteps:  next.SequenceTotalSteps,
	}, nil
}

func (e *Engine) finish(ctx context.Context, last *models.Task) (*AdvanceResult, error) {
	res := &AdvanceResult{Completed: true}

	if last.AdvancedAt != nil {
		res.Repeat = true
		return res, nil
	}

	err := e.store.MarkAdvanced(ctx, last.ID, e.clock.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrConflict):
		res.Repeat = true
		return res, nil
	default:
		return nil, storeError("mark task "+last.ID+" advanced", err, nil)
	}

	if e.sequencesCompleted != nil {
		e.sequencesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.Bool("high_value", last.HighValue)))
	}
	e.logger.Info("sequence completed",
		"quotation_id", last.QuotationID,
		"task_id", last.ID,
		"total_steps", last.SequenceTotalSteps,
	)
	return res, nil
}

func (e *Engine) buildTask(step Step, ec EntityContext, previousID *string) (*models.Task, error) {
	text, err := step.Template.Render(newRenderData(ec, step.HighValue))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSequenceState, err)
	}

	now := e.clock.Now().UTC()
	return &models.Task{
		ID:                 uuid.New().String(),
		QuotationID:        ec.QuotationID,
		LeadID:             ec.LeadID,
		IsSequential:       true,
		SequenceStep:       step.Number,
		SequenceTotalSteps: step.Total,
		PreviousTaskID:     previousID,
		Purpose:            step.Purpose(),
		Title:              text.Title,
		Description:        text.Description,
		Reasoning:          text.Reasoning,
		BusinessImpact:     text.Impact,
		Priority:           step.Priority(),
		Status:             models.TaskStatusPending,
		DueAt:              now.Add(step.Due()),
		ClientName:         ec.ClientName,
		TotalAmount:        ec.TotalAmount,
		QuotationNumber:    ec.QuotationNumber,
		QuotationTitle:     ec.Title,
		HighValue:          step.HighValue,
		Source:             ec.Source,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (e *Engine) countCreated(ctx context.Context, t *models.Task) {
	if e.tasksCreated == nil {
		return
	}
	e.tasksCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("purpose", string(t.Purpose)),
		attribute.Int("step", t.SequenceStep),
	))
}

func validateContext(ec EntityContext) error {
	if ec.QuotationID == "" {
		return fmt.Errorf("%w: quotation id is required", ErrInvalidInput)
	}
	if ec.ClientName == "" {
		return fmt.Errorf("%w: client name is required", ErrInvalidInput)
	}
	if math.IsNaN(ec.TotalAmount) || math.IsInf(ec.TotalAmount, 0) || ec.TotalAmount < 0 {
		return fmt.Errorf("%w: total amount must be a finite non-negative number", ErrInvalidInput)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
