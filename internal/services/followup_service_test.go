package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/internal/sequence"
	"studio-crm/backend/pkg/models"
)

var serviceEpoch = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

// recordingNotifier keeps every notification it is given.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) kinds() []models.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Kind)
	}
	return out
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n *models.Notification) error {
	return m.Called(ctx, n).Error(0)
}

type serviceFixture struct {
	svc      *FollowUpService
	store    *repository.SQLiteStore
	notifier *recordingNotifier
	clock    *clock.Mock
}

func newServiceFixture(t *testing.T, notifier Notifier) *serviceFixture {
	t.Helper()

	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pb, err := sequence.LoadBuiltinPlaybook()
	require.NoError(t, err)

	clk := clock.NewMock()
	clk.Set(serviceEpoch)

	rec := &recordingNotifier{}
	if notifier == nil {
		notifier = rec
	}

	engine := sequence.NewEngine(store, pb, sequence.WithClock(clk))
	svc := NewFollowUpService(store, engine, notifier,
		WithServiceClock(clk),
		WithQuotationCache(NewQuotationCache(store, time.Minute, 100)),
	)
	return &serviceFixture{svc: svc, store: store, notifier: rec, clock: clk}
}

func (f *serviceFixture) addQuotation(t *testing.T, id string, amount float64, status models.QuotationStatus) {
	t.Helper()
	require.NoError(t, f.store.CreateQuotation(context.Background(), &models.Quotation{
		ID:          id,
		Number:      "Q-" + id,
		ClientName:  "Asha Rao",
		Title:       "Wedding coverage",
		TotalAmount: amount,
		Status:      status,
		CreatedAt:   serviceEpoch,
		UpdatedAt:   serviceEpoch,
	}))
}

func TestApproveQuotation(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.addQuotation(t, "q1", 150000, models.QuotationStatusSent)

	by := "owner"
	res, err := f.svc.ApproveQuotation(ctx, "q1", &by)
	require.NoError(t, err)

	assert.False(t, res.Existing)
	assert.Equal(t, models.QuotationStatusApproved, res.Quotation.Status)
	assert.Equal(t, 1, res.Sequence.CurrentStep)
	assert.Equal(t, 6, res.Sequence.TotalSteps)
	assert.Equal(t, "Q-q1", res.Sequence.Task.QuotationNumber)
	assert.Equal(t, "quotation_approval", res.Sequence.Task.Source)
	assert.Equal(t, []models.NotificationKind{models.NotificationSequenceStarted}, f.notifier.kinds())

	again, err := f.svc.ApproveQuotation(ctx, "q1", nil)
	require.NoError(t, err)
	assert.True(t, again.Existing)
	assert.Equal(t, res.Sequence.Task.ID, again.Sequence.Task.ID)
	assert.Len(t, f.notifier.kinds(), 1)

	tasks, err := f.store.ListTasksByQuotation(ctx, "q1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestApproveQuotationErrors(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.addQuotation(t, "rejected", 1000, models.QuotationStatusRejected)

	_, err := f.svc.ApproveQuotation(ctx, "missing", nil)
	assert.ErrorIs(t, err, sequence.ErrEntityNotFound)

	_, err = f.svc.ApproveQuotation(ctx, "rejected", nil)
	assert.ErrorIs(t, err, sequence.ErrInvalidInput)

	_, err = f.svc.ApproveQuotation(ctx, " ", nil)
	assert.ErrorIs(t, err, sequence.ErrInvalidInput)
}

func TestCompleteTaskRunsSequence(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.addQuotation(t, "q1", 50000, models.QuotationStatusSent)

	res, err := f.svc.ApproveQuotation(ctx, "q1", nil)
	require.NoError(t, err)

	current := res.Sequence.Task
	for step := 2; step <= 5; step++ {
		f.clock.Add(time.Hour)
		out, err := f.svc.CompleteTask(ctx, current.ID, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, out.Task.Status)
		require.NotNil(t, out.Advance)
		require.NotNil(t, out.Advance.NextTask)
		assert.Equal(t, step, out.Advance.CurrentStep)
		current = out.Advance.NextTask
	}

	by, notes := "priya", "advance received"
	out, err := f.svc.CompleteTask(ctx, current.ID, &by, &notes)
	require.NoError(t, err)
	require.NotNil(t, out.Advance)
	assert.True(t, out.Advance.Completed)
	assert.Equal(t, "STEP 5 of 5: Final follow-up with Asha Rao", out.Task.Headline)
	assert.Equal(t, "Step 5/5", out.Task.Step)

	// Completing the last task again does not notify twice.
	_, err = f.svc.CompleteTask(ctx, current.ID, nil, nil)
	require.NoError(t, err)

	kinds := f.notifier.kinds()
	assert.Equal(t, models.NotificationSequenceStarted, kinds[0])
	assert.Equal(t, models.NotificationSequenceCompleted, kinds[len(kinds)-1])
	assert.Len(t, kinds, 6)
}

func TestCompleteTaskTwiceReturnsSameSuccessor(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	f.addQuotation(t, "q1", 50000, models.QuotationStatusSent)

	res, err := f.svc.ApproveQuotation(ctx, "q1", nil)
	require.NoError(t, err)

	first, err := f.svc.CompleteTask(ctx, res.Sequence.Task.ID, nil, nil)
	require.NoError(t, err)
	second, err := f.svc.CompleteTask(ctx, res.Sequence.Task.ID, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Advance.NextTask.ID, second.Advance.NextTask.ID)

	tasks, err := f.svc.ListQuotationTasks(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "STEP 2 of 5: WhatsApp check-in with Asha Rao", tasks[1].Headline)
}

func TestCompleteTaskNotFound(t *testing.T) {
	f := newServiceFixture(t, nil)

	_, err := f.svc.CompleteTask(context.Background(), "missing", nil, nil)
	assert.ErrorIs(t, err, sequence.ErrTaskNotFound)
}

func TestCompleteAdhocTask(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil)
	require.NoError(t, f.store.CreateTask(ctx, &models.Task{
		ID: "adhoc", QuotationID: "q9", Title: "Send samples",
		Priority: models.PriorityLow, Status: models.TaskStatusPending,
		DueAt: serviceEpoch, CreatedAt: serviceEpoch, UpdatedAt: serviceEpoch,
	}))

	out, err := f.svc.CompleteTask(ctx, "adhoc", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out.Advance)
	assert.Equal(t, "Send samples", out.Task.Headline)
	assert.Empty(t, out.Task.Step)
}

func TestNotifierFailureDoesNotFailSequence(t *testing.T) {
	ctx := context.Background()
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	f := newServiceFixture(t, notifier)

	res, err := f.svc.StartSequence(ctx, sequence.EntityContext{QuotationID: "q1", ClientName: "Asha", TotalAmount: 10})
	require.NoError(t, err)
	assert.NotNil(t, res.Task)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestPreviewSequence(t *testing.T) {
	f := newServiceFixture(t, nil)

	p := f.svc.PreviewSequence(150000)
	assert.True(t, p.HighValue)
	assert.Equal(t, float64(sequence.DefaultHighValueThreshold), p.Threshold)
	require.Len(t, p.Steps, 6)
	assert.Equal(t, models.PurposeTeamReview, p.Steps[1].Purpose)
	assert.Equal(t, "STEP 2 of 6", p.Steps[1].Label)
	assert.Equal(t, "36h0m0s", p.Steps[1].DueIn)

	p = f.svc.PreviewSequence(100000)
	assert.False(t, p.HighValue)
	assert.Len(t, p.Steps, 5)
}
