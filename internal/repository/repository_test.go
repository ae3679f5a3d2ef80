package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-crm/backend/pkg/models"
)

var testEpoch = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestTask(quotationID string, step, total int) *models.Task {
	return &models.Task{
		ID:                 uuid.NewString(),
		QuotationID:        quotationID,
		IsSequential:       true,
		SequenceStep:       step,
		SequenceTotalSteps: total,
		Purpose:            models.PurposeContact,
		Title:              "Initial call with Asha",
		Description:        "Call the client",
		Priority:           models.PriorityHigh,
		Status:             models.TaskStatusPending,
		DueAt:              testEpoch.Add(2 * time.Hour),
		ClientName:         "Asha",
		TotalAmount:        150000,
		QuotationNumber:    "Q-1001",
		QuotationTitle:     "Engagement shoot",
		HighValue:          true,
		Source:             "test",
		CreatedAt:          testEpoch,
		UpdatedAt:          testEpoch,
	}
}

// runRepositoryTests exercises the behaviour every Repository must share.
func runRepositoryTests(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("Create and Get task", func(t *testing.T) {
		task := newTestTask(uuid.NewString(), 1, 6)
		require.NoError(t, repo.CreateTask(ctx, task))

		got, err := repo.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, got.ID)
		assert.Equal(t, task.QuotationID, got.QuotationID)
		assert.True(t, got.IsSequential)
		assert.Equal(t, 1, got.SequenceStep)
		assert.Equal(t, 6, got.SequenceTotalSteps)
		assert.Equal(t, models.PurposeContact, got.Purpose)
		assert.Equal(t, models.PriorityHigh, got.Priority)
		assert.Equal(t, models.TaskStatusPending, got.Status)
		assert.True(t, task.DueAt.Equal(got.DueAt))
		assert.Equal(t, 150000.0, got.TotalAmount)
		assert.Equal(t, "Q-1001", got.QuotationNumber)
		assert.Equal(t, "Engagement shoot", got.QuotationTitle)
		assert.True(t, got.HighValue)
		assert.Nil(t, got.PreviousTaskID)
		assert.Nil(t, got.CompletedAt)
		assert.Nil(t, got.AdvancedAt)
	})

	t.Run("Get missing task", func(t *testing.T) {
		_, err := repo.GetTask(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Duplicate step conflicts", func(t *testing.T) {
		quotationID := uuid.NewString()
		require.NoError(t, repo.CreateTask(ctx, newTestTask(quotationID, 1, 5)))

		err := repo.CreateTask(ctx, newTestTask(quotationID, 1, 5))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("CreateSuccessor claims the predecessor once", func(t *testing.T) {
		quotationID := uuid.NewString()
		first := newTestTask(quotationID, 1, 5)
		require.NoError(t, repo.CreateTask(ctx, first))

		second := newTestTask(quotationID, 2, 5)
		second.PreviousTaskID = &first.ID
		second.CreatedAt = testEpoch.Add(time.Hour)
		require.NoError(t, repo.CreateSuccessor(ctx, first.ID, second))

		got, err := repo.GetTask(ctx, first.ID)
		require.NoError(t, err)
		require.NotNil(t, got.AdvancedAt)
		assert.True(t, second.CreatedAt.Equal(*got.AdvancedAt))

		again := newTestTask(quotationID, 2, 5)
		again.PreviousTaskID = &first.ID
		err = repo.CreateSuccessor(ctx, first.ID, again)
		assert.ErrorIs(t, err, ErrConflict)

		_, err = repo.GetTask(ctx, again.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Concurrent successor claims", func(t *testing.T) {
		quotationID := uuid.NewString()
		first := newTestTask(quotationID, 1, 5)
		require.NoError(t, repo.CreateTask(ctx, first))

		const callers = 8
		results := make(chan error, callers)
		var wg sync.WaitGroup
		for range callers {
			next := newTestTask(quotationID, 2, 5)
			next.PreviousTaskID = &first.ID
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.CreateSuccessor(ctx, first.ID, next)
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrConflict)
		}
		assert.Equal(t, 1, succeeded)

		tasks, err := repo.ListTasksByQuotation(ctx, quotationID)
		require.NoError(t, err)
		assert.Len(t, tasks, 2)
	})

	t.Run("CreateSuccessor rolls back on insert conflict", func(t *testing.T) {
		quotationID := uuid.NewString()
		first := newTestTask(quotationID, 1, 5)
		require.NoError(t, repo.CreateTask(ctx, first))
		// A stray step 2 occupies the unique index.
		require.NoError(t, repo.CreateTask(ctx, newTestTask(quotationID, 2, 5)))

		next := newTestTask(quotationID, 2, 5)
		err := repo.CreateSuccessor(ctx, first.ID, next)
		assert.ErrorIs(t, err, ErrConflict)

		got, err := repo.GetTask(ctx, first.ID)
		require.NoError(t, err)
		assert.Nil(t, got.AdvancedAt)
	})

	t.Run("CreateSuccessor with missing predecessor", func(t *testing.T) {
		err := repo.CreateSuccessor(ctx, uuid.NewString(), newTestTask(uuid.NewString(), 2, 5))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("MarkAdvanced only once", func(t *testing.T) {
		task := newTestTask(uuid.NewString(), 5, 5)
		require.NoError(t, repo.CreateTask(ctx, task))

		require.NoError(t, repo.MarkAdvanced(ctx, task.ID, testEpoch))
		assert.ErrorIs(t, repo.MarkAdvanced(ctx, task.ID, testEpoch), ErrConflict)
		assert.ErrorIs(t, repo.MarkAdvanced(ctx, uuid.NewString(), testEpoch), ErrNotFound)
	})

	t.Run("CompleteTask is idempotent", func(t *testing.T) {
		task := newTestTask(uuid.NewString(), 1, 5)
		require.NoError(t, repo.CreateTask(ctx, task))

		by, notes := "priya", "client agreed"
		done, err := repo.CompleteTask(ctx, task.ID, Completion{At: testEpoch.Add(time.Hour), By: &by, Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCompleted, done.Status)
		require.NotNil(t, done.CompletedAt)
		assert.True(t, testEpoch.Add(time.Hour).Equal(*done.CompletedAt))
		require.NotNil(t, done.CompletedBy)
		assert.Equal(t, "priya", *done.CompletedBy)

		again, err := repo.CompleteTask(ctx, task.ID, Completion{At: testEpoch.Add(5 * time.Hour)})
		require.NoError(t, err)
		assert.True(t, done.CompletedAt.Equal(*again.CompletedAt))
		assert.Equal(t, "priya", *again.CompletedBy)

		_, err = repo.CompleteTask(ctx, uuid.NewString(), Completion{At: testEpoch})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("List and find sequence start", func(t *testing.T) {
		quotationID := uuid.NewString()
		first := newTestTask(quotationID, 1, 5)
		second := newTestTask(quotationID, 2, 5)
		require.NoError(t, repo.CreateTask(ctx, second))
		require.NoError(t, repo.CreateTask(ctx, first))

		tasks, err := repo.ListTasksByQuotation(ctx, quotationID)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, first.ID, tasks[0].ID)
		assert.Equal(t, second.ID, tasks[1].ID)

		start, err := repo.FindSequenceStart(ctx, quotationID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, start.ID)

		_, err = repo.FindSequenceStart(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Overdue tasks and reminders", func(t *testing.T) {
		quotationID := uuid.NewString()
		overdue := newTestTask(quotationID, 1, 5)
		overdue.DueAt = testEpoch.Add(-48 * time.Hour)
		later := newTestTask(quotationID, 2, 5)
		later.DueAt = testEpoch.Add(48 * time.Hour)
		require.NoError(t, repo.CreateTask(ctx, overdue))
		require.NoError(t, repo.CreateTask(ctx, later))

		tasks, err := repo.ListOverdueTasks(ctx, testEpoch, 1000)
		require.NoError(t, err)
		assert.Contains(t, taskIDs(tasks), overdue.ID)
		assert.NotContains(t, taskIDs(tasks), later.ID)

		require.NoError(t, repo.MarkReminded(ctx, overdue.ID, testEpoch))
		assert.ErrorIs(t, repo.MarkReminded(ctx, overdue.ID, testEpoch), ErrConflict)

		tasks, err = repo.ListOverdueTasks(ctx, testEpoch, 1000)
		require.NoError(t, err)
		assert.NotContains(t, taskIDs(tasks), overdue.ID)
	})

	t.Run("Quotations", func(t *testing.T) {
		q := &models.Quotation{
			ID:          uuid.NewString(),
			Number:      "Q-2002",
			ClientName:  "Ravi",
			Title:       "Wedding shoot",
			TotalAmount: 80000,
			Status:      models.QuotationStatusSent,
			CreatedAt:   testEpoch,
			UpdatedAt:   testEpoch,
		}
		require.NoError(t, repo.CreateQuotation(ctx, q))
		assert.ErrorIs(t, repo.CreateQuotation(ctx, q), ErrConflict)

		got, err := repo.GetQuotation(ctx, q.ID)
		require.NoError(t, err)
		assert.Equal(t, "Q-2002", got.Number)
		assert.Equal(t, models.QuotationStatusSent, got.Status)
		assert.Nil(t, got.ApprovedAt)

		by := "owner"
		approved, err := repo.ApproveQuotation(ctx, q.ID, &by, testEpoch.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.QuotationStatusApproved, approved.Status)
		require.NotNil(t, approved.ApprovedAt)
		assert.True(t, testEpoch.Add(time.Hour).Equal(*approved.ApprovedAt))

		again, err := repo.ApproveQuotation(ctx, q.ID, nil, testEpoch.Add(3*time.Hour))
		require.NoError(t, err)
		assert.True(t, approved.ApprovedAt.Equal(*again.ApprovedAt))
		assert.Equal(t, "owner", *again.ApprovedBy)

		_, err = repo.ApproveQuotation(ctx, uuid.NewString(), nil, testEpoch)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetQuotation(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Notifications", func(t *testing.T) {
		quotationID := uuid.NewString()
		taskID := uuid.NewString()
		older := &models.Notification{
			ID: uuid.NewString(), Kind: models.NotificationSequenceStarted, QuotationID: quotationID,
			TaskID: &taskID, Title: "started", CreatedAt: testEpoch,
		}
		newer := &models.Notification{
			ID: uuid.NewString(), Kind: models.NotificationSequenceCompleted, QuotationID: quotationID,
			Title: "completed", Body: "all done", CreatedAt: testEpoch.Add(time.Hour),
		}
		require.NoError(t, repo.CreateNotification(ctx, older))
		require.NoError(t, repo.CreateNotification(ctx, newer))

		list, err := repo.ListNotifications(ctx, quotationID, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, models.NotificationSequenceCompleted, list[0].Kind)
		assert.Nil(t, list[0].TaskID)
		require.NotNil(t, list[1].TaskID)
		assert.Equal(t, taskID, *list[1].TaskID)
	})
}

func taskIDs(tasks []*models.Task) []string {
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
