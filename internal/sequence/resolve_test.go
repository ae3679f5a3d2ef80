package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studio-crm/backend/pkg/models"
)

func builtinResolver(t *testing.T) *Resolver {
	t.Helper()
	pb, err := LoadBuiltinPlaybook()
	require.NoError(t, err)
	return NewResolver(pb, DefaultHighValueThreshold)
}

func TestResolve(t *testing.T) {
	r := builtinResolver(t)

	tests := []struct {
		name      string
		amount    float64
		highValue bool
		purposes  []models.Purpose
	}{
		{
			name:   "standard",
			amount: 50000,
			purposes: []models.Purpose{
				models.PurposeContact, models.PurposeCheckIn, models.PurposeDiscussion,
				models.PurposePayment, models.PurposeFollowUp,
			},
		},
		{
			name:   "at threshold stays standard",
			amount: 100000,
			purposes: []models.Purpose{
				models.PurposeContact, models.PurposeCheckIn, models.PurposeDiscussion,
				models.PurposePayment, models.PurposeFollowUp,
			},
		},
		{
			name:      "just above threshold",
			amount:    100000.01,
			highValue: true,
			purposes: []models.Purpose{
				models.PurposeContact, models.PurposeTeamReview, models.PurposeCheckIn,
				models.PurposeDiscussion, models.PurposePayment, models.PurposeFollowUp,
			},
		},
		{
			name:      "high value",
			amount:    150000,
			highValue: true,
			purposes: []models.Purpose{
				models.PurposeContact, models.PurposeTeamReview, models.PurposeCheckIn,
				models.PurposeDiscussion, models.PurposePayment, models.PurposeFollowUp,
			},
		},
		{
			name:   "zero",
			amount: 0,
			purposes: []models.Purpose{
				models.PurposeContact, models.PurposeCheckIn, models.PurposeDiscussion,
				models.PurposePayment, models.PurposeFollowUp,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := r.Resolve(tt.amount)
			require.Len(t, steps, len(tt.purposes))
			for i, step := range steps {
				assert.Equal(t, tt.purposes[i], step.Purpose(), "step %d", i+1)
				assert.Equal(t, i+1, step.Number)
				assert.Equal(t, len(tt.purposes), step.Total)
				assert.Equal(t, tt.highValue, step.HighValue)
			}
		})
	}
}

func TestResolveDoesNotMutatePlaybook(t *testing.T) {
	r := builtinResolver(t)

	_ = r.Resolve(500000)
	_ = r.Resolve(500000)
	steps := r.Resolve(10)

	require.Len(t, steps, 5)
	assert.Equal(t, models.PurposeCheckIn, steps[1].Purpose())
}

func TestResolveCustomThreshold(t *testing.T) {
	pb, err := LoadBuiltinPlaybook()
	require.NoError(t, err)
	r := NewResolver(pb, 50000)

	assert.Equal(t, 50000.0, r.Threshold())
	assert.False(t, r.IsHighValue(50000))
	assert.True(t, r.IsHighValue(60000))
	assert.Len(t, r.Resolve(60000), 6)
}

func TestStepAt(t *testing.T) {
	r := builtinResolver(t)

	step, err := r.StepAt(true, 2)
	require.NoError(t, err)
	assert.Equal(t, models.PurposeTeamReview, step.Purpose())
	assert.Equal(t, "STEP 2 of 6", step.Label())
	assert.Equal(t, models.PriorityHigh, step.Priority())

	step, err = r.StepAt(false, 3)
	require.NoError(t, err)
	assert.Equal(t, models.PurposeDiscussion, step.Purpose())
	assert.Equal(t, models.PriorityMedium, step.Priority())

	_, err = r.StepAt(false, 6)
	assert.ErrorIs(t, err, ErrInvalidSequenceState)
	_, err = r.StepAt(true, 0)
	assert.ErrorIs(t, err, ErrInvalidSequenceState)
}

func TestStepText(t *testing.T) {
	assert.Equal(t, "STEP 3 of 6", StepLabel(3, 6))
	assert.Equal(t, "Step 3/6", StepShort(3, 6))

	task := &models.Task{Title: "Payment discussion with Asha", IsSequential: true, SequenceStep: 5, SequenceTotalSteps: 6}
	assert.Equal(t, "STEP 5 of 6: Payment discussion with Asha", Headline(task))

	task.IsSequential = false
	assert.Equal(t, "Payment discussion with Asha", Headline(task))
}
