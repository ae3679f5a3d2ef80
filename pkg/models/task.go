// Package models defines the persisted records of the follow-up service
package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
)

// Priority ranks how urgently a task should be worked
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Purpose discriminates what a follow-up step asks the assignee to do
type Purpose string

const (
	PurposeContact    Purpose = "contact"
	PurposeCheckIn    Purpose = "check_in"
	PurposeDiscussion Purpose = "discussion"
	PurposePayment    Purpose = "payment"
	PurposeFollowUp   Purpose = "follow_up"
	PurposeTeamReview Purpose = "team_review"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeContact, PurposeCheckIn, PurposeDiscussion, PurposePayment, PurposeFollowUp, PurposeTeamReview:
		return true
	}
	return false
}

// Task is a unit of follow-up work. Sequential tasks are owned by the
// progression engine; every step is its own row.
type Task struct {
	ID          string  `json:"id" db:"id"`
	QuotationID string  `json:"quotation_id" db:"quotation_id"`
	LeadID      *string `json:"lead_id,omitempty" db:"lead_id"`

	// Sequence position
	IsSequential       bool    `json:"is_sequential" db:"is_sequential"`
	SequenceStep       int     `json:"sequence_step" db:"sequence_step"`
	SequenceTotalSteps int     `json:"sequence_total_steps" db:"sequence_total_steps"`
	PreviousTaskID     *string `json:"previous_task_id,omitempty" db:"previous_task_id"`
	Purpose            Purpose `json:"purpose" db:"purpose"`

	// Rendered content
	Title          string     `json:"title" db:"title"`
	Description    string     `json:"description" db:"description"`
	Reasoning      string     `json:"reasoning" db:"reasoning"`
	BusinessImpact string     `json:"business_impact" db:"business_impact"`
	Priority       Priority   `json:"priority" db:"priority"`
	Status         TaskStatus `json:"status" db:"status"`
	DueAt          time.Time  `json:"due_at" db:"due_at"`

	// Entity context captured when the sequence started
	ClientName      string  `json:"client_name" db:"client_name"`
	TotalAmount     float64 `json:"total_amount" db:"total_amount"`
	QuotationNumber string  `json:"quotation_number,omitempty" db:"quotation_number"`
	QuotationTitle  string  `json:"quotation_title,omitempty" db:"quotation_title"`
	HighValue       bool    `json:"high_value" db:"high_value"`
	Source          string  `json:"source,omitempty" db:"source"`

	// Completion metadata
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CompletedBy     *string    `json:"completed_by,omitempty" db:"completed_by"`
	CompletionNotes *string    `json:"completion_notes,omitempty" db:"completion_notes"`
	AdvancedAt      *time.Time `json:"advanced_at,omitempty" db:"advanced_at"`
	RemindedAt      *time.Time `json:"-" db:"reminded_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsCompleted reports whether the task has been marked done.
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}

// IsLastStep reports whether no further step follows this task.
func (t *Task) IsLastStep() bool {
	return t.SequenceStep >= t.SequenceTotalSteps
}
