package models

import (
	"time"
)

// NotificationKind names the event a notification reports
type NotificationKind string

const (
	NotificationSequenceStarted   NotificationKind = "sequence.started"
	NotificationTaskCreated       NotificationKind = "task.created"
	NotificationSequenceCompleted NotificationKind = "sequence.completed"
	NotificationTaskOverdue       NotificationKind = "task.overdue"
)

// Notification is a message for the sales team about a follow-up sequence
type Notification struct {
	ID          string           `json:"id" db:"id"`
	Kind        NotificationKind `json:"kind" db:"kind"`
	QuotationID string           `json:"quotation_id" db:"quotation_id"`
	TaskID      *string          `json:"task_id,omitempty" db:"task_id"`
	Title       string           `json:"title" db:"title"`
	Body        string           `json:"body" db:"body"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
