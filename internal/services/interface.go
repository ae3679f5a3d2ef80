package services

import (
	"context"

	"studio-crm/backend/pkg/models"
)

// Notifier delivers follow-up notifications to the sales team.
type Notifier interface {
	// Notify delivers a single notification.
	Notify(ctx context.Context, n *models.Notification) error
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
