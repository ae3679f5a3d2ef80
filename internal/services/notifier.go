package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"studio-crm/backend/internal/repository"
	"studio-crm/backend/pkg/models"
)

// StoreNotifier persists notifications in the notifications table.
type StoreNotifier struct {
	store repository.NotificationStore
}

// NewStoreNotifier creates a new StoreNotifier.
func NewStoreNotifier(store repository.NotificationStore) *StoreNotifier {
	return &StoreNotifier{store: store}
}

// Notify inserts the notification.
func (n *StoreNotifier) Notify(ctx context.Context, msg *models.Notification) error {
	if err := n.store.CreateNotification(ctx, msg); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// RedisNotifier publishes notifications as JSON on a Redis channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier creates a new RedisNotifier.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Notify publishes the notification. Publishing with no subscribers is not an error.
func (n *RedisNotifier) Notify(ctx context.Context, msg *models.Notification) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", n.channel, err)
	}
	return nil
}
