package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trendaware-backend/internal/models"
)

// RunUpdatesChannel is the pub/sub channel the websocket hub relays for userID.
func RunUpdatesChannel(userID uuid.UUID) string {
	return fmt.Sprintf("run_updates:%s", userID.String())
}

// EventPublisher fans run frames out to the user's websocket connections.
type EventPublisher struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewEventPublisher(client *redis.Client, logger *slog.Logger) *EventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventPublisher{redis: client, logger: logger.With("component", "events")}
}

func (p *EventPublisher) Publish(ctx context.Context, userID uuid.UUID, f models.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return p.redis.Publish(ctx, RunUpdatesChannel(userID), string(data)).Err()
}

// For binds the publisher to one user so it can be used as a frame sink.
func (p *EventPublisher) For(ctx context.Context, userID uuid.UUID) *UserEvents {
	return &UserEvents{ctx: ctx, userID: userID, pub: p}
}

type UserEvents struct {
	ctx    context.Context
	userID uuid.UUID
	pub    *EventPublisher
}

// Emit publishes stage changes only. Fragments and heartbeats stay on the
// HTTP stream, and a publish failure never fails the run.
func (u *UserEvents) Emit(f models.Frame) error {
	if f.Heartbeat || f.PartialSummary != "" {
		return nil
	}
	if err := u.pub.Publish(context.WithoutCancel(u.ctx), u.userID, f); err != nil {
		u.pub.logger.Warn("failed to publish run update", "user_id", u.userID, "status", f.Status, "error", err)
	}
	return nil
}
