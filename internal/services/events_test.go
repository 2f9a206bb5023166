package services

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"trendaware-backend/internal/models"
)

func TestUserEvents_LogsPublishFailure(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewEventPublisher(rdb, logger).For(context.Background(), uuid.New())

	if err := sink.Emit(models.Frame{Status: models.StatusGenerating, Message: "Generating summary..."}); err != nil {
		t.Fatalf("a publish failure must not fail the run: %v", err)
	}
	if !strings.Contains(buf.String(), "failed to publish run update") {
		t.Fatalf("expected the publish failure to be logged, got %q", buf.String())
	}
}

func TestUserEvents_SkipsFragmentsAndHeartbeats(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer rdb.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	sink := NewEventPublisher(rdb, logger).For(context.Background(), uuid.New())

	sink.Emit(models.Frame{PartialSummary: "half"})
	sink.Emit(models.Frame{Heartbeat: true, Timestamp: 1})
	if buf.Len() != 0 {
		t.Fatalf("fragments and heartbeats should not reach redis, got %q", buf.String())
	}
}
