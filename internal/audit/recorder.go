// Package audit fans security events out to Kafka (stream consumers),
// ClickHouse (analytics) and Elasticsearch (operator search). Recording is
// best-effort: a sink failure is logged and never fails the auth operation
// that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"teamhub/internal/bucketing"
	"teamhub/internal/client"
	"teamhub/internal/config"
	"teamhub/internal/util"
)

const (
	EventUserRegistered  = "user.registered"
	EventSignInStarted   = "signin.started"
	EventSignInCompleted = "signin.completed"
	EventSignInFailed    = "signin.failed"
	EventTwoFaEnabled    = "twofa.enabled"
	EventTwoFaDisabled   = "twofa.disabled"
	EventTwoFaFailed     = "twofa.failed"
	EventEmailChanged    = "email.changed"
	EventProfileUpdated  = "profile.updated"
	EventSessionRevoked  = "session.revoked"
	EventAccountDisabled = "account.disabled"
)

const esIndex = "teamhub-security-events"

type Event struct {
	EventID   string            `json:"event_id"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Recorder is the event sink the service layer depends on.
type Recorder interface {
	Record(ctx context.Context, eventType, userID, sessionID string, metadata map[string]string)
}

type recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	elastic    *client.ESClient
	buckets    *bucketing.Manager
	topic      string
}

func NewRecorder(cfg *config.Config, producer *client.KafkaProducer, chClient *client.ClickHouseClient, esClient *client.ESClient, buckets *bucketing.Manager) Recorder {
	return &recorder{
		producer:   producer,
		clickhouse: chClient,
		elastic:    esClient,
		buckets:    buckets,
		topic:      cfg.Kafka.AuditTopic,
	}
}

func (r *recorder) Record(ctx context.Context, eventType, userID, sessionID string, metadata map[string]string) {
	event := &Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("Failed to marshal security event",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}

	// Detach from the request context so a finished request does not cancel
	// delivery mid-flight.
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)

	g, gctx := errgroup.WithContext(sinkCtx)

	g.Go(func() error {
		if r.producer == nil {
			return nil
		}
		if err := r.producer.ProduceMessage(gctx, r.topic, []byte(event.EventID), payload, map[string]string{
			"event_type": event.EventType,
		}); err != nil {
			util.Warn("Failed to publish security event to Kafka",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		if r.clickhouse == nil {
			return nil
		}
		if err := r.clickhouse.Exec(gctx, `
            INSERT INTO security_events (event_bucket, date_bucket, event_id, event_type, user_id, session_id, payload, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.buckets.EventBucket(event.EventID), r.buckets.DateBucket(),
			event.EventID, event.EventType, event.UserID, event.SessionID,
			string(payload), event.CreatedAt); err != nil {
			util.Warn("Failed to write security event to ClickHouse",
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		if r.elastic == nil {
			return nil
		}
		res, err := r.elastic.IndexDocument(gctx, esIndex, event.EventID, event)
		if err != nil {
			util.Warn("Failed to index security event",
				zap.String("event_id", event.EventID),
				zap.Error(err))
			return nil
		}
		defer res.Body.Close()
		if res.IsError() {
			util.Warn("Elasticsearch rejected security event",
				zap.String("event_id", event.EventID),
				zap.String("status", res.Status()))
		}
		return nil
	})

	go func() {
		defer cancel()
		_ = g.Wait()
	}()
}
