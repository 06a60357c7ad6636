// Package nats receives upstream lifecycle events from NATS subjects and
// feeds them to the engine. Upstream collaborators publish one subject per
// source category under ops.events.>.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opspulse/streammon/internal/engine"
	"github.com/opspulse/streammon/internal/metrics"
	"github.com/opspulse/streammon/internal/model"
)

// SubjectPrefix is the root of the ingestion subject space.
const SubjectPrefix = "ops.events"

// Subscriber bridges NATS subjects to the engine's ingestion path.
type Subscriber struct {
	nc      *nats.Conn
	engine  *engine.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
	queue   string

	sub *nats.Subscription
}

// NewSubscriber creates a subscriber on the given queue group.
func NewSubscriber(nc *nats.Conn, eng *engine.Engine, m *metrics.Metrics, queue string, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		nc:      nc,
		engine:  eng,
		metrics: m,
		logger:  logger,
		queue:   queue,
	}
}

// Subscribe listens on ops.events.> until the context is cancelled, then
// drains the subscription so in-flight deliveries finish.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	subject := SubjectPrefix + ".>"
	sub, err := s.nc.QueueSubscribe(subject, s.queue, s.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info("Subscribed to events", "subject", subject, "queue", s.queue)

	<-ctx.Done()

	s.logger.Info("Draining event subscription")
	if err := s.sub.Drain(); err != nil {
		s.logger.Error("Failed to drain subscription", "error", err)
		return err
	}
	return nil
}

// handleMessage parses and ingests one published event.
func (s *Subscriber) handleMessage(msg *nats.Msg) {
	s.logger.Debug("Received event", "subject", msg.Subject, "data_length", len(msg.Data))

	event, err := ParseEvent(msg.Data)
	if err != nil {
		s.logger.Error("Failed to parse event", "subject", msg.Subject, "error", err)
		s.metrics.EventsInvalid.Inc()
		return
	}

	if err := s.engine.IngestEvent(*event); err != nil {
		s.logger.Warn("Event rejected", "subject", msg.Subject, "error", err)
	}
}

// ParseEvent converts wire data to an Event, tolerating the timestamp
// shapes upstream systems actually send: RFC 3339 strings and epoch
// milliseconds. A missing timestamp defaults to now.
func ParseEvent(data []byte) (*model.Event, error) {
	var raw struct {
		ID           string                 `json:"id"`
		Category     string                 `json:"category"`
		Type         string                 `json:"type"`
		Timestamp    json.RawMessage        `json:"timestamp"`
		Scope        model.Scope            `json:"scope"`
		Severity     string                 `json:"severity"`
		EntityID     string                 `json:"entity_id"`
		EntityType   string                 `json:"entity_type"`
		OperatorID   string                 `json:"operator_id"`
		OperatorName string                 `json:"operator_name"`
		Metadata     map[string]interface{} `json:"metadata"`
		Payload      map[string]interface{} `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	event := &model.Event{
		ID:           raw.ID,
		Category:     model.Category(raw.Category),
		Type:         raw.Type,
		Timestamp:    parseTimestamp(raw.Timestamp),
		Scope:        raw.Scope,
		Severity:     model.Severity(raw.Severity),
		EntityID:     raw.EntityID,
		EntityType:   raw.EntityType,
		OperatorID:   raw.OperatorID,
		OperatorName: raw.OperatorName,
		Metadata:     raw.Metadata,
		Payload:      raw.Payload,
	}
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return event, nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Now()
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if parsed, err := time.Parse(time.RFC3339, asString); err == nil {
			return parsed
		}
		return time.Now()
	}

	var asMillis float64
	if err := json.Unmarshal(raw, &asMillis); err == nil {
		return time.UnixMilli(int64(asMillis))
	}
	return time.Now()
}
