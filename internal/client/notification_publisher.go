package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-procurement-requests/internal/platform/metrics"
)

// Event types published on every successful lifecycle change.
const (
	EventSubmitted         = "pr_submitted"
	EventApprovalRequired  = "pr_approval_required"
	EventApproved          = "pr_approved"
	EventRejected          = "pr_rejected"
	EventReturned          = "pr_returned"
	EventAssigned          = "pr_assigned"
	EventProgressed        = "pr_progressed"
	EventBudgetException   = "pr_budget_exception"
	EventExceptionApproved = "pr_budget_exception_approved"
	EventExceptionRejected = "pr_budget_exception_rejected"
	EventReassigned        = "pr_reassigned"
)

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType     string         `json:"event_type"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	ResourceRef   string         `json:"resource_ref,omitempty"`
	ActorID       string         `json:"actor_id"`
	RecipientRole string         `json:"recipient_role,omitempty"`
	Recipients    []string       `json:"recipients,omitempty"`
	Status        string         `json:"status"`
	IsActionable  bool           `json:"is_actionable"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NotificationPublisher publishes purchase request events to NATS for the
// portal notification service.
//
// Subject convention: <prefix>.<event_type>
//
// Publishing is fire-and-forget: failures are logged and counted but never
// returned, so a broken broker never fails a lifecycle operation. A nil
// connection turns the publisher into a no-op.
type NotificationPublisher struct {
	nc      *nats.Conn
	prefix  string
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewNotificationPublisher creates a publisher backed by nc.
func NewNotificationPublisher(nc *nats.Conn, subjectPrefix string, log zerolog.Logger, m *metrics.Metrics) *NotificationPublisher {
	return &NotificationPublisher{
		nc:      nc,
		prefix:  subjectPrefix,
		log:     log.With().Str("component", "notifications").Logger(),
		metrics: m,
	}
}

// ConnectNATS dials the broker with unlimited reconnects.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
}

// Publish sends event. Subject: <prefix>.<event.EventType>
func (p *NotificationPublisher) Publish(ctx context.Context, event *NotificationEvent) {
	if p == nil || p.nc == nil || event == nil {
		return
	}
	if ctx.Err() != nil {
		// The caller already returned; the operation itself has committed.
		ctx = context.Background()
	}
	if event.ResourceType == "" {
		event.ResourceType = "purchase_request"
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.EventType).Msg("notification: failed to marshal event")
		p.metrics.IncrementNotificationFailure()
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, event.EventType)
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok && reqID != "" {
		msg.Header.Set("X-Request-Id", reqID)
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("pr_id", event.ResourceID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		p.metrics.IncrementNotificationFailure()
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("pr_id", event.ResourceID).
		Str("recipient_role", event.RecipientRole).
		Msg("notification: event published")
}

type requestIDKey struct{}

// WithRequestID tags ctx so published events carry the originating request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}
