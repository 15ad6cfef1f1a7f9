// Package notify delivers P2P notifications. Delivery is fire-and-forget: a
// failure is logged and never reaches the engine.
package notify

import (
	"context"
	"log/slog"
	"time"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/common/middleware"
	natsx "p2pplatform/internal/common/nats"
)

// Notifications are published as events.<type>, e.g. events.p2p.request.paid.
const (
	StreamName = "P2P_NOTIFICATIONS"
	Subjects   = "events.p2p.>"
)

// EnsureStream creates the stream the delivery services consume
// notifications from.
func EnsureStream(ctx context.Context, client *natsx.Client) error {
	sc := natsx.DefaultStreamConfig(StreamName, []string{Subjects})
	sc.Description = "P2P user notifications"
	sc.MaxAge = 72 * time.Hour
	_, err := client.EnsureStream(ctx, sc)
	return err
}

// Publisher publishes an event envelope.
type Publisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

// NATSDispatcher publishes notifications as events on JetStream.
type NATSDispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewNATSDispatcher creates a dispatcher on publisher.
func NewNATSDispatcher(publisher Publisher, logger *slog.Logger) *NATSDispatcher {
	return &NATSDispatcher{publisher: publisher, logger: logger}
}

// Send implements p2p.Notifier.
func (d *NATSDispatcher) Send(ctx context.Context, userID, eventType string, payload any) {
	aggType, aggID := aggregateOf(payload)
	event, err := events.NewEvent(eventType, userID, aggType, aggID, payload)
	if err != nil {
		d.logger.Error("building notification", "type", eventType, "user_id", userID, "error", err)
		return
	}
	event.WithCorrelation(middleware.GetCorrelationID(ctx))

	// Delivery must not depend on the caller's request finishing first.
	ctx = context.WithoutCancel(ctx)
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("notification not delivered",
			"type", eventType,
			"user_id", userID,
			"aggregate_id", aggID,
			"error", err,
		)
	}
}

// LogDispatcher writes notifications to the log. It backs development runs
// without NATS.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a LogDispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// Send implements p2p.Notifier.
func (d *LogDispatcher) Send(ctx context.Context, userID, eventType string, payload any) {
	_, aggID := aggregateOf(payload)
	d.logger.Info("notification",
		"type", eventType,
		"user_id", userID,
		"aggregate_id", aggID,
		"correlation_id", middleware.GetCorrelationID(ctx),
	)
}

func aggregateOf(payload any) (string, string) {
	switch p := payload.(type) {
	case events.TransferData:
		return events.AggregateTransaction, p.TransactionID
	case events.RequestData:
		return events.AggregateRequest, p.RequestID
	case events.SplitBillData:
		return events.AggregateSplitBill, p.SplitBillID
	case events.LinkPaidData:
		return events.AggregateLink, p.LinkID
	}
	return "", ""
}
