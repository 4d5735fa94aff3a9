// Package event publishes domain events after committed writes.
//
// Publishing is best-effort: the write is the source of truth and is never
// rolled back. Services return a [*PublishError] alongside a successful
// result so callers can tell a committed write with a lost notification
// apart from a failed write.
package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultSource is the event source used when none is configured.
const DefaultSource = "loyalty-system"

// Event types.
const (
	UserCreated     = "user.created"
	UserUpdated     = "user.updated"
	UserDeactivated = "user.deactivated"
	UserDeleted     = "user.deleted"
	UserTierChanged = "user.tier_changed"

	PointsAwarded     = "points.awarded"
	PointsRedeemed    = "points.redeemed"
	PointsExpired     = "points.expired"
	PointsTransferred = "points.transferred"
	PointsUpdated     = "points.updated"

	OrderCreated       = "order.created"
	OrderStatusChanged = "order.status_changed"
	OrderCompleted     = "order.completed"
	OrderCancelled     = "order.cancelled"
)

// Publisher delivers one event. detail must be JSON-serializable.
type Publisher interface {
	Publish(ctx context.Context, eventType, source string, detail any) error
}

// PublishError reports an event that could not be delivered after its
// write committed.
type PublishError struct {
	EventType string
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("event: publish %s: %v", e.EventType, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsPublishError reports whether err is, or wraps, a *PublishError.
func IsPublishError(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe)
}

// Emitter publishes events under a fixed source and logs failures.
type Emitter struct {
	publisher Publisher
	source    string
	logger    *slog.Logger
}

// NewEmitter creates an Emitter. A nil publisher discards events.
func NewEmitter(publisher Publisher, source string, logger *slog.Logger) *Emitter {
	if publisher == nil {
		publisher = Nop{}
	}
	if source == "" {
		source = DefaultSource
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		publisher: publisher,
		source:    source,
		logger:    logger,
	}
}

// Emit publishes one event. Failures are logged and returned as *PublishError.
func (e *Emitter) Emit(ctx context.Context, eventType string, detail any) error {
	if err := e.publisher.Publish(ctx, eventType, e.source, detail); err != nil {
		e.logger.Warn("event publish failed",
			"eventType", eventType,
			"source", e.source,
			"error", err,
		)
		return &PublishError{EventType: eventType, Err: err}
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }

// Logger writes events to a structured logger instead of a bus.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Publish(ctx context.Context, eventType, source string, detail any) error {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "event",
		"eventType", eventType,
		"source", source,
		"detail", detail,
	)
	return nil
}
