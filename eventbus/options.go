package eventbus

import (
	"context"
	"time"

	"github.com/leeforge/workforce/logging"
)

// Observer is notified about dispatch progress. Calls for one dispatch happen
// in this order: EventPublished, then HandlerStarted for each handler in
// registration order, with HandlerFinished interleaved as handlers settle.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	EventPublished(evt Event, subscribers int)
	HandlerStarted(evt Event, handler string)
	HandlerFinished(evt Event, handler string, elapsed time.Duration, err error)
}

// FailureHook receives every handler failure after it has been logged.
type FailureHook func(ctx context.Context, failure HandlerFailure)

// Option configures an EventBus.
type Option func(*EventBus)

// WithLogger sets the sink for handler failures.
func WithLogger(logger logging.Logger) Option {
	return func(b *EventBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithHistoryCapacity bounds the history buffer. Values below 1 keep the
// default.
func WithHistoryCapacity(capacity int) Option {
	return func(b *EventBus) {
		if capacity > 0 {
			b.historyCapacity = capacity
		}
	}
}

// WithFailureHook registers a hook called once per failed handler invocation.
func WithFailureHook(hook FailureHook) Option {
	return func(b *EventBus) {
		if hook != nil {
			b.failureHooks = append(b.failureHooks, hook)
		}
	}
}

// WithObserver attaches an Observer. Several observers may be attached.
func WithObserver(o Observer) Option {
	return func(b *EventBus) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// WithClock replaces time.Now for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *EventBus) {
		if now != nil {
			b.now = now
		}
	}
}

type publishConfig struct {
	meta Metadata
}

// PublishOption enriches the metadata of a single publish.
type PublishOption func(*publishConfig)

// WithActor records who caused the event. The bus never looks the actor up
// itself.
func WithActor(userID, organizationID string) PublishOption {
	return func(c *publishConfig) {
		c.meta.UserID = userID
		c.meta.OrganizationID = organizationID
	}
}

// WithCorrelationID links the event to a request or a parent event.
func WithCorrelationID(id string) PublishOption {
	return func(c *publishConfig) {
		c.meta.CorrelationID = id
	}
}

// WithEventID overrides the generated event id.
func WithEventID(id string) PublishOption {
	return func(c *publishConfig) {
		c.meta.ID = id
	}
}

// WithTimestamp overrides the publish time.
func WithTimestamp(ts time.Time) PublishOption {
	return func(c *publishConfig) {
		c.meta.Timestamp = ts
	}
}

// WithMetadata copies every non-empty field of meta.
func WithMetadata(meta Metadata) PublishOption {
	return func(c *publishConfig) {
		if meta.ID != "" {
			c.meta.ID = meta.ID
		}
		if !meta.Timestamp.IsZero() {
			c.meta.Timestamp = meta.Timestamp
		}
		if meta.CorrelationID != "" {
			c.meta.CorrelationID = meta.CorrelationID
		}
		if meta.UserID != "" {
			c.meta.UserID = meta.UserID
		}
		if meta.OrganizationID != "" {
			c.meta.OrganizationID = meta.OrganizationID
		}
	}
}

type subscribeConfig struct {
	name string
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

// WithHandlerName sets the identity used in logs, reports and metrics.
// Without it the function name of the handler is used.
func WithHandlerName(name string) SubscribeOption {
	return func(c *subscribeConfig) {
		c.name = name
	}
}
