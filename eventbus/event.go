// Package eventbus is the in-process publish/subscribe seam between request
// handlers and their side effects.
//
// A Publish records the event in a bounded history, snapshots the handlers
// registered for its name, starts each one on its own goroutine in
// registration order and returns once all of them have settled. Handler
// errors and panics are logged and reported, never returned to the publisher.
package eventbus

import (
	"context"
	"strings"
	"time"

	"github.com/leeforge/workforce/errors"
)

// DefaultHistoryCapacity is the number of events retained when no capacity is
// configured.
const DefaultHistoryCapacity = 1000

// ErrEmptyEventName is returned by Publish when the event name is empty or
// only whitespace. Nothing is recorded or dispatched in that case.
var ErrEmptyEventName = errors.NewValidation("event name must not be empty").
	WithCode(errors.CodeEventNameEmpty)

// Metadata travels with every published event.
type Metadata struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	CorrelationID  string    `json:"correlationId,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	OrganizationID string    `json:"organizationId,omitempty"`
}

// Event is a named occurrence and its payload. It is not modified after
// Publish builds it.
type Event struct {
	Name     string   `json:"name"`
	Payload  any      `json:"payload"`
	Metadata Metadata `json:"metadata"`
}

// Handler reacts to one event. ctx is the publisher's context carrying the
// event metadata; see MetadataFromContext.
type Handler func(ctx context.Context, payload any, meta Metadata) error

// Token identifies one subscription. The zero Token never identifies a live
// subscription.
type Token uint64

// HistoryEntry is what the history buffer keeps of a published event.
type HistoryEntry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats is computed from the registry and history at call time.
type Stats struct {
	// TotalEvents counts every publish since construction or the last ClearAll,
	// including events already evicted from history.
	TotalEvents      uint64   `json:"totalEvents"`
	TotalSubscribers int      `json:"totalSubscribers"`
	EventNames       []string `json:"eventNames"`
	HistorySize      int      `json:"historySize"`
	HistoryCapacity  int      `json:"historyCapacity"`
}

// Bus is the publish/subscribe contract shared by every backend.
type Bus interface {
	Publish(ctx context.Context, name string, payload any, opts ...PublishOption) error
	Subscribe(name string, handler Handler, opts ...SubscribeOption) Token
	// Unsubscribe is a no-op for unknown or already removed tokens.
	Unsubscribe(token Token)
	HasSubscribers(name string) bool
}

// Inspector exposes history and counters for diagnostics and tests.
type Inspector interface {
	RecentHistory(limit int) []HistoryEntry
	Stats() Stats
	ClearAll()
}

// ValidateName returns ErrEmptyEventName for blank names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyEventName
	}
	return nil
}
