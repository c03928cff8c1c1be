// Package audit keeps a durable trail of workforce domain events. The audit
// plugin subscribes to the event bus and appends one Record per delivered
// event to a Store.
package audit

import (
	"time"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/json"
)

// Record is one audited event.
type Record struct {
	EventID        string          `json:"eventId"`
	EventName      string          `json:"eventName"`
	OrganizationID string          `json:"organizationId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	CorrelationID  string          `json:"correlationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
	RecordedAt     time.Time       `json:"recordedAt"`
}

// NewRecord captures payload in its JSON form so stores never hold live
// references into handler data.
func NewRecord(name string, payload any, meta eventbus.Metadata, recordedAt time.Time) (Record, error) {
	rec := Record{
		EventID:        meta.ID,
		EventName:      name,
		OrganizationID: meta.OrganizationID,
		UserID:         meta.UserID,
		CorrelationID:  meta.CorrelationID,
		OccurredAt:     meta.Timestamp,
		RecordedAt:     recordedAt,
	}
	if payload == nil {
		return rec, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Record{}, errors.WrapWithType(err, errors.ErrorTypeInvalid, "encode audit payload").
			WithDetail("event", name)
	}
	rec.Payload = raw
	return rec, nil
}
