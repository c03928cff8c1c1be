package metrics

import (
	"errors"
	"time"

	"github.com/leeforge/workforce/eventbus"
	apperrors "github.com/leeforge/workforce/errors"
)

const (
	eventsPublishedTotal    = "eventbus_events_published_total"
	eventSubscribers        = "eventbus_event_subscribers"
	handlerInvocationsTotal = "eventbus_handler_invocations_total"
	handlerFailuresTotal    = "eventbus_handler_failures_total"
	handlersInFlight        = "eventbus_handlers_in_flight"
	handlerDuration         = "eventbus_handler_duration_seconds"
)

// Failure reasons used as the "reason" label.
const (
	ReasonError   = "error"
	ReasonPanic   = "panic"
	ReasonTimeout = "timeout"
)

// OtherEvent is the "event" label of names outside the known set.
const OtherEvent = "other"

// BusObserver turns dispatch progress into metrics. Attach it with
// eventbus.WithObserver.
//
// Series are labelled by event name. Without WithKnownEvents every published
// name becomes its own series, so callers that publish free-form names should
// restrict the label set.
type BusObserver struct {
	c     *Collector
	known map[string]struct{}
}

var _ eventbus.Observer = (*BusObserver)(nil)

type BusObserverOption func(*BusObserver)

// WithKnownEvents keeps the listed names as labels and reports every other
// name as OtherEvent.
func WithKnownEvents(names ...string) BusObserverOption {
	return func(o *BusObserver) {
		o.known = make(map[string]struct{}, len(names))
		for _, name := range names {
			o.known[name] = struct{}{}
		}
	}
}

func NewBusObserver(c *Collector, opts ...BusObserverOption) *BusObserver {
	c.Describe(eventsPublishedTotal, "Events published, by event name.")
	c.Describe(eventSubscribers, "Subscribers in the snapshot of the latest dispatch, by event name.")
	c.Describe(handlerInvocationsTotal, "Handler invocations, by event name.")
	c.Describe(handlerFailuresTotal, "Handler invocations that returned an error or panicked.")
	c.Describe(handlersInFlight, "Handlers currently running.")
	c.Describe(handlerDuration, "Handler run time in seconds.")
	o := &BusObserver{c: c}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *BusObserver) eventLabel(name string) string {
	if o.known == nil {
		return name
	}
	if _, ok := o.known[name]; ok {
		return name
	}
	return OtherEvent
}

func (o *BusObserver) EventPublished(evt eventbus.Event, subscribers int) {
	labels := map[string]string{"event": o.eventLabel(evt.Name)}
	o.c.IncCounter(eventsPublishedTotal, labels)
	o.c.SetGauge(eventSubscribers, float64(subscribers), labels)
}

func (o *BusObserver) HandlerStarted(evt eventbus.Event, _ string) {
	o.c.IncCounter(handlerInvocationsTotal, map[string]string{"event": o.eventLabel(evt.Name)})
	o.c.AddGauge(handlersInFlight, 1, nil)
}

func (o *BusObserver) HandlerFinished(evt eventbus.Event, _ string, elapsed time.Duration, err error) {
	event := o.eventLabel(evt.Name)
	o.c.AddGauge(handlersInFlight, -1, nil)
	o.c.ObserveHistogram(handlerDuration, elapsed.Seconds(), map[string]string{"event": event})
	if err != nil {
		o.c.IncCounter(handlerFailuresTotal, map[string]string{
			"event":  event,
			"reason": failureReason(err),
		})
	}
}

func failureReason(err error) string {
	var pe *eventbus.PanicError
	switch {
	case errors.As(err, &pe):
		return ReasonPanic
	case errors.Is(err, apperrors.New(apperrors.ErrorTypeTimeout, "")):
		return ReasonTimeout
	default:
		return ReasonError
	}
}
