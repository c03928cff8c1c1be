package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leeforge/workforce/logging"
)

// EventBus is the in-process Bus. The zero value is not usable; call New.
type EventBus struct {
	logger          logging.Logger
	registry        *registry
	history         *history
	historyCapacity int
	observers       []Observer
	failureHooks    []FailureHook
	now             func() time.Time
}

var (
	_ Bus       = (*EventBus)(nil)
	_ Inspector = (*EventBus)(nil)
)

// New creates an active bus with an empty registry and history.
func New(opts ...Option) *EventBus {
	b := &EventBus{
		logger:          logging.Nop(),
		registry:        newRegistry(),
		historyCapacity: DefaultHistoryCapacity,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = newHistory(b.historyCapacity)
	return b
}

// Subscribe registers h for name and returns the token that removes it again.
// Registering the same handler twice yields two independent subscriptions.
// A nil handler is ignored and the zero Token is returned.
func (b *EventBus) Subscribe(name string, h Handler, opts ...SubscribeOption) Token {
	if h == nil {
		return 0
	}
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = handlerLabel(h)
	}

	token := b.registry.add(name, h, cfg.name)
	b.logger.Debug("event subscribed",
		zap.String("event", name),
		zap.String("handler", cfg.name),
		zap.Uint64("token", uint64(token)),
	)
	return token
}

// Unsubscribe removes the subscription behind token. Unknown tokens, the zero
// Token and tokens already removed are ignored.
func (b *EventBus) Unsubscribe(token Token) {
	if b.registry.remove(token) {
		b.logger.Debug("event unsubscribed", zap.Uint64("token", uint64(token)))
	}
}

// HasSubscribers reports whether at least one handler is registered for name.
func (b *EventBus) HasSubscribers(name string) bool {
	return b.registry.has(name)
}

// Publish dispatches payload to every handler subscribed to name and waits for
// all of them. Only a blank name produces an error.
func (b *EventBus) Publish(ctx context.Context, name string, payload any, opts ...PublishOption) error {
	_, err := b.PublishWithReport(ctx, name, payload, opts...)
	return err
}

// PublishWithReport is Publish plus a digest of how each handler fared.
func (b *EventBus) PublishWithReport(ctx context.Context, name string, payload any, opts ...PublishOption) (Report, error) {
	evt, err := b.NewEvent(name, payload, opts...)
	if err != nil {
		return Report{}, err
	}
	return b.Deliver(ctx, evt)
}

// NewEvent validates name and builds the event Publish would dispatch.
func (b *EventBus) NewEvent(name string, payload any, opts ...PublishOption) (Event, error) {
	if err := ValidateName(name); err != nil {
		return Event{}, err
	}
	var cfg publishConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return Event{
		Name:     name,
		Payload:  payload,
		Metadata: b.completeMetadata(cfg.meta),
	}, nil
}

// Deliver records and dispatches an already built event. Backends that
// receive events from elsewhere use it to reach local handlers. Missing ids
// and timestamps are filled in.
func (b *EventBus) Deliver(ctx context.Context, evt Event) (Report, error) {
	if err := ValidateName(evt.Name); err != nil {
		return Report{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	evt.Metadata = b.completeMetadata(evt.Metadata)
	if evt.Metadata.CorrelationID == "" {
		// Events published while handling a request or another event join
		// its correlation.
		evt.Metadata.CorrelationID = logging.GetCorrelationID(ctx)
	}

	b.history.record(HistoryEntry{
		ID:        evt.Metadata.ID,
		Name:      evt.Name,
		Payload:   evt.Payload,
		Timestamp: evt.Metadata.Timestamp,
	})

	subs := b.registry.list(evt.Name)
	for _, o := range b.observers {
		o.EventPublished(evt, len(subs))
	}

	report := Report{
		EventID:   evt.Metadata.ID,
		EventName: evt.Name,
		Invoked:   len(subs),
	}
	if len(subs) == 0 {
		return report, nil
	}

	hctx := ContextWithMetadata(ctx, evt.Metadata)
	failures := make([]*HandlerFailure, len(subs))

	var wg sync.WaitGroup
	for i, sub := range subs {
		started := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			failures[i] = b.invoke(hctx, evt, sub, started)
		}()
		// Wait for the hand-off only, not for the handler.
		<-started
	}
	wg.Wait()

	for _, f := range failures {
		if f != nil {
			report.Failures = append(report.Failures, *f)
		}
	}
	return report, nil
}

func (b *EventBus) invoke(ctx context.Context, evt Event, sub subscription, started chan<- struct{}) *HandlerFailure {
	func() {
		defer close(started)
		for _, o := range b.observers {
			o.HandlerStarted(evt, sub.label)
		}
	}()

	begin := time.Now()
	err := safeCall(ctx, sub.handler, evt)
	elapsed := time.Since(begin)

	for _, o := range b.observers {
		o.HandlerFinished(evt, sub.label, elapsed, err)
	}
	if err == nil {
		return nil
	}

	_, panicked := err.(*PanicError)
	failure := &HandlerFailure{
		EventName: evt.Name,
		EventID:   evt.Metadata.ID,
		Handler:   sub.label,
		Token:     sub.token,
		Err:       err,
		Panicked:  panicked,
	}
	b.reportFailure(ctx, failure)
	return failure
}

func (b *EventBus) reportFailure(ctx context.Context, f *HandlerFailure) {
	fields := []zap.Field{
		zap.String("event", f.EventName),
		zap.String("handler", f.Handler),
		zap.Uint64("token", uint64(f.Token)),
		zap.Error(f.Err),
	}
	if pe, ok := f.Err.(*PanicError); ok {
		fields = append(fields, zap.Bool("panicked", true), zap.ByteString("stack", pe.Stack))
	}
	logging.WithContext(b.logger, ctx).Error("event handler failed", fields...)

	for _, hook := range b.failureHooks {
		hook(ctx, *f)
	}
}

// PanicError carries a value recovered from a handler panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

func safeCall(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h(ctx, evt.Payload, evt.Metadata)
}

func (b *EventBus) completeMetadata(meta Metadata) Metadata {
	if meta.ID == "" {
		meta.ID = newEventID()
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = b.now()
	}
	return meta
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// RecentHistory returns up to limit of the newest events, oldest first.
// limit <= 0 returns everything retained.
func (b *EventBus) RecentHistory(limit int) []HistoryEntry {
	return b.history.recent(limit)
}

// Stats reports registry and history counters as of now.
func (b *EventBus) Stats() Stats {
	size, total, capacity := b.history.counts()
	return Stats{
		TotalEvents:      total,
		TotalSubscribers: b.registry.count(),
		EventNames:       b.registry.names(),
		HistorySize:      size,
		HistoryCapacity:  capacity,
	}
}

// ClearEvent drops every subscription for name and returns how many there were.
func (b *EventBus) ClearEvent(name string) int {
	return b.registry.clear(name)
}

// ClearAll drops all subscriptions and history. The bus stays usable.
func (b *EventBus) ClearAll() {
	b.registry.clearAll()
	b.history.reset()
	b.logger.Debug("event bus cleared")
}

// Logger returns the logger handlers failures are reported to.
func (b *EventBus) Logger() logging.Logger {
	return b.logger
}
