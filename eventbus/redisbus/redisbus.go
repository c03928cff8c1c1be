// Package redisbus fans events out to other processes over Redis Pub/Sub.
//
// Every Bus wraps an in-process eventbus.EventBus. Publish dispatches to local
// handlers exactly like the in-process bus and additionally PUBLISHes an
// envelope on <prefix><event name>. A process subscribes to a channel while
// it has at least one local handler for that event; envelopes received there
// are queued per event name and handed to the local bus with Deliver, one at
// a time per name. A process ignores its own envelopes, so local handlers run
// once per publish.
package redisbus

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/leeforge/workforce/errors"
	"github.com/leeforge/workforce/eventbus"
	"github.com/leeforge/workforce/json"
	"github.com/leeforge/workforce/logging"
)

// DefaultPrefix namespaces the Pub/Sub channels.
const DefaultPrefix = "workforce:events:"

// ErrClosed is returned by Publish and Start after Close.
var ErrClosed = errors.NewBackend("redis event bus is closed").WithCode(errors.CodeBackendClosed)

type envelope struct {
	Origin   string            `json:"origin"`
	Name     string            `json:"name"`
	Payload  json.RawMessage   `json:"payload"`
	Metadata eventbus.Metadata `json:"metadata"`
}

// Bus is a networked eventbus.Bus and eventbus.Inspector.
type Bus struct {
	*eventbus.EventBus

	client  redis.UniversalClient
	prefix  string
	origin  string
	logger  logging.Logger
	busOpts []eventbus.Option

	mu       sync.Mutex
	tokens   map[eventbus.Token]string
	channels map[string]int
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	group    *errgroup.Group
	closed   atomic.Bool

	// numsub coalesces concurrent PUBSUB NUMSUB lookups per channel.
	numsub singleflight.Group

	// laneMu guards lanes. A lane exists while its worker runs.
	laneMu sync.Mutex
	lanes  map[string]*lane
}

// lane queues remote events of one name so they are delivered in arrival
// order without holding up other names.
type lane struct {
	pending []eventbus.Event
}

var (
	_ eventbus.Bus       = (*Bus)(nil)
	_ eventbus.Inspector = (*Bus)(nil)
)

// Option configures a Bus.
type Option func(*Bus)

// WithPrefix sets the channel prefix. An empty prefix keeps DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(b *Bus) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithLogger sets the logger for transport problems and, unless overridden by
// WithBusOptions, for handler failures.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBusOptions configures the wrapped in-process bus.
func WithBusOptions(opts ...eventbus.Option) Option {
	return func(b *Bus) {
		b.busOpts = append(b.busOpts, opts...)
	}
}

// New wraps client. Call Start to begin receiving remote events.
func New(client redis.UniversalClient, opts ...Option) *Bus {
	b := &Bus{
		client:   client,
		prefix:   DefaultPrefix,
		origin:   uuid.NewString(),
		logger:   logging.Nop(),
		tokens:   make(map[eventbus.Token]string),
		channels: make(map[string]int),
		lanes:    make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("redisbus")
	b.EventBus = eventbus.New(append([]eventbus.Option{eventbus.WithLogger(b.logger)}, b.busOpts...)...)
	return b
}

// Origin identifies this process in published envelopes.
func (b *Bus) Origin() string {
	return b.origin
}

func (b *Bus) channel(name string) string {
	return b.prefix + name
}

// Start subscribes to the channels of all current local handlers and starts
// the receive loop. The loop stops when ctx is done or Close is called.
func (b *Bus) Start(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubsub != nil {
		return errors.NewInternal("redis event bus already started")
	}

	channels := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	ps := b.client.Subscribe(ctx, channels...)

	runCtx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(runCtx)
	msgs := ps.Channel()

	group.Go(func() error {
		return b.receive(gctx, group, msgs)
	})
	group.Go(func() error {
		<-gctx.Done()
		return ps.Close()
	})

	b.pubsub = ps
	b.cancel = cancel
	b.group = group
	b.logger.Info("redis event bus started",
		zap.String("origin", b.origin),
		zap.Strings("channels", channels),
	)
	return nil
}

func (b *Bus) receive(ctx context.Context, group *errgroup.Group, msgs <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if evt, ok := b.decode(msg); ok {
				b.enqueue(ctx, group, evt)
			}
		}
	}
}

func (b *Bus) decode(msg *redis.Message) (eventbus.Event, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Warn("drop undecodable envelope", zap.String("channel", msg.Channel), zap.Error(err))
		return eventbus.Event{}, false
	}
	if env.Origin == b.origin {
		return eventbus.Event{}, false
	}
	if env.Name == "" {
		env.Name = strings.TrimPrefix(msg.Channel, b.prefix)
	}
	if err := eventbus.ValidateName(env.Name); err != nil {
		b.logger.Warn("drop invalid remote event", zap.String("channel", msg.Channel), zap.Error(err))
		return eventbus.Event{}, false
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			b.logger.Warn("drop envelope with undecodable payload",
				zap.String("event", env.Name),
				zap.String("event_id", env.Metadata.ID),
				zap.Error(err),
			)
			return eventbus.Event{}, false
		}
	}
	return eventbus.Event{Name: env.Name, Payload: payload, Metadata: env.Metadata}, true
}

// enqueue appends evt to its name's lane, starting the lane's worker when
// none is running. It never blocks on handlers.
func (b *Bus) enqueue(ctx context.Context, group *errgroup.Group, evt eventbus.Event) {
	b.laneMu.Lock()
	l, running := b.lanes[evt.Name]
	if !running {
		l = &lane{}
		b.lanes[evt.Name] = l
	}
	l.pending = append(l.pending, evt)
	b.laneMu.Unlock()

	if !running {
		group.Go(func() error {
			b.drain(ctx, evt.Name, l)
			return nil
		})
	}
}

// drain delivers l's events one at a time and retires the lane once it is
// empty. Events still queued when ctx ends are dropped.
func (b *Bus) drain(ctx context.Context, name string, l *lane) {
	for {
		b.laneMu.Lock()
		if len(l.pending) == 0 || ctx.Err() != nil {
			dropped := len(l.pending)
			delete(b.lanes, name)
			b.laneMu.Unlock()
			if dropped > 0 {
				b.logger.Warn("drop queued remote events on shutdown",
					zap.String("event", name),
					zap.Int("count", dropped),
				)
			}
			return
		}
		evt := l.pending[0]
		l.pending[0] = eventbus.Event{}
		l.pending = l.pending[1:]
		b.laneMu.Unlock()

		if _, err := b.EventBus.Deliver(ctx, evt); err != nil {
			b.logger.Warn("drop invalid remote event", zap.String("event", name), zap.Error(err))
		}
	}
}

// Publish dispatches to local handlers, then to every other process
// subscribed to name. A transport failure is returned after local handlers
// have run.
func (b *Bus) Publish(ctx context.Context, name string, payload any, opts ...eventbus.PublishOption) error {
	_, err := b.PublishWithReport(ctx, name, payload, opts...)
	return err
}

// PublishWithReport is Publish plus the report of the local dispatch.
func (b *Bus) PublishWithReport(ctx context.Context, name string, payload any, opts ...eventbus.PublishOption) (eventbus.Report, error) {
	if b.closed.Load() {
		return eventbus.Report{}, ErrClosed
	}
	evt, err := b.EventBus.NewEvent(name, payload, opts...)
	if err != nil {
		return eventbus.Report{}, err
	}
	if evt.Metadata.CorrelationID == "" {
		evt.Metadata.CorrelationID = logging.GetCorrelationID(ctx)
	}

	data, err := b.encode(evt)
	if err != nil {
		return eventbus.Report{}, err
	}
	report, err := b.EventBus.Deliver(ctx, evt)
	if err != nil {
		return report, err
	}

	if err := b.client.Publish(ctx, b.channel(name), data).Err(); err != nil {
		b.logger.Error("redis publish failed",
			zap.String("event", name),
			zap.String("event_id", evt.Metadata.ID),
			zap.Error(err),
		)
		return report, errors.WrapWithType(err, errors.ErrorTypeBackend, "publish "+name)
	}
	return report, nil
}

func (b *Bus) encode(evt eventbus.Event) ([]byte, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, errors.WrapWithType(err, errors.ErrorTypeInvalid, "encode payload of "+evt.Name)
	}
	return json.Marshal(&envelope{
		Origin:   b.origin,
		Name:     evt.Name,
		Payload:  payload,
		Metadata: evt.Metadata,
	})
}

// Subscribe registers a local handler and, for the first handler of name,
// subscribes this process to name's channel.
func (b *Bus) Subscribe(name string, h eventbus.Handler, opts ...eventbus.SubscribeOption) eventbus.Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	token := b.EventBus.Subscribe(name, h, opts...)
	if token == 0 {
		return 0
	}
	b.tokens[token] = name
	ch := b.channel(name)
	b.channels[ch]++
	if b.channels[ch] == 1 {
		b.updateSubscription(true, ch)
	}
	return token
}

// Unsubscribe removes a local handler and leaves the channel once no local
// handler for its event remains.
func (b *Bus) Unsubscribe(token eventbus.Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name, ok := b.tokens[token]
	b.EventBus.Unsubscribe(token)
	if !ok {
		return
	}
	delete(b.tokens, token)
	b.release(b.channel(name), 1)
}

// ClearEvent drops every local handler for name.
func (b *Bus) ClearEvent(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.EventBus.ClearEvent(name)
	for token, tokenName := range b.tokens {
		if tokenName == name {
			delete(b.tokens, token)
		}
	}
	ch := b.channel(name)
	b.release(ch, b.channels[ch])
	return n
}

// ClearAll drops local handlers and history and leaves every channel.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.EventBus.ClearAll()
	channels := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.tokens = make(map[eventbus.Token]string)
	b.channels = make(map[string]int)
	if len(channels) > 0 {
		b.updateSubscription(false, channels...)
	}
}

// release must be called with b.mu held.
func (b *Bus) release(ch string, n int) {
	if n <= 0 {
		return
	}
	b.channels[ch] -= n
	if b.channels[ch] <= 0 {
		delete(b.channels, ch)
		b.updateSubscription(false, ch)
	}
}

// updateSubscription must be called with b.mu held. Before Start it is a
// no-op; Start subscribes to whatever b.channels holds then.
func (b *Bus) updateSubscription(subscribe bool, channels ...string) {
	if b.pubsub == nil || b.closed.Load() {
		return
	}
	ctx := context.Background()
	var err error
	if subscribe {
		err = b.pubsub.Subscribe(ctx, channels...)
	} else {
		err = b.pubsub.Unsubscribe(ctx, channels...)
	}
	if err != nil {
		b.logger.Error("redis subscription update failed",
			zap.Bool("subscribe", subscribe),
			zap.Strings("channels", channels),
			zap.Error(err),
		)
	}
}

// HasSubscribers reports whether a local handler exists or any process is
// subscribed to name's channel.
func (b *Bus) HasSubscribers(name string) bool {
	if b.EventBus.HasSubscribers(name) {
		return true
	}
	if b.closed.Load() {
		return false
	}
	ch := b.channel(name)
	v, err, _ := b.numsub.Do(ch, func() (any, error) {
		counts, err := b.client.PubSubNumSub(context.Background(), ch).Result()
		if err != nil {
			return false, err
		}
		return counts[ch] > 0, nil
	})
	if err != nil {
		b.logger.Warn("redis numsub failed", zap.String("channel", ch), zap.Error(err))
		return false
	}
	return v.(bool)
}

// Close stops the receive loop and waits for remote deliveries in progress;
// queued remote events not yet started are dropped. The Redis client stays
// open; it belongs to the caller. Close is safe to call more than once.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.mu.Lock()
	cancel, group := b.cancel, b.group
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := group.Wait()
	b.logger.Info("redis event bus stopped", zap.String("origin", b.origin))
	return err
}
