package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
	"github.com/drblury/simabus/topics"
	"github.com/drblury/simabus/transport"
)

// Handler processes one decoded message. Returning an error marks the message
// as failed; it is logged and skipped, never redelivered by the runner.
type Handler func(ctx context.Context, env envelope.Envelope) error

// JSONHandler decodes the payload into T before calling fn.
func JSONHandler[T any](fn func(ctx context.Context, event T, env envelope.Envelope) error) Handler {
	return func(ctx context.Context, env envelope.Envelope) error {
		var event T
		if err := env.Unmarshal(&event); err != nil {
			return err
		}
		return fn(ctx, event, env)
	}
}

// ConsumerSource hands out the consume connection, connecting lazily.
// *connection.Manager satisfies it.
type ConsumerSource interface {
	Consumer(ctx context.Context) (transport.Consumer, error)
}

// Forwarder sends a prepared message, used for dead-letter copies.
type Forwarder interface {
	Forward(ctx context.Context, topic string, msg *message.Message) error
}

// SubscriptionState is the lifecycle of one subscription.
type SubscriptionState int

const (
	SubscriptionUnsubscribed SubscriptionState = iota
	SubscriptionSubscribing
	SubscriptionRunning
	SubscriptionStopping
	SubscriptionStopped
)

func (s SubscriptionState) String() string {
	switch s {
	case SubscriptionUnsubscribed:
		return "unsubscribed"
	case SubscriptionSubscribing:
		return "subscribing"
	case SubscriptionRunning:
		return "running"
	case SubscriptionStopping:
		return "stopping"
	case SubscriptionStopped:
		return "stopped"
	default:
		return fmt.Sprintf("SubscriptionState(%d)", int(s))
	}
}

type subscriptionKey struct {
	topic string
	group string
}

// Runner owns the subscriptions of one process.
type Runner struct {
	source      ConsumerSource
	logger      loggingpkg.ServiceLogger
	metrics     *Metrics
	middlewares []message.HandlerMiddleware
	allow       func(string) bool

	deadLetterTopic string
	forwarder       Forwarder

	mu   sync.Mutex
	subs map[subscriptionKey]*Subscription
}

// RunnerOption tunes NewRunner.
type RunnerOption func(*Runner)

// WithMiddlewares wraps every handler, outermost first.
func WithMiddlewares(mws ...message.HandlerMiddleware) RunnerOption {
	return func(r *Runner) { r.middlewares = append(r.middlewares, mws...) }
}

func WithRunnerMetrics(m *Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithDeadLetter forwards a copy of every skipped message to topic.
func WithDeadLetter(topic string, forwarder Forwarder) RunnerOption {
	return func(r *Runner) {
		r.deadLetterTopic = topic
		r.forwarder = forwarder
	}
}

// WithSubscribeFilter replaces the catalog check applied by Subscribe.
func WithSubscribeFilter(allow func(topic string) bool) RunnerOption {
	return func(r *Runner) {
		if allow != nil {
			r.allow = allow
		}
	}
}

func NewRunner(source ConsumerSource, logger loggingpkg.ServiceLogger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	r := &Runner{
		source: source,
		logger: logger,
		allow: func(topic string) bool {
			_, ok := topics.Lookup(topic)
			return ok
		},
		subs: make(map[subscriptionKey]*Subscription),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe starts delivering topic to handler as a member of group. Members
// of one group share the topic; distinct groups each see every message. The
// subscription runs until Stop is called or ctx is done; either way a running
// handler finishes with a live context and its message is acknowledged.
func (r *Runner) Subscribe(ctx context.Context, topic, group string, handler Handler) (*Subscription, error) {
	switch {
	case topic == "":
		return nil, errspkg.ErrTopicRequired
	case !r.allow(topic):
		return nil, fmt.Errorf("subscribe %q: %w", topic, errspkg.ErrUnknownTopic)
	case group == "":
		return nil, errspkg.ErrGroupRequired
	case handler == nil:
		return nil, errspkg.ErrHandlerRequired
	}

	key := subscriptionKey{topic: topic, group: group}
	s := &Subscription{
		key:     key,
		runner:  r,
		handler: handler,
		state:   SubscriptionSubscribing,
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
		logger:  r.logger.With(loggingpkg.LogFields{"topic": topic, "group": group}),
	}

	r.mu.Lock()
	if _, exists := r.subs[key]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("subscribe %q as %q: %w", topic, group, errspkg.ErrAlreadySubscribed)
	}
	r.subs[key] = s
	r.mu.Unlock()

	fail := func(err error) (*Subscription, error) {
		s.setState(SubscriptionStopped)
		r.remove(s)
		close(s.done)
		return nil, err
	}

	consumer, err := r.source.Consumer(ctx)
	if err != nil {
		return fail(err)
	}

	// Cancelling ctx stops the subscription like Stop does; it never reaches
	// a running handler or the transport before the handler returned.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := consumer.Subscribe(subCtx, topic, group)
	if err != nil {
		cancel()
		return fail(fmt.Errorf("subscribe %q as %q: %w", topic, group, err))
	}

	s.setState(SubscriptionRunning)
	s.logger.Info("Subscription running", nil)
	// Report Stopping right away, even while a handler is still running.
	unwatch := context.AfterFunc(ctx, s.markStopping)
	go s.run(subCtx, func() { unwatch(); cancel() }, ctx.Done(), msgs)
	return s, nil
}

func (r *Runner) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[s.key] == s {
		delete(r.subs, s.key)
	}
}

// Active returns how many subscriptions are not stopped yet.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// StopAll stops every subscription concurrently and waits for them.
func (r *Runner) StopAll(ctx context.Context) error {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subs {
		g.Go(func() error { return s.Stop(gctx) })
	}
	return g.Wait()
}

// Subscription is one running (topic, group, handler) binding. Handlers of
// one subscription run one at a time in delivery order.
type Subscription struct {
	key     subscriptionKey
	runner  *Runner
	handler Handler
	logger  loggingpkg.ServiceLogger

	mu    sync.Mutex
	state SubscriptionState

	stopOnce sync.Once
	stopReq  chan struct{}
	done     chan struct{}
}

func (s *Subscription) Topic() string { return s.key.topic }
func (s *Subscription) Group() string { return s.key.group }

func (s *Subscription) State() SubscriptionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Done is closed once the subscription reached SubscriptionStopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Stop asks the subscription to finish. A handler that is running completes
// and its message is acknowledged; nothing new is taken. Stop waits until the
// subscription is stopped or ctx is done, and is safe to call repeatedly.
func (s *Subscription) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.markStopping()
		close(s.stopReq)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription) run(ctx context.Context, release func(), parentDone <-chan struct{}, msgs <-chan *message.Message) {
	defer func() {
		release()
		s.setState(SubscriptionStopped)
		s.runner.remove(s)
		s.logger.Info("Subscription stopped", nil)
		close(s.done)
	}()

	for {
		select {
		case <-s.stopReq:
			return
		case <-parentDone:
			s.markStopping()
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if s.stopping(parentDone) {
				// Taken after stop was requested: hand it back unprocessed.
				msg.Nack()
				return
			}
			s.process(ctx, msg)
		}
	}
}

func (s *Subscription) markStopping() {
	s.mu.Lock()
	if s.state == SubscriptionRunning {
		s.state = SubscriptionStopping
	}
	s.mu.Unlock()
}

func (s *Subscription) stopping(parentDone <-chan struct{}) bool {
	select {
	case <-s.stopReq:
		return true
	case <-parentDone:
		s.markStopping()
		return true
	default:
		return false
	}
}

func (s *Subscription) process(ctx context.Context, msg *message.Message) {
	r := s.runner
	start := time.Now()

	env, err := envelope.FromMessage(s.key.topic, msg)
	if err != nil {
		s.logFailure("Skipping undecodable message", err, msg)
		r.metrics.observeConsume(s.key.topic, s.key.group, ResultDecodeError, 0)
		s.deadLetter(ctx, msg, err)
		msg.Ack()
		return
	}

	msg.SetContext(ctx)
	base := func(m *message.Message) ([]*message.Message, error) {
		return nil, s.handler(m.Context(), env)
	}
	if _, err := chainMiddlewares(base, r.middlewares)(msg); err != nil {
		herr := &errspkg.HandlerError{Topic: s.key.topic, MessageUUID: msg.UUID, Err: err}
		result := ResultHandlerError
		if errors.Is(err, errspkg.ErrDecoding) {
			result = ResultDecodeError
		}
		s.logFailure("Skipping message after handler failure", herr, msg)
		r.metrics.observeConsume(s.key.topic, s.key.group, result, time.Since(start).Seconds())
		s.deadLetter(ctx, msg, herr)
		msg.Ack()
		return
	}

	r.metrics.observeConsume(s.key.topic, s.key.group, ResultOK, time.Since(start).Seconds())
	msg.Ack()
}

func (s *Subscription) logFailure(text string, err error, msg *message.Message) {
	fields := loggingpkg.LogFields{
		"message_uuid":   msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.HeaderCorrelationID),
		"payload_prefix": envelope.PayloadPrefix(msg.Payload),
	}
	if partition := msg.Metadata.Get(metadatapkg.KeyPartition); partition != "" {
		fields["partition"] = partition
	}
	if offset := msg.Metadata.Get(metadatapkg.KeyOffset); offset != "" {
		fields["offset"] = offset
	}
	s.logger.Error(text, err, fields)
}

func (s *Subscription) deadLetter(ctx context.Context, msg *message.Message, cause error) {
	r := s.runner
	if r.deadLetterTopic == "" || r.forwarder == nil || s.key.topic == r.deadLetterTopic {
		return
	}

	md := metadatapkg.FromWatermill(msg.Metadata).WithAll(metadatapkg.Metadata{
		metadatapkg.HeaderDeadLetterReason: cause.Error(),
		metadatapkg.HeaderOriginalTopic:    s.key.topic,
	})
	delete(md, metadatapkg.KeyPartition)
	delete(md, metadatapkg.KeyOffset)

	copied := message.NewMessage(msg.UUID, append([]byte(nil), msg.Payload...))
	copied.Metadata = metadatapkg.ToWatermill(md)

	if err := r.forwarder.Forward(ctx, r.deadLetterTopic, copied); err != nil {
		s.logger.Error("Dead-letter forward failed", err, loggingpkg.LogFields{
			"message_uuid":      msg.UUID,
			"dead_letter_topic": r.deadLetterTopic,
		})
	}
}
