package runtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/simabus/internal/runtime/config"
	"github.com/drblury/simabus/internal/runtime/envelope"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	"github.com/drblury/simabus/transport"
	"github.com/drblury/simabus/transport/memory"
)

type testPublisher struct {
	mu        sync.Mutex
	published []*message.Message
	topics    []string
	err       error
	block     chan struct{}
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.published = append(p.published, msg)
	}
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Messages() []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.published...)
}

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// staticSource hands out a fixed publisher or error.
type staticSource struct {
	pub message.Publisher
	err error
}

func (s staticSource) Publisher(ctx context.Context) (message.Publisher, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.pub, nil
}

type consumerSource struct {
	consumer transport.Consumer
	err      error
}

func (s consumerSource) Consumer(ctx context.Context) (transport.Consumer, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.consumer, nil
}

type recordedCall struct {
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// recordingLogger captures Error calls so tests can assert failure fields.
type recordingLogger struct {
	mu     *sync.Mutex
	errs   *[]recordedCall
	fields loggingpkg.LogFields
}

func newRecordingLogger() recordingLogger {
	return recordingLogger{mu: &sync.Mutex{}, errs: &[]recordedCall{}}
}

func (l recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return recordingLogger{mu: l.mu, errs: l.errs, fields: merged}
}

func (recordingLogger) Debug(string, loggingpkg.LogFields) {}
func (recordingLogger) Info(string, loggingpkg.LogFields)  {}
func (recordingLogger) Trace(string, loggingpkg.LogFields) {}

func (l recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.errs = append(*l.errs, recordedCall{msg: msg, err: err, fields: merged})
}

func (l recordingLogger) Errors() []recordedCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedCall(nil), *l.errs...)
}

func newMemoryConfig() *configpkg.Config {
	cfg := configpkg.Config{
		PubSubSystem:           "memory",
		ConnectMaxAttempts:     2,
		ConnectInitialInterval: time.Millisecond,
		ConnectMaxInterval:     5 * time.Millisecond,
		ConnectTimeout:         time.Second,
		PublishTimeout:         time.Second,
	}.WithDefaults()
	return &cfg
}

func newMemoryService(t *testing.T, cfg *configpkg.Config, log loggingpkg.ServiceLogger) (*Service, *memory.Broker) {
	t.Helper()
	broker := memory.NewBroker(4, memory.WithNackDelay(time.Millisecond))
	driver := memory.Driver(broker)
	if log == nil {
		log = loggingpkg.Nop()
	}

	svc, err := NewService(cfg, log, ServiceDependencies{
		Driver:     &driver,
		Registerer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		_ = broker.Close()
	})
	return svc, broker
}

// collector is a Handler that records decoded payload ids.
type collector struct {
	mu  sync.Mutex
	ids []string
	ch  chan string
}

func newCollector(buffer int) *collector {
	return &collector{ch: make(chan string, buffer)}
}

func (c *collector) Handle(ctx context.Context, env envelope.Envelope) error {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return err
	}
	c.mu.Lock()
	c.ids = append(c.ids, body.ID)
	c.mu.Unlock()
	c.ch <- body.ID
	return nil
}

func (c *collector) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func waitFor(t *testing.T, ch <-chan string, n int, timeout time.Duration) []string {
	t.Helper()
	got := make([]string, 0, n)
	deadline := time.After(timeout)
	for len(got) < n {
		select {
		case id := <-ch:
			got = append(got, id)
		case <-deadline:
			t.Fatalf("timed out after %d of %d messages", len(got), n)
		}
	}
	return got
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
