package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics init failed: %v", err)
	}
	return m
}

func TestPublishValidations(t *testing.T) {
	p := NewPublisher(staticSource{pub: &testPublisher{}}, loggingpkg.Nop())

	if err := p.Publish(context.Background(), "", map[string]string{}, nil); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Fatalf("expected topic required error, got %v", err)
	}
	if err := p.Publish(context.Background(), "orders.created", map[string]string{}, nil); !errors.Is(err, errspkg.ErrUnknownTopic) {
		t.Fatalf("expected unknown topic error, got %v", err)
	}
}

func TestPublishSendsEnvelope(t *testing.T) {
	pub := &testPublisher{}
	metrics := newTestMetrics(t)
	p := NewPublisher(staticSource{pub: pub}, loggingpkg.Nop(), WithPublisherMetrics(metrics))

	event := map[string]any{"id": "a1", "name": "Pump"}
	md := metadatapkg.Metadata{"origin": "unit"}
	if err := p.Publish(context.Background(), "asset.created", event, md); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}

	msgs := pub.Messages()
	if len(msgs) != 1 || pub.Topics()[0] != "asset.created" {
		t.Fatalf("expected one message on asset.created, got %v", pub.Topics())
	}
	msg := msgs[0]
	if got := metadatapkg.PartitionKey(msg); got != "a1" {
		t.Fatalf("expected routing key a1, got %q", got)
	}
	if msg.Metadata.Get("origin") != "unit" {
		t.Fatalf("expected caller header to be kept, got %#v", msg.Metadata)
	}
	if msg.Metadata.Get(metadatapkg.HeaderTimestamp) == "" {
		t.Fatal("expected timestamp header")
	}
	if _, ok := md[metadatapkg.HeaderTimestamp]; ok {
		t.Fatal("caller metadata must not be mutated")
	}
	if got := testutil.ToFloat64(metrics.published.WithLabelValues("asset.created", ResultOK)); got != 1 {
		t.Fatalf("expected ok counter 1, got %v", got)
	}
}

func TestPublishWithoutIDHasNoKey(t *testing.T) {
	pub := &testPublisher{}
	p := NewPublisher(staticSource{pub: pub}, loggingpkg.Nop())

	if err := p.Publish(context.Background(), "telemetry.data", map[string]any{"value": 3}, nil); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if got := metadatapkg.PartitionKey(pub.Messages()[0]); got != "" {
		t.Fatalf("expected no routing key, got %q", got)
	}

	if err := p.Publish(context.Background(), "telemetry.data", map[string]any{"id": "x"}, nil, envelope.WithKey("")); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	if got := metadatapkg.PartitionKey(pub.Messages()[1]); got != "" {
		t.Fatalf("expected key override to clear the key, got %q", got)
	}
}

func TestPublishEncodingErrorSkipsConnection(t *testing.T) {
	source := staticSource{err: errors.New("must not be called")}
	metrics := newTestMetrics(t)
	p := NewPublisher(source, loggingpkg.Nop(), WithPublisherMetrics(metrics))

	err := p.Publish(context.Background(), "asset.created", map[string]any{"fn": func() {}}, nil)
	var encErr *errspkg.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected encoding error, got %v", err)
	}
	if errors.Is(err, errspkg.ErrPublish) {
		t.Fatal("encoding errors must not be reported as publish errors")
	}
	if got := testutil.ToFloat64(metrics.published.WithLabelValues("asset.created", ResultEncodeError)); got != 1 {
		t.Fatalf("expected encode_error counter 1, got %v", got)
	}
}

func TestPublishConnectionFailure(t *testing.T) {
	connErr := &errspkg.ConnectionError{Role: "publish", Attempts: 3, Err: errors.New("dial tcp: refused")}
	p := NewPublisher(staticSource{err: connErr}, loggingpkg.Nop())

	err := p.Publish(context.Background(), "asset.created", map[string]any{"id": "a1"}, nil)
	if !errors.Is(err, errspkg.ErrPublish) || !errors.Is(err, errspkg.ErrConnection) {
		t.Fatalf("expected publish error wrapping connection error, got %v", err)
	}
}

func TestPublishBrokerRejects(t *testing.T) {
	p := NewPublisher(staticSource{pub: &testPublisher{err: errors.New("message too large")}}, loggingpkg.Nop())

	err := p.Publish(context.Background(), "asset.created", map[string]any{"id": "a1"}, nil)
	var pubErr *errspkg.PublishError
	if !errors.As(err, &pubErr) || pubErr.Topic != "asset.created" {
		t.Fatalf("expected publish error for topic, got %v", err)
	}
}

func TestPublishTimeoutIsUnknownOutcome(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	pub := &testPublisher{block: block}
	metrics := newTestMetrics(t)
	p := NewPublisher(staticSource{pub: pub}, loggingpkg.Nop(),
		WithPublishTimeout(20*time.Millisecond),
		WithPublisherMetrics(metrics),
	)

	start := time.Now()
	err := p.Publish(context.Background(), "asset.created", map[string]any{"id": "a1"}, nil)
	if !errors.Is(err, errspkg.ErrUnknownOutcome) || !errors.Is(err, errspkg.ErrPublish) {
		t.Fatalf("expected unknown outcome publish error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish did not respect its timeout, took %v", elapsed)
	}
	if got := testutil.ToFloat64(metrics.published.WithLabelValues("asset.created", ResultUnknownOutcome)); got != 1 {
		t.Fatalf("expected unknown_outcome counter 1, got %v", got)
	}
}

func TestPublishTopicFilter(t *testing.T) {
	pub := &testPublisher{}
	p := NewPublisher(staticSource{pub: pub}, loggingpkg.Nop(), WithTopicFilter(func(topic string) bool {
		return topic == "asset.dlq"
	}))

	if err := p.Publish(context.Background(), "asset.dlq", map[string]any{}, nil); err != nil {
		t.Fatalf("expected filtered topic to be accepted, got %v", err)
	}
	if err := p.Publish(context.Background(), "asset.created", map[string]any{}, nil); !errors.Is(err, errspkg.ErrUnknownTopic) {
		t.Fatalf("expected catalog topic to be rejected by the filter, got %v", err)
	}
}
