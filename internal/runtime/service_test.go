package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/simabus/internal/runtime/config"
	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	"github.com/drblury/simabus/transport"
)

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(nil, loggingpkg.Nop(), ServiceDependencies{}); !errors.Is(err, errspkg.ErrConfigRequired) {
		t.Fatalf("expected config required, got %v", err)
	}
	if _, err := NewService(newMemoryConfig(), nil, ServiceDependencies{}); !errors.Is(err, errspkg.ErrLoggerRequired) {
		t.Fatalf("expected logger required, got %v", err)
	}

	invalid := &configpkg.Config{PubSubSystem: "kafka"}
	_, err := NewService(invalid, loggingpkg.Nop(), ServiceDependencies{})
	var cfgErr errspkg.ConfigValidationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected config validation error, got %v", err)
	}

	unknown := &configpkg.Config{PubSubSystem: "carrier-pigeon"}
	if _, err := NewService(unknown, loggingpkg.Nop(), ServiceDependencies{Registry: transport.NewRegistry()}); err == nil {
		t.Fatal("expected unknown transport error")
	}
}

func TestServiceResolvesFromRegistry(t *testing.T) {
	registry := transport.NewRegistry()
	pub := &testPublisher{}
	registry.Register(transport.Driver{
		Name: "fake",
		DialPublisher: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		},
		DialConsumer: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
			return nil, errors.New("not used")
		},
	})

	cfg := newMemoryConfig()
	cfg.PubSubSystem = "fake"
	svc, err := NewService(cfg, loggingpkg.Nop(), ServiceDependencies{Registry: registry, Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	if err := svc.Publish(context.Background(), "user.created", map[string]string{"id": "u1"}, nil); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := pub.Topics(); len(got) != 1 || got[0] != "user.created" {
		t.Fatalf("expected publish through the registered driver, got %v", got)
	}
	health := svc.Health()
	if health["publish"] != "connected" || health["consume"] != "idle" {
		t.Fatalf("publishing must not open the consume role, got %v", health)
	}
}

func TestPublishToUnreachableBrokerFailsWithinBudget(t *testing.T) {
	var dials atomic.Int32
	driver := transport.Driver{
		Name: "unreachable",
		DialPublisher: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
			dials.Add(1)
			return nil, errors.New("dial tcp 10.0.0.1:9092: connect: connection refused")
		},
		DialConsumer: func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Consumer, error) {
			return nil, errors.New("unreachable")
		},
	}

	cfg := newMemoryConfig()
	cfg.ConnectMaxAttempts = 3
	cfg.ConnectTimeout = 500 * time.Millisecond
	svc, err := NewService(cfg, loggingpkg.Nop(), ServiceDependencies{Driver: &driver, Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}

	start := time.Now()
	err = svc.Publish(context.Background(), "asset.created", map[string]string{"id": "a1"}, nil)
	if !errors.Is(err, errspkg.ErrPublish) || !errors.Is(err, errspkg.ErrConnection) {
		t.Fatalf("expected publish error wrapping connection error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("publish took %v, longer than the connection budget", elapsed)
	}
	if got := dials.Load(); got != 3 {
		t.Fatalf("expected 3 dial attempts, got %d", got)
	}
	if svc.Health()["publish"] != "disconnected" {
		t.Fatalf("expected disconnected publish role, got %v", svc.Health())
	}
}

func TestServiceEndToEnd(t *testing.T) {
	cfg := newMemoryConfig()
	cfg.ConsumerGroup = "audit"
	svc, broker := newMemoryService(t, cfg, nil)
	c := newCollector(4)

	sub, err := svc.Subscribe(context.Background(), "asset.created", "", c.Handle)
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if sub.Group() != "audit" || sub.Topic() != "asset.created" {
		t.Fatalf("expected default group, got %s/%s", sub.Topic(), sub.Group())
	}

	if err := svc.Publish(context.Background(), "asset.created", map[string]string{"id": "a1"}, nil, envelope.WithCorrelationID("req-1")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if got := waitFor(t, c.ch, 1, 2*time.Second); got[0] != "a1" {
		t.Fatalf("expected a1, got %v", got)
	}
	if broker.Len("asset.created") != 1 {
		t.Fatalf("expected one stored message, got %d", broker.Len("asset.created"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if sub.State() != SubscriptionStopped {
		t.Fatalf("expected subscription stopped after close, got %v", sub.State())
	}
	if err := svc.Publish(context.Background(), "asset.created", map[string]string{"id": "a2"}, nil); !errors.Is(err, errspkg.ErrPublish) {
		t.Fatalf("expected publish after close to fail, got %v", err)
	}
}

func TestServiceStartReturnsOnCancel(t *testing.T) {
	svc, _ := newMemoryService(t, newMemoryConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected start error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("start did not return after cancel")
	}
}

func TestNilServiceGuards(t *testing.T) {
	var svc *Service
	if err := svc.Publish(context.Background(), "asset.created", nil, nil); err == nil {
		t.Fatal("expected error from nil service")
	}
	if _, err := svc.Subscribe(context.Background(), "asset.created", "g", nil); err == nil {
		t.Fatal("expected error from nil service")
	}
}
