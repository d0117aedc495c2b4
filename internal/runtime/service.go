package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	configpkg "github.com/drblury/simabus/internal/runtime/config"
	connectionpkg "github.com/drblury/simabus/internal/runtime/connection"
	"github.com/drblury/simabus/internal/runtime/envelope"
	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
	metadatapkg "github.com/drblury/simabus/internal/runtime/metadata"
	"github.com/drblury/simabus/topics"
	"github.com/drblury/simabus/transport"
)

const metricsShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to use the defaults.
type ServiceDependencies struct {
	// Registry resolves Config.PubSubSystem. Defaults to transport.DefaultRegistry.
	Registry *transport.Registry
	// Driver bypasses the registry, e.g. a memory.Driver bound to a test broker.
	Driver *transport.Driver
	// Registerer receives the service metrics. Defaults to a private registry.
	Registerer prometheus.Registerer
	// Middlewares are appended after the default retry and recoverer chain.
	Middlewares []message.HandlerMiddleware
}

// Service wires the connection manager, publisher, runner and metrics of one
// process.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	manager   *connectionpkg.Manager
	publisher *Publisher
	runner    *Runner
	metrics   *Metrics
}

// NewService validates conf, fills its defaults and binds it to a transport. Nothing connects to
// the broker until the first Publish or Subscribe.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := conf.Validate(); err != nil {
		return nil, errspkg.ConfigValidationError{Err: err}
	}
	withDefaults := conf.WithDefaults()
	conf = &withDefaults

	driver, err := resolveDriver(conf, deps)
	if err != nil {
		return nil, err
	}

	log.Info("Creating event service", loggingpkg.LogFields{
		"pubsub_system": driver.Name,
		"config":        conf.String(),
	})

	metrics, err := NewMetrics(deps.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	policy := connectionpkg.Policy{
		MaxAttempts:     conf.ConnectMaxAttempts,
		InitialInterval: conf.ConnectInitialInterval,
		MaxInterval:     conf.ConnectMaxInterval,
		MaxElapsed:      conf.ConnectTimeout,
	}
	manager, err := connectionpkg.NewManager(driver, conf, log,
		connectionpkg.WithPolicy(policy),
		connectionpkg.WithStateObserver(metrics.ObserveConnection),
	)
	if err != nil {
		return nil, err
	}

	allow := func(topic string) bool {
		if _, ok := topics.Lookup(topic); ok {
			return true
		}
		return conf.DeadLetterTopic != "" && topic == conf.DeadLetterTopic
	}

	publisher := NewPublisher(manager, log,
		WithPublishTimeout(conf.PublishTimeout),
		WithPublisherMetrics(metrics),
		WithTopicFilter(allow),
	)

	mws := DefaultMiddlewares(RetryConfig{
		MaxRetries:      conf.HandlerMaxRetries,
		InitialInterval: conf.HandlerRetryInterval,
	})
	mws = append(mws, deps.Middlewares...)

	runner := NewRunner(manager, log,
		WithMiddlewares(mws...),
		WithRunnerMetrics(metrics),
		WithDeadLetter(conf.DeadLetterTopic, publisher),
		WithSubscribeFilter(allow),
	)

	return &Service{
		Conf:      conf,
		Logger:    log,
		manager:   manager,
		publisher: publisher,
		runner:    runner,
		metrics:   metrics,
	}, nil
}

func resolveDriver(conf *configpkg.Config, deps ServiceDependencies) (transport.Driver, error) {
	if deps.Driver != nil {
		return *deps.Driver, nil
	}
	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	return registry.Lookup(conf.PubSubSystem)
}

// Publish sends event to topic. See Publisher.Publish.
func (s *Service) Publish(ctx context.Context, topic string, event any, md metadatapkg.Metadata, opts ...envelope.Option) error {
	if s == nil {
		return errors.New("event service is nil")
	}
	return s.publisher.Publish(ctx, topic, event, md, opts...)
}

// Subscribe registers handler for topic. An empty group falls back to
// Config.ConsumerGroup.
func (s *Service) Subscribe(ctx context.Context, topic, group string, handler Handler) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("event service is nil")
	}
	if group == "" {
		group = s.Conf.ConsumerGroup
	}
	return s.runner.Subscribe(ctx, topic, group, handler)
}

// Publisher exposes the underlying publisher, e.g. for the ingest API.
func (s *Service) Publisher() *Publisher { return s.publisher }

func (s *Service) Metrics() *Metrics { return s.metrics }

// Health reports the connection state of both roles.
func (s *Service) Health() map[string]string {
	return map[string]string{
		string(connectionpkg.RolePublish): s.manager.State(connectionpkg.RolePublish).String(),
		string(connectionpkg.RoleConsume): s.manager.State(connectionpkg.RoleConsume).String(),
	}
}

// Start serves /metrics when enabled and blocks until ctx is done. Subscribe
// may be called before or after Start.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.Conf.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", s.metrics.Handler())
		srv := &http.Server{Addr: s.Conf.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			s.Logger.Info("Serving metrics", loggingpkg.LogFields{"address": srv.Addr})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

// Close stops every subscription, waiting for in-flight handlers, then
// disconnects both roles.
func (s *Service) Close(ctx context.Context) error {
	stopErr := s.runner.StopAll(ctx)
	closeErr := s.manager.Close(ctx)
	s.Logger.Info("Event service closed", nil)
	return errors.Join(stopErr, closeErr)
}
