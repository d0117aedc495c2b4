package connection

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	"github.com/drblury/simabus/internal/runtime/logging"
	"github.com/drblury/simabus/transport"
)

// Manager holds the publish and consume links of one process. The roles have
// independent lifecycles: publishing never opens the consume connection.
type Manager struct {
	publish *Link[message.Publisher]
	consume *Link[transport.Consumer]
}

type managerOptions struct {
	policy   Policy
	observer StateObserver
}

// ManagerOption tunes NewManager.
type ManagerOption func(*managerOptions)

func WithPolicy(p Policy) ManagerOption {
	return func(o *managerOptions) { o.policy = p }
}

// WithStateObserver reports transitions of both roles, e.g. to a gauge.
func WithStateObserver(observer StateObserver) ManagerOption {
	return func(o *managerOptions) { o.observer = observer }
}

// NewManager binds driver to cfg. Nothing is dialed until first use.
func NewManager(driver transport.Driver, cfg transport.Config, logger logging.ServiceLogger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if driver.DialPublisher == nil || driver.DialConsumer == nil {
		return nil, errspkg.ErrDialerRequired
	}

	options := managerOptions{policy: DefaultPolicy}
	for _, opt := range opts {
		opt(&options)
	}

	adapter := logging.NewWatermillAdapter(logger)
	log := logger.With(logging.LogFields{"transport": driver.Name})

	return &Manager{
		publish: NewLink(RolePublish, func(ctx context.Context) (message.Publisher, error) {
			return driver.DialPublisher(ctx, cfg, adapter)
		}, options.policy, log, options.observer),
		consume: NewLink(RoleConsume, func(ctx context.Context) (transport.Consumer, error) {
			return driver.DialConsumer(ctx, cfg, adapter)
		}, options.policy, log, options.observer),
	}, nil
}

// Publisher returns the publish connection, connecting if needed.
func (m *Manager) Publisher(ctx context.Context) (message.Publisher, error) {
	return m.publish.Ensure(ctx)
}

// Consumer returns the consume connection, connecting if needed.
func (m *Manager) Consumer(ctx context.Context) (transport.Consumer, error) {
	return m.consume.Ensure(ctx)
}

// EnsureConnected connects role without handing out the connection.
func (m *Manager) EnsureConnected(ctx context.Context, role Role) error {
	var err error
	switch role {
	case RolePublish:
		_, err = m.publish.Ensure(ctx)
	case RoleConsume:
		_, err = m.consume.Ensure(ctx)
	default:
		err = errors.New("connection: unknown role " + string(role))
	}
	return err
}

func (m *Manager) State(role Role) State {
	switch role {
	case RolePublish:
		return m.publish.State()
	case RoleConsume:
		return m.consume.State()
	default:
		return StateIdle
	}
}

// Teardown disconnects both roles, best effort. Both are attempted even when
// the first fails.
func (m *Manager) Teardown(ctx context.Context) error {
	return errors.Join(m.publish.Teardown(ctx), m.consume.Teardown(ctx))
}

// Close tears down both roles for good.
func (m *Manager) Close(ctx context.Context) error {
	return errors.Join(m.publish.Close(ctx), m.consume.Close(ctx))
}
