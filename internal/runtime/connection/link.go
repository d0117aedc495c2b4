package connection

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/simabus/internal/runtime/errors"
	"github.com/drblury/simabus/internal/runtime/logging"
)

// DialFunc performs one physical connect.
type DialFunc[T io.Closer] func(ctx context.Context) (T, error)

// StateObserver is told about every transition. It runs under the link's lock
// and must not call back into the link.
type StateObserver func(role Role, state State)

// Link guards one role's connection.
type Link[T io.Closer] struct {
	role     Role
	dial     DialFunc[T]
	policy   Policy
	logger   logging.ServiceLogger
	observer StateObserver

	mu       sync.Mutex
	state    State
	conn     T
	inflight *attempt[T]
	closed   bool
}

type attempt[T io.Closer] struct {
	done   chan struct{}
	cancel context.CancelFunc
	conn   T
	err    error
}

// NewLink returns a link in StateIdle. A nil observer is allowed.
func NewLink[T io.Closer](role Role, dial DialFunc[T], policy Policy, logger logging.ServiceLogger, observer StateObserver) *Link[T] {
	if logger == nil {
		logger = logging.Nop()
	}
	l := &Link[T]{
		role:     role,
		dial:     dial,
		policy:   policy.withDefaults(),
		logger:   logger.With(logging.LogFields{"role": string(role)}),
		observer: observer,
	}
	l.setStateLocked(StateIdle)
	return l
}

func (l *Link[T]) Role() Role { return l.role }

func (l *Link[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link[T]) setStateLocked(s State) {
	l.state = s
	if l.observer != nil {
		l.observer(l.role, s)
	}
}

// Ensure returns the live connection, joining or starting a connect as
// needed. ctx only bounds this caller's wait; the shared attempt keeps going
// for the other callers.
func (l *Link[T]) Ensure(ctx context.Context) (T, error) {
	var zero T

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return zero, &errspkg.ConnectionError{Role: string(l.role), Err: errspkg.ErrClosed}
	}

	var a *attempt[T]
	switch l.state {
	case StateConnected:
		conn := l.conn
		l.mu.Unlock()
		return conn, nil
	case StateConnecting:
		a = l.inflight
	default:
		a = l.startLocked()
	}
	l.mu.Unlock()

	select {
	case <-a.done:
		return a.conn, a.err
	case <-ctx.Done():
		return zero, &errspkg.ConnectionError{Role: string(l.role), Err: ctx.Err()}
	}
}

func (l *Link[T]) startLocked() *attempt[T] {
	ctx, cancel := context.WithTimeout(context.Background(), l.policy.MaxElapsed)
	a := &attempt[T]{done: make(chan struct{}), cancel: cancel}
	l.inflight = a
	l.setStateLocked(StateConnecting)

	go l.run(ctx, a)
	return a
}

func (l *Link[T]) run(ctx context.Context, a *attempt[T]) {
	defer a.cancel()

	tries := 0
	operation := func() (T, error) {
		tries++
		return l.dial(ctx)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = l.policy.InitialInterval
	exp.MaxInterval = l.policy.MaxInterval

	started := time.Now()
	conn, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(l.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(l.policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			l.logger.Info("Broker connect failed, retrying", logging.LogFields{
				"attempt":  tries,
				"retry_in": next.String(),
				"error":    err.Error(),
			})
		}),
	)

	l.mu.Lock()
	current := l.inflight == a
	if current {
		l.inflight = nil
		if err == nil {
			l.conn = conn
			l.setStateLocked(StateConnected)
		} else {
			l.setStateLocked(StateDisconnected)
		}
	}
	l.mu.Unlock()

	switch {
	case err != nil:
		a.err = &errspkg.ConnectionError{Role: string(l.role), Attempts: tries, Err: err}
		l.logger.Error("Broker connect gave up", err, logging.LogFields{
			"attempts": tries,
			"elapsed":  time.Since(started).String(),
		})
	case !current:
		// Torn down while dialing: the caller never sees this connection.
		if closeErr := conn.Close(); closeErr != nil {
			l.logger.Debug("Closing superseded connection failed", logging.LogFields{"error": closeErr.Error()})
		}
		a.err = &errspkg.ConnectionError{Role: string(l.role), Attempts: tries, Err: context.Canceled}
	default:
		a.conn = conn
		l.logger.Debug("Broker connected", logging.LogFields{"attempts": tries})
	}
	close(a.done)
}

// Teardown disconnects the role. It cancels a connect in flight, closes a live
// connection, and always leaves the link disconnected (idle if it never
// connected). It is safe to call repeatedly.
func (l *Link[T]) Teardown(ctx context.Context) error {
	l.mu.Lock()
	a := l.inflight
	l.inflight = nil
	conn := l.conn
	wasConnected := l.state == StateConnected
	var zero T
	l.conn = zero
	if l.state != StateIdle {
		l.setStateLocked(StateDisconnected)
	}
	l.mu.Unlock()

	if a != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if !wasConnected {
		return nil
	}
	if err := conn.Close(); err != nil {
		l.logger.Error("Closing broker connection failed", err, nil)
		return err
	}
	return nil
}

// Close tears down and makes every later Ensure fail.
func (l *Link[T]) Close(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.Teardown(ctx)
}

// IsClosed reports whether err came from a link that was closed for good.
func IsClosed(err error) bool {
	return errors.Is(err, errspkg.ErrClosed)
}
