/*
Package runtime provides the event pipeline of simabus: publishing JSON
envelopes, running consumer subscriptions and wiring both to a broker
transport.

# Package Structure

## Service (service.go)

Service assembles a Config into a working pipeline:
  - a transport driver resolved from the registry
  - a connection manager with independent publish and consume roles
  - the Publisher and the Runner
  - Prometheus metrics, optionally served on /metrics

## Publishing (publisher.go)

Publisher encodes an event into an envelope, ensures the publish connection
and waits for the broker acknowledgement. A send that is not acknowledged in
time fails with ErrUnknownOutcome.

## Consuming (consumer.go)

Runner.Subscribe binds a handler to a (topic, group) pair. Messages of one
subscription are handled one at a time. Failures are logged, counted and
skipped; the position is acknowledged only afterwards. Stop lets the running
handler finish.

## Middleware (middleware.go)

Handlers run behind a bounded retry and a panic recoverer.

# Sub-packages

  - config/: configuration, validation and environment loading
  - connection/: lazy, single-flight connection links per role
  - envelope/: payload and header encoding
  - errors/: error taxonomy
  - ids/: ULID message ids
  - jsoncodec/: JSON codec
  - logging/: logger contract and adapters
  - metadata/: header maps

# Usage Example

	svc, err := runtime.NewService(cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	_, err = svc.Subscribe(ctx, "asset.created", "audit-service", handler)
*/
package runtime
