package errors

import (
	sterrors "errors"
	"fmt"
)

// Taxonomy sentinels. The struct errors below match them through errors.Is.
var (
	ErrEncoding       = sterrors.New("simabus: payload cannot be encoded")
	ErrDecoding       = sterrors.New("simabus: message cannot be decoded")
	ErrConnection     = sterrors.New("simabus: broker connection failed")
	ErrPublish        = sterrors.New("simabus: publish failed")
	ErrHandler        = sterrors.New("simabus: handler failed")
	ErrUnknownOutcome = sterrors.New("simabus: publish not acknowledged, outcome unknown")
)

var (
	ErrTopicRequired     = sterrors.New("simabus: topic is required")
	ErrUnknownTopic      = sterrors.New("simabus: topic is not in the catalog")
	ErrGroupRequired     = sterrors.New("simabus: consumer group is required")
	ErrHandlerRequired   = sterrors.New("simabus: handler function is required")
	ErrAlreadySubscribed = sterrors.New("simabus: topic already subscribed for this group")
	ErrNotSubscribed     = sterrors.New("simabus: subscription is not running")
	ErrConfigRequired    = sterrors.New("simabus: configuration is required")
	ErrLoggerRequired    = sterrors.New("simabus: logger is required")
	ErrDialerRequired    = sterrors.New("simabus: dialer is required")
	ErrClosed            = sterrors.New("simabus: connection manager is closed")
)

// EncodingError reports a payload that cannot be serialised. It is a caller
// bug and is never retried.
type EncodingError struct {
	Topic string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode payload for %q: %v", e.Topic, e.Err)
}

func (e *EncodingError) Unwrap() error        { return e.Err }
func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// DecodingError reports inbound bytes that are not valid JSON.
type DecodingError struct {
	Topic  string
	Prefix string
	Err    error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("decode message from %q: %v", e.Topic, e.Err)
}

func (e *DecodingError) Unwrap() error        { return e.Err }
func (e *DecodingError) Is(target error) bool { return target == ErrDecoding }

// ConnectionError reports that a role could not reach the broker after the
// connection retry policy was exhausted.
type ConnectionError struct {
	Role     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s connection failed after %d attempt(s): %v", e.Role, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s connection failed: %v", e.Role, e.Err)
}

func (e *ConnectionError) Unwrap() error        { return e.Err }
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// PublishError reports a send that was rejected, could not be attempted, or
// was not acknowledged. Callers must treat it as "maybe delivered".
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error        { return e.Err }
func (e *PublishError) Is(target error) bool { return target == ErrPublish }

// HandlerError wraps a failure returned (or panicked) by a domain handler.
// It never leaves the consumer loop.
type HandlerError struct {
	Topic       string
	MessageUUID string
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handle message %s from %q: %v", e.MessageUUID, e.Topic, e.Err)
}

func (e *HandlerError) Unwrap() error        { return e.Err }
func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// ConfigValidationError wraps configuration problems found at start up.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "simabus: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }
