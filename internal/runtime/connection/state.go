// Package connection owns the broker connection lifecycle for the publish and
// consume roles. Each role connects lazily, at most once at a time, and
// concurrent callers share the attempt in flight.
package connection

import "time"

// Role identifies one of the two independent broker connections.
type Role string

const (
	RolePublish Role = "publish"
	RoleConsume Role = "consume"
)

// State of one role's connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Policy bounds one logical connect. Every attempt inside it uses exponential
// backoff between InitialInterval and MaxInterval.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsed caps the whole connect including the waits between attempts.
	MaxElapsed time.Duration
}

// DefaultPolicy is applied for any zero field.
var DefaultPolicy = Policy{
	MaxAttempts:     5,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxElapsed:      30 * time.Second,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultPolicy.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = DefaultPolicy.MaxElapsed
	}
	return p
}
