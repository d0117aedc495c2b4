package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	errspkg "github.com/drblury/simabus/internal/runtime/errors"
)

// RetryConfig customises the handler retry applied before a failure is
// isolated. MaxRetries of zero disables retrying.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * cfg.InitialInterval
	}
	return cfg
}

// DefaultMiddlewares returns the handler chain, outermost first: retry (when
// enabled) around the panic recoverer.
func DefaultMiddlewares(retry RetryConfig) []message.HandlerMiddleware {
	chain := make([]message.HandlerMiddleware, 0, 2)
	if mw := RetryMiddleware(retry); mw != nil {
		chain = append(chain, mw)
	}
	return append(chain, RecovererMiddleware())
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() message.HandlerMiddleware {
	return middleware.Recoverer
}

// RetryMiddleware re-runs a failing handler with exponential backoff. Decoding
// errors are never retried since the bytes will not change. It returns nil
// when retrying is disabled.
func RetryMiddleware(cfg RetryConfig) message.HandlerMiddleware {
	if cfg.MaxRetries <= 0 {
		return nil
	}
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if errors.Is(params.Err, errspkg.ErrDecoding) {
				return false
			}
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

// chainMiddlewares wraps h so that mws[0] runs first.
func chainMiddlewares(h message.HandlerFunc, mws []message.HandlerMiddleware) message.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}
