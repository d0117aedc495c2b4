package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/drblury/simabus/internal/runtime"
	configpkg "github.com/drblury/simabus/internal/runtime/config"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
)

// shutdownTimeout bounds draining subscriptions after a signal.
const shutdownTimeout = 30 * time.Second

type Flags struct {
	LogLevel  string
	LogFormat string

	// Config is loaded in the Before hook and available to all commands
	Config *configpkg.Config

	// Logger is the service logger built from LogLevel and LogFormat
	Logger loggingpkg.ServiceLogger

	// NewService builds the bus service. Tests replace it to run against an
	// in-process broker.
	NewService func(conf *configpkg.Config, log loggingpkg.ServiceLogger) (*runtime.Service, error)
}

// NewFlags returns Flags wired to the default transport registry.
func NewFlags() *Flags {
	return &Flags{
		LogLevel:  "info",
		LogFormat: "text",
		NewService: func(conf *configpkg.Config, log loggingpkg.ServiceLogger) (*runtime.Service, error) {
			return runtime.NewService(conf, log, runtime.ServiceDependencies{})
		},
	}
}

// NewLogger builds a slog-backed service logger writing to stderr.
func NewLogger(level, format string) (loggingpkg.ServiceLogger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}

// service builds the bus service and returns a closer that drains it.
func (f *Flags) service() (*runtime.Service, func(), error) {
	svc, err := f.NewService(f.Config, f.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create service: %w", err)
	}
	closer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Close(ctx); err != nil {
			f.Logger.Error("Service close failed", err, nil)
		}
	}
	return svc, closer, nil
}
