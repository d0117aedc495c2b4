package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	configpkg "github.com/drblury/simabus/internal/runtime/config"
)

// NewApp builds the simabus command tree. Config and Logger already set on
// flags are kept, otherwise they are loaded from the environment.
func NewApp(flags *Flags, version string) *cli.Command {
	app := &cli.Command{
		Name:      "simabus",
		Usage:     "Event backbone for the SIMA services",
		UsageText: "simabus [global options] command [command options]",
		Description: `simabus publishes and consumes JSON events over Kafka, RabbitMQ, NATS, AWS
SNS/SQS or an in-process broker, selected with PUBSUB_SYSTEM. Every other
setting is read from the environment as well (KAFKA_BROKERS, RABBITMQ_URL,
NATS_URL, AWS_REGION, ...).`,
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("SIMABUS_LOG_LEVEL"),
				Value:       flags.LogLevel,
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Usage:       "log format (text, json)",
				Sources:     cli.EnvVars("SIMABUS_LOG_FORMAT"),
				Value:       flags.LogFormat,
				Destination: &flags.LogFormat,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			if flags.Logger == nil {
				logger, err := NewLogger(flags.LogLevel, flags.LogFormat)
				if err != nil {
					return ctx, err
				}
				flags.Logger = logger
			}
			if flags.Config == nil {
				cfg, err := configpkg.FromEnv()
				if err != nil {
					return ctx, fmt.Errorf("load config: %w", err)
				}
				flags.Config = cfg
			}
			return ctx, nil
		},
	}

	app = NewPublishCmd(flags).Register(app)
	app = NewServeCmd(flags).Register(app)
	app = NewAuditCmd(flags).Register(app)
	app = NewNotifyCmd(flags).Register(app)
	app = NewTopicsCmd(flags).Register(app)

	return app
}
