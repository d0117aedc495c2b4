package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/drblury/simabus/internal/runtime/envelope"
	idspkg "github.com/drblury/simabus/internal/runtime/ids"
)

type PublishCmd struct {
	flags *Flags

	topic         string
	data          string
	key           string
	correlationID string
}

// NewPublishCmd creates a new publish command
func NewPublishCmd(flags *Flags) *PublishCmd {
	return &PublishCmd{flags: flags}
}

// Register adds the publish command to the application
func (cmd *PublishCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "publish",
		Usage:     "Publish one JSON event to a catalog topic",
		UsageText: "simabus publish --topic <topic> [--data <json>] [--key <key>] [--correlation-id <id>]",
		Description: `Publishes a single event and waits for the broker acknowledgement.

The payload is read from --data, or from stdin when --data is omitted.

Examples:
  simabus publish --topic user.created --data '{"id":"u1","email":"a@b.c"}'
  echo '{"id":"a1"}' | simabus publish --topic asset.created --key a1`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "topic",
				Aliases:     []string{"t"},
				Usage:       "catalog topic to publish to",
				Required:    true,
				Destination: &cmd.topic,
			},
			&cli.StringFlag{
				Name:        "data",
				Aliases:     []string{"d"},
				Usage:       "JSON payload (default: read stdin)",
				Destination: &cmd.data,
			},
			&cli.StringFlag{
				Name:        "key",
				Aliases:     []string{"k"},
				Usage:       "routing key (default: the payload id)",
				Destination: &cmd.key,
			},
			&cli.StringFlag{
				Name:        "correlation-id",
				Usage:       "correlation id (default: generated)",
				Destination: &cmd.correlationID,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *PublishCmd) run(ctx context.Context, c *cli.Command) error {
	payload := cmd.data
	if payload == "" {
		raw, err := io.ReadAll(c.Root().Reader)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		payload = strings.TrimSpace(string(raw))
	}

	correlationID := cmd.correlationID
	if correlationID == "" {
		correlationID = idspkg.NewMessageID()
	}
	opts := []envelope.Option{envelope.WithCorrelationID(correlationID)}
	if c.IsSet("key") {
		opts = append(opts, envelope.WithKey(cmd.key))
	}

	svc, closeSvc, err := cmd.flags.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	if err := svc.Publish(ctx, cmd.topic, json.RawMessage(payload), nil, opts...); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	_, _ = fmt.Fprintf(c.Root().Writer, "published to %s (correlation-id %s)\n", cmd.topic, correlationID)
	return nil
}
