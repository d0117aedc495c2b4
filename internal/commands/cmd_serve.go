package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/drblury/simabus/internal/ingest"
)

type ServeCmd struct {
	flags *Flags

	address string
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the HTTP ingest API",
		UsageText: "simabus serve [--address :8080]",
		Description: `Accepts events over HTTP and publishes them to the configured broker.

  POST /v1/events/<topic>   publish the JSON body (202 on broker ack)
  GET  /healthz             connection state of both roles`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "address",
				Aliases:     []string{"a"},
				Usage:       "listen address (default: HTTP_ADDRESS)",
				Destination: &cmd.address,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	addr := cmd.address
	if addr == "" {
		addr = cmd.flags.Config.HTTPAddress
	}

	svc, closeSvc, err := cmd.flags.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	router := ingest.NewRouter(svc, svc, cmd.flags.Logger)
	return cmd.flags.serveUntilDone(ctx, svc, addr, router)
}
