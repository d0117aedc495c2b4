package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/drblury/simabus/internal/notify"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
)

type NotifyCmd struct {
	flags *Flags

	group string
}

// NewNotifyCmd creates a new notify command
func NewNotifyCmd(flags *Flags) *NotifyCmd {
	return &NotifyCmd{flags: flags}
}

// Register adds the notify command to the application
func (cmd *NotifyCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "notify",
		Usage:     "Run the notification consumer",
		UsageText: "simabus notify [--group notifications-consumer]",
		Description: `Consumes notification.send requests and sends a welcome e-mail for every
user.created event that carries an email. Every channel is logged; no
provider is wired in.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "group",
				Aliases:     []string{"g"},
				Usage:       "consumer group",
				Sources:     cli.EnvVars("NOTIFY_GROUP_ID", "KAFKA_GROUP_ID"),
				Value:       notify.DefaultGroup,
				Destination: &cmd.group,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *NotifyCmd) run(ctx context.Context, _ *cli.Command) error {
	svc, closeSvc, err := cmd.flags.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	dispatcher := notify.NewDispatcher(cmd.flags.Logger)
	if _, err := dispatcher.SubscribeAll(ctx, svc, cmd.group); err != nil {
		return fmt.Errorf("subscribe notification topics: %w", err)
	}
	cmd.flags.Logger.Info("Notification consumer running", loggingpkg.LogFields{"group": cmd.group})

	return cmd.flags.serveUntilDone(ctx, svc, "", nil)
}
