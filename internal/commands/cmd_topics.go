package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/drblury/simabus/topics"
	"github.com/drblury/simabus/transport"
)

type TopicsCmd struct {
	flags *Flags
}

// NewTopicsCmd creates a new topics command
func NewTopicsCmd(flags *Flags) *TopicsCmd {
	return &TopicsCmd{flags: flags}
}

// Register adds the topics command to the application
func (cmd *TopicsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "topics",
		Usage:       "List catalog topics and registered transports",
		UsageText:   "simabus topics",
		Description: "Prints every topic producers and consumers may use, followed by the transports compiled into this binary.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *TopicsCmd) run(_ context.Context, c *cli.Command) error {
	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TOPIC")
	for _, t := range topics.All() {
		_, _ = fmt.Fprintln(w, t.String())
	}
	_, _ = fmt.Fprintln(w)

	active := ""
	if cmd.flags.Config != nil {
		active = cmd.flags.Config.PubSubSystem
	}
	_, _ = fmt.Fprintln(w, "TRANSPORT\tACTIVE\tORDERING\tCONSUMER GROUPS")
	for _, name := range transport.DefaultRegistry.Names() {
		caps := transport.DefaultRegistry.GetCapabilities(name)
		mark := ""
		if name == active {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%v\t%v\n", name, mark, caps.SupportsOrdering, caps.SupportsConsumerGroups)
	}
	return w.Flush()
}
