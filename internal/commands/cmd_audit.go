package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/drblury/simabus/internal/audit"
	"github.com/drblury/simabus/internal/ingest"
	loggingpkg "github.com/drblury/simabus/internal/runtime/logging"
)

type AuditCmd struct {
	flags *Flags

	group   string
	address string
}

// NewAuditCmd creates a new audit command
func NewAuditCmd(flags *Flags) *AuditCmd {
	return &AuditCmd{flags: flags}
}

// Register adds the audit command to the application
func (cmd *AuditCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "audit",
		Usage:     "Run the audit consumer",
		UsageText: "simabus audit [--group audit-consumer] [--address :8080]",
		Description: `Consumes every audited topic and appends one audit record per event.

Records go to AUDIT_DATABASE_URL (postgres:// or sqlite://), or to memory when
it is unset. With --address the read API is served as well:

  GET /v1/audit?entityType=&action=&entityId=&userId=&from=&to=&skip=&take=
  GET /v1/audit/report?from=&to=
  GET /v1/audit/<id>`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "group",
				Aliases:     []string{"g"},
				Usage:       "consumer group",
				Sources:     cli.EnvVars("AUDIT_GROUP_ID", "KAFKA_GROUP_ID"),
				Value:       audit.DefaultGroup,
				Destination: &cmd.group,
			},
			&cli.StringFlag{
				Name:        "address",
				Aliases:     []string{"a"},
				Usage:       "serve the audit query API on this address",
				Destination: &cmd.address,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *AuditCmd) run(ctx context.Context, _ *cli.Command) error {
	store, err := openAuditStore(cmd.flags.Config.AuditDatabaseURL, cmd.flags.Logger)
	if err != nil {
		return err
	}

	svc, closeSvc, err := cmd.flags.service()
	if err != nil {
		return err
	}
	defer closeSvc()

	sink := audit.NewSink(store, cmd.flags.Logger)
	if _, err := sink.SubscribeAll(ctx, svc, cmd.group); err != nil {
		return fmt.Errorf("subscribe audit topics: %w", err)
	}
	cmd.flags.Logger.Info("Audit consumer running", loggingpkg.LogFields{"group": cmd.group})

	var handler http.Handler
	if cmd.address != "" {
		handler = ingest.NewRouter(svc, svc, cmd.flags.Logger, ingest.WithAuditAPI(store))
	}
	return cmd.flags.serveUntilDone(ctx, svc, cmd.address, handler)
}

func openAuditStore(dsn string, log loggingpkg.ServiceLogger) (audit.Store, error) {
	if dsn == "" {
		log.Info("Audit records kept in memory", nil)
		return audit.NewMemoryStore(), nil
	}
	db, err := audit.Open(dsn, &gorm.Config{Logger: audit.NewGormLogger(log, gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	store, err := audit.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}
	return store, nil
}
