// Command importctl drives import sessions from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rpattn/stockimport/internal/app"
	"github.com/rpattn/stockimport/internal/auth"
	"github.com/rpattn/stockimport/internal/config"
	"github.com/rpattn/stockimport/internal/db"
	"github.com/rpattn/stockimport/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	configPath string
	org        string
	actor      string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Validate, approve and commit stock import files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", ".", "Directory containing config.yaml")
	root.PersistentFlags().StringVar(&opts.org, "org", "", "Organization UUID")
	root.PersistentFlags().StringVar(&opts.actor, "as", "", "Acting user recorded on approvals")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log pipeline activity to stdout")

	root.AddCommand(
		newValidateCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newProcessCmd(opts),
		newReportCmd(opts),
	)
	return root
}

func (o *globalOptions) organization() (uuid.UUID, error) {
	if strings.TrimSpace(o.org) == "" {
		return uuid.Nil, fmt.Errorf("--org is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(o.org))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --org: %w", err)
	}
	return id, nil
}

// scoped attaches the organization and actor to ctx the way the HTTP middleware does.
func (o *globalOptions) scoped(ctx context.Context) (context.Context, error) {
	orgID, err := o.organization()
	if err != nil {
		return nil, err
	}
	ctx = auth.ContextWithOrganizationID(ctx, orgID)
	if actor := strings.TrimSpace(o.actor); actor != "" {
		ctx = auth.ContextWithActor(ctx, actor)
	}
	return ctx, nil
}

func (o *globalOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if !o.verbose {
		return cfg, zap.NewNop(), nil
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// openPostgres builds a pipeline over the configured database. The returned func releases it.
func (o *globalOptions) openPostgres(ctx context.Context) (*app.Pipeline, func(), error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.RunMigrations(conn.Pool, logger); err != nil {
		conn.Close()
		return nil, nil, err
	}
	pipeline, err := app.NewPipeline(cfg, app.PostgresStores(conn.Pool, logger), logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return pipeline, func() {
		pipeline.Close()
		conn.Close()
		_ = logger.Sync()
	}, nil
}
