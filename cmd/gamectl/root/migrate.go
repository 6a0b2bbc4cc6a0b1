package root

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alem-hub/school-gamification/config"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/postgres"
)

var errNeedsPostgres = errors.New("this command needs --store postgres")

// withMigrator connects to PostgreSQL without touching Redis or the schema.
func withMigrator(ctx context.Context, opts *rootOptions, fn func(m *postgres.Migrator) error) error {
	if opts.store != storePostgres {
		return errNeedsPostgres
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	log := newLogger(cfg.Observability)
	defer log.Sync()

	conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database), log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return fn(postgres.NewMigrator(conn))
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), opts, func(m *postgres.Migrator) error {
				applied, err := m.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
				return nil
			})
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *postgres.Migrator) error {
					status, err := m.Status(cmd.Context())
					if err != nil {
						return err
					}
					w := cmd.OutOrStdout()
					for _, mig := range status {
						state := "pending"
						if mig.IsApplied {
							state = "applied " + mig.AppliedAt.Format("2006-01-02 15:04")
						}
						fmt.Fprintf(w, "%03d %-28s %s\n", mig.Version, mig.Name, state)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd.Context(), opts, func(m *postgres.Migrator) error {
					if err := m.Rollback(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "rolled back")
					return nil
				})
			},
		},
	)
	return cmd
}
