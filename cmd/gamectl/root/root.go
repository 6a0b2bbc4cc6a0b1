package root

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	store  string
	userID string

	// seedFile preloads the catalog of a memory store.
	seedFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "gamectl",
		Short:         "Gamification engine console",
		Long:          "gamectl awards XP, runs the coin shop and streams gamification events for one user at a time.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.store {
			case storePostgres, storeMemory:
				return nil
			default:
				return fmt.Errorf("unknown store %q, want %s or %s", opts.store, storePostgres, storeMemory)
			}
		},
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.store, "store", storePostgres, "backing store: postgres or memory")
	pf.StringVarP(&opts.userID, "user", "u", "", "user the command acts for")
	pf.StringVar(&opts.seedFile, "seed", "", "YAML catalog loaded into a memory store")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newProfileCmd(opts),
		newHistoryCmd(opts),
		newAwardCmd(opts),
		newActivityCmd(opts),
		newCatalogCmd(opts),
		newPurchaseCmd(opts),
		newEquipCmd(opts),
		newUnequipCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}
