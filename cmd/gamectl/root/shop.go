package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alem-hub/school-gamification/internal/application/gamification"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List shop items with ownership and lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				items, out := s.Catalog(cmd.Context())
				if err := report(cmd.OutOrStdout(), out); err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(items) == 0 {
					fmt.Fprintln(w, "the shop is empty")
					return nil
				}
				for _, ci := range items {
					fmt.Fprintf(w, "%-16s %-24s %5d coins  lvl %-3d %s\n",
						ci.Item.ID, ci.Item.Name, ci.Item.Cost, ci.Item.MinLevel, catalogState(ci))
				}
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update shop items from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.store != storePostgres {
				return errNeedsPostgres
			}
			items, err := loadCatalogFile(args[0])
			if err != nil {
				return err
			}

			rt, cleanup, err := openRuntime(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			for _, it := range items {
				if err := rt.shop.UpsertShopItem(cmd.Context(), it); err != nil {
					return fmt.Errorf("item %s: %w", it.ID, err)
				}
			}
			if rt.catalog != nil {
				if err := rt.catalog.Invalidate(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: catalog cache not invalidated: %v\n", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d item(s)\n", len(items))
			return nil
		},
	})
	return cmd
}

func catalogState(ci gamification.CatalogItem) string {
	switch {
	case ci.Equipped:
		return "equipped"
	case ci.Owned:
		return "owned"
	case ci.Locked:
		return "locked"
	default:
		return ""
	}
}

func newPurchaseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <item-id>",
		Short: "Buy a shop item with coins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				out := s.PurchaseItem(cmd.Context(), args[0])
				if err := report(cmd.OutOrStdout(), out.Outcome); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "balance: %d coins\n", out.Balance)
				return nil
			})
		},
	}
}

func newEquipCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "equip <item-id>",
		Short: "Equip an owned item; any other item is taken off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				return report(cmd.OutOrStdout(), s.EquipItem(cmd.Context(), args[0]).Outcome)
			})
		},
	}
}

func newUnequipCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unequip <item-id>",
		Short: "Take off an equipped item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				return report(cmd.OutOrStdout(), s.UnequipItem(cmd.Context(), args[0]).Outcome)
			})
		},
	}
}
