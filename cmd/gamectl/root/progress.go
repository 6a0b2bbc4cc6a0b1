package root

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alem-hub/school-gamification/internal/application/gamification"
	"github.com/alem-hub/school-gamification/internal/domain/progress"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show XP, level, coins, streak and equipped item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				p := s.Profile()
				st := s.Streak()
				w := cmd.OutOrStdout()

				fmt.Fprintf(w, "user:     %s\n", p.UserID)
				fmt.Fprintf(w, "level:    %d (%d XP)\n", p.CurrentLevel, p.CurrentXP)
				fmt.Fprintf(w, "coins:    %d\n", s.Balance())
				fmt.Fprintf(w, "streak:   %d day(s), longest %d\n", st.CurrentStreak, st.LongestStreak)
				if !st.LastActivityDate.IsZero() {
					fmt.Fprintf(w, "active:   %s\n", st.LastActivityDate)
				}

				inv := s.Inventory()
				equipped := inv.EquippedItemID()
				if equipped == "" {
					equipped = "-"
				}
				fmt.Fprintf(w, "items:    %d owned, equipped %s\n", len(inv), equipped)
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent XP awards, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				entries, out := s.LedgerHistory(cmd.Context(), limit)
				if err := report(cmd.OutOrStdout(), out); err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(w, "no XP awarded yet")
					return nil
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-22s %+5d XP\n", e.CreatedAt.Format("2006-01-02 15:04"), e.ActionType, e.XPAmount)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries, 0 for all")
	return cmd
}

func newAwardCmd(opts *rootOptions) *cobra.Command {
	var meta []string

	cmd := &cobra.Command{
		Use:   "award <action> <xp>",
		Short: "Award XP for an action; coins follow from the XP",
		Example: "  gamectl award -u teacher-42 homework_post 20\n" +
			"  gamectl award -u teacher-42 marks_entry 5 --meta class=7B",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := progress.ActionType(args[0])
			xp, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("xp must be a number: %w", err)
			}
			metadata, err := parseMeta(meta)
			if err != nil {
				return err
			}

			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				out := s.AwardXP(cmd.Context(), action, xp, metadata)
				if err := report(cmd.OutOrStdout(), out.Outcome); err != nil {
					return err
				}
				printStreak(cmd.OutOrStdout(), out.Streak)

				p := s.Profile()
				fmt.Fprintf(cmd.OutOrStdout(), "level %d, %d XP, %d coins\n", p.CurrentLevel, p.CurrentXP, s.Balance())
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "ledger metadata as key=value, repeatable")
	return cmd
}

func newActivityCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "activity",
		Short: "Count today's activity toward the daily streak",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), opts, func(rt *runtime, s *gamification.Session) error {
				out := s.RecordActivity(cmd.Context())
				if err := report(cmd.OutOrStdout(), out.Outcome); err != nil {
					return err
				}
				printStreak(cmd.OutOrStdout(), &out.Result)
				return nil
			})
		},
	}
}

func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", kv)
		}
		m[k] = v
	}
	return m, nil
}
