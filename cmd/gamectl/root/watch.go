package root

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/alem-hub/school-gamification/internal/application/gamification"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		refresh time.Duration
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream gamification events until interrupted",
		Long: "watch keeps a session open and prints every event it sees: level ups pushed by\n" +
			"the store and, with Redis, events relayed from other instances.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			return withSession(ctx, opts, func(rt *runtime, s *gamification.Session) error {
				var mu sync.Mutex
				w := cmd.OutOrStdout()

				err := rt.events.SubscribeAll(func(ev shared.Event) error {
					if !all && ev.AggregateID() != s.UserID() {
						return nil
					}
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintln(w, formatEvent(ev))
					return nil
				})
				if err != nil {
					return err
				}

				p := s.Profile()
				mu.Lock()
				fmt.Fprintf(w, "watching %s: level %d, %d XP, %d coins\n", s.UserID(), p.CurrentLevel, p.CurrentXP, s.Balance())
				mu.Unlock()

				var tick <-chan time.Time
				if refresh > 0 {
					ticker := time.NewTicker(refresh)
					defer ticker.Stop()
					tick = ticker.C
				}

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-tick:
						if out := s.Refresh(ctx); !out.OK() {
							rt.log.Warn("periodic refresh failed", logger.Err(out.Err))
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&refresh, "refresh", 0, "reload from the store at this interval, 0 disables")
	cmd.Flags().BoolVar(&all, "all", false, "print events of every user, not only --user")
	return cmd
}
