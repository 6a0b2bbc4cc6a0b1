package root

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/alem-hub/school-gamification/internal/application/gamification"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
)

// outcomeError turns a failed outcome into a command error so the process
// exits non-zero. The user-facing notice comes first.
type outcomeError struct {
	out gamification.Outcome
}

func (e outcomeError) Error() string {
	if e.out.Err == nil {
		return fmt.Sprintf("%s [%s]", e.out.Notice, e.out.Status)
	}
	return fmt.Sprintf("%s [%s: %v]", e.out.Notice, e.out.Status, e.out.Err)
}

func (e outcomeError) Unwrap() error {
	return e.out.Err
}

// report prints the notice of a successful outcome or returns it as an error.
func report(w io.Writer, out gamification.Outcome) error {
	if !out.OK() {
		return outcomeError{out}
	}
	if out.Notice != "" {
		fmt.Fprintln(w, out.Notice)
	}
	return nil
}

func printStreak(w io.Writer, r *gamification.StreakResult) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "streak: %s, %d day(s), longest %d\n",
		r.Transition, r.Streak.CurrentStreak, r.Streak.LongestStreak)
}

// formatEvent renders an event as "type user key=value ..." with sorted keys.
func formatEvent(ev shared.Event) string {
	payload := ev.Payload()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", ev.OccurredAt().Format("15:04:05"), ev.EventType(), ev.AggregateID())
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, payload[k])
	}
	return b.String()
}
