package gamification

import (
	"context"
	"sync"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/streak"
	"github.com/alem-hub/school-gamification/pkg/logger"
	"github.com/alem-hub/school-gamification/pkg/retry"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

// StreakResult is the outcome of one streak evaluation.
type StreakResult struct {
	Previous   streak.Streak
	Streak     streak.Streak
	Transition streak.Transition

	// Increased is true when the current streak grew.
	Increased bool
}

// StreakTracker keeps the daily activity streak of one user.
type StreakTracker struct {
	userID string
	repo   streak.Repository
	reads  *retry.Retrier
	events shared.EventPublisher
	log    *logger.Logger

	mu      sync.Mutex
	current streak.Streak
	loaded  bool
}

// NewStreakTracker creates a tracker.
func NewStreakTracker(userID string, repo streak.Repository, reads *retry.Retrier, events shared.EventPublisher, log *logger.Logger) *StreakTracker {
	return &StreakTracker{
		userID:  userID,
		repo:    repo,
		reads:   reads,
		events:  events,
		log:     log.With(logger.Component("streak"), logger.UserID(userID)),
		current: streak.New(userID),
	}
}

// Load replaces the cached streak with the stored one.
func (t *StreakTracker) Load(ctx context.Context) (streak.Streak, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadLocked(ctx)
}

func (t *StreakTracker) loadLocked(ctx context.Context) (streak.Streak, error) {
	s, err := read(ctx, t.reads, "streak", "Load", func(ctx context.Context) (streak.Streak, error) {
		return t.repo.GetStreak(ctx, t.userID)
	})
	if err != nil {
		return t.current, err
	}
	t.current = s
	t.loaded = true
	return s, nil
}

// Current returns the cached streak.
func (t *StreakTracker) Current() streak.Streak {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Evaluate records activity on today. The streak is saved only when it
// changed; if the save fails the cached streak keeps its previous value and
// nothing is retried.
func (t *StreakTracker) Evaluate(ctx context.Context, today timeutil.Date) (StreakResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		if _, err := t.loadLocked(ctx); err != nil {
			return StreakResult{Previous: t.current, Streak: t.current}, err
		}
	}

	prev := t.current
	next, tr := prev.Evaluate(today)
	result := StreakResult{Previous: prev, Streak: prev, Transition: tr}
	if !tr.Mutated() {
		return result, nil
	}

	if err := t.repo.SaveStreak(ctx, next); err != nil {
		t.log.Warn("streak save failed, keeping previous value",
			logger.String("today", today.String()),
			logger.Err(err),
		)
		result.Transition = streak.TransitionUnchanged
		return result, shared.StoreError("streak", "Evaluate", err)
	}

	t.current = next
	result.Streak = next
	result.Increased = next.CurrentStreak > prev.CurrentStreak

	if result.Increased {
		publish(t.events, t.log, shared.NewStreakIncreasedEvent(t.userID, prev.CurrentStreak, next.CurrentStreak, next.LongestStreak))
	}
	if tr == streak.TransitionReset && prev.CurrentStreak > 1 {
		publish(t.events, t.log, shared.NewStreakResetEvent(t.userID, prev.CurrentStreak, prev.DaysMissed(today)))
	}

	t.log.Debug("streak evaluated",
		logger.String("transition", tr.String()),
		logger.Int("current_streak", next.CurrentStreak),
		logger.Int("longest_streak", next.LongestStreak),
	)
	return result, nil
}
