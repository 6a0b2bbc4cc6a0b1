package streak

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/timeutil"
)

func day(s string) timeutil.Date {
	return timeutil.MustParseDate(s)
}

func TestEvaluateNextDayContinues(t *testing.T) {
	s := Streak{UserID: "u1", CurrentStreak: 3, LongestStreak: 5, LastActivityDate: day("2025-01-10")}

	next, tr := s.Evaluate(day("2025-01-11"))

	assert.Equal(t, TransitionContinued, tr)
	assert.Equal(t, 4, next.CurrentStreak)
	assert.Equal(t, 5, next.LongestStreak)
	assert.Equal(t, day("2025-01-11"), next.LastActivityDate)
}

func TestEvaluateGapResets(t *testing.T) {
	s := Streak{UserID: "u1", CurrentStreak: 3, LongestStreak: 5, LastActivityDate: day("2025-01-10")}

	next, tr := s.Evaluate(day("2025-01-15"))

	assert.Equal(t, TransitionReset, tr)
	assert.Equal(t, 1, next.CurrentStreak)
	assert.Equal(t, 5, next.LongestStreak)
	assert.Equal(t, day("2025-01-15"), next.LastActivityDate)
	assert.Equal(t, 4, s.DaysMissed(day("2025-01-15")))
}

func TestEvaluateFirstActivity(t *testing.T) {
	next, tr := New("u1").Evaluate(day("2025-01-10"))

	assert.Equal(t, TransitionStarted, tr)
	assert.Equal(t, 1, next.CurrentStreak)
	assert.Equal(t, 1, next.LongestStreak)
}

func TestEvaluateSameDayIsIdempotent(t *testing.T) {
	s := Streak{UserID: "u1", CurrentStreak: 3, LongestStreak: 5, LastActivityDate: day("2025-01-10")}

	once, _ := s.Evaluate(day("2025-01-11"))
	twice, tr := once.Evaluate(day("2025-01-11"))

	assert.Equal(t, TransitionUnchanged, tr)
	assert.Equal(t, once, twice)
}

func TestEvaluatePastDateIsIgnored(t *testing.T) {
	s := Streak{UserID: "u1", CurrentStreak: 3, LongestStreak: 5, LastActivityDate: day("2025-01-10")}

	next, tr := s.Evaluate(day("2025-01-08"))

	assert.Equal(t, TransitionUnchanged, tr)
	assert.Equal(t, s, next)
}

func TestEvaluateLongestGrowsWithCurrent(t *testing.T) {
	s := Streak{UserID: "u1", CurrentStreak: 5, LongestStreak: 5, LastActivityDate: day("2025-01-10")}

	next, _ := s.Evaluate(day("2025-01-11"))

	assert.Equal(t, 6, next.CurrentStreak)
	assert.Equal(t, 6, next.LongestStreak)
}

func TestLongestNeverDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := New("u1")
	today := day("2025-01-01")

	for i := 0; i < 500; i++ {
		// Mostly consecutive days, sometimes repeats, sometimes gaps.
		today = today.AddDays(rng.Intn(4))
		prevLongest := s.LongestStreak

		next, _ := s.Evaluate(today)

		require.NoError(t, next.Validate())
		require.GreaterOrEqual(t, next.LongestStreak, prevLongest)
		require.GreaterOrEqual(t, next.LongestStreak, next.CurrentStreak)
		s = next
	}
}

func TestValidate(t *testing.T) {
	bad := Streak{UserID: "u1", CurrentStreak: 4, LongestStreak: 2}
	assert.ErrorIs(t, bad.Validate(), shared.ErrInvariantViolation)
}
