package gamification

import (
	"context"
	"sync"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC RECONCILER
// Two channels write the cached profile: local intents (optimistic deltas
// applied before a remote write) and truth (pushes and profiles returned by
// the store). Truth always overwrites intent.
// ══════════════════════════════════════════════════════════════════════════════

// Intent is an optimistic local delta that can be reverted.
type Intent struct {
	DeltaXP    int
	DeltaCoins int

	// xpSeq and coinsSeq count the truths that set each field before the
	// intent was made.
	xpSeq    uint64
	coinsSeq uint64
}

// Reconciler owns the cached profile of one user.
type Reconciler struct {
	userID string
	feed   progress.ChangeFeed
	rule   progress.LevelRule
	events shared.EventPublisher
	log    *logger.Logger

	mu       sync.RWMutex
	profile  progress.Profile
	loaded   bool
	xpSeq    uint64
	coinsSeq uint64

	subMu sync.Mutex
	sub   progress.Subscription
}

// NewReconciler creates a reconciler. feed may be nil.
func NewReconciler(userID string, feed progress.ChangeFeed, rule progress.LevelRule, events shared.EventPublisher, log *logger.Logger) *Reconciler {
	return &Reconciler{
		userID:  userID,
		feed:    feed,
		rule:    rule,
		events:  events,
		log:     log.With(logger.Component("reconciler"), logger.UserID(userID)),
		profile: *progress.NewProfile(userID),
	}
}

// Start subscribes to the change feed. Calling it on a running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) error {
	if r.feed == nil {
		r.log.Debug("no change feed configured, cache converges on refresh only")
		return nil
	}

	r.subMu.Lock()
	defer r.subMu.Unlock()

	if r.sub != nil {
		return nil
	}

	sub, err := r.feed.SubscribeProfileChanges(ctx, r.userID, func(u progress.ProfileUpdate) {
		r.Apply(u)
	})
	if err != nil {
		return shared.StoreError("reconciler", "Subscribe", err)
	}
	r.sub = sub
	r.log.Debug("subscribed to profile changes")
	return nil
}

// Stop unsubscribes. Safe to call any number of times.
func (r *Reconciler) Stop() error {
	r.subMu.Lock()
	sub := r.sub
	r.sub = nil
	r.subMu.Unlock()

	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Subscribed reports whether a feed subscription is live.
func (r *Reconciler) Subscribed() bool {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	return r.sub != nil
}

// Profile returns a copy of the cached profile.
func (r *Reconciler) Profile() progress.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profile
}

// Apply merges an authoritative update into the cache (shallow, last write wins).
// Updates for other users, empty updates and updates older than the cached
// version are ignored. Returns true if the update was applied.
//
// Level-up is detected against the previously cached level, so duplicate and
// out-of-order pushes never fire it twice.
func (r *Reconciler) Apply(u progress.ProfileUpdate) bool {
	if u.UserID != "" && u.UserID != r.userID {
		return false
	}
	if u.IsEmpty() {
		return false
	}

	r.mu.Lock()
	if u.Version != 0 && u.Version < r.profile.Version {
		r.mu.Unlock()
		r.log.Debug("ignored stale profile update",
			logger.Int64("version", u.Version),
			logger.Int64("cached_version", r.profile.Version),
		)
		return false
	}

	if u.CurrentXP != nil && u.CurrentLevel == nil {
		u.CurrentLevel = progress.IntPtr(r.rule.LevelFor(*u.CurrentXP))
	}

	prevLevel := r.profile.CurrentLevel
	wasLoaded := r.loaded
	u.ApplyTo(&r.profile)
	r.loaded = true
	if u.CurrentXP != nil {
		r.xpSeq++
	}
	if u.Coins != nil {
		r.coinsSeq++
	}
	snapshot := r.profile
	r.mu.Unlock()

	if wasLoaded && snapshot.CurrentLevel > prevLevel {
		r.log.Info("level up",
			logger.UserLevel(snapshot.CurrentLevel),
			logger.Int("previous_level", prevLevel),
		)
		publish(r.events, r.log, shared.NewLevelUpEvent(r.userID, prevLevel, snapshot.CurrentLevel, snapshot.CurrentXP))
	}
	return true
}

// ApplyProfile applies a full profile returned by the store as truth.
func (r *Reconciler) ApplyProfile(p *progress.Profile) bool {
	if p == nil {
		return false
	}
	return r.Apply(progress.FullUpdate(p))
}

// ApplyIntent applies an optimistic delta and returns it for a possible revert.
// The level is left alone: it is authoritative remote data.
func (r *Reconciler) ApplyIntent(deltaXP, deltaCoins int) Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profile.CurrentXP += deltaXP
	r.profile.Coins += deltaCoins
	return Intent{DeltaXP: deltaXP, DeltaCoins: deltaCoins, xpSeq: r.xpSeq, coinsSeq: r.coinsSeq}
}

// Revert undoes an intent whose remote write failed. Each field is reverted
// only if no truth has set it since the intent was applied; truth that set
// the field already overwrote the delta. Returns true if any delta was undone.
func (r *Reconciler) Revert(in Intent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reverted := false
	if in.DeltaXP != 0 && r.xpSeq == in.xpSeq {
		r.profile.CurrentXP -= in.DeltaXP
		reverted = true
	}
	if in.DeltaCoins != 0 && r.coinsSeq == in.coinsSeq {
		r.profile.Coins -= in.DeltaCoins
		reverted = true
	}
	return reverted
}
