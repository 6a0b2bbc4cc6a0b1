package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/pkg/circuitbreaker"
	"github.com/alem-hub/school-gamification/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROFILE FEED
// The store publishes every committed profile to pubsub:profile:<user>;
// sessions subscribe to their own user's channel. Delivery is at most once
// and may reorder, which the version on each update accounts for.
// ══════════════════════════════════════════════════════════════════════════════

// ProfileFeed implements progress.ChangeFeed and progress.ChangePublisher.
type ProfileFeed struct {
	cache   *Cache
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewProfileFeed creates a feed on top of cache. Publishing goes through a
// circuit breaker so that store writes stop waiting on a dead Redis.
func NewProfileFeed(cache *Cache, log *logger.Logger) *ProfileFeed {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("profile_feed"))

	return &ProfileFeed{
		cache: cache,
		breaker: circuitbreaker.New("profile_feed",
			circuitbreaker.WithFailureThreshold(5),
			circuitbreaker.WithCoolDown(30*time.Second),
			circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
				log.Warn("publish circuit changed state",
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			}),
		),
		log: log,
	}
}

// PublishProfileChange pushes update to the user's channel. While the circuit
// is open it fails fast with circuitbreaker.ErrCircuitOpen.
func (f *ProfileFeed) PublishProfileChange(ctx context.Context, update progress.ProfileUpdate) error {
	if update.UserID == "" {
		return ErrCacheKeyEmpty
	}
	return f.breaker.Execute(ctx, func(ctx context.Context) error {
		return f.cache.Publish(ctx, ProfileChannel(update.UserID), update)
	})
}

// SubscribeProfileChanges confirms the subscription before returning, then
// delivers updates to onUpdate on a dedicated goroutine until unsubscribed.
func (f *ProfileFeed) SubscribeProfileChanges(ctx context.Context, userID string, onUpdate func(progress.ProfileUpdate)) (progress.Subscription, error) {
	channel := ProfileChannel(userID)
	pubsub := f.cache.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &feedSubscription{
		pubsub: pubsub,
		done:   make(chan struct{}),
	}
	go f.deliver(userID, pubsub.Channel(), onUpdate, sub.done)

	f.log.Debug("subscribed", logger.UserID(userID))
	return sub, nil
}

func (f *ProfileFeed) deliver(userID string, messages <-chan *redis.Message, onUpdate func(progress.ProfileUpdate), done chan<- struct{}) {
	defer close(done)

	for msg := range messages {
		var update progress.ProfileUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
			f.log.Warn("dropping malformed profile update", logger.UserID(userID), logger.Err(err))
			continue
		}
		if update.UserID == "" {
			update.UserID = userID
		}
		onUpdate(update)
	}
}

type feedSubscription struct {
	once   sync.Once
	pubsub *redis.PubSub
	done   chan struct{}
	err    error
}

// Unsubscribe closes the subscription and waits for the delivery goroutine.
// Safe to call more than once.
func (s *feedSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}

var (
	_ progress.ChangeFeed      = (*ProfileFeed)(nil)
	_ progress.ChangePublisher = (*ProfileFeed)(nil)
)
