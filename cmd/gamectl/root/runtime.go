package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/school-gamification/config"
	"github.com/alem-hub/school-gamification/internal/application/gamification"
	"github.com/alem-hub/school-gamification/internal/domain/progress"
	"github.com/alem-hub/school-gamification/internal/domain/shared"
	"github.com/alem-hub/school-gamification/internal/domain/shop"
	"github.com/alem-hub/school-gamification/internal/infrastructure/messaging"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/school-gamification/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/school-gamification/pkg/logger"
	"github.com/alem-hub/school-gamification/pkg/retry"
)

// eventBus is what the commands need from either bus implementation.
type eventBus interface {
	shared.EventBus
	io.Closer
}

// runtime holds everything a command needs, wired from configuration.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	rule     progress.LevelRule
	backends gamification.Backends
	events   eventBus

	// Set for the postgres store only.
	conn    *postgres.Connection
	shop    *postgres.ShopRepository
	catalog *redis.CatalogCache
}

func newLogger(cfg config.ObservabilityConfig) *logger.Logger {
	return logger.New(logger.Options{
		Level:         logger.ParseLevel(cfg.LogLevel),
		Format:        cfg.LogFormat,
		FilePath:      cfg.LogFile,
		MaxSizeMB:     cfg.LogMaxSizeMB,
		MaxBackups:    cfg.LogMaxBackups,
		MaxAgeDays:    cfg.LogMaxAgeDays,
		CompressFiles: cfg.LogCompress,
	})
}

func postgresConfig(cfg config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.URL
	if cfg.MaxOpenConns > 0 {
		pc.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pc.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	if cfg.QueryTimeout > 0 {
		pc.QueryTimeout = cfg.QueryTimeout
	}
	return pc
}

func redisConfig(cfg config.RedisConfig) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Host
	rc.Port = cfg.Port
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout
	return rc
}

// openRuntime loads configuration and connects the selected store. The
// returned cleanup releases everything in reverse order.
func openRuntime(ctx context.Context, opts *rootOptions) (*runtime, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	rt := &runtime{
		cfg:  cfg,
		log:  newLogger(cfg.Observability),
		rule: progress.StepCurve{Base: cfg.Gamification.LevelBase},
	}

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = rt.log.Sync()
	}

	switch opts.store {
	case storeMemory:
		err = rt.openMemory(opts.seedFile)
	default:
		err = rt.openPostgres(ctx, &closers)
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if rt.events == nil {
		busCfg := messaging.DefaultInMemoryEventBusConfig()
		busCfg.Logger = rt.log
		rt.events = messaging.NewInMemoryEventBus(busCfg)
	}
	closers = append(closers, func() { _ = rt.events.Close() })

	return rt, cleanup, nil
}

func (rt *runtime) openMemory(seedFile string) error {
	store := memory.New(memory.WithLevelRule(rt.rule))
	if seedFile != "" {
		items, err := loadCatalogFile(seedFile)
		if err != nil {
			return err
		}
		store.SeedItems(items...)
	}

	rt.backends = gamification.Backends{
		Profiles:  store,
		Streaks:   store,
		Catalog:   store,
		Inventory: store,
		Feed:      store,
	}
	return nil
}

func (rt *runtime) openPostgres(ctx context.Context, closers *[]func()) error {
	if rt.cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is not set")
	}

	conn, err := postgres.NewConnection(ctx, postgresConfig(rt.cfg.Database), rt.log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	*closers = append(*closers, conn.Close)
	rt.conn = conn

	if rt.cfg.Database.AutoMigrate {
		applied, err := postgres.NewMigrator(conn).Migrate(ctx)
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		rt.log.Debug("migrations completed", logger.Int("applied", applied))
	}

	rt.shop = postgres.NewShopRepository(conn)
	var (
		publisher progress.ChangePublisher
		feed      progress.ChangeFeed
		catalog   shop.Catalog = rt.shop
	)

	if !rt.cfg.Redis.Disabled {
		cache, err := redis.NewCache(ctx, redisConfig(rt.cfg.Redis))
		if err != nil {
			rt.log.Warn("failed to connect to Redis, push feed and catalog cache disabled", logger.Err(err))
		} else {
			*closers = append(*closers, func() { _ = cache.Close() })

			profileFeed := redis.NewProfileFeed(cache, rt.log)
			publisher, feed = profileFeed, profileFeed
			rt.catalog = redis.NewCatalogCache(rt.shop, cache, rt.cfg.Gamification.CatalogCacheTTL, rt.log)
			catalog = rt.catalog

			bus, err := messaging.NewRedisEventBus(ctx, messaging.RedisEventBusConfig{
				Client: cache.Client(),
				Local:  messaging.DefaultInMemoryEventBusConfig(),
				Logger: rt.log,
			})
			if err != nil {
				rt.log.Warn("event relay disabled", logger.Err(err))
			} else {
				rt.events = bus
			}
		}
	}

	rt.backends = gamification.Backends{
		Profiles:  postgres.NewProgressRepository(conn, rt.rule, publisher),
		Streaks:   postgres.NewStreakRepository(conn),
		Catalog:   catalog,
		Inventory: rt.shop,
		Feed:      feed,
	}
	return nil
}

func (rt *runtime) sessionOptions() gamification.Options {
	g := rt.cfg.Gamification
	log := rt.log

	return gamification.Options{
		CoinDivisor: g.CoinDivisor,
		LevelRule:   rt.rule,
		Location:    rt.cfg.App.Location,
		Events:      rt.events,
		Logger:      log,
		ReadRetry: retry.New(
			retry.WithMaxAttempts(g.ReadRetryAttempts),
			retry.WithInitialDelay(g.ReadRetryDelay),
			retry.WithMaxDelay(g.ReadRetryMaxDelay),
			retry.WithRetryIf(shared.IsRetryable),
			retry.WithOnRetry(func(err error, delay time.Duration) {
				log.Debug("retrying store read", logger.Duration("delay", delay), logger.Err(err))
			}),
		),
		OperationTimeout: g.OperationTimeout,
	}
}

// openSession starts a session for the --user flag.
func (rt *runtime) openSession(ctx context.Context, userID string) (*gamification.Session, error) {
	if userID == "" {
		return nil, errors.New("--user is required")
	}

	s, err := gamification.NewSession(userID, rt.backends, rt.sessionOptions())
	if err != nil {
		return nil, err
	}
	if out := s.Start(ctx); !out.OK() {
		_ = s.Close()
		return nil, outcomeError{out}
	}
	return s, nil
}

// withSession opens a runtime and a session, runs fn and tears both down.
func withSession(ctx context.Context, opts *rootOptions, fn func(rt *runtime, s *gamification.Session) error) error {
	rt, cleanup, err := openRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := rt.openSession(ctx, opts.userID)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(rt, s)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG FILES
// ══════════════════════════════════════════════════════════════════════════════

type catalogFile struct {
	Items []catalogFileItem `yaml:"items"`
}

type catalogFileItem struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Cost          int    `yaml:"cost"`
	MinLevel      int    `yaml:"min_level"`
	CosmeticStyle string `yaml:"cosmetic_style"`
	Active        *bool  `yaml:"active"`
}

// loadCatalogFile reads shop items from YAML. Items are active unless the
// file says otherwise.
func loadCatalogFile(path string) ([]*shop.Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}

	items := make([]*shop.Item, 0, len(file.Items))
	for _, fi := range file.Items {
		it := &shop.Item{
			ID:            fi.ID,
			Name:          fi.Name,
			Description:   fi.Description,
			Cost:          fi.Cost,
			MinLevel:      fi.MinLevel,
			CosmeticStyle: fi.CosmeticStyle,
			Active:        fi.Active == nil || *fi.Active,
		}
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("catalog file %s: item %q: %w", path, fi.ID, err)
		}
		items = append(items, it)
	}
	return items, nil
}
