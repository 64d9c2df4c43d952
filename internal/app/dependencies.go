package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/foodoms/internal/health"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/cache"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/memory"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/postgres"
)

const storagePingTimeout = 2 * time.Second

// runtimeDependencies — хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	carts           domain.CartRepository
	repo            domain.OrderRepository
	checkout        domain.CheckoutStore
	catalog         domain.Catalog
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	// cacheChecker задан, только если заказы читаются через Redis.
	cacheChecker healthcheck.Checker
	closeFn      func() error
}

// initRuntimeDependencies открывает хранилище, засевает каталог и подключает кэш трекинга.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory, "":
		deps, err = initMemoryStorage(cfg)
	case StorageDriverPostgres:
		deps, err = initPostgresStorage(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisURL != "" {
		attachTrackingCache(ctx, cfg, deps, logger)
	}
	return deps, nil
}

func initMemoryStorage(cfg Config) (*runtimeDependencies, error) {
	catalog := memory.NewCatalog(nil, nil)
	if cfg.CatalogFile != "" {
		loaded, err := memory.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	carts := memory.NewCartRepository()
	orders := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	return &runtimeDependencies{
		carts:           carts,
		repo:            orders,
		checkout:        memory.NewCheckoutStore(carts, orders, outbox, timeline),
		catalog:         catalog,
		outboxRepo:      outbox,
		timelineRepo:    timeline,
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewSimpleChecker("memory", func() error { return nil }),
	}, nil
}

func initPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("postgres storage requires OMS_POSTGRES_DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres schema: %w", err)
		}
		logger.Info("postgres schema is up to date")
	}

	catalog := postgres.NewCatalogRepository(store)
	if cfg.CatalogFile != "" {
		fixture, err := memory.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		outlets, foods := fixture.Snapshot()
		if err := catalog.Seed(ctx, outlets, foods); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		logger.WithFields(log.Fields{"outlets": len(outlets), "food_items": len(foods)}).Info("catalog seeded")
	}

	return &runtimeDependencies{
		carts:           postgres.NewCartRepository(store),
		repo:            postgres.NewOrderRepository(store),
		checkout:        postgres.NewCheckoutStore(store),
		catalog:         catalog,
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("postgres", store, storagePingTimeout),
		closeFn:         store.Close,
	}, nil
}

// attachTrackingCache оборачивает репозиторий заказов Redis-кэшем. Недоступный Redis не мешает старту.
func attachTrackingCache(ctx context.Context, cfg Config, deps *runtimeDependencies, logger *log.Entry) {
	client, err := cache.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("redis is unavailable, tracking cache disabled")
		return
	}

	tracking := cache.NewTrackingCache(deps.repo, client,
		cache.WithTTL(cfg.TrackingCacheTTL),
		cache.WithLogger(logger.WithField("layer", "tracking-cache")),
	)
	deps.repo = tracking
	deps.cacheChecker = healthcheck.NewPingChecker("redis", tracking, storagePingTimeout)

	closeStorage := deps.closeFn
	deps.closeFn = func() error {
		cacheErr := client.Close()
		if closeStorage != nil {
			return errors.Join(closeStorage(), cacheErr)
		}
		return cacheErr
	}
	logger.Info("tracking cache enabled")
}

// close освобождает хранилища.
func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
