package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/foodoms/internal/health"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/cache"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies(memory) failed: %v", err)
	}
	if deps.carts == nil || deps.repo == nil || deps.checkout == nil || deps.catalog == nil {
		t.Fatal("cart and order stores must be initialized")
	}
	if deps.outboxRepo == nil || deps.timelineRepo == nil || deps.idempotencyRepo == nil {
		t.Fatal("side stores must be initialized")
	}
	if deps.storageChecker.Check().Status != healthcheck.StatusHealthy {
		t.Fatal("memory storage must report healthy")
	}
	if deps.cacheChecker != nil {
		t.Fatal("cache checker must be absent without redis")
	}
	deps.close(log.WithField("test", "memory-storage"))
}

func TestInitRuntimeDependencies_MemoryCatalogFile(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		CatalogFile:   filepath.Join("..", "..", "configs", "catalog.yaml"),
	}, log.WithField("test", "memory-catalog"))
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	if _, err := deps.catalog.Outlet("outlet-spice-route"); err != nil {
		t.Fatalf("seeded outlet missing: %v", err)
	}

	_, err = initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		CatalogFile:   "missing.yaml",
	}, log.WithField("test", "memory-catalog"))
	if err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	if err == nil {
		t.Fatal("expected error when postgres driver is selected without DSN")
	}
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	if err == nil {
		t.Fatal("expected error for unsupported storage driver")
	}
}

func TestInitRuntimeDependencies_RedisTrackingCache(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := log.WithField("test", "redis")

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		RedisURL:      "redis://" + mr.Addr() + "/0",
	}, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	defer deps.close(logger)

	if _, ok := deps.repo.(*cache.TrackingCache); !ok {
		t.Fatalf("expected tracking cache, got %T", deps.repo)
	}
	if deps.cacheChecker == nil || deps.cacheChecker.Check().Status != healthcheck.StatusHealthy {
		t.Fatal("expected healthy redis checker")
	}

	mr.Close()
	if deps.cacheChecker.Check().Status != healthcheck.StatusUnhealthy {
		t.Fatal("expected unhealthy redis checker after shutdown")
	}
}

func TestInitRuntimeDependencies_RedisDownIsTolerated(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		RedisURL:      "redis://" + addr + "/0",
	}, log.WithField("test", "redis-down"))
	if err != nil {
		t.Fatalf("redis outage must not fail startup: %v", err)
	}
	if _, ok := deps.repo.(*cache.TrackingCache); ok {
		t.Fatal("tracking cache must be skipped when redis is down")
	}
}
