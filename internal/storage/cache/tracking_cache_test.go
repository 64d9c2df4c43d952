package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
	"github.com/vladislavdragonenkov/foodoms/internal/storage/memory"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// countingRepo считает обращения к GetByToken.
type countingRepo struct {
	domain.OrderRepository
	tokenCalls int
}

func (r *countingRepo) GetByToken(token string) (domain.Order, error) {
	r.tokenCalls++
	return r.OrderRepository.GetByToken(token)
}

func seededRepo(t *testing.T) *countingRepo {
	t.Helper()
	repo := &countingRepo{OrderRepository: memory.NewOrderRepository()}
	now := time.Now().UTC().Truncate(time.Second)
	err := repo.Create(domain.Order{
		ID:            "order-1",
		CustomerID:    "customer-1",
		OutletID:      "outlet-1",
		OutletName:    "Spice Route",
		Token:         "TKN-CACHE001",
		Items:         []domain.OrderItem{{ID: "i1", FoodItemID: "f1", FoodName: "Dosa", Qty: 1, SelectedIngredients: []string{}, TotalMinor: 9000, CreatedAt: now}},
		TotalMinor:    9000,
		Status:        domain.OrderStatusPlaced,
		PaymentMethod: domain.PaymentMethodUPI,
		PaymentStatus: domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return repo
}

func TestTrackingCache_HitAfterMiss(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := seededRepo(t)
	c := NewTrackingCache(repo, client, WithTTL(time.Minute))

	first, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	second, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}

	if repo.tokenCalls != 1 {
		t.Fatalf("expected one backend call, got %d", repo.tokenCalls)
	}
	if second.ID != first.ID || second.Status != domain.OrderStatusPlaced || second.Items[0].FoodName != "Dosa" {
		t.Fatalf("cached order differs: %+v", second)
	}
	if !mr.Exists(defaultKeyPrefix + "TKN-CACHE001") {
		t.Fatal("expected key in redis")
	}

	mr.FastForward(2 * time.Minute)
	if _, err := c.GetByToken("TKN-CACHE001"); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if repo.tokenCalls != 2 {
		t.Fatalf("expected backend call after ttl, got %d", repo.tokenCalls)
	}
}

func TestTrackingCache_SaveRefreshesEntry(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := seededRepo(t)
	c := NewTrackingCache(repo, client)

	order, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}

	order.Status = domain.OrderStatusReady
	if err := c.Save(order); err != nil {
		t.Fatalf("save: %v", err)
	}

	fresh, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("lookup after save: %v", err)
	}
	if fresh.Status != domain.OrderStatusReady || fresh.Version != 1 {
		t.Fatalf("expected READY at version 1, got %s at %d", fresh.Status, fresh.Version)
	}
	if repo.tokenCalls != 1 {
		t.Fatalf("lookup after save must be served from cache, backend calls %d", repo.tokenCalls)
	}

	stored, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Version != fresh.Version {
		t.Fatalf("cache version %d differs from store version %d", fresh.Version, stored.Version)
	}
}

// lateReader отдаёт заказ, прочитанный до того, как onRead успел его обновить.
type lateReader struct {
	domain.OrderRepository
	onRead func()
}

func (r *lateReader) GetByToken(token string) (domain.Order, error) {
	order, err := r.OrderRepository.GetByToken(token)
	if r.onRead != nil {
		hook := r.onRead
		r.onRead = nil
		hook()
	}
	return order, err
}

func TestTrackingCache_LateReaderKeepsNewerStatus(t *testing.T) {
	_, client := setupTestRedis(t)
	repo := &lateReader{OrderRepository: seededRepo(t)}
	c := NewTrackingCache(repo, client, WithTTL(time.Hour))

	repo.onRead = func() {
		current, err := repo.Get("order-1")
		if err != nil {
			t.Errorf("get: %v", err)
			return
		}
		current.Status = domain.OrderStatusPreparing
		if err := c.Save(current); err != nil {
			t.Errorf("save: %v", err)
		}
	}

	stale, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stale.Status != domain.OrderStatusPlaced {
		t.Fatalf("reader must see the order it read, got %s", stale.Status)
	}

	cached, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if cached.Status != domain.OrderStatusPreparing {
		t.Fatalf("stale read overwrote the cache: got %s", cached.Status)
	}
}

func TestTrackingCache_StoreKeepsHighestVersion(t *testing.T) {
	_, client := setupTestRedis(t)
	c := NewTrackingCache(seededRepo(t), client)
	ctx := context.Background()
	key := defaultKeyPrefix + "TKN-CACHE001"

	for _, v := range []int64{3, 1, 2} {
		if err := c.store(ctx, key, domain.Order{ID: "order-1", Token: "TKN-CACHE001", Version: v}); err != nil {
			t.Fatalf("store version %d: %v", v, err)
		}
	}

	order, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if order.Version != 3 {
		t.Fatalf("expected version 3 to win, got %d", order.Version)
	}
}

func TestTrackingCache_MissingOrderNotCached(t *testing.T) {
	mr, client := setupTestRedis(t)
	c := NewTrackingCache(seededRepo(t), client)

	if _, err := c.GetByToken("TKN-NOPE"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if mr.Exists(defaultKeyPrefix + "TKN-NOPE") {
		t.Fatal("not-found result must not be cached")
	}
}

func TestTrackingCache_RedisDownFallsBack(t *testing.T) {
	mr, client := setupTestRedis(t)
	repo := seededRepo(t)
	c := NewTrackingCache(repo, client)
	mr.Close()

	order, err := c.GetByToken("TKN-CACHE001")
	if err != nil {
		t.Fatalf("lookup with redis down: %v", err)
	}
	if order.ID != "order-1" {
		t.Fatalf("unexpected order %s", order.ID)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestNewClient(t *testing.T) {
	mr, _ := setupTestRedis(t)

	client, err := NewClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_ = client.Close()

	if _, err := NewClient(context.Background(), "://bad"); err == nil {
		t.Fatal("expected parse error")
	}
}
