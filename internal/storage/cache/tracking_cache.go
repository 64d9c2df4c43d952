// Package cache содержит Redis-кэш поверх хранилищ заказов.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

// storeNewer пишет заказ в hash по ключу, если там нет версии не меньше ARGV[1].
var storeNewer = redis.NewScript(`
local cached = tonumber(redis.call('HGET', KEYS[1], 'version'))
if cached and cached >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'order', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

const (
	defaultKeyPrefix = "foodoms:order:token:"
	defaultTTL       = 30 * time.Second
	redisOpTimeout   = 200 * time.Millisecond
)

// Option настраивает TrackingCache.
type Option func(*TrackingCache)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *TrackingCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(c *TrackingCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(c *TrackingCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// TrackingCache кэширует публичный поиск заказа по токену.
// Остальные операции делегируются обёрнутому репозиторию; Save кладёт в кэш сохранённую версию.
// Запись заказа в Redis не заменяет более новую версию, поэтому запоздавший читатель
// не вернёт в кэш устаревший статус.
// Ошибки Redis не ломают запрос: поиск уходит в основное хранилище.
type TrackingCache struct {
	next   domain.OrderRepository
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

// NewTrackingCache оборачивает репозиторий заказов.
func NewTrackingCache(next domain.OrderRepository, client *redis.Client, opts ...Option) *TrackingCache {
	c := &TrackingCache{
		next:   next,
		client: client,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: log.WithField("component", "tracking-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient подключается к Redis по URL и проверяет соединение.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (c *TrackingCache) Create(order domain.Order) error {
	return c.next.Create(order)
}

func (c *TrackingCache) Get(id string) (domain.Order, error) {
	return c.next.Get(id)
}

// GetByToken сначала смотрит в Redis, при промахе читает хранилище и кладёт результат в кэш.
func (c *TrackingCache) GetByToken(token string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	key := c.prefix + token
	raw, err := c.client.HGet(ctx, key, "order").Bytes()
	switch {
	case err == nil:
		var order domain.Order
		if err := json.Unmarshal(raw, &order); err == nil {
			return order, nil
		}
		c.logger.WithField("token", token).Warn("corrupted tracking cache entry, dropping")
		_ = c.client.Del(ctx, key).Err()
	case errors.Is(err, redis.Nil):
	default:
		c.logger.WithError(err).Warn("tracking cache read failed")
	}

	order, err := c.next.GetByToken(token)
	if err != nil {
		return domain.Order{}, err
	}
	if err := c.store(ctx, key, order); err != nil {
		c.logger.WithError(err).Warn("tracking cache write failed")
	}
	return order, nil
}

// store кладёт заказ в кэш, если там нет версии новее.
func (c *TrackingCache) store(ctx context.Context, key string, order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	return storeNewer.Run(ctx, c.client, []string{key}, order.Version, payload, c.ttl.Milliseconds()).Err()
}

func (c *TrackingCache) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	return c.next.ListByCustomer(customerID, limit)
}

func (c *TrackingCache) ListByOutlet(outletID string, limit int) ([]domain.Order, error) {
	return c.next.ListByOutlet(outletID, limit)
}

// Save сохраняет заказ и обновляет запись по его токену.
// Хранилище увеличивает версию на единицу, кэш получает ту же версию.
// Если Redis не принял новую версию, запись удаляется.
func (c *TrackingCache) Save(order domain.Order) error {
	if err := c.next.Save(order); err != nil {
		return err
	}
	if order.Token == "" {
		return nil
	}

	saved := order.Clone()
	saved.Version++

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	key := c.prefix + order.Token
	if err := c.store(ctx, key, saved); err != nil {
		c.logger.WithError(err).WithField("token", order.Token).Warn("tracking cache refresh failed, dropping entry")
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.WithError(err).WithField("token", order.Token).Warn("tracking cache invalidation failed")
		}
	}
	return nil
}

// Ping проверяет доступность Redis для readiness-проверок.
func (c *TrackingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

var _ domain.OrderRepository = (*TrackingCache)(nil)
