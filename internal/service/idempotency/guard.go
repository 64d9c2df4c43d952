// Package idempotency защищает изменяющие операции от повторного выполнения
// по ключу идемпотентности и чистит просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

const defaultKeyTTL = 24 * time.Hour

// Виды сохранённых ошибок.
const (
	KindNotFound        = "not_found"
	KindInvalidState    = "invalid_state"
	KindVersionConflict = "version_conflict"
	KindInternal        = "internal"
)

var (
	// ErrRequestInProgress — запрос с тем же ключом ещё выполняется.
	ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrCorruptedRecord — сохранённый ответ не удалось разобрать.
	ErrCorruptedRecord = errors.New("idempotency record is corrupted")
)

var idempotencyReplaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "foodoms_idempotency_replays_total",
	Help: "Requests answered from the idempotency store grouped by outcome.",
}, []string{"outcome"})

// ReplayedError воспроизводит ошибку первого выполнения запроса.
// errors.Is сопоставляет её с доменной категорией по виду и с конкретной
// ошибкой той же категории по тексту.
type ReplayedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *ReplayedError) Error() string {
	return e.Message
}

// Is реализует сопоставление с доменными ошибками.
func (e *ReplayedError) Is(target error) bool {
	var category error
	switch e.Kind {
	case KindNotFound:
		category = domain.ErrNotFound
	case KindInvalidState:
		category = domain.ErrInvalidState
	case KindVersionConflict:
		category = domain.ErrOrderVersionConflict
	default:
		return false
	}
	if target == category {
		return true
	}
	return errors.Is(target, category) && target.Error() == e.Message
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Guard хранит результаты операций по ключу идемпотентности.
// Nil Guard и пустой ключ выполняют операцию без защиты.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultKeyTTL,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithField("component", "idempotency-guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute выполняет fn не более одного раза для пары (key, request).
// Повтор с тем же телом получает сохранённый ответ или ошибку,
// повтор с другим телом получает domain.ErrIdempotencyHashMismatch.
func Execute[T any](ctx context.Context, g *Guard, key, method string, request any, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	key = strings.TrimSpace(key)
	if g == nil || g.repo == nil || key == "" {
		return fn(ctx)
	}

	hash, err := RequestHash(method, request)
	if err != nil {
		return zero, fmt.Errorf("hash idempotent request: %w", err)
	}

	record, err := g.repo.CreateProcessing(key, hash, g.now().Add(g.ttl))
	if err != nil {
		return replay[T](g, err, record)
	}

	resp, runErr := fn(ctx)
	if runErr != nil {
		g.storeFailure(key, runErr)
		return resp, runErr
	}

	body, err := json.Marshal(resp)
	if err == nil {
		err = g.repo.MarkDone(key, body, http.StatusOK)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	return resp, nil
}

func replay[T any](g *Guard, createErr error, record domain.IdempotencyRecord) (T, error) {
	var zero T

	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		idempotencyReplaysTotal.WithLabelValues("mismatch").Inc()
		return zero, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return zero, fmt.Errorf("create idempotency record: %w", createErr)
	}

	switch record.Status {
	case domain.IdempotencyStatusProcessing:
		idempotencyReplaysTotal.WithLabelValues("in_progress").Inc()
		return zero, ErrRequestInProgress
	case domain.IdempotencyStatusDone:
		var resp T
		if err := json.Unmarshal(record.ResponseBody, &resp); err != nil {
			g.logger.WithError(err).WithField("idempotency_key", record.Key).Warn("failed to decode cached idempotency response")
			return zero, ErrCorruptedRecord
		}
		idempotencyReplaysTotal.WithLabelValues("done").Inc()
		return resp, nil
	case domain.IdempotencyStatusFailed:
		idempotencyReplaysTotal.WithLabelValues("failed").Inc()
		return zero, decodeFailure(record)
	default:
		return zero, ErrCorruptedRecord
	}
}

func (g *Guard) storeFailure(key string, runErr error) {
	failure := ReplayedError{Kind: KindOf(runErr), Message: runErr.Error()}
	payload, err := json.Marshal(failure)
	if err != nil {
		payload = nil
	}
	if err := g.repo.MarkFailed(key, payload, statusForKind(failure.Kind)); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}

func decodeFailure(record domain.IdempotencyRecord) error {
	var failure ReplayedError
	if err := json.Unmarshal(record.ResponseBody, &failure); err != nil || failure.Kind == "" {
		return &ReplayedError{Kind: KindInternal, Message: "previous request with the same idempotency key failed"}
	}
	return &failure
}

// KindOf классифицирует ошибку для сохранения.
func KindOf(err error) string {
	switch {
	case domain.IsNotFound(err):
		return KindNotFound
	case domain.IsInvalidState(err):
		return KindInvalidState
	case domain.IsVersionConflict(err):
		return KindVersionConflict
	default:
		return KindInternal
	}
}

func statusForKind(kind string) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusBadRequest
	case KindVersionConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RequestHash считает sha256 от имени метода и JSON-представления запроса.
func RequestHash(method string, request any) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, len(method)+1+len(data))
	payload = append(payload, method...)
	payload = append(payload, ':')
	payload = append(payload, data...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
