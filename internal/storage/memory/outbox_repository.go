package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/foodoms/internal/domain"
)

const defaultOutboxBatch = 100

// outboxEntry — сообщение с состоянием доставки. Порядок очереди задаёт позиция в OutboxRepository.log.
type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	createdAt time.Time
	updatedAt time.Time
}

// OutboxRepository — очередь событий outbox в памяти процесса.
type OutboxRepository struct {
	mu  sync.RWMutex
	log []*outboxEntry
	ids map[string]*outboxEntry
	now func() time.Time
}

// NewOutboxRepository создаёт пустую очередь.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		ids: make(map[string]*outboxEntry),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue ставит событие в конец очереди. Пустой ID заменяется на UUID.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry := &outboxEntry{msg: msg, status: domain.OutboxPending, createdAt: now, updatedAt: now}
	if prev, ok := r.ids[msg.ID]; ok {
		// Повторная постановка того же ID заменяет сообщение, сохраняя место в очереди.
		*prev = *entry
		return msg, nil
	}
	r.ids[msg.ID] = entry
	r.log = append(r.log, entry)
	return msg, nil
}

// PullPending возвращает до limit ожидающих сообщений в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}
	return r.pending(limit), nil
}

// AllPending возвращает всю очередь ожидающих сообщений.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	return r.pending(0)
}

// Stats считает ожидающие и упавшие сообщения.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.log {
		switch entry.status {
		case domain.OutboxPending:
			if stats.PendingCount == 0 {
				stats.OldestPendingAt = entry.createdAt
			}
			stats.PendingCount++
		case domain.OutboxFailed:
			stats.FailedCount++
		}
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, domain.OutboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, domain.OutboxFailed)
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.ids[id]
	if !ok {
		return domain.ErrOutboxMessageNotFound
	}
	entry.status = status
	entry.attempts++
	entry.updatedAt = r.now()
	return nil
}

// discard убирает из очереди сообщения откатившегося оформления заказа.
func (r *OutboxRepository) discard(ids []string) {
	if len(ids) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	drop := make(map[*outboxEntry]bool, len(ids))
	for _, id := range ids {
		if entry, ok := r.ids[id]; ok {
			drop[entry] = true
			delete(r.ids, id)
		}
	}
	r.log = slices.DeleteFunc(r.log, func(e *outboxEntry) bool { return drop[e] })
}

// pending собирает ожидающие сообщения; limit 0 снимает ограничение.
func (r *OutboxRepository) pending(limit int) []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.OutboxMessage
	for _, entry := range r.log {
		if entry.status != domain.OutboxPending {
			continue
		}
		out = append(out, entry.msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
