package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ClareAI/astra-dialer-service/pkg/redis"
)

// DefaultDeliveryTTL bounds how long a processed webhook delivery is remembered
const DefaultDeliveryTTL = 24 * time.Hour

// DeliveryLedger remembers webhook deliveries that were fully processed
type DeliveryLedger interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	Mark(ctx context.Context, deliveryID string) error
}

// RedisDeliveryLedger shares the ledger between service instances
type RedisDeliveryLedger struct {
	redisSvc redis.RedisServiceInterface
	ttl      time.Duration
}

// NewRedisDeliveryLedger creates a Redis-backed ledger
func NewRedisDeliveryLedger(redisSvc redis.RedisServiceInterface, ttl time.Duration) *RedisDeliveryLedger {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &RedisDeliveryLedger{redisSvc: redisSvc, ttl: ttl}
}

// Seen reports whether deliveryID was marked
func (l *RedisDeliveryLedger) Seen(ctx context.Context, deliveryID string) (bool, error) {
	return l.redisSvc.Exists(ctx, l.redisSvc.GenerateKey(redis.WEBHOOK_DELIVERY, deliveryID))
}

// Mark records deliveryID as processed
func (l *RedisDeliveryLedger) Mark(ctx context.Context, deliveryID string) error {
	_, err := l.redisSvc.SetIfAbsent(ctx, l.redisSvc.GenerateKey(redis.WEBHOOK_DELIVERY, deliveryID), time.Now().UTC().Format(time.RFC3339), l.ttl)
	return err
}

// MemoryDeliveryLedger is a single-process ledger used when Redis is not configured
type MemoryDeliveryLedger struct {
	mu        sync.Mutex
	processed map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
}

// NewMemoryDeliveryLedger creates an in-process ledger
func NewMemoryDeliveryLedger(ttl time.Duration) *MemoryDeliveryLedger {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &MemoryDeliveryLedger{
		processed: make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Seen reports whether deliveryID was marked within the TTL
func (l *MemoryDeliveryLedger) Seen(ctx context.Context, deliveryID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	processedAt, ok := l.processed[deliveryID]
	if !ok {
		return false, nil
	}
	if l.now().Sub(processedAt) > l.ttl {
		delete(l.processed, deliveryID)
		return false, nil
	}
	return true, nil
}

// Mark records deliveryID and drops expired entries
func (l *MemoryDeliveryLedger) Mark(ctx context.Context, deliveryID string) error {
	if deliveryID == "" {
		return errors.New("delivery id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.processed[deliveryID] = now
	for key, processedAt := range l.processed {
		if now.Sub(processedAt) > l.ttl {
			delete(l.processed, key)
		}
	}
	return nil
}

// Len returns the number of remembered deliveries
func (l *MemoryDeliveryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed)
}
