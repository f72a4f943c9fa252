package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ClareAI/astra-dialer-service/pkg/logger"
	"github.com/ClareAI/astra-dialer-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	TaskQueue = "astra:dialer:call:tasks"

	dequeueWait  = 5 * time.Second
	retryBackoff = time.Second
)

// RedisBus implements the Bus interface on a Redis list. Every task is
// handled by exactly one subscribed instance.
type RedisBus struct {
	redisSvc redis.RedisServiceInterface
}

// NewRedisBus creates a new Redis-based task bus
func NewRedisBus(redisSvc redis.RedisServiceInterface) *RedisBus {
	return &RedisBus{redisSvc: redisSvc}
}

// Publish queues a task
func (b *RedisBus) Publish(ctx context.Context, task Task) error {
	logger.Debug(ctx, "Publishing task", zap.String("type", string(task.Type)), zap.String("call_id", task.CallID))
	return b.redisSvc.Enqueue(ctx, TaskQueue, task)
}

// Subscribe starts a consumer that pops tasks until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, handler func(context.Context, Task)) error {
	logger.Base().Info("Consuming call tasks", zap.String("queue", TaskQueue))
	go b.consume(ctx, handler)
	return nil
}

func (b *RedisBus) consume(ctx context.Context, handler func(context.Context, Task)) {
	for ctx.Err() == nil {
		payload, err := b.redisSvc.Dequeue(ctx, TaskQueue, dequeueWait)
		if errors.Is(err, redis.ErrKeyNotExist) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Base().Warn("Failed to pop task", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}

		var task Task
		if err := json.Unmarshal([]byte(payload), &task); err != nil {
			logger.Base().Error("Failed to unmarshal task payload", zap.Error(err))
			continue
		}
		handler(ctx, task)
	}
}

// LocalBus runs tasks in-process when no Redis is configured
type LocalBus struct {
	mu      sync.RWMutex
	handler func(context.Context, Task)
	ctx     context.Context
	wg      sync.WaitGroup
}

// NewLocalBus creates an in-process task bus
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Publish hands the task to the subscribed handler on its own goroutine
func (b *LocalBus) Publish(ctx context.Context, task Task) error {
	b.mu.RLock()
	handler, subCtx := b.handler, b.ctx
	b.mu.RUnlock()

	if handler == nil {
		return errors.New("no task subscriber registered")
	}
	if subCtx.Err() != nil {
		return subCtx.Err()
	}

	logger.Debug(ctx, "Dispatching local task", zap.String("type", string(task.Type)), zap.String("call_id", task.CallID))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		handler(subCtx, task)
	}()
	return nil
}

// Subscribe registers the handler. Only one handler is kept.
func (b *LocalBus) Subscribe(ctx context.Context, handler func(context.Context, Task)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	b.ctx = ctx
	return nil
}

// Wait blocks until all dispatched tasks returned
func (b *LocalBus) Wait() {
	b.wg.Wait()
}
