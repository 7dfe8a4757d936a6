// Package notify delivers verification codes to users. Delivery is
// fire-and-forget from the caller's point of view: tasks are queued in Redis
// and a background worker retries failed sends with backoff.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "postika:notify:verification"

// Task asks the worker to deliver a verification code to an address.
type Task struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Enqueuer is the narrow capability the verification service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task Task) error
}

// RedisQueue implements a simple list-backed task queue.
type RedisQueue struct {
	client redis.UniversalClient
}

var _ Enqueuer = (*RedisQueue)(nil)

// NewRedisQueue constructs a queue over the shared Redis client.
func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue pushes the task for asynchronous delivery.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode notify task: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notify task: %w", err)
	}
	return nil
}

// Dequeue blocks for up to the given timeout waiting for a task. It returns
// nil when the queue stayed empty.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue notify task: %w", err)
	}
	if len(res) != 2 {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decode notify task: %w", err)
	}
	return &task, nil
}
