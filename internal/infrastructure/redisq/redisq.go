// Package redisq implements the durable queue contract on Redis: a waiting
// list, a delayed set keyed by availability time, and an active set keyed by
// visibility deadline. Entries abandoned past their deadline are redelivered,
// which gives at-least-once delivery across process restarts.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"

	"tabdigest/internal/queue"
)

const promoteBatch = 200

// RedisQ is a queue.Queue backed by a Redis client.
type RedisQ struct {
	rdb     *r.Client
	prefix  string
	guard   queue.PurgeGuard
	visTime time.Duration
	cap     time.Duration
}

// Option tweaks construction.
type Option func(*RedisQ)

// WithPurgeGuard installs the completed-entry purge veto.
func WithPurgeGuard(g queue.PurgeGuard) Option {
	return func(q *RedisQ) { q.guard = g }
}

// WithVisibilityTimeout overrides the redelivery deadline.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *RedisQ) { q.visTime = d }
}

// WithBackoffCap overrides the maximum retry delay.
func WithBackoffCap(d time.Duration) Option {
	return func(q *RedisQ) { q.cap = d }
}

var _ queue.Queue = (*RedisQ)(nil)

// New wires a Redis client under the given key prefix.
func New(rdb *r.Client, prefix string, opts ...Option) *RedisQ {
	if prefix == "" {
		prefix = "tabdigest"
	}
	q := &RedisQ{
		rdb:     rdb,
		prefix:  prefix,
		visTime: queue.DefaultVisibilityTimeout,
		cap:     queue.DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ping reports transport reachability for health checks.
func (q *RedisQ) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQ) key(name string) string { return q.prefix + ":" + name }

func (q *RedisQ) saveEntry(ctx context.Context, e *queue.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry %s: %w", e.ID, err)
	}
	if err := q.rdb.HSet(ctx, q.key("entries"), e.ID, raw).Err(); err != nil {
		return fmt.Errorf("save entry %s: %w", e.ID, err)
	}
	return nil
}

func (q *RedisQ) loadEntry(ctx context.Context, entryID string) (*queue.Entry, error) {
	raw, err := q.rdb.HGet(ctx, q.key("entries"), entryID).Result()
	if errors.Is(err, r.Nil) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load entry %s: %w", entryID, err)
	}
	var e queue.Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", entryID, err)
	}
	return &e, nil
}

func (q *RedisQ) Enqueue(ctx context.Context, summaryID string, opts queue.Options) (string, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = queue.DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = queue.DefaultBackoffBase
	}

	now := time.Now().UTC()
	e := &queue.Entry{
		ID:          uuid.NewString(),
		SummaryID:   summaryID,
		State:       queue.StateWaiting,
		MaxAttempts: opts.MaxAttempts,
		BackoffBase: opts.BackoffBase.Milliseconds(),
		EnqueuedAt:  now,
		AvailableAt: now.Add(opts.Delay),
	}
	if opts.Delay > 0 {
		e.State = queue.StateDelayed
	}

	if err := q.saveEntry(ctx, e); err != nil {
		return "", err
	}
	if e.State == queue.StateDelayed {
		err := q.rdb.ZAdd(ctx, q.key("delayed"), r.Z{Score: float64(e.AvailableAt.UnixMilli()), Member: e.ID}).Err()
		if err != nil {
			return "", fmt.Errorf("schedule entry %s: %w", e.ID, err)
		}
		return e.ID, nil
	}
	if err := q.rdb.LPush(ctx, q.key("waiting"), e.ID).Err(); err != nil {
		return "", fmt.Errorf("push entry %s: %w", e.ID, err)
	}
	return e.ID, nil
}

func (q *RedisQ) Dequeue(ctx context.Context) (*queue.Entry, error) {
	paused, err := q.rdb.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, fmt.Errorf("check paused: %w", err)
	}
	if paused > 0 {
		return nil, queue.ErrEmpty
	}

	now := time.Now().UTC()
	if err := q.promoteDue(ctx, now); err != nil {
		return nil, err
	}
	if err := q.reclaimExpired(ctx, now); err != nil {
		return nil, err
	}

	id, err := q.rdb.RPop(ctx, q.key("waiting")).Result()
	if errors.Is(err, r.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop waiting: %w", err)
	}

	e, err := q.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	started := now
	e.State = queue.StateActive
	e.StartedAt = &started
	e.AttemptsMade++
	if err := q.saveEntry(ctx, e); err != nil {
		return nil, err
	}
	deadline := now.Add(q.visTime)
	if err := q.rdb.ZAdd(ctx, q.key("active"), r.Z{Score: float64(deadline.UnixMilli()), Member: e.ID}).Err(); err != nil {
		return nil, fmt.Errorf("lease entry %s: %w", e.ID, err)
	}
	return e, nil
}

// promoteDue moves due delayed entries onto the waiting list.
func (q *RedisQ) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Offset: 0, Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, q.key("waiting"), id)
		pipe.ZRem(ctx, q.key("delayed"), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}

	for _, id := range ids {
		e, err := q.loadEntry(ctx, id)
		if err != nil {
			continue
		}
		e.State = queue.StateWaiting
		_ = q.saveEntry(ctx, e)
	}
	return nil
}

// reclaimExpired requeues abandoned leases; the crashed delivery consumed an
// attempt, so exhausted entries go straight to failed.
func (q *RedisQ) reclaimExpired(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("active"), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10), Offset: 0, Count: promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan active: %w", err)
	}

	for _, id := range ids {
		e, err := q.loadEntry(ctx, id)
		if err != nil {
			_ = q.rdb.ZRem(ctx, q.key("active"), id).Err()
			continue
		}
		e.StartedAt = nil
		if e.AttemptsMade >= e.MaxAttempts {
			finished := now
			e.State = queue.StateFailed
			e.FinishedAt = &finished
			if e.LastError == "" {
				e.LastError = "visibility timeout expired"
			}
			if err := q.saveEntry(ctx, e); err != nil {
				return err
			}
			pipe := q.rdb.TxPipeline()
			pipe.ZRem(ctx, q.key("active"), id)
			pipe.ZAdd(ctx, q.key("failed"), r.Z{Score: float64(now.UnixMilli()), Member: id})
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("fail expired %s: %w", id, err)
			}
			continue
		}
		e.State = queue.StateWaiting
		if err := q.saveEntry(ctx, e); err != nil {
			return err
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key("active"), id)
		pipe.LPush(ctx, q.key("waiting"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("requeue expired %s: %w", id, err)
		}
	}
	return nil
}

func (q *RedisQ) Ack(ctx context.Context, entryID string) error {
	e, err := q.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.State != queue.StateActive {
		return fmt.Errorf("ack entry %s in state %s", entryID, e.State)
	}
	now := time.Now().UTC()
	e.State = queue.StateCompleted
	e.FinishedAt = &now
	if err := q.saveEntry(ctx, e); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("active"), entryID)
	pipe.ZAdd(ctx, q.key("completed"), r.Z{Score: float64(now.UnixMilli()), Member: entryID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ack entry %s: %w", entryID, err)
	}
	return nil
}

func (q *RedisQ) Nack(ctx context.Context, entryID string, cause error) error {
	e, err := q.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.State != queue.StateActive {
		return fmt.Errorf("nack entry %s in state %s", entryID, e.State)
	}
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.StartedAt = nil
	now := time.Now().UTC()

	if e.AttemptsMade >= e.MaxAttempts {
		e.State = queue.StateFailed
		e.FinishedAt = &now
		if err := q.saveEntry(ctx, e); err != nil {
			return err
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key("active"), entryID)
		pipe.ZAdd(ctx, q.key("failed"), r.Z{Score: float64(now.UnixMilli()), Member: entryID})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("fail entry %s: %w", entryID, err)
		}
		return nil
	}

	delay := queue.Backoff(time.Duration(e.BackoffBase)*time.Millisecond, e.AttemptsMade, q.cap)
	e.AvailableAt = now.Add(delay)
	e.State = queue.StateDelayed
	if err := q.saveEntry(ctx, e); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("active"), entryID)
	pipe.ZAdd(ctx, q.key("delayed"), r.Z{Score: float64(e.AvailableAt.UnixMilli()), Member: entryID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reschedule entry %s: %w", entryID, err)
	}
	return nil
}

func (q *RedisQ) Pause(ctx context.Context) error {
	if err := q.rdb.Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return nil
}

func (q *RedisQ) Resume(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.key("paused")).Err(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func (q *RedisQ) Stats(ctx context.Context) (queue.Stats, error) {
	pipe := q.rdb.Pipeline()
	waiting := pipe.LLen(ctx, q.key("waiting"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	active := pipe.ZCard(ctx, q.key("active"))
	completed := pipe.ZCard(ctx, q.key("completed"))
	failed := pipe.ZCard(ctx, q.key("failed"))
	paused := pipe.Exists(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil {
		return queue.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return queue.Stats{
		Waiting:   int(waiting.Val()),
		Delayed:   int(delayed.Val()),
		Active:    int(active.Val()),
		Completed: int(completed.Val()),
		Failed:    int(failed.Val()),
		Paused:    paused.Val() > 0,
	}, nil
}

func (q *RedisQ) ListActive(ctx context.Context) ([]queue.Entry, error) {
	return q.listSet(ctx, "active")
}

func (q *RedisQ) ListFailed(ctx context.Context) ([]queue.Entry, error) {
	return q.listSet(ctx, "failed")
}

func (q *RedisQ) listSet(ctx context.Context, name string) ([]queue.Entry, error) {
	ids, err := q.rdb.ZRange(ctx, q.key(name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	out := make([]queue.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := q.loadEntry(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (q *RedisQ) Get(ctx context.Context, entryID string) (*queue.Entry, error) {
	return q.loadEntry(ctx, entryID)
}

func (q *RedisQ) Retry(ctx context.Context, entryID string) error {
	e, err := q.loadEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if e.State != queue.StateFailed {
		return nil
	}

	now := time.Now().UTC()
	fresh := &queue.Entry{
		ID:          uuid.NewString(),
		SummaryID:   e.SummaryID,
		State:       queue.StateWaiting,
		MaxAttempts: e.MaxAttempts,
		BackoffBase: e.BackoffBase,
		EnqueuedAt:  now,
		AvailableAt: now,
	}
	if err := q.saveEntry(ctx, fresh); err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.key("failed"), entryID)
	pipe.HDel(ctx, q.key("entries"), entryID)
	pipe.LPush(ctx, q.key("waiting"), fresh.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("retry entry %s: %w", entryID, err)
	}
	return nil
}

func (q *RedisQ) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("completed"), &r.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan completed: %w", err)
	}

	purged := 0
	for _, id := range ids {
		if q.guard != nil {
			e, err := q.loadEntry(ctx, id)
			if err != nil {
				continue
			}
			ok, err := q.guard(ctx, e.SummaryID)
			if err != nil {
				return purged, fmt.Errorf("purge guard for %s: %w", id, err)
			}
			if !ok {
				continue
			}
		}
		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.key("completed"), id)
		pipe.HDel(ctx, q.key("entries"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("purge entry %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}
