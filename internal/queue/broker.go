package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queuePrefix   = "dtq:queue"
	scheduledKey  = "dtq:scheduled"
	processingKey = "dtq:processing"
	resultsPrefix = "dtq:results"
	failedPrefix  = "dtq:failed"
)

func queueKey(name string) string { return fmt.Sprintf("%s:%s", queuePrefix, name) }
func taskKey(id string) string    { return fmt.Sprintf("%s:task:%s", queuePrefix, id) }
func resultKey(id string) string  { return fmt.Sprintf("%s:result:%s", resultsPrefix, id) }
func failedKey(id string) string  { return fmt.Sprintf("%s:failed:%s", failedPrefix, id) }

// BrokerConfig configures a RedisBroker. Mirrors spec.md §6's "Queue config".
type BrokerConfig struct {
	DefaultQueue    string
	ResultTTL       time.Duration
	FailedTTL       time.Duration
	CleanupInterval time.Duration
}

// DefaultBrokerConfig matches original_source/src/queue.rs's TaskQueueConfig::default().
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		DefaultQueue:    "default",
		ResultTTL:       24 * time.Hour,
		FailedTTL:       7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Stats reports the cardinalities of a queue's three logical sets.
type Stats struct {
	Queue      string `json:"queue"`
	Pending    int64  `json:"pending"`
	Processing int64  `json:"processing"`
	Scheduled  int64  `json:"scheduled"`
}

// Broker is the sole component that speaks to the key-value store.
type Broker interface {
	Submit(ctx context.Context, t *Task) error
	SubmitScheduled(ctx context.Context, t *Task) error
	GetNext(ctx context.Context, queueName string) (*Task, error)
	MarkCompleted(ctx context.Context, t *Task) error
	MarkFailed(ctx context.Context, t *Task) error
	Requeue(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ProcessScheduled(ctx context.Context) (int64, error)
	GetStats(ctx context.Context, queueName string) (*Stats, error)
	ListQueues(ctx context.Context) ([]string, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

// RedisBroker implements Broker against a Redis-compatible store.
type RedisBroker struct {
	client      redis.UniversalClient
	cfg         BrokerConfig
	claimScript *redis.Script
}

// NewRedisBroker wires a RedisBroker. cfg fields left at their zero value
// fall back to DefaultBrokerConfig().
func NewRedisBroker(client redis.UniversalClient, cfg BrokerConfig) *RedisBroker {
	defaults := DefaultBrokerConfig()
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = defaults.DefaultQueue
	}
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = defaults.ResultTTL
	}
	if cfg.FailedTTL == 0 {
		cfg.FailedTTL = defaults.FailedTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}

	return &RedisBroker{
		client: client,
		cfg:    cfg,
		// Atomically pop the highest-scored member of the queue set and move
		// it into the processing set scored by the claim time. Using a
		// script closes the read-then-remove race the source implementation
		// has (original_source/src/queue.rs::get_next_task) and satisfies
		// the single-claim testable property.
		claimScript: redis.NewScript(`
local member = redis.call('ZPOPMAX', KEYS[1])
if #member == 0 then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], member[1])
return member[1]
`),
	}
}

func (b *RedisBroker) resolveQueue(name string) string {
	if name == "" {
		return b.cfg.DefaultQueue
	}
	return name
}

// Submit writes a task to its queue's pending set and to the task index,
// pipelined as a single round trip.
func (b *RedisBroker) Submit(ctx context.Context, t *Task) error {
	if strings.Contains(t.Queue, ":") {
		return NewError(KindConfiguration, "submit: queue name %q may not contain ':'", t.Queue)
	}
	t.Queue = b.resolveQueue(t.Queue)

	payload, err := json.Marshal(t)
	if err != nil {
		return WrapError(KindSerialization, err, "submit: marshal task %s", t.ID)
	}

	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, queueKey(t.Queue), redis.Z{Score: float64(t.Priority), Member: payload})
	pipe.HSet(ctx, taskKey(t.ID.String()), "data", payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return WrapError(KindBrokerTransport, err, "submit: pipeline exec for task %s", t.ID)
	}
	return nil
}

// SubmitScheduled writes a task to the scheduled set, scored by its due time.
func (b *RedisBroker) SubmitScheduled(ctx context.Context, t *Task) error {
	if t.ScheduledAt == nil {
		return NewError(KindConfiguration, "submit_scheduled: task %s has no scheduled_at", t.ID)
	}
	if strings.Contains(t.Queue, ":") {
		return NewError(KindConfiguration, "submit_scheduled: queue name %q may not contain ':'", t.Queue)
	}
	t.Queue = b.resolveQueue(t.Queue)

	payload, err := json.Marshal(t)
	if err != nil {
		return WrapError(KindSerialization, err, "submit_scheduled: marshal task %s", t.ID)
	}

	pipe := b.client.TxPipeline()
	pipe.ZAdd(ctx, scheduledKey, redis.Z{Score: float64(t.ScheduledAt.Unix()), Member: payload})
	pipe.HSet(ctx, taskKey(t.ID.String()), "data", payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return WrapError(KindBrokerTransport, err, "submit_scheduled: pipeline exec for task %s", t.ID)
	}
	return nil
}

// GetNext atomically claims the highest-priority task from the named queue.
// Returns (nil, nil) if the queue is empty.
func (b *RedisBroker) GetNext(ctx context.Context, queueName string) (*Task, error) {
	res, err := b.claimScript.Run(ctx, b.client, []string{queueKey(queueName), processingKey}, time.Now().UTC().Unix()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, WrapError(KindBrokerTransport, err, "get_next: claim script on queue %s", queueName)
	}

	payload, ok := res.(string)
	if !ok {
		// The script returned false (Lua) -> nil interface{} via go-redis, or
		// boolean false decoded as nil; either way the queue was empty.
		return nil, nil
	}

	var t Task
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return nil, WrapError(KindSerialization, err, "get_next: unmarshal claimed task on queue %s", queueName)
	}
	return &t, nil
}

// MarkCompleted removes the task from processing and writes a result mirror.
func (b *RedisBroker) MarkCompleted(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return WrapError(KindSerialization, err, "mark_completed: marshal task %s", t.ID)
	}
	return b.mirrorTerminal(ctx, t, raw, resultKey(t.ID.String()), b.cfg.ResultTTL)
}

// mirrorTerminal removes the task's own serialized copy from processing
// (matched by task id, since the processing member is the JSON blob at
// claim time, not the now-updated one), then writes the terminal mirror with
// its TTL and refreshes the task index. The removal is its own scan and
// ZREM; the mirror write, TTL and index refresh share one pipeline.
func (b *RedisBroker) mirrorTerminal(ctx context.Context, t *Task, raw []byte, mirrorKey string, ttl time.Duration) error {
	if err := b.removeFromProcessing(ctx, t.ID.String()); err != nil {
		return err
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, mirrorKey, "data", raw)
	pipe.Expire(ctx, mirrorKey, ttl)
	pipe.HSet(ctx, taskKey(t.ID.String()), "data", raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return WrapError(KindBrokerTransport, err, "mirror terminal state for task %s", t.ID)
	}
	return nil
}

// removeFromProcessing scans dtq:processing for the member whose embedded
// task id matches and removes it. The processing set stores whole task
// JSON blobs (so ZREM needs the exact member), and the copy living there
// was claimed before the task's in-memory status changed; a plain ZREM by
// value would miss it, so this matches by decoding each member.
func (b *RedisBroker) removeFromProcessing(ctx context.Context, id string) error {
	members, err := b.client.ZRange(ctx, processingKey, 0, -1).Result()
	if err != nil {
		return WrapError(KindBrokerTransport, err, "scan processing set for task %s", id)
	}
	for _, m := range members {
		var probe Task
		if err := json.Unmarshal([]byte(m), &probe); err != nil {
			continue
		}
		if probe.ID.String() == id {
			if err := b.client.ZRem(ctx, processingKey, m).Err(); err != nil {
				return WrapError(KindBrokerTransport, err, "zrem processing member for task %s", id)
			}
			return nil
		}
	}
	return nil
}

// MarkFailed removes the task from processing and writes a failed mirror.
func (b *RedisBroker) MarkFailed(ctx context.Context, t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return WrapError(KindSerialization, err, "mark_failed: marshal task %s", t.ID)
	}
	return b.mirrorTerminal(ctx, t, raw, failedKey(t.ID.String()), b.cfg.FailedTTL)
}

// Requeue writes the task back to the scheduled set (if scheduled_at is
// set, i.e. a retry with backoff) or to its pending queue. It also removes
// the stale claimed copy from processing itself, rather than leaving that
// to cleanup_expired — the fix for design note (c).
func (b *RedisBroker) Requeue(ctx context.Context, t *Task) error {
	if err := b.removeFromProcessing(ctx, t.ID.String()); err != nil {
		return err
	}
	if t.ScheduledAt != nil {
		return b.SubmitScheduled(ctx, t)
	}
	return b.Submit(ctx, t)
}

// GetTask reads a task's latest canonical form by id.
func (b *RedisBroker) GetTask(ctx context.Context, id string) (*Task, error) {
	raw, err := b.client.HGet(ctx, taskKey(id), "data").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, NewError(KindTaskNotFound, "get_task: no task with id %s", id)
		}
		return nil, WrapError(KindBrokerTransport, err, "get_task: hget for %s", id)
	}

	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, WrapError(KindSerialization, err, "get_task: unmarshal %s", id)
	}
	return &t, nil
}

// ProcessScheduled moves every due entry from the scheduled set into its
// queue's pending set, and returns the count moved.
func (b *RedisBroker) ProcessScheduled(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Unix()
	due, err := b.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return 0, WrapError(KindBrokerTransport, err, "process_scheduled: zrangebyscore")
	}

	var moved int64
	for _, raw := range due {
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		t.Status = StatusPending
		t.UpdatedAt = time.Now().UTC()

		updated, err := json.Marshal(&t)
		if err != nil {
			continue
		}

		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, scheduledKey, raw)
		pipe.ZAdd(ctx, queueKey(t.Queue), redis.Z{Score: float64(t.Priority), Member: updated})
		pipe.HSet(ctx, taskKey(t.ID.String()), "data", updated)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, WrapError(KindBrokerTransport, err, "process_scheduled: promote task %s", t.ID)
		}
		moved++
	}
	return moved, nil
}

// GetStats returns the cardinalities of queueName's pending set along with
// the shared processing/scheduled sets.
func (b *RedisBroker) GetStats(ctx context.Context, queueName string) (*Stats, error) {
	pipe := b.client.Pipeline()
	pending := pipe.ZCard(ctx, queueKey(queueName))
	processing := pipe.ZCard(ctx, processingKey)
	scheduled := pipe.ZCard(ctx, scheduledKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, WrapError(KindBrokerTransport, err, "get_stats: pipeline for queue %s", queueName)
	}

	return &Stats{
		Queue:      queueName,
		Pending:    pending.Val(),
		Processing: processing.Val(),
		Scheduled:  scheduled.Val(),
	}, nil
}

// ListQueues enumerates queue names under the dtq:queue:* prefix scan. Per
// design note (b), queue names containing ':' are forbidden at submit time,
// so the filter below (skip keys with a further separator, which belong to
// the dtq:queue:task:* index) is safe rather than fragile.
func (b *RedisBroker) ListQueues(ctx context.Context) ([]string, error) {
	keys, err := b.client.Keys(ctx, queuePrefix+":*").Result()
	if err != nil {
		return nil, WrapError(KindBrokerTransport, err, "list_queues: keys scan")
	}

	queues := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, queuePrefix+":")
		if name == k || strings.Contains(name, ":") {
			continue
		}
		queues = append(queues, name)
	}
	return queues, nil
}

// CleanupExpired removes processing entries claimed before the result TTL
// window, treating their owning workers as dead. Returns the count removed.
func (b *RedisBroker) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-b.cfg.ResultTTL).Unix()
	removed, err := b.client.ZRemRangeByScore(ctx, processingKey, "-inf", strconv.FormatInt(cutoff, 10)).Result()
	if err != nil {
		return 0, WrapError(KindBrokerTransport, err, "cleanup_expired: zremrangebyscore")
	}
	return removed, nil
}
