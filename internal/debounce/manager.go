// Package debounce implements the Redis-backed coalescing dispatcher: a
// sharded ZSET schedule plus hash payload store plus distributed lock, fed
// by an atomic Lua submit script and drained by a ticker-driven worker
// loop. Grounded on discovery-service's worker.ScanPoller for the
// Run(ctx)/ticker/goroutine-per-item shape, generalised from a single DB
// poll to a Redis ZPOPMIN-driven fan-out.
package debounce

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const submitScript = `
local latest_key = KEYS[1]
local due_key = KEYS[2]
local task_key = ARGV[1]
local now_ms = tonumber(ARGV[2])
local max_wait_ms = tonumber(ARGV[3])
local order_ts_ms = tonumber(ARGV[4])
local job_json = ARGV[5]
local latest_ttl_ms = tonumber(ARGV[6])

local first = redis.call('HGET', latest_key, 'first_submit_ms')
if not first then
  first = now_ms
  redis.call('HSET', latest_key, 'first_submit_ms', first)
else
  first = tonumber(first)
end

local old_order = redis.call('HGET', latest_key, 'order_ts_ms')
if not old_order then
  old_order = -1
else
  old_order = tonumber(old_order)
end

if order_ts_ms >= old_order then
  redis.call('HSET', latest_key, 'order_ts_ms', order_ts_ms)
  redis.call('HSET', latest_key, 'job_json', job_json)
end

local new_due = first + max_wait_ms
redis.call('HSET', latest_key, 'due_at_ms', new_due)
redis.call('HSET', latest_key, 'updated_ms', now_ms)
redis.call('ZADD', due_key, new_due, task_key)
redis.call('PEXPIRE', latest_key, latest_ttl_ms)
return new_due
`

// redisCommands is the narrow slice of go-redis's UniversalClient this
// package actually calls. Declaring it locally (rather than depending on
// the full UniversalClient interface) keeps the worker loop testable
// against a small in-memory fake instead of a real Redis instance.
type redisCommands interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	ZPopMin(ctx context.Context, key string, count ...int64) *redis.ZSliceCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// Job is the payload carried through the debounce store between submit and
// dispatch.
type Job struct {
	TraceID          string            `json:"trace_id"`
	UDM              json.RawMessage   `json:"udm"`
	UpstreamID       string            `json:"upstream_id"`
	EventType        string            `json:"event_type"`
	CallbackTemplate string            `json:"callback_template"`
	RouteParams      map[string]string `json:"route_params"`
}

// Dispatcher is the narrow interface the worker loop uses to hand a fired
// job to the forwarder-to-upstream adapter, decoupling this package from
// the upstream package (and letting tests substitute a spy).
type Dispatcher interface {
	DispatchJob(ctx context.Context, job Job) error
}

// Options configures shard count, timing and concurrency. Zero values take
// the package's documented defaults.
type Options struct {
	KeyPrefix   string
	Shards      int
	Batch       int
	Concurrency int
	LatestTTLMs int64
	LockTTL     time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "debounce:"
	}
	if o.Shards <= 0 {
		o.Shards = 1
	}
	if o.Batch <= 0 {
		o.Batch = 200
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 64
	}
	if o.LatestTTLMs <= 0 {
		o.LatestTTLMs = 86_400_000
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	return o
}

// Manager owns the submit path (writer pool) and the worker loop (worker
// pool). The two Redis clients may point at the same instance but are
// tuned independently: tight timeouts for the front-end submit path,
// relaxed ones for background draining.
type Manager struct {
	writer     redisCommands
	worker     redisCommands
	dispatcher Dispatcher
	logger     *zap.Logger
	opts       Options
}

// New builds a Manager. writer and worker may be the same client in
// low-traffic deployments; both *redis.Client and *redis.ClusterClient
// satisfy redisCommands.
func New(writer, worker redisCommands, dispatcher Dispatcher, logger *zap.Logger, opts Options) *Manager {
	return &Manager{writer: writer, worker: worker, dispatcher: dispatcher, logger: logger, opts: opts.withDefaults()}
}

func (m *Manager) shardOf(taskKey string) int {
	return int(crc32.ChecksumIEEE([]byte(taskKey))) % m.opts.Shards
}

func (m *Manager) latestKey(shard int, taskKey string) string {
	return fmt.Sprintf("%slatest:%d:%s", m.opts.KeyPrefix, shard, taskKey)
}

func (m *Manager) dueKey(shard int) string {
	return fmt.Sprintf("%sdue:%d", m.opts.KeyPrefix, shard)
}

func (m *Manager) lockKey(shard int, taskKey string) string {
	return fmt.Sprintf("%slock:%d:%s", m.opts.KeyPrefix, shard, taskKey)
}

// Submit runs the atomic Lua submit script against the writer pool and
// returns the computed due_at_ms.
func (m *Manager) Submit(ctx context.Context, taskKey string, nowMs, maxWaitMs, orderTsMs int64, job Job) (int64, error) {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal debounce job: %w", err)
	}
	shard := m.shardOf(taskKey)
	res, err := m.writer.Eval(ctx, submitScript,
		[]string{m.latestKey(shard, taskKey), m.dueKey(shard)},
		taskKey, nowMs, maxWaitMs, orderTsMs, string(jobJSON), m.opts.LatestTTLMs,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("submit debounce job for key %s: %w", taskKey, err)
	}
	due, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected submit script result type %T", res)
	}
	return due, nil
}

// Run starts the worker loop. It blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	m.logger.Info("debounce worker started", zap.Int("shards", m.opts.Shards), zap.Duration("tick", tick))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("debounce worker stopping")
			return
		case <-ticker.C:
			m.drainOnce(ctx)
		}
	}
}

// drainOnce pops up to Batch due entries from every shard and processes
// them under a semaphore of size Concurrency.
func (m *Manager) drainOnce(ctx context.Context) {
	sem := make(chan struct{}, m.opts.Concurrency)
	for shard := 0; shard < m.opts.Shards; shard++ {
		popped, err := m.worker.ZPopMin(ctx, m.dueKey(shard), int64(m.opts.Batch)).Result()
		if err != nil {
			m.logger.Error("zpopmin failed", zap.Int("shard", shard), zap.Error(err))
			continue
		}
		for _, z := range popped {
			taskKey, ok := z.Member.(string)
			if !ok {
				continue
			}
			sem <- struct{}{}
			go func(shard int, taskKey string) {
				defer func() { <-sem }()
				m.process(ctx, shard, taskKey, false)
			}(shard, taskKey)
		}
	}
}

// process runs the per-task_key processor: lock, read the latest payload,
// and either dispatch it or reschedule if it's not yet due. force skips the
// due-check entirely — FlushAll sets it so a shutdown drain dispatches
// in-flight jobs regardless of their stored due_at_ms.
func (m *Manager) process(ctx context.Context, shard int, taskKey string, force bool) {
	locked, err := m.worker.SetNX(ctx, m.lockKey(shard, taskKey), 1, m.opts.LockTTL).Result()
	if err != nil {
		m.logger.Error("debounce lock acquire failed", zap.String("task_key", taskKey), zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer m.worker.Del(ctx, m.lockKey(shard, taskKey))

	fields, err := m.worker.HGetAll(ctx, m.latestKey(shard, taskKey)).Result()
	if err != nil {
		m.logger.Error("debounce hgetall failed", zap.String("task_key", taskKey), zap.Error(err))
		return
	}
	if len(fields) == 0 {
		m.worker.ZRem(ctx, m.dueKey(shard), taskKey)
		return
	}

	if !force {
		dueAtMs := parseInt64(fields["due_at_ms"])
		if dueAtMs > nowMillis() {
			m.worker.ZAdd(ctx, m.dueKey(shard), redis.Z{Score: float64(dueAtMs), Member: taskKey})
			return
		}
	}

	defer func() {
		m.worker.Del(ctx, m.latestKey(shard, taskKey))
		m.worker.ZRem(ctx, m.dueKey(shard), taskKey)
	}()

	var job Job
	if err := json.Unmarshal([]byte(fields["job_json"]), &job); err != nil {
		m.logger.Error("debounce job_json unmarshal failed", zap.String("task_key", taskKey), zap.Error(err))
		return
	}
	if err := m.dispatcher.DispatchJob(ctx, job); err != nil {
		m.logger.Error("debounce dispatch failed", zap.String("task_key", taskKey), zap.Error(err))
	}
}

// FlushAll is the graceful-shutdown drain: it reads up to maxItems entries
// per shard's due schedule — due or not — and forces them through process,
// which skips the due_at_ms check so in-flight, not-yet-due jobs dispatch
// instead of being silently rescheduled.
func (m *Manager) FlushAll(ctx context.Context, maxItems int) {
	for shard := 0; shard < m.opts.Shards; shard++ {
		members, err := m.worker.ZRange(ctx, m.dueKey(shard), 0, int64(maxItems-1)).Result()
		if err != nil {
			continue
		}
		for _, taskKey := range members {
			m.process(ctx, shard, taskKey, true)
		}
	}
}

func parseInt64(s string) int64 {
	var n int64
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
