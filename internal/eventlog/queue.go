// Package eventlog implements the asynchronous event logger queue: a
// single Redis-list producer (satisfying internal/rules.EventSink) and a
// periodic batched consumer that executes drained items through a
// rules.Mutator, coalescing high-volume inbound-rule side effects into
// bulk writes instead of blocking the request path on them.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/gateway/internal/logging"
	"github.com/wudi/gateway/internal/rules"
	"github.com/wudi/gateway/internal/sharedctx"
)

// op tags the kind of work an item carries.
type op string

const (
	opInsert  op = "insert"
	opUpdate  op = "update"
	opTrigger op = "trigger"
)

// item is the wire shape LPUSHed onto the queue list and later parsed back
// out by the flusher.
type item struct {
	Op      op                     `json:"op"`
	Table   string                 `json:"table,omitempty"`
	Values  []interface{}          `json:"values,omitempty"`
	Filter  map[string]interface{} `json:"filter,omitempty"`
	Patch   map[string]interface{} `json:"patch,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Queue is a Redis-backed batching queue implementing rules.EventSink.
// Producers call EnqueueInsert/EnqueueUpdate/EnqueueTrigger from the
// request path; a background flusher (started with Start) drains and
// executes batches on a timer. Delivery is at-most-once: a batch drained
// by LRANGE+LTRIM is never re-enqueued, even if executing an item fails.
type Queue struct {
	client  *redis.Client
	key     string
	batch   int
	maxLen  int64
	mutator rules.Mutator
	actions *sharedctx.ActionRegistry

	flushing atomic.Bool
	started  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	once     sync.Once
}

var _ rules.EventSink = (*Queue)(nil)

// Option configures optional Queue behavior.
type Option func(*Queue)

// WithActions lets TRIGGER items invoke a registered action by
// payload["type"] instead of only being logged.
func WithActions(actions *sharedctx.ActionRegistry) Option {
	return func(q *Queue) { q.actions = actions }
}

// New builds a Queue backed by client, writing to the given list key,
// flushing batches of batchSize, and executing drained insert/update
// items through mutator. maxLen caps the Redis list length (LTRIM keeps
// the queue from growing unbounded if the flusher falls behind); 0
// disables the cap.
func New(client *redis.Client, key string, batchSize int, maxLen int64, mutator rules.Mutator, opts ...Option) *Queue {
	if batchSize <= 0 {
		batchSize = 100
	}
	q := &Queue{
		client:  client,
		key:     key,
		batch:   batchSize,
		maxLen:  maxLen,
		mutator: mutator,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) push(ctx context.Context, it item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("eventlog: marshal item: %w", err)
	}

	pctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	pipe := q.client.TxPipeline()
	pipe.LPush(pctx, q.key, data)
	if q.maxLen > 0 {
		pipe.LTrim(pctx, q.key, 0, q.maxLen-1)
	}
	lenCmd := pipe.LLen(pctx, q.key)
	if _, err := pipe.Exec(pctx); err != nil {
		logging.Warn("eventlog enqueue failed", zap.Error(err), zap.String("op", string(it.Op)))
		return fmt.Errorf("eventlog: enqueue: %w", err)
	}

	if n, _ := lenCmd.Result(); n >= int64(q.batch) {
		go q.Flush(context.Background())
	}
	return nil
}

// EnqueueInsert implements rules.EventSink.
func (q *Queue) EnqueueInsert(ctx context.Context, table string, values []interface{}) error {
	return q.push(ctx, item{Op: opInsert, Table: table, Values: values})
}

// EnqueueUpdate implements rules.EventSink.
func (q *Queue) EnqueueUpdate(ctx context.Context, table string, filter, patch map[string]interface{}) error {
	return q.push(ctx, item{Op: opUpdate, Table: table, Filter: filter, Patch: patch})
}

// EnqueueTrigger implements rules.EventSink.
func (q *Queue) EnqueueTrigger(ctx context.Context, payload map[string]interface{}) error {
	return q.push(ctx, item{Op: opTrigger, Payload: payload})
}

// Start launches the periodic flusher; it runs until Shutdown is called
// or ctx is cancelled.
func (q *Queue) Start(ctx context.Context, flushInterval time.Duration) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	q.started.Store(true)
	go func() {
		defer close(q.stopped)
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				q.Flush(ctx)
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Flush drains up to batch items from the list and executes each
// concurrently. Non-reentrant: a Flush already in progress is skipped
// rather than queued, so a burst of ticks can't pile up overlapping
// drains.
func (q *Queue) Flush(ctx context.Context) {
	if !q.flushing.CompareAndSwap(false, true) {
		return
	}
	defer q.flushing.Store(false)

	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := q.client.LRange(fctx, q.key, 0, int64(q.batch)-1).Result()
	if err != nil {
		logging.Warn("eventlog flush: range failed", zap.Error(err))
		return
	}
	if len(raw) == 0 {
		return
	}
	if err := q.client.LTrim(fctx, q.key, int64(len(raw)), -1).Err(); err != nil {
		logging.Warn("eventlog flush: trim failed", zap.Error(err))
	}

	var wg sync.WaitGroup
	for _, raw := range raw {
		var it item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
			logging.Warn("eventlog flush: malformed item dropped", zap.Error(err))
			continue
		}
		wg.Add(1)
		go func(it item) {
			defer wg.Done()
			q.execute(ctx, it)
		}(it)
	}
	wg.Wait()
}

func (q *Queue) execute(ctx context.Context, it item) {
	var err error
	switch it.Op {
	case opInsert:
		err = q.mutator.Insert(ctx, it.Table, it.Values)
	case opUpdate:
		err = q.mutator.Update(ctx, it.Table, it.Filter, it.Patch)
	case opTrigger:
		err = q.executeTrigger(ctx, it.Payload)
	default:
		err = fmt.Errorf("unknown op %q", it.Op)
	}
	if err != nil {
		logging.Warn("eventlog item execution failed, dropping (at-most-once)",
			zap.String("op", string(it.Op)), zap.String("table", it.Table), zap.Error(err))
	}
}

func (q *Queue) executeTrigger(ctx context.Context, payload map[string]interface{}) error {
	if q.actions == nil {
		logging.Info("eventlog trigger fired with no action registry configured", zap.Any("payload", payload))
		return nil
	}
	name, _ := payload["type"].(string)
	if name == "" {
		logging.Warn("eventlog trigger payload missing type, nothing to invoke", zap.Any("payload", payload))
		return nil
	}
	fn, ok := q.actions.Lookup(name)
	if !ok {
		return fmt.Errorf("no action registered for trigger type %q", name)
	}
	_, err := fn(ctx, payload)
	return err
}

// Shutdown stops the flusher, drains the queue once more, and closes the
// Redis client.
func (q *Queue) Shutdown(ctx context.Context) error {
	if q.started.Load() {
		q.once.Do(func() { close(q.stop) })
		<-q.stopped
	}
	q.Flush(ctx)
	return q.client.Close()
}
