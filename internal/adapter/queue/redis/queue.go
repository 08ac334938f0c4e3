package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/survey-sentinel/internal/adapter/metrics"
	"github.com/V4T54L/survey-sentinel/internal/domain"
)

const (
	jobField         = "job"
	defaultGroup     = "survey-workers"
	promoteBatchSize = 100
	defaultDLQStream = "queue:dead-letter"
)

// StreamKey is the stream holding ready jobs of one queue and priority.
func StreamKey(queue domain.QueueName, p domain.Priority) string {
	return fmt.Sprintf("queue:%s:p%d", queue, p)
}

// DelayedKey is the sorted set of jobs waiting for their ready time.
func DelayedKey(queue domain.QueueName) string {
	return fmt.Sprintf("queue:%s:delayed", queue)
}

// Options tunes a Queue. Zero values take defaults.
type Options struct {
	Group        string
	Consumer     string
	DLQStream    string
	PollInterval time.Duration
	ReclaimIdle  time.Duration
	DrainTimeout time.Duration
	Concurrency  int
	Metrics      *metrics.WorkerMetrics
	Now          func() time.Time
}

// Queue implements domain.JobQueue on Redis Streams. Each (queue, priority)
// pair has its own stream and delayed jobs wait in a sorted set scored by
// their ready time in milliseconds.
type Queue struct {
	client       *redis.Client
	logger       *slog.Logger
	group        string
	consumer     string
	dlqStreamKey string
	pollInterval time.Duration
	reclaimIdle  time.Duration
	drainTimeout time.Duration
	concurrency  int
	metrics      *metrics.WorkerMetrics
	now          func() time.Time
	isAvailable  atomic.Bool
}

// NewQueue creates a Redis-backed job queue.
func NewQueue(client *redis.Client, logger *slog.Logger, opts Options) *Queue {
	q := &Queue{
		client:       client,
		logger:       logger.With("component", "redis_queue"),
		group:        opts.Group,
		consumer:     opts.Consumer,
		dlqStreamKey: opts.DLQStream,
		pollInterval: opts.PollInterval,
		reclaimIdle:  opts.ReclaimIdle,
		drainTimeout: opts.DrainTimeout,
		concurrency:  opts.Concurrency,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}
	if q.group == "" {
		q.group = defaultGroup
	}
	if q.consumer == "" {
		q.consumer = "consumer-" + uuid.NewString()[:8]
	}
	if q.dlqStreamKey == "" {
		q.dlqStreamKey = defaultDLQStream
	}
	if q.pollInterval <= 0 {
		q.pollInterval = time.Second
	}
	if q.reclaimIdle <= 0 {
		q.reclaimIdle = 5 * time.Minute
	}
	if q.drainTimeout <= 0 {
		q.drainTimeout = 10 * time.Second
	}
	if q.concurrency <= 0 {
		q.concurrency = 1
	}
	if q.now == nil {
		q.now = time.Now
	}
	q.isAvailable.Store(true)
	return q
}

// Available reports the last known broker state.
func (q *Queue) Available() bool {
	return q.isAvailable.Load()
}

// StartHealthCheck pings Redis on every tick and tracks availability.
// While Redis is down, Enqueue refuses jobs with ErrQueueUnavailable.
func (q *Queue) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	q.logger.Info("Starting Redis health check")

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			q.checkHealth(ctx)
		}
	}
}

func (q *Queue) checkHealth(ctx context.Context) {
	if err := q.client.Ping(ctx).Err(); err != nil {
		if q.isAvailable.CompareAndSwap(true, false) {
			q.logger.Error("Redis connection lost", "error", err)
		}
		return
	}
	if q.isAvailable.CompareAndSwap(false, true) {
		q.logger.Info("Redis connection recovered")
	}
}

// Enqueue publishes a job. When the broker is unreachable the call is a
// logged no-op returning ErrQueueUnavailable.
func (q *Queue) Enqueue(ctx context.Context, queue domain.QueueName, payload any, opts domain.EnqueueOptions) (domain.JobHandle, error) {
	policy, ok := domain.QueuePolicies[queue]
	if !ok {
		return domain.JobHandle{}, fmt.Errorf("%w: %s", domain.ErrUnknownQueue, queue)
	}
	if !q.isAvailable.Load() {
		q.logger.Warn("Redis is unavailable, dropping job", "queue", queue)
		return domain.JobHandle{}, domain.ErrQueueUnavailable
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	resolved := policy.Resolve(opts)
	job := domain.Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Payload:     data,
		Priority:    resolved.Priority,
		MaxAttempts: resolved.MaxAttempts,
		Backoff:     resolved.Backoff,
		EnqueuedAt:  q.now().UTC(),
	}

	if resolved.Delay > 0 {
		err = q.schedule(ctx, job, q.now().Add(resolved.Delay))
	} else {
		err = q.push(ctx, job)
	}
	if err != nil {
		if isNetworkError(err) {
			if q.isAvailable.CompareAndSwap(true, false) {
				q.logger.Error("Redis connection lost during enqueue", "error", err)
			}
			q.logger.Warn("Redis became unavailable, dropping job", "queue", queue, "job_id", job.ID)
			return domain.JobHandle{}, fmt.Errorf("%w: %v", domain.ErrQueueUnavailable, err)
		}
		return domain.JobHandle{}, err
	}

	return domain.JobHandle{ID: job.ID, Queue: queue}, nil
}

func (q *Queue) push(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: StreamKey(job.Queue, job.Priority),
		Values: map[string]interface{}{jobField: data},
	}
	if err := q.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD job: %w", err)
	}
	return nil
}

func (q *Queue) schedule(ctx context.Context, job domain.Job, readyAt time.Time) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	member := redis.Z{Score: float64(readyAt.UnixMilli()), Member: data}
	if err := q.client.ZAdd(ctx, DelayedKey(job.Queue), member).Err(); err != nil {
		return fmt.Errorf("failed to ZADD delayed job: %w", err)
	}
	return nil
}

// Consume runs handler against jobs of queue with the configured number of
// workers until ctx is cancelled. Higher priority streams are drained first.
func (q *Queue) Consume(ctx context.Context, queue domain.QueueName, handler domain.JobHandler) error {
	if _, ok := domain.QueuePolicies[queue]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownQueue, queue)
	}
	if err := q.ensureGroups(ctx, queue); err != nil {
		q.logger.Error("Failed to setup consumer groups, Redis may be unavailable on startup", "queue", queue, "error", err)
	}

	log := q.logger.With("queue", queue, "consumer", q.consumer)
	log.Info("Job consumer started", "concurrency", q.concurrency)

	work, cancelWork := q.drainContext(ctx)
	defer cancelWork()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	var lastReclaim time.Time
	for {
		if ctx.Err() != nil {
			log.Info("Job consumer stopped")
			return nil
		}

		if err := q.PromoteDue(ctx, queue); err != nil && ctx.Err() == nil {
			log.Warn("Failed to promote delayed jobs", "error", err)
		}

		msgs := q.read(ctx, queue, q.concurrency)
		if now := q.now(); now.Sub(lastReclaim) >= q.reclaimEvery() {
			lastReclaim = now
			msgs = append(msgs, q.reclaim(ctx, queue, q.concurrency-len(msgs))...)
		}

		if len(msgs) > 0 {
			q.dispatch(work, queue, msgs, handler)
			continue
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// drainContext stays live for drainTimeout after ctx is cancelled, so a
// batch already read can finish, ack and schedule retries during shutdown.
func (q *Queue) drainContext(ctx context.Context) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(q.drainTimeout, cancel)
	})
	return work, func() {
		stop()
		cancel()
	}
}

// ProcessOnce promotes due jobs, then reads and handles at most one batch.
// It returns the number of deliveries handled.
func (q *Queue) ProcessOnce(ctx context.Context, queue domain.QueueName, handler domain.JobHandler) (int, error) {
	if err := q.ensureGroups(ctx, queue); err != nil {
		return 0, err
	}
	if err := q.PromoteDue(ctx, queue); err != nil {
		return 0, err
	}
	msgs := q.read(ctx, queue, q.concurrency)
	q.dispatch(ctx, queue, msgs, handler)
	return len(msgs), nil
}

type delivery struct {
	stream string
	msg    redis.XMessage
}

func (q *Queue) reclaimEvery() time.Duration {
	every := q.reclaimIdle / 2
	if every < q.pollInterval {
		every = q.pollInterval
	}
	return every
}

func (q *Queue) ensureGroups(ctx context.Context, queue domain.QueueName) error {
	for _, p := range domain.Priorities {
		err := q.client.XGroupCreateMkStream(ctx, StreamKey(queue, p), q.group, "0").Err()
		if err != nil && !isRedisBusyGroupError(err) {
			return fmt.Errorf("failed to create consumer group: %w", err)
		}
	}
	return nil
}

func (q *Queue) read(ctx context.Context, queue domain.QueueName, limit int) []delivery {
	var out []delivery
	for _, p := range domain.Priorities {
		if len(out) >= limit {
			break
		}
		stream := StreamKey(queue, p)
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(limit - len(out)),
			Block:    -1,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			if strings.HasPrefix(err.Error(), "NOGROUP") {
				_ = q.ensureGroups(ctx, queue)
				continue
			}
			q.logger.Warn("Failed to XREADGROUP", "stream", stream, "error", err)
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				out = append(out, delivery{stream: s.Stream, msg: m})
			}
		}
	}
	return out
}

func (q *Queue) reclaim(ctx context.Context, queue domain.QueueName, limit int) []delivery {
	if limit <= 0 {
		return nil
	}
	var out []delivery
	for _, p := range domain.Priorities {
		if len(out) >= limit {
			break
		}
		stream := StreamKey(queue, p)
		msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  q.reclaimIdle,
			Start:    "0-0",
			Count:    int64(limit - len(out)),
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("Failed to reclaim stalled jobs", "stream", stream, "error", err)
			}
			continue
		}
		if len(msgs) > 0 {
			q.logger.Warn("Reclaimed stalled jobs", "stream", stream, "count", len(msgs))
		}
		for _, m := range msgs {
			out = append(out, delivery{stream: stream, msg: m})
		}
	}
	return out
}

func (q *Queue) dispatch(ctx context.Context, queue domain.QueueName, msgs []delivery, handler domain.JobHandler) {
	work := make(chan delivery)
	var wg sync.WaitGroup
	workers := q.concurrency
	if workers > len(msgs) {
		workers = len(msgs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				q.handle(ctx, queue, d, handler)
			}
		}()
	}
	for _, d := range msgs {
		work <- d
	}
	close(work)
	wg.Wait()
}

func (q *Queue) handle(ctx context.Context, queue domain.QueueName, d delivery, handler domain.JobHandler) {
	defer q.finish(ctx, d)

	job, err := decodeJob(d.msg)
	if err != nil {
		q.logger.Warn("Invalid job message in stream, skipping", "message_id", d.msg.ID, "error", err)
		return
	}

	start := q.now()
	err = runHandler(ctx, handler, job)
	took := q.now().Sub(start)
	if err == nil {
		q.metrics.Job(string(queue), "done", took)
		return
	}

	if job.HasAttemptsLeft() {
		delay := job.RetryDelay()
		job.Attempt++
		job.LastError = err.Error()
		q.logger.Warn("Job failed, scheduling retry",
			"queue", queue, "job_id", job.ID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts,
			"delay", delay, "error", err)
		var rerr error
		if delay > 0 {
			rerr = q.schedule(ctx, job, q.now().Add(delay))
		} else {
			rerr = q.push(ctx, job)
		}
		if rerr != nil {
			q.logger.Error("Failed to schedule retry", "queue", queue, "job_id", job.ID, "error", rerr)
		}
		q.metrics.Job(string(queue), "retried", took)
		return
	}

	job.Attempt++
	job.LastError = err.Error()
	q.logger.Error("Job abandoned after exhausting attempts",
		"queue", queue, "job_id", job.ID, "attempts", job.Attempt, "error", err)
	if derr := q.MoveToDLQ(ctx, d.stream, []domain.Job{job}); derr != nil {
		q.logger.Error("Failed to move job to DLQ", "job_id", job.ID, "error", derr)
	}
	q.metrics.Job(string(queue), "dead_lettered", took)
}

func runHandler(ctx context.Context, handler domain.JobHandler, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// finish acknowledges and deletes the delivered message. Retries and dead
// letters are new entries, so the original never stays pending.
func (q *Queue) finish(ctx context.Context, d delivery) {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, d.stream, q.group, d.msg.ID)
		pipe.XDel(ctx, d.stream, d.msg.ID)
		return nil
	})
	if err != nil {
		q.logger.Error("Failed to XACK/XDEL job message", "stream", d.stream, "message_id", d.msg.ID, "error", err)
	}
}

// PromoteDue moves delayed jobs whose ready time has passed onto their
// priority stream. Only the caller whose ZREM succeeds pushes a job, so
// several consumers can promote concurrently.
func (q *Queue) PromoteDue(ctx context.Context, queue domain.QueueName) error {
	key := DelayedKey(queue)
	due, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	for _, member := range due {
		removed, err := q.client.ZRem(ctx, key, member).Result()
		if err != nil {
			return fmt.Errorf("failed to ZREM delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			q.logger.Warn("Failed to unmarshal delayed job, discarding", "error", err)
			continue
		}
		if err := q.push(ctx, job); err != nil {
			q.logger.Error("Failed to promote delayed job, rescheduling", "job_id", job.ID, "error", err)
			_ = q.schedule(ctx, job, q.now())
			return err
		}
	}
	return nil
}

// MoveToDLQ appends abandoned jobs to the dead-letter stream.
func (q *Queue) MoveToDLQ(ctx context.Context, originalStream string, jobs []domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, job := range jobs {
		payload, err := json.Marshal(job)
		if err != nil {
			q.logger.Error("Failed to marshal job for DLQ", "job_id", job.ID, "error", err)
			continue
		}
		args := &redis.XAddArgs{
			Stream: q.dlqStreamKey,
			Values: map[string]interface{}{
				jobField:          payload,
				"original_stream": originalStream,
				"original_msg_id": job.StreamMessageID,
				"failed_at":       q.now().UTC().Format(time.RFC3339),
				"error":           job.LastError,
			},
		}
		pipe.XAdd(ctx, args)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	q.logger.Warn("Moved jobs to DLQ", "count", len(jobs))
	return nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
