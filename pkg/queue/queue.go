// Package queue implements the durable job queue backing the update
// pipeline. Jobs live in Redis: a waiting list drained FIFO, an active
// list holding leased jobs, a failed list, and one hash per job with
// its payload, state, progress and error.
//
// Enqueue is idempotent on the job id: a live (waiting or active) job
// swallows the request, while a failed job of the same id is purged and
// re-enqueued. Leasing moves the id atomically from waiting to active
// with BRPOPLPUSH, so a worker crash leaves the id parked in the active
// list rather than losing it.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/frostline/updated/internal/logger"
)

// State of a job as stored in its Redis hash.
const (
	StateWaiting = "waiting"
	StateActive  = "active"
	StateFailed  = "failed"
)

// enqueueScript deduplicates by job id. A live job (any state except
// failed) is left alone; a failed job is purged and replaced.
var enqueueScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state then
  if state ~= 'failed' then
    return 0
  end
  redis.call('LREM', KEYS[3], 0, ARGV[1])
  redis.call('DEL', KEYS[1])
end
redis.call('HSET', KEYS[1], 'payload', ARGV[2], 'state', 'waiting', 'progress', '0', 'created_at', ARGV[3])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// Queue is a named durable FIFO.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New creates a Queue on an existing Redis client.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitKey() string   { return "queue:" + q.name + ":wait" }
func (q *Queue) activeKey() string { return "queue:" + q.name + ":active" }
func (q *Queue) failedKey() string { return "queue:" + q.name + ":failed" }
func (q *Queue) jobKey(id string) string {
	return "queue:" + q.name + ":job:" + id
}

// Enqueue adds a job under the given id. It reports whether the job was
// actually added; false means a live job with the same id already
// exists and the request was swallowed.
func (q *Queue) Enqueue(ctx context.Context, id string, p Payload) (bool, error) {
	body, err := p.Encode()
	if err != nil {
		return false, err
	}

	added, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(id), q.waitKey(), q.failedKey()},
		id, string(body), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue job %s: %w", id, err)
	}
	return added == 1, nil
}

// Lease blocks up to timeout for the next waiting job and moves it to
// the active list. It returns (nil, nil) when the timeout elapses with
// nothing to do.
func (q *Queue) Lease(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.waitKey(), q.activeKey(), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lease job: %w", err)
	}

	body, err := q.rdb.HGet(ctx, q.jobKey(id), "payload").Result()
	if err != nil {
		// The hash is gone but the id survived in a list. Drop the
		// orphan and report an empty lease.
		q.rdb.LRem(ctx, q.activeKey(), 0, id)
		if errors.Is(err, redis.Nil) {
			logger.Warn("dropping orphaned job", "component", "queue", "job_id", id)
			return nil, nil
		}
		return nil, fmt.Errorf("lease job %s: %w", id, err)
	}

	p, err := DecodePayload([]byte(body))
	if err != nil {
		q.rdb.LRem(ctx, q.activeKey(), 0, id)
		q.rdb.Del(ctx, q.jobKey(id))
		logger.Error("dropping undecodable job", "component", "queue", "job_id", id, "error", err)
		return nil, nil
	}

	if err := q.rdb.HSet(ctx, q.jobKey(id), "state", StateActive).Err(); err != nil {
		return nil, fmt.Errorf("lease job %s: %w", id, err)
	}
	return &Job{ID: id, Payload: p, q: q}, nil
}

// Job is a leased unit of work. Exactly one of Complete or Fail must be
// called when the worker is done with it.
type Job struct {
	ID      string
	Payload Payload

	q *Queue
}

// Progress records completion as an integer percentage.
func (j *Job) Progress(ctx context.Context, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if err := j.q.rdb.HSet(ctx, j.q.jobKey(j.ID), "progress", strconv.Itoa(pct)).Err(); err != nil {
		logger.Warn("job progress update failed", "component", "queue", "job_id", j.ID, "error", err)
	}
}

// Complete removes the finished job from the queue entirely.
func (j *Job) Complete(ctx context.Context) error {
	pipe := j.q.rdb.TxPipeline()
	pipe.LRem(ctx, j.q.activeKey(), 0, j.ID)
	pipe.Del(ctx, j.q.jobKey(j.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job %s: %w", j.ID, err)
	}
	return nil
}

// Fail parks the job on the failed list with the error recorded. A
// later Enqueue of the same id purges it and starts over.
func (j *Job) Fail(ctx context.Context, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	pipe := j.q.rdb.TxPipeline()
	pipe.HSet(ctx, j.q.jobKey(j.ID), "state", StateFailed, "error", msg)
	pipe.LRem(ctx, j.q.activeKey(), 0, j.ID)
	pipe.LPush(ctx, j.q.failedKey(), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("fail job %s: %w", j.ID, err)
	}
	return nil
}

// Status is a snapshot of one job for the jobs listing.
type Status struct {
	ID       string  `json:"id"`
	State    string  `json:"state"`
	Progress int     `json:"progress"`
	Error    string  `json:"error,omitempty"`
	Payload  Payload `json:"payload"`
}

// List snapshots every known job: active first, then waiting, then
// failed. Jobs whose hash vanished mid-scan are skipped.
func (q *Queue) List(ctx context.Context) ([]Status, error) {
	var out []Status
	for _, key := range []string{q.activeKey(), q.waitKey(), q.failedKey()} {
		ids, err := q.rdb.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list jobs: %w", err)
		}
		for _, id := range ids {
			fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
			if err != nil {
				return nil, fmt.Errorf("list jobs: %w", err)
			}
			if len(fields) == 0 {
				continue
			}
			p, err := DecodePayload([]byte(fields["payload"]))
			if err != nil {
				continue
			}
			pct, _ := strconv.Atoi(fields["progress"])
			out = append(out, Status{
				ID:       id,
				State:    fields["state"],
				Progress: pct,
				Error:    fields["error"],
				Payload:  p,
			})
		}
	}
	return out, nil
}

// HealthCheck verifies the Redis backend is reachable.
func (q *Queue) HealthCheck(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
