// Package pipeline executes the queued update-processing jobs: chunk
// reassembly with hash verification, and archive publishing with
// classification, compression and the transactional catalog commit.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/frostline/updated/internal/logger"
	"github.com/frostline/updated/pkg/catalog"
	"github.com/frostline/updated/pkg/metrics"
	"github.com/frostline/updated/pkg/queue"
	"github.com/frostline/updated/pkg/storage"
)

// leaseTimeout bounds each blocking poll so shutdown is prompt.
const leaseTimeout = 5 * time.Second

// Catalog is the slice of the catalog store the pipeline drives.
type Catalog interface {
	GetUpload(ctx context.Context, uploadID primitive.ObjectID, concurrentID string) (*catalog.Upload, error)
	CASUploadState(ctx context.Context, uploadID primitive.ObjectID, concurrentID string, from, to catalog.UploadState) error
	DeleteChunks(ctx context.Context, uploadID primitive.ObjectID) error
	GetVersion(ctx context.Context, id primitive.ObjectID) (*catalog.Version, error)
	CASVersionState(ctx context.Context, id primitive.ObjectID, from, to catalog.VersionState) error
	PublishVersion(ctx context.Context, versionID primitive.ObjectID, files []catalog.UpdateFile) error
}

// Worker leases jobs sequentially and executes them one at a time.
// Several workers may run against the same queue; job identity keys
// guarantee at-most-one active lease per upload epoch or version.
type Worker struct {
	jobs    *queue.Queue
	store   Catalog
	input   storage.Store
	output  storage.Store
	workDir string
}

// NewWorker wires a worker to its collaborators. workDir hosts the
// per-job scratch directories; it must be writable.
func NewWorker(jobs *queue.Queue, store Catalog, input, output storage.Store, workDir string) *Worker {
	return &Worker{
		jobs:    jobs,
		store:   store,
		input:   input,
		output:  output,
		workDir: workDir,
	}
}

// Run leases and executes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("pipeline worker started", "component", "pipeline", "queue", w.jobs.Name())
	for {
		job, err := w.jobs.Lease(ctx, leaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("job lease failed", "component", "pipeline", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		w.execute(ctx, job)
	}
}

func (w *Worker) execute(ctx context.Context, job *queue.Job) {
	kind := string(job.Payload.Kind)
	logger.Info("job started", "component", "pipeline", "job_id", job.ID, "kind", kind)
	start := time.Now()
	progress := func(pct int) { job.Progress(ctx, pct) }

	var err error
	switch job.Payload.Kind {
	case queue.KindProcessUpload:
		err = w.processUpload(ctx, job.Payload, progress)
	case queue.KindProcessPublish:
		err = w.processPublish(ctx, job.Payload, progress)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Payload.Kind)
	}

	metrics.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobsProcessed.WithLabelValues(kind, "failed").Inc()
		logger.Error("job failed",
			"component", "pipeline",
			"job_id", job.ID,
			"kind", kind,
			"duration", time.Since(start).String(),
			"error", err)
		if ferr := job.Fail(ctx, err); ferr != nil {
			logger.Error("recording job failure failed", "component", "pipeline", "job_id", job.ID, "error", ferr)
		}
		return
	}

	metrics.JobsProcessed.WithLabelValues(kind, "completed").Inc()
	logger.Info("job completed",
		"component", "pipeline",
		"job_id", job.ID,
		"kind", kind,
		"duration", time.Since(start).String())
	if cerr := job.Complete(ctx); cerr != nil {
		logger.Error("removing completed job failed", "component", "pipeline", "job_id", job.ID, "error", cerr)
	}
}

// stage maps a [0, 1] transfer fraction into the [lo, hi] percent
// window the step owns on the job's progress bar.
func stage(progress func(int), lo, hi int) storage.ProgressFunc {
	return func(fraction float64) {
		progress(lo + int(fraction*float64(hi-lo)))
	}
}
