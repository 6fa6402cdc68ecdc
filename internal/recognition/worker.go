package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"anpr-stream/internal/utils"
)

// NoText is stored when the recognizer ran but found nothing.
const NoText = "No text"

var ErrClosed = errors.New("recognition worker is closed")

// Recognizer turns a plate crop into text.
type Recognizer interface {
	Recognize(ctx context.Context, img gocv.Mat) (string, error)
}

type WorkerOptions struct {
	// Timeout bounds a single Recognize call; zero means no bound.
	Timeout time.Duration
	// QueueSize bounds the job queue; zero means unbounded.
	QueueSize int
}

type WorkerStats struct {
	Queued    int    `json:"queued"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Worker is the single consumer of recognition jobs. It drains the queue in
// FIFO order and records every outcome in the cache.
type Worker struct {
	cache      *Cache
	recognizer Recognizer
	queue      *jobQueue
	timeout    time.Duration
	log        zerolog.Logger
	// release closes a job's image once the worker is done with it.
	release func(Job)

	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewWorker(cache *Cache, recognizer Recognizer, opts WorkerOptions, log zerolog.Logger) *Worker {
	return &Worker{
		cache:      cache,
		recognizer: recognizer,
		queue:      newJobQueue(opts.QueueSize),
		timeout:    opts.Timeout,
		log:        log.With().Str("component", "recognition_worker").Logger(),
		release:    Job.release,
	}
}

// Enqueue hands job to the worker, which takes ownership of job.Image. On
// error the image has already been released.
func (w *Worker) Enqueue(job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	dropped, didDrop, err := w.queue.push(job)
	if err != nil {
		w.release(job)
		return err
	}
	if didDrop {
		w.release(dropped)
		w.cache.Discard(dropped.ID)
		w.dropped.Add(1)
		w.log.Warn().
			Int64("track_id", int64(dropped.ID)).
			Dur("waited", time.Since(dropped.EnqueuedAt)).
			Msg("recognition queue full, dropped oldest job")
	}
	return nil
}

// Run processes jobs until ctx is done. Jobs still queued at shutdown are
// released without being recognized.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("recognition worker started")
	defer func() {
		left := w.queue.close()
		for _, job := range left {
			w.release(job)
			w.cache.Discard(job.ID)
		}
		w.log.Info().
			Int("abandoned", len(left)).
			Uint64("processed", w.processed.Load()).
			Msg("recognition worker stopped")
	}()

	for {
		job, ok := w.queue.pop(ctx)
		if !ok {
			return nil
		}
		w.handle(ctx, job)
	}
}

func (w *Worker) handle(ctx context.Context, job Job) {
	start := time.Now()
	text, err := w.recognize(ctx, job)
	w.processed.Add(1)

	if err != nil {
		w.failed.Add(1)
		w.cache.Fail(job.ID)
		w.log.Warn().
			Err(err).
			Int64("track_id", int64(job.ID)).
			Dur("took", time.Since(start)).
			Msg("recognition failed")
		return
	}

	text = utils.StandardizePlate(strings.TrimSpace(text))
	if text == "" {
		text = NoText
	}

	w.cache.Complete(job.ID, text, job.Snapshot)
	w.log.Debug().
		Int64("track_id", int64(job.ID)).
		Str("text", text).
		Dur("took", time.Since(start)).
		Msg("recognition completed")
}

type recognizeResult struct {
	text string
	err  error
}

// recognize runs the recognizer in its own goroutine so a stuck call can be
// abandoned after the timeout. That goroutine owns job.Image and closes it
// when the call returns, however late.
func (w *Worker) recognize(ctx context.Context, job Job) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	done := make(chan recognizeResult, 1)
	go func() {
		defer w.release(job)
		defer func() {
			if r := recover(); r != nil {
				done <- recognizeResult{err: fmt.Errorf("recognizer panic: %v", r)}
			}
		}()
		text, err := w.recognizer.Recognize(ctx, job.Image)
		done <- recognizeResult{text: text, err: err}
	}()

	select {
	case res := <-done:
		return res.text, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("recognize track %d: %w", job.ID, ctx.Err())
	}
}

func (w *Worker) Stats() WorkerStats {
	return WorkerStats{
		Queued:    w.queue.len(),
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
	}
}
