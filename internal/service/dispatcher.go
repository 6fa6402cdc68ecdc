package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
)

const (
	DefaultPersistWorkers   = 4
	DefaultPersistQueueSize = 256
	DefaultPersistTimeout   = 10 * time.Second
)

type Persister interface {
	Submit(ctx context.Context, sub anpr.Submission) (*anpr.DetectionRecord, error)
}

type DispatcherOptions struct {
	Workers   int
	QueueSize int
	// Timeout bounds one Persister.Submit call.
	Timeout time.Duration
}

type DispatcherStats struct {
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Stored    uint64 `json:"stored"`
	Rejected  uint64 `json:"rejected"`
	Cooldown  uint64 `json:"cooldown"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Dispatcher hands submissions from the frame loop to a fixed pool of
// persistence workers through a bounded queue. Submit never blocks.
type Dispatcher struct {
	persister Persister
	opts      DispatcherOptions
	log       zerolog.Logger

	mu     sync.RWMutex
	queue  chan anpr.Submission
	closed bool

	submitted atomic.Uint64
	stored    atomic.Uint64
	rejected  atomic.Uint64
	cooldown  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(persister Persister, opts DispatcherOptions, log zerolog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultPersistWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultPersistQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPersistTimeout
	}
	return &Dispatcher{
		persister: persister,
		opts:      opts,
		log:       log.With().Str("component", "dispatcher").Logger(),
		queue:     make(chan anpr.Submission, opts.QueueSize),
	}
}

// Submit queues sub for persistence. It returns ErrQueueFull when every
// worker is busy and the queue is full, and ErrClosed after Run returned.
func (d *Dispatcher) Submit(sub anpr.Submission) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- sub:
		d.submitted.Add(1)
		return nil
	default:
		if n := d.dropped.Add(1); n == 1 || n%100 == 0 {
			d.log.Warn().Uint64("dropped_total", n).Msg("persistence queue full, dropping submission")
		}
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is done. Queued submissions
// are drained before it returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range d.queue {
				d.handle(context.WithoutCancel(ctx), sub)
			}
		}()
	}

	d.log.Info().Int("workers", d.opts.Workers).Int("queue_size", d.opts.QueueSize).Msg("dispatcher started")

	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	wg.Wait()
	d.log.Info().Msg("dispatcher stopped")
	return nil
}

func (d *Dispatcher) handle(ctx context.Context, sub anpr.Submission) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	_, err := d.persister.Submit(ctx, sub)
	switch {
	case err == nil:
		d.stored.Add(1)
	case errors.Is(err, ErrCooldown):
		d.cooldown.Add(1)
		d.log.Debug().Int64("track_id", int64(sub.TrackID)).Msg("skipped submission in cooldown")
	case errors.Is(err, ErrInvalidPlate):
		// A cached unreadable label is resubmitted on every sampled frame.
		if n := d.rejected.Add(1); n == 1 || n%100 == 0 {
			d.log.Info().Err(err).Str("raw_text", sub.RawText).Uint64("rejected_total", n).Msg("rejected invalid plate")
		}
	default:
		if n := d.failed.Add(1); n == 1 || n%100 == 0 {
			d.log.Error().Err(err).Str("raw_text", sub.RawText).Uint64("failed_total", n).Msg("failed to persist detection")
		}
	}
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Queued:    len(d.queue),
		Submitted: d.submitted.Load(),
		Stored:    d.stored.Load(),
		Rejected:  d.rejected.Load(),
		Cooldown:  d.cooldown.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
