package recognition

import (
	"context"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"anpr-stream/internal/domain/anpr"
)

// Job asks the worker to recognize the text in Image for track ID. The job
// owns Image; whoever finishes with the job closes it.
type Job struct {
	ID         anpr.TrackID
	Image      gocv.Mat
	Snapshot   []byte
	EnqueuedAt time.Time
}

func (j Job) release() {
	_ = j.Image.Close()
}

// jobQueue is a FIFO with an optional bound. When the bound is reached the
// oldest job is dropped to make room.
type jobQueue struct {
	mu     sync.Mutex
	items  []Job
	limit  int
	closed bool
	ready  chan struct{}
}

func newJobQueue(limit int) *jobQueue {
	return &jobQueue{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends job. It returns the job evicted to make room, if any.
func (q *jobQueue) push(job Job) (dropped Job, didDrop bool, err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return Job{}, false, ErrClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		dropped, didDrop = q.items[0], true
		q.items[0] = Job{}
		q.items = q.items[1:]
	}
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped, didDrop, nil
}

// pop blocks until a job is available, the queue is closed and empty, or ctx
// is done. Once ctx is done no further job is handed out.
func (q *jobQueue) pop(ctx context.Context) (Job, bool) {
	for {
		if ctx.Err() != nil {
			return Job{}, false
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = Job{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Job{}, false
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Job{}, false
		}
	}
}

// close stops accepting jobs and returns whatever was still queued.
func (q *jobQueue) close() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.items
	q.items = nil
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return left
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
