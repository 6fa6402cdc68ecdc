package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
)

type fakePersister struct {
	mu      sync.Mutex
	calls   []anpr.Submission
	err     error
	release chan struct{}
}

func (p *fakePersister) Submit(ctx context.Context, sub anpr.Submission) (*anpr.DetectionRecord, error) {
	if p.release != nil {
		<-p.release
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, sub)
	if p.err != nil {
		return nil, p.err
	}
	return &anpr.DetectionRecord{RawText: sub.RawText}, nil
}

func (p *fakePersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	p := &fakePersister{}
	d := NewDispatcher(p, DispatcherOptions{Workers: 2, QueueSize: 10}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 5; i++ {
		if err := d.Submit(anpr.Submission{RawText: "12G500050", TrackID: anpr.TrackID(i + 1)}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}

	if got := p.count(); got != 5 {
		t.Errorf("persisted %d, want 5", got)
	}
	if s := d.Stats(); s.Stored != 5 || s.Submitted != 5 {
		t.Errorf("stats = %+v", s)
	}
	if err := d.Submit(anpr.Submission{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after shutdown error = %v, want ErrClosed", err)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	p := &fakePersister{release: make(chan struct{})}
	d := NewDispatcher(p, DispatcherOptions{Workers: 1, QueueSize: 1}, zerolog.Nop())

	// No workers are running, so the queue holds exactly one submission.
	if err := d.Submit(anpr.Submission{RawText: "a"}); err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	if err := d.Submit(anpr.Submission{RawText: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("second Submit() error = %v, want ErrQueueFull", err)
	}
	if s := d.Stats(); s.Dropped != 1 || s.Queued != 1 {
		t.Errorf("stats = %+v", s)
	}

	close(p.release)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := p.count(); got != 1 {
		t.Errorf("persisted %d, want 1", got)
	}
}

func TestDispatcherClassifiesOutcomes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(DispatcherStats) bool
	}{
		{name: "stored", err: nil, check: func(s DispatcherStats) bool { return s.Stored == 1 }},
		{name: "cooldown", err: ErrCooldown, check: func(s DispatcherStats) bool { return s.Cooldown == 1 }},
		{name: "invalid", err: ErrInvalidPlate, check: func(s DispatcherStats) bool { return s.Rejected == 1 }},
		{name: "storage", err: errStore, check: func(s DispatcherStats) bool { return s.Failed == 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(&fakePersister{err: tt.err}, DispatcherOptions{Workers: 1, QueueSize: 1}, zerolog.Nop())
			d.handle(context.Background(), anpr.Submission{RawText: "x"})
			if s := d.Stats(); !tt.check(s) {
				t.Errorf("stats = %+v", s)
			}
		})
	}
}

func TestDispatcherRateLimitsRejectionLog(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(&fakePersister{err: fmt.Errorf("%w: too short", ErrInvalidPlate)}, DispatcherOptions{}, zerolog.New(&buf))

	for i := 0; i < 150; i++ {
		d.handle(context.Background(), anpr.Submission{RawText: "No text", TrackID: 3})
	}

	if s := d.Stats(); s.Rejected != 150 {
		t.Errorf("Stats().Rejected = %d, want 150", s.Rejected)
	}
	out := buf.String()
	if got := strings.Count(out, "rejected invalid plate"); got != 2 {
		t.Errorf("logged %d rejections, want 2 (first and 100th)", got)
	}
	if !strings.Contains(out, "too short") {
		t.Errorf("rejection log lacks the reason: %s", out)
	}
}
