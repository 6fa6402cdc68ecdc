package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
)

const (
	DefaultWindow        = 10 * time.Second
	DefaultRetention     = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

type Options struct {
	Window        time.Duration
	Retention     time.Duration
	SweepInterval time.Duration
}

// Gate limits how often a tracked object may be persisted: at most once per
// window for each track id.
type Gate struct {
	mu   sync.Mutex
	last map[anpr.TrackID]time.Time

	window        time.Duration
	retention     time.Duration
	sweepInterval time.Duration

	now func() time.Time
	log zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Gate {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Retention < opts.Window {
		opts.Retention = opts.Window
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	return &Gate{
		last:          make(map[anpr.TrackID]time.Time),
		window:        opts.Window,
		retention:     opts.Retention,
		sweepInterval: opts.SweepInterval,
		now:           time.Now,
		log:           log.With().Str("component", "cooldown").Logger(),
	}
}

// ShouldAccept reports whether an event for id may be persisted now and, if
// so, records it. Events without a track id are always accepted.
func (g *Gate) ShouldAccept(id anpr.TrackID) bool {
	if id == anpr.NoTrack {
		return true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.last[id]; ok && now.Sub(last) < g.window {
		return false
	}
	g.last[id] = now
	return true
}

// Sweep forgets ids last accepted longer ago than the retention window.
func (g *Gate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for id, last := range g.last {
		if now.Sub(last) > g.retention {
			delete(g.last, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on a fixed interval until ctx is done.
func (g *Gate) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := g.Sweep(); removed > 0 {
				g.log.Debug().Int("removed", removed).Int("tracked", g.Len()).Msg("cooldown sweep")
			}
		}
	}
}

func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.last)
}
