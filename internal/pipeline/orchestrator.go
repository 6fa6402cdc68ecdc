package pipeline

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"anpr-stream/internal/domain/anpr"
	"anpr-stream/internal/recognition"
	"anpr-stream/internal/utils"
	"anpr-stream/internal/vision"
)

const (
	DefaultFrameSkip            = 3
	DefaultMinPlateArea         = 1000
	DefaultPlateClass           = "License_Plate"
	DefaultHousekeepingInterval = 30 * time.Second
	defaultReadRetryDelay       = 100 * time.Millisecond
)

type FrameSource interface {
	Read(dst *gocv.Mat) error
	Close() error
}

type Detector interface {
	Detect(frame gocv.Mat) ([]anpr.Detection, error)
}

type Tracker interface {
	Update(dets []anpr.Detection) []anpr.Detection
}

type RecognitionQueue interface {
	Enqueue(job recognition.Job) error
}

// Submitter accepts a recognized plate for persistence without blocking.
type Submitter interface {
	Submit(sub anpr.Submission) error
}

type FramePublisher interface {
	UpdateJPEG(jpeg []byte)
}

type Options struct {
	// FrameSkip runs the detector on every FrameSkip-th frame; frames in
	// between reuse the last boxes and labels. 1 detects on every frame.
	FrameSkip    int
	MinPlateArea int
	PlateClass   string
	JPEGQuality  int
	// CacheRetention evicts finished recognition entries older than this.
	// Zero keeps them for the life of the process.
	CacheRetention       time.Duration
	HousekeepingInterval time.Duration
	ReadRetryDelay       time.Duration
}

type Deps struct {
	Source      FrameSource
	Detector    Detector
	Tracker     Tracker
	Cache       *recognition.Cache
	Recognition RecognitionQueue
	Submitter   Submitter
	Recent      *RecentWindow
	Publisher   FramePublisher
}

type Stats struct {
	Running             bool       `json:"running"`
	FramesRead          uint64     `json:"frames_read"`
	FramesSampled       uint64     `json:"frames_sampled"`
	ReadErrors          uint64     `json:"read_errors"`
	DetectErrors        uint64     `json:"detect_errors"`
	EncodeErrors        uint64     `json:"encode_errors"`
	RecognitionEnqueued uint64     `json:"recognition_enqueued"`
	EnqueueErrors       uint64     `json:"enqueue_errors"`
	Submitted           uint64     `json:"submitted"`
	SubmitDropped       uint64     `json:"submit_dropped"`
	CacheEntries        int        `json:"cache_entries"`
	RecentPlates        int        `json:"recent_plates"`
	LastFrameAt         *time.Time `json:"last_frame_at,omitempty"`
}

// Orchestrator runs the frame loop: read, detect and track on sampled
// frames, resolve plate labels through the recognition cache, draw and
// publish. It never waits on recognition or storage.
type Orchestrator struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	// Owned by the frame loop.
	frameCount uint64
	prevDets   []anpr.Detection
	prevLabels []string

	running       atomic.Bool
	lastFrameAt   atomic.Int64
	framesRead    atomic.Uint64
	framesSampled atomic.Uint64
	readErrors    atomic.Uint64
	detectErrors  atomic.Uint64
	encodeErrors  atomic.Uint64
	enqueued      atomic.Uint64
	enqueueErrors atomic.Uint64
	submitted     atomic.Uint64
	submitDropped atomic.Uint64
}

func NewOrchestrator(deps Deps, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.FrameSkip <= 0 {
		opts.FrameSkip = DefaultFrameSkip
	}
	if opts.MinPlateArea <= 0 {
		opts.MinPlateArea = DefaultMinPlateArea
	}
	if opts.PlateClass == "" {
		opts.PlateClass = DefaultPlateClass
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = vision.DefaultJPEGQuality
	}
	if opts.HousekeepingInterval <= 0 {
		opts.HousekeepingInterval = DefaultHousekeepingInterval
	}
	if opts.ReadRetryDelay <= 0 {
		opts.ReadRetryDelay = defaultReadRetryDelay
	}
	if deps.Recent == nil {
		deps.Recent = NewRecentWindow(0, 0)
	}

	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "orchestrator").Logger(),
		now:  time.Now,
	}
}

// Run drives the frame loop until ctx is done, then releases the frame
// source.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.running.Store(true)
	defer o.running.Store(false)
	defer func() {
		if err := o.deps.Source.Close(); err != nil {
			o.log.Warn().Err(err).Msg("failed to release frame source")
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	housekeeping := time.NewTicker(o.opts.HousekeepingInterval)
	defer housekeeping.Stop()

	o.log.Info().
		Int("frame_skip", o.opts.FrameSkip).
		Int("min_plate_area", o.opts.MinPlateArea).
		Str("plate_class", o.opts.PlateClass).
		Msg("frame loop started")

	for {
		select {
		case <-ctx.Done():
			o.log.Info().Uint64("frames_read", o.framesRead.Load()).Msg("frame loop stopped")
			return nil
		case <-housekeeping.C:
			o.housekeep()
		default:
		}

		if err := o.deps.Source.Read(&frame); err != nil || frame.Empty() {
			n := o.readErrors.Add(1)
			if n == 1 || n%100 == 0 {
				o.log.Warn().Err(err).Uint64("read_errors", n).Msg("failed to read frame")
			}
			select {
			case <-ctx.Done():
			case <-time.After(o.opts.ReadRetryDelay):
			}
			continue
		}

		o.processFrame(frame)
	}
}

func (o *Orchestrator) processFrame(frame gocv.Mat) {
	o.framesRead.Add(1)
	o.frameCount++

	if o.frameCount%uint64(o.opts.FrameSkip) == 0 {
		o.sample(frame)
	}
	o.publish(frame)
}

func (o *Orchestrator) sample(frame gocv.Mat) {
	o.framesSampled.Add(1)

	dets, err := o.deps.Detector.Detect(frame)
	if err != nil {
		n := o.detectErrors.Add(1)
		if n == 1 || n%100 == 0 {
			o.log.Warn().Err(err).Uint64("detect_errors", n).Msg("detection failed, keeping previous overlay")
		}
		return
	}
	if o.deps.Tracker != nil {
		dets = o.deps.Tracker.Update(dets)
	}

	labels := make([]string, len(dets))
	for i, det := range dets {
		labels[i] = o.label(frame, det)
	}
	o.prevDets, o.prevLabels = dets, labels
}

func (o *Orchestrator) label(frame gocv.Mat, det anpr.Detection) string {
	if det.ClassName != o.opts.PlateClass {
		return classLabel(det)
	}

	key := det.Key()
	entry, found := o.deps.Cache.Get(key)
	state, label := classifyPlate(det, o.opts.MinPlateArea, entry, found)

	switch state {
	case stateNeedsCrop:
		return o.enqueue(frame, det, key)
	case stateCacheHit:
		if !IsPlaceholder(label) {
			o.accept(det, label, entry.Snapshot)
		}
	}
	return label
}

func (o *Orchestrator) enqueue(frame gocv.Mat, det anpr.Detection, key anpr.TrackID) string {
	crop, err := vision.PreparePlateCrop(frame, det.Box, vision.MinCropHeight)
	if err != nil {
		crop.Close()
		return LabelEmptyCrop
	}
	if !o.deps.Cache.MarkPending(key) {
		crop.Close()
		return LabelProcessing
	}

	snapshot, err := vision.EncodeJPEG(crop, o.opts.JPEGQuality)
	if err != nil {
		o.log.Debug().Err(err).Int64("track_id", int64(key)).Msg("failed to encode crop snapshot")
	}

	job := recognition.Job{ID: key, Image: crop, Snapshot: snapshot, EnqueuedAt: o.now()}
	if err := o.deps.Recognition.Enqueue(job); err != nil {
		o.deps.Cache.Discard(key)
		o.enqueueErrors.Add(1)
		o.log.Warn().Err(err).Int64("track_id", int64(key)).Msg("failed to enqueue recognition job")
		return LabelProcessing
	}
	o.enqueued.Add(1)
	return LabelProcessing
}

// accept records a recognized label in the recent window, if it is a valid
// plate, and hands it to persistence.
func (o *Orchestrator) accept(det anpr.Detection, text string, snapshot []byte) {
	now := o.now()
	confidence := math.Round(float64(det.Confidence)*1e4) / 1e4

	if v := utils.ValidatePlate(text); v.Valid {
		o.deps.Recent.Add(anpr.RecentPlate{
			Plate:      v.Plate,
			Confidence: confidence,
			Timestamp:  now,
			TrackID:    det.TrackID,
		})
	}

	err := o.deps.Submitter.Submit(anpr.Submission{
		RawText:    text,
		Confidence: confidence,
		TrackID:    det.TrackID,
		Box:        det.Box,
		Snapshot:   snapshot,
		SeenAt:     now,
	})
	if err != nil {
		n := o.submitDropped.Add(1)
		if n == 1 || n%100 == 0 {
			o.log.Warn().Err(err).Uint64("dropped", n).Msg("persistence submission dropped")
		}
		return
	}
	o.submitted.Add(1)
}

func (o *Orchestrator) publish(frame gocv.Mat) {
	if len(o.prevDets) > 0 {
		vision.DrawDetections(&frame, o.prevDets, o.prevLabels)
	}

	jpeg, err := vision.EncodeJPEG(frame, o.opts.JPEGQuality)
	if err != nil {
		o.encodeErrors.Add(1)
		o.log.Debug().Err(err).Msg("failed to encode frame, skipping")
		return
	}
	o.deps.Publisher.UpdateJPEG(jpeg)
	o.lastFrameAt.Store(o.now().UnixNano())
}

func (o *Orchestrator) housekeep() {
	if o.opts.CacheRetention <= 0 {
		return
	}
	if n := o.deps.Cache.EvictFinished(o.now().Add(-o.opts.CacheRetention)); n > 0 {
		o.log.Debug().Int("evicted", n).Int("remaining", o.deps.Cache.Len()).Msg("recognition cache cleanup")
	}
}

// RecentPlates returns the current recent window, newest first.
func (o *Orchestrator) RecentPlates() []anpr.RecentPlate {
	return o.deps.Recent.Snapshot()
}

func (o *Orchestrator) Stats() Stats {
	s := Stats{
		Running:             o.running.Load(),
		FramesRead:          o.framesRead.Load(),
		FramesSampled:       o.framesSampled.Load(),
		ReadErrors:          o.readErrors.Load(),
		DetectErrors:        o.detectErrors.Load(),
		EncodeErrors:        o.encodeErrors.Load(),
		RecognitionEnqueued: o.enqueued.Load(),
		EnqueueErrors:       o.enqueueErrors.Load(),
		Submitted:           o.submitted.Load(),
		SubmitDropped:       o.submitDropped.Load(),
		CacheEntries:        o.deps.Cache.Len(),
		RecentPlates:        o.deps.Recent.Len(),
	}
	if ns := o.lastFrameAt.Load(); ns > 0 {
		t := time.Unix(0, ns)
		s.LastFrameAt = &t
	}
	return s
}
