package vision

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

var (
	ErrCameraUnavailable = errors.New("camera unavailable")
	ErrFrameRead         = errors.New("failed to read frame")
)

type CameraOptions struct {
	// Source is a device index ("0") or a stream URL.
	Source          string
	Width           int
	Height          int
	FPS             float64
	WarmupFrames    int
	MaxReadFailures int
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

// Camera wraps a capture device and reopens it with exponential backoff after
// repeated read failures. It must be used from a single goroutine.
type Camera struct {
	opts CameraOptions
	log  zerolog.Logger

	capture     *gocv.VideoCapture
	failures    int
	backoff     time.Duration
	nextAttempt time.Time
	now         func() time.Time
}

func OpenCamera(opts CameraOptions, log zerolog.Logger) (*Camera, error) {
	if opts.MaxReadFailures <= 0 {
		opts.MaxReadFailures = 30
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}

	c := &Camera{
		opts:    opts,
		log:     log.With().Str("component", "camera").Logger(),
		backoff: opts.ReconnectMin,
		now:     time.Now,
	}
	if err := c.open(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Camera) open() error {
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if idx, convErr := strconv.Atoi(strings.TrimSpace(c.opts.Source)); convErr == nil {
		capture, err = gocv.OpenVideoCapture(idx)
	} else {
		capture, err = gocv.OpenVideoCapture(c.opts.Source)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: %s did not open", ErrCameraUnavailable, maskCredentials(c.opts.Source))
	}

	if c.opts.Width > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
	}
	if c.opts.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
	}
	if c.opts.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, c.opts.FPS)
	}

	warm := gocv.NewMat()
	for i := 0; i < c.opts.WarmupFrames; i++ {
		capture.Read(&warm)
	}
	warm.Close()

	c.capture = capture
	c.failures = 0
	c.log.Info().Str("source", maskCredentials(c.opts.Source)).Msg("camera opened")
	return nil
}

// Read grabs the next frame into dst. It never sleeps; while the device is
// down it returns ErrCameraUnavailable until the next reconnect attempt.
func (c *Camera) Read(dst *gocv.Mat) error {
	if c.capture == nil {
		if c.now().Before(c.nextAttempt) {
			return ErrCameraUnavailable
		}
		if err := c.open(); err != nil {
			c.scheduleReconnect(err)
			return err
		}
		c.backoff = c.opts.ReconnectMin
	}

	if ok := c.capture.Read(dst); !ok || dst.Empty() {
		c.failures++
		if c.failures >= c.opts.MaxReadFailures {
			c.capture.Close()
			c.capture = nil
			c.scheduleReconnect(fmt.Errorf("%d consecutive read failures", c.failures))
		}
		return ErrFrameRead
	}

	c.failures = 0
	return nil
}

func (c *Camera) scheduleReconnect(cause error) {
	c.nextAttempt = c.now().Add(c.backoff)
	c.log.Warn().Err(cause).Dur("retry_in", c.backoff).Msg("camera down, scheduling reconnect")
	c.backoff *= 2
	if c.backoff > c.opts.ReconnectMax {
		c.backoff = c.opts.ReconnectMax
	}
}

func (c *Camera) Close() error {
	if c.capture == nil {
		return nil
	}
	err := c.capture.Close()
	c.capture = nil
	return err
}

// maskCredentials hides the password in stream URLs before logging.
func maskCredentials(source string) string {
	scheme, rest, ok := strings.Cut(source, "://")
	if !ok {
		return source
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return source
	}
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return source
	}
	return scheme + "://" + user + ":****@" + host
}
