package emitter

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"anpr-stream/internal/domain/anpr"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"localhost:1883", "tcp://localhost:1883"},
		{"ssl://broker:8883", "ssl://broker:8883"},
		{"ws://broker/mqtt", "ws://broker/mqtt"},
	}
	for _, tt := range tests {
		if got := brokerURL(tt.in); got != tt.want {
			t.Errorf("brokerURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectionTopic(t *testing.T) {
	e := NewMQTTEmitter(Options{Topic: "site/gate1/"}, zerolog.Nop())
	if got := e.DetectionTopic(); got != "site/gate1/detections" {
		t.Errorf("DetectionTopic() = %q", got)
	}
}

func TestPublishWithoutConnection(t *testing.T) {
	e := NewMQTTEmitter(Options{Topic: "anpr"}, zerolog.Nop())

	err := e.PublishDetection(anpr.DetectionEvent{Plate: "12-G5000.50"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("PublishDetection() error = %v, want ErrNotConnected", err)
	}
	if s := e.Stats(); s.Errors != 1 || s.Connected {
		t.Errorf("Stats() = %+v", s)
	}
}
