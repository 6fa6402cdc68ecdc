package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "sqlite::memory:")
	t.Setenv("JWT_ACCESS_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.FrameSkip != 3 {
		t.Errorf("FrameSkip = %d, want 3", cfg.Pipeline.FrameSkip)
	}
	if cfg.Pipeline.MinPlateArea != 1000 {
		t.Errorf("MinPlateArea = %d, want 1000", cfg.Pipeline.MinPlateArea)
	}
	if cfg.Pipeline.CooldownWindow != 10*time.Second {
		t.Errorf("CooldownWindow = %v, want 10s", cfg.Pipeline.CooldownWindow)
	}
	if cfg.Pipeline.CooldownRetention != 60*time.Second || cfg.Pipeline.CooldownSweepInterval != 30*time.Second {
		t.Errorf("cooldown retention/sweep = %v/%v", cfg.Pipeline.CooldownRetention, cfg.Pipeline.CooldownSweepInterval)
	}
	if cfg.Pipeline.RecentMaxCount != 50 || cfg.Pipeline.RecentMaxAge != time.Minute {
		t.Errorf("recent window = %d/%v", cfg.Pipeline.RecentMaxCount, cfg.Pipeline.RecentMaxAge)
	}
	if cfg.OCR.Timeout != 10*time.Second {
		t.Errorf("OCR.Timeout = %v, want 10s", cfg.OCR.Timeout)
	}
	if cfg.OCR.CacheRetention != 10*time.Minute {
		t.Errorf("OCR.CacheRetention = %v, want 10m", cfg.OCR.CacheRetention)
	}
	if cfg.Camera.WarmupFrames != 5 {
		t.Errorf("WarmupFrames = %d, want 5", cfg.Camera.WarmupFrames)
	}
	if len(cfg.Detector.Classes) != 1 || cfg.Detector.Classes[0] != "License_Plate" {
		t.Errorf("Classes = %v", cfg.Detector.Classes)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("FRAME_SKIP", "1")
	t.Setenv("COOLDOWN_WINDOW", "5s")
	t.Setenv("DETECTOR_CLASSES", "car, License_Plate ,truck")
	t.Setenv("RECOGNITION_CACHE_RETENTION", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.FrameSkip != 1 {
		t.Errorf("FrameSkip = %d, want 1", cfg.Pipeline.FrameSkip)
	}
	if cfg.Pipeline.CooldownWindow != 5*time.Second {
		t.Errorf("CooldownWindow = %v, want 5s", cfg.Pipeline.CooldownWindow)
	}
	want := []string{"car", "License_Plate", "truck"}
	if len(cfg.Detector.Classes) != len(want) {
		t.Fatalf("Classes = %v, want %v", cfg.Detector.Classes, want)
	}
	for i := range want {
		if cfg.Detector.Classes[i] != want[i] {
			t.Errorf("Classes[%d] = %q, want %q", i, cfg.Detector.Classes[i], want[i])
		}
	}
	if cfg.OCR.CacheRetention != 0 {
		t.Errorf("CacheRetention = %v, want disabled", cfg.OCR.CacheRetention)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing dsn", env: map[string]string{"DB_DSN": "", "JWT_ACCESS_SECRET": "x"}},
		{name: "missing secret", env: map[string]string{"DB_DSN": "sqlite::memory:", "JWT_ACCESS_SECRET": ""}},
		{name: "negative frame skip", env: map[string]string{"FRAME_SKIP": "-2"}},
		{name: "retention shorter than window", env: map[string]string{"COOLDOWN_WINDOW": "90s"}},
		{name: "bad jpeg quality", env: map[string]string{"JPEG_QUALITY": "101"}},
		{name: "bad qos", env: map[string]string{"MQTT_QOS": "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("Load() error = nil, want validation error")
			}
		})
	}
}
