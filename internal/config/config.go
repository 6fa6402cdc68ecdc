package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
	AccessTTL    time.Duration
	CookieMaxAge time.Duration
}

type CameraConfig struct {
	// Source is a device index such as "0" or a stream URL.
	Source          string
	Width           int
	Height          int
	FPS             float64
	WarmupFrames    int
	MaxReadFailures int
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
}

type DetectorConfig struct {
	ModelPath     string
	Classes       []string
	PlateClass    string
	InputSize     int
	ConfThreshold float64
	NMSThreshold  float64
	TrackerIOU    float64
	TrackerMaxAge int
}

type OCRConfig struct {
	Language       string
	Whitelist      string
	Timeout        time.Duration
	QueueSize      int
	CacheRetention time.Duration
}

type PipelineConfig struct {
	FrameSkip             int
	MinPlateArea          int
	JPEGQuality           int
	CooldownWindow        time.Duration
	CooldownRetention     time.Duration
	CooldownSweepInterval time.Duration
	RecentMaxCount        int
	RecentMaxAge          time.Duration
	PersistWorkers        int
	PersistQueueSize      int
	PersistTimeout        time.Duration
	// DetectionRetentionDays deletes older detections daily; 0 keeps all.
	DetectionRetentionDays int
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      int
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Camera      CameraConfig
	Detector    DetectorConfig
	OCR         OCRConfig
	Pipeline    PipelineConfig
	MQTT        MQTTConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
			AccessTTL:    v.GetDuration("JWT_ACCESS_TTL"),
			CookieMaxAge: v.GetDuration("AUTH_COOKIE_MAX_AGE"),
		},
		Camera: CameraConfig{
			Source:          v.GetString("CAMERA_SOURCE"),
			Width:           v.GetInt("CAMERA_WIDTH"),
			Height:          v.GetInt("CAMERA_HEIGHT"),
			FPS:             v.GetFloat64("CAMERA_FPS"),
			WarmupFrames:    v.GetInt("CAMERA_WARMUP_FRAMES"),
			MaxReadFailures: v.GetInt("CAMERA_MAX_READ_FAILURES"),
			ReconnectMin:    v.GetDuration("CAMERA_RECONNECT_MIN"),
			ReconnectMax:    v.GetDuration("CAMERA_RECONNECT_MAX"),
		},
		Detector: DetectorConfig{
			ModelPath:     v.GetString("DETECTOR_MODEL_PATH"),
			Classes:       splitList(v.GetString("DETECTOR_CLASSES")),
			PlateClass:    v.GetString("DETECTOR_PLATE_CLASS"),
			InputSize:     v.GetInt("DETECTOR_INPUT_SIZE"),
			ConfThreshold: v.GetFloat64("DETECTOR_CONF_THRESHOLD"),
			NMSThreshold:  v.GetFloat64("DETECTOR_NMS_THRESHOLD"),
			TrackerIOU:    v.GetFloat64("TRACKER_IOU_THRESHOLD"),
			TrackerMaxAge: v.GetInt("TRACKER_MAX_AGE"),
		},
		OCR: OCRConfig{
			Language:       v.GetString("OCR_LANGUAGE"),
			Whitelist:      v.GetString("OCR_WHITELIST"),
			Timeout:        v.GetDuration("RECOGNITION_TIMEOUT"),
			QueueSize:      v.GetInt("RECOGNITION_QUEUE_SIZE"),
			CacheRetention: v.GetDuration("RECOGNITION_CACHE_RETENTION"),
		},
		Pipeline: PipelineConfig{
			FrameSkip:              v.GetInt("FRAME_SKIP"),
			MinPlateArea:           v.GetInt("MIN_PLATE_AREA"),
			JPEGQuality:            v.GetInt("JPEG_QUALITY"),
			CooldownWindow:         v.GetDuration("COOLDOWN_WINDOW"),
			CooldownRetention:      v.GetDuration("COOLDOWN_RETENTION"),
			CooldownSweepInterval:  v.GetDuration("COOLDOWN_SWEEP_INTERVAL"),
			RecentMaxCount:         v.GetInt("RECENT_MAX_COUNT"),
			RecentMaxAge:           v.GetDuration("RECENT_MAX_AGE"),
			PersistWorkers:         v.GetInt("PERSIST_WORKERS"),
			PersistQueueSize:       v.GetInt("PERSIST_QUEUE_SIZE"),
			PersistTimeout:         v.GetDuration("PERSIST_TIMEOUT"),
			DetectionRetentionDays: v.GetInt("DETECTION_RETENTION_DAYS"),
		},
		MQTT: MQTTConfig{
			Broker:   v.GetString("MQTT_BROKER"),
			ClientID: v.GetString("MQTT_CLIENT_ID"),
			Topic:    v.GetString("MQTT_TOPIC"),
			Username: v.GetString("MQTT_USERNAME"),
			Password: v.GetString("MQTT_PASSWORD"),
			QoS:      v.GetInt("MQTT_QOS"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Auth.AccessTTL == 0 {
		cfg.Auth.AccessTTL = 30 * time.Minute
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 30 * 24 * time.Hour
	}

	if cfg.Camera.Source == "" {
		cfg.Camera.Source = "0"
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Camera.Height == 0 {
		cfg.Camera.Height = 480
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 30
	}
	if !v.IsSet("CAMERA_WARMUP_FRAMES") {
		cfg.Camera.WarmupFrames = 5
	}
	if cfg.Camera.MaxReadFailures == 0 {
		cfg.Camera.MaxReadFailures = 30
	}
	if cfg.Camera.ReconnectMin == 0 {
		cfg.Camera.ReconnectMin = time.Second
	}
	if cfg.Camera.ReconnectMax == 0 {
		cfg.Camera.ReconnectMax = 30 * time.Second
	}

	if cfg.Detector.ModelPath == "" {
		cfg.Detector.ModelPath = "model/plates.onnx"
	}
	if cfg.Detector.PlateClass == "" {
		cfg.Detector.PlateClass = "License_Plate"
	}
	if len(cfg.Detector.Classes) == 0 {
		cfg.Detector.Classes = []string{cfg.Detector.PlateClass}
	}
	if cfg.Detector.InputSize == 0 {
		cfg.Detector.InputSize = 640
	}
	if cfg.Detector.ConfThreshold == 0 {
		cfg.Detector.ConfThreshold = 0.25
	}
	if cfg.Detector.NMSThreshold == 0 {
		cfg.Detector.NMSThreshold = 0.45
	}
	if cfg.Detector.TrackerIOU == 0 {
		cfg.Detector.TrackerIOU = 0.3
	}
	if cfg.Detector.TrackerMaxAge == 0 {
		cfg.Detector.TrackerMaxAge = 30
	}

	if cfg.OCR.Language == "" {
		cfg.OCR.Language = "eng"
	}
	if cfg.OCR.Whitelist == "" {
		cfg.OCR.Whitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-."
	}
	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = 10 * time.Second
	}
	if !v.IsSet("RECOGNITION_CACHE_RETENTION") {
		cfg.OCR.CacheRetention = 10 * time.Minute
	}

	if cfg.Pipeline.FrameSkip == 0 {
		cfg.Pipeline.FrameSkip = 3
	}
	if cfg.Pipeline.MinPlateArea == 0 {
		cfg.Pipeline.MinPlateArea = 1000
	}
	if cfg.Pipeline.JPEGQuality == 0 {
		cfg.Pipeline.JPEGQuality = 75
	}
	if cfg.Pipeline.CooldownWindow == 0 {
		cfg.Pipeline.CooldownWindow = 10 * time.Second
	}
	if cfg.Pipeline.CooldownRetention == 0 {
		cfg.Pipeline.CooldownRetention = 60 * time.Second
	}
	if cfg.Pipeline.CooldownSweepInterval == 0 {
		cfg.Pipeline.CooldownSweepInterval = 30 * time.Second
	}
	if cfg.Pipeline.RecentMaxCount == 0 {
		cfg.Pipeline.RecentMaxCount = 50
	}
	if cfg.Pipeline.RecentMaxAge == 0 {
		cfg.Pipeline.RecentMaxAge = 60 * time.Second
	}
	if cfg.Pipeline.PersistWorkers == 0 {
		cfg.Pipeline.PersistWorkers = 4
	}
	if cfg.Pipeline.PersistQueueSize == 0 {
		cfg.Pipeline.PersistQueueSize = 256
	}
	if cfg.Pipeline.PersistTimeout == 0 {
		cfg.Pipeline.PersistTimeout = 10 * time.Second
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "anpr-stream"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "anpr"
	}
	if !v.IsSet("MQTT_QOS") {
		cfg.MQTT.QoS = 1
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Pipeline.FrameSkip < 1 {
		return fmt.Errorf("FRAME_SKIP must be at least 1, got %d", cfg.Pipeline.FrameSkip)
	}
	if cfg.Pipeline.MinPlateArea < 0 {
		return fmt.Errorf("MIN_PLATE_AREA must not be negative")
	}
	if cfg.Pipeline.JPEGQuality < 1 || cfg.Pipeline.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", cfg.Pipeline.JPEGQuality)
	}
	if cfg.Pipeline.CooldownRetention < cfg.Pipeline.CooldownWindow {
		return fmt.Errorf("COOLDOWN_RETENTION (%s) must not be shorter than COOLDOWN_WINDOW (%s)",
			cfg.Pipeline.CooldownRetention, cfg.Pipeline.CooldownWindow)
	}
	if cfg.Pipeline.PersistWorkers < 1 || cfg.Pipeline.PersistQueueSize < 1 {
		return fmt.Errorf("PERSIST_WORKERS and PERSIST_QUEUE_SIZE must be positive")
	}
	if cfg.OCR.QueueSize < 0 {
		return fmt.Errorf("RECOGNITION_QUEUE_SIZE must not be negative")
	}
	if cfg.OCR.CacheRetention < 0 {
		return fmt.Errorf("RECOGNITION_CACHE_RETENTION must not be negative")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
