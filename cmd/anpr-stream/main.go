package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hybridgroup/mjpeg"
	"github.com/rs/zerolog"

	"anpr-stream/internal/auth"
	"anpr-stream/internal/config"
	"anpr-stream/internal/cooldown"
	"anpr-stream/internal/db"
	"anpr-stream/internal/emitter"
	httphandler "anpr-stream/internal/http"
	"anpr-stream/internal/http/middleware"
	"anpr-stream/internal/logger"
	"anpr-stream/internal/pipeline"
	"anpr-stream/internal/recognition"
	"anpr-stream/internal/repository"
	"anpr-stream/internal/service"
	"anpr-stream/internal/storage"
	"anpr-stream/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment, cfg.LogLevel)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	anprRepo := repository.NewANPRRepository(database)
	userRepo := repository.NewUserRepository(database)

	// Snapshot uploads are optional.
	var uploader service.SnapshotUploader
	snapshots, err := storage.NewSnapshotStoreFromEnv()
	switch {
	case err == nil:
		uploader = snapshots
	case errors.Is(err, storage.ErrNotConfigured):
		appLogger.Warn().Msg("R2 storage not configured, plate snapshots will not be uploaded")
	default:
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}

	var (
		events   service.EventPublisher
		mqttEmit *emitter.MQTTEmitter
	)
	if cfg.MQTT.Broker != "" {
		mqttEmit = emitter.NewMQTTEmitter(emitter.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      byte(cfg.MQTT.QoS),
		}, appLogger)
		if err := mqttEmit.Connect(); err != nil {
			// The client keeps retrying in the background.
			appLogger.Warn().Err(err).Str("broker", cfg.MQTT.Broker).Msg("mqtt not reachable yet")
		}
		events = mqttEmit
	}

	gate := cooldown.New(cooldown.Options{
		Window:        cfg.Pipeline.CooldownWindow,
		Retention:     cfg.Pipeline.CooldownRetention,
		SweepInterval: cfg.Pipeline.CooldownSweepInterval,
	}, appLogger)

	detectionService := service.NewDetectionService(anprRepo, gate, uploader, events, appLogger)
	plateService := service.NewPlateService(anprRepo, appLogger)
	userService := service.NewUserService(userRepo, auth.NewIssuer(cfg.Auth.AccessSecret, cfg.Auth.AccessTTL), appLogger)

	dispatcher := service.NewDispatcher(detectionService, service.DispatcherOptions{
		Workers:   cfg.Pipeline.PersistWorkers,
		QueueSize: cfg.Pipeline.PersistQueueSize,
		Timeout:   cfg.Pipeline.PersistTimeout,
	}, appLogger)

	recognizer, err := recognition.NewTesseractRecognizer(recognition.TesseractOptions{
		Language:  cfg.OCR.Language,
		Whitelist: cfg.OCR.Whitelist,
	})
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to initialize recognizer")
	}
	defer recognizer.Close()

	cache := recognition.NewCache()
	worker := recognition.NewWorker(cache, recognizer, recognition.WorkerOptions{
		Timeout:   cfg.OCR.Timeout,
		QueueSize: cfg.OCR.QueueSize,
	}, appLogger)

	detector, err := vision.NewYOLODetector(vision.DetectorOptions{
		ModelPath:     cfg.Detector.ModelPath,
		Classes:       cfg.Detector.Classes,
		InputSize:     cfg.Detector.InputSize,
		ConfThreshold: float32(cfg.Detector.ConfThreshold),
		NMSThreshold:  float32(cfg.Detector.NMSThreshold),
	})
	if err != nil {
		appLogger.Fatal().Err(err).Str("model", cfg.Detector.ModelPath).Msg("failed to load detector model")
	}
	defer detector.Close()

	camera, err := vision.OpenCamera(vision.CameraOptions{
		Source:          cfg.Camera.Source,
		Width:           cfg.Camera.Width,
		Height:          cfg.Camera.Height,
		FPS:             cfg.Camera.FPS,
		WarmupFrames:    cfg.Camera.WarmupFrames,
		MaxReadFailures: cfg.Camera.MaxReadFailures,
		ReconnectMin:    cfg.Camera.ReconnectMin,
		ReconnectMax:    cfg.Camera.ReconnectMax,
	}, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to open camera")
	}

	stream := mjpeg.NewStream()

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Source:      camera,
		Detector:    detector,
		Tracker:     vision.NewIOUTracker(cfg.Detector.TrackerIOU, cfg.Detector.TrackerMaxAge),
		Cache:       cache,
		Recognition: worker,
		Submitter:   dispatcher,
		Recent:      pipeline.NewRecentWindow(cfg.Pipeline.RecentMaxCount, cfg.Pipeline.RecentMaxAge),
		Publisher:   stream,
	}, pipeline.Options{
		FrameSkip:      cfg.Pipeline.FrameSkip,
		MinPlateArea:   cfg.Pipeline.MinPlateArea,
		PlateClass:     cfg.Detector.PlateClass,
		JPEGQuality:    cfg.Pipeline.JPEGQuality,
		CacheRetention: cfg.OCR.CacheRetention,
	}, appLogger)

	handler := httphandler.NewHandler(detectionService, plateService, userService, orchestrator, stream, cfg, appLogger)
	handler.AddStatus("recognition", func() interface{} { return worker.Stats() })
	handler.AddStatus("persistence", func() interface{} { return dispatcher.Stats() })
	handler.AddStatus("cooldown_tracks", func() interface{} { return gate.Len() })
	if mqttEmit != nil {
		handler.AddStatus("mqtt", func() interface{} { return mqttEmit.Stats() })
	}

	authMiddleware := middleware.Auth(auth.NewParser(cfg.Auth.AccessSecret))
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	runTask(ctx, &wg, appLogger, "recognition_worker", worker.Run)
	runTask(ctx, &wg, appLogger, "cooldown_sweeper", gate.Run)
	runTask(ctx, &wg, appLogger, "dispatcher", dispatcher.Run)
	runTask(ctx, &wg, appLogger, "frame_loop", orchestrator.Run)
	runTask(ctx, &wg, appLogger, "retention", func(ctx context.Context) error {
		return detectionService.RunRetention(ctx, cfg.Pipeline.DetectionRetentionDays)
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Str("camera", cfg.Camera.Source).Msg("starting ANPR stream service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info().Msg("shutting down")

	shutdownServer(srv, 10*time.Second, appLogger)

	wg.Wait()

	if mqttEmit != nil {
		mqttEmit.Disconnect()
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}

	appLogger.Info().Msg("server exited")
}

func runTask(ctx context.Context, wg *sync.WaitGroup, log zerolog.Logger, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("task", name).Msg("background task failed")
		}
	}()
}

// shutdownServer stops srv gracefully. MJPEG viewers never finish their
// response, so connections still open at the deadline are closed.
func shutdownServer(srv *http.Server, timeout time.Duration, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Dur("timeout", timeout).Msg("closing remaining connections")
		_ = srv.Close()
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}
