package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/trash-spawn-service/camera"
	"github.com/Tutortoise/trash-spawn-service/config"
	"github.com/Tutortoise/trash-spawn-service/detections"
	"github.com/Tutortoise/trash-spawn-service/detector"
	"github.com/Tutortoise/trash-spawn-service/events"
	"github.com/Tutortoise/trash-spawn-service/log"
	"github.com/Tutortoise/trash-spawn-service/scheduler"
	"github.com/Tutortoise/trash-spawn-service/spawn"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env", ".env", "path to a .env file")
	verify := flag.Bool("verify", false, "check model, runtime and inference, then exit")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := log.NewLogger(log.Options{Level: cfg.LogLevel, Dir: cfg.LogDir, Env: cfg.AppEnv})
	log.Debug(log.Fields{"env": cfg.AppEnv, "strategy": cfg.Strategy, "backend": cfg.Backend}, "configuration loaded")

	if *verify {
		os.Exit(runVerify(context.Background(), cfg, logger, os.Stdout))
	}

	if err := run(cfg, logger); err != nil {
		log.Fatal(log.Fields{"error": err}, "daemon stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("cpu", detections.DetectCPUFeatures().String()).Info("starting trash spawn service")

	labels, err := loadLabels(cfg)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	if engine != nil {
		defer func() {
			if err := releaseEngine(engine); err != nil {
				logger.WithError(err).Warn("engine teardown")
			}
		}()
		if err := engine.Load(ctx); err != nil {
			printModelLoadBanner(os.Stderr, cfg, err)
			log.Error(log.Fields{"component": "engine", "error": err}, MsgModelUnavailable)
		}
	} else {
		log.Warn(log.Fields{"backend": cfg.Backend}, MsgMockBackend)
	}

	service, err := buildService(cfg, engine, labels, logger)
	if err != nil {
		return err
	}

	population := spawn.NewPopulation(cfg.MaxActiveSpawns)
	policy := spawn.NewPolicy(spawn.Projection{
		Distance:       cfg.SpawnDistance,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
		FOV:            cfg.CameraFOV,
	})

	hub := events.NewHub(logger)
	hub.OnCollected(func(entityType string) { population.Collected(entityType) })
	go hub.Run(ctx)

	sinks := events.Fanout{events.NewLogSink(logger), hub}
	if cfg.RedisAddress != "" {
		redis := events.NewRedisPublisher(events.RedisOptions{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		}, logger)
		defer redis.Close()
		sinks = append(sinks, redis)
	}

	sched := scheduler.New(scheduler.Config{
		Interval:          cfg.DetectionInterval,
		Timeout:           cfg.DetectionTimeout,
		MaxSpawnsPerCycle: cfg.MaxSpawnsPerCycle,
		Threshold:         float32(cfg.Threshold),
	}, camera.NewDirectorySource(cfg.CameraDir), service, policy, sinks, logger)
	sched.SetGate(population)
	sched.Start(ctx)
	defer sched.Stop()

	state := &AppState{
		Service:    service,
		Scheduler:  sched,
		Engine:     engine,
		Population: population,
		Hub:        hub,
		Logger:     log.Component(logger, "http"),
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.HTTPAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.Fields{"addr": srv.Addr}, "Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// shutdownRuntime unloads the runtime library. Replaced in tests.
var shutdownRuntime = detections.ShutdownRuntime

// releaseEngine closes the model before the runtime library goes away.
func releaseEngine(engine *detections.Engine) error {
	var errs []error
	if engine != nil {
		if err := engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := shutdownRuntime(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func loadLabels(cfg *config.Config) (detections.Labels, error) {
	if cfg.LabelsPath == "" {
		return detections.DefaultLabels, nil
	}
	return detections.LoadLabels(cfg.LabelsPath)
}

// buildEngine returns nil when the configured backend runs no model.
func buildEngine(cfg *config.Config, logger logrus.FieldLogger) (*detections.Engine, error) {
	backend, err := detections.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if backend == detections.BackendMock {
		return nil, nil
	}
	layout, err := detections.ParseLayout(cfg.TensorLayout)
	if err != nil {
		return nil, err
	}

	spec := detections.ModelSpec{
		Path:    cfg.ModelPath,
		Backend: backend,
		Width:   cfg.InputWidth,
		Height:  cfg.InputHeight,
		Layout:  layout,
		Threads: cfg.InferThreads,
	}

	var ib detections.InferenceBackend
	switch cfg.Runtime {
	case "opencv":
		ib = detections.NewOpenCVBackend(logger)
	default:
		ib = detections.NewORTBackend(cfg.RuntimeLibPath, logger)
	}
	return detections.NewEngine(ib, spec, detections.WithLogger(logger)), nil
}

func buildService(cfg *config.Config, engine *detections.Engine, labels detections.Labels, logger logrus.FieldLogger) (*detector.Service, error) {
	strategy, err := detector.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	layout, err := detections.ParseLayout(cfg.TensorLayout)
	if err != nil {
		return nil, err
	}
	threshold := float32(cfg.Threshold)

	opts := []detector.Option{
		detector.WithMockLabel(cfg.MockLabel),
		detector.WithLogger(logger),
	}
	if engine != nil {
		opts = append(opts, detector.WithEngine(
			engine,
			detections.NewPreprocessor(cfg.InputWidth, cfg.InputHeight, layout),
			detections.NewDecoder(labels, threshold, cfg.ApplySoftmax, logger),
		))
	}
	if cfg.RemoteURL != "" {
		opts = append(opts, detector.WithRemote(detector.NewRemoteClient(cfg.RemoteURL,
			detector.WithRateLimit(cfg.RemoteRateLimit),
			detector.WithJPEGQuality(cfg.RemoteJPEGQuality),
			detector.WithRemoteThreshold(threshold),
		)))
	}
	return detector.New(strategy, opts...), nil
}
