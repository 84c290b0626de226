package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/camera"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/service"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/file"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/checkpoint/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/clock"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/cloudsink"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/config"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/db"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/display"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/events"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/faceid"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/hardware/sim"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/healthsrv"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/logging"
	"github.com/BrandonDHaskell/Portunus/checkpoint/internal/metrics"
)

// simEmbedding is the face every simulated frame carries.
var simEmbedding = []float64{0.12, 0.34, 0.56, 0.78}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, envFile string
	var simMode bool

	flagSet := pflag.NewFlagSet("checkpoint", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("CHECKPOINT_CONFIG"), "path to a TOML config file")
	flagSet.StringVar(&envFile, "env-file", ".env", "load environment variables from this file if it exists")
	flagSet.BoolVar(&simMode, "sim", false, "simulate the face analyzer and expose /v1/dev routes")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	envLoaded := false
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			envLoaded = true
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, logFile, err := logging.Setup(cfg.LogDir, "checkpoint ")
	if err != nil {
		return err
	}
	defer logFile.Close()
	if envLoaded {
		logger.Infof("loaded environment from %s", envFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if v, err := db.SchemaVersion(ctx, sqlDB); err == nil {
		logger.Infof("database %s at schema v%d", cfg.DBPath, v)
	}
	// The configured threshold only seeds the table; a dashboard change wins.
	if err := db.Seed(ctx, sqlDB, db.SeedOptions{
		Settings: map[string]string{service.SettingThreshold: cfg.Tuning.AttendanceThreshold},
	}); err != nil {
		return err
	}
	writer := db.NewWorker(sqlDB)
	defer writer.Close()

	records := sqlite.NewRecordStore(sqlDB, writer)
	scanEvents := sqlite.NewScanEventStore(sqlDB, writer)
	settingsStore := sqlite.NewSettingsStore(sqlDB, writer)
	snapshots := file.NewSnapshotStore(cfg.SnapshotPath, logger)
	cycles := file.NewCycleLog(cfg.CycleLogPath)

	m := metrics.New()
	realClock := clock.Real()

	// Background tasks and loops share one supervisor so shutdown can wait
	// for all of them.
	sup := service.NewSupervisor(ctx, logger)

	// Cloud sinks: the local record store always, MQTT when configured.
	sinks := []cloudsink.Named{{Name: "records", Sink: cloudsink.NewStoreSink(records)}}
	var status service.StatusPublisher
	if cfg.MQTT.Broker != "" {
		format, err := cloudsink.ParseFormat(cfg.MQTT.Format)
		if err != nil {
			return err
		}
		mq, err := cloudsink.NewMQTTSink(cloudsink.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Topic:       cfg.MQTT.Topic,
			StatusTopic: cfg.MQTT.StatusTopic,
			Format:      format,
		}, logger, m)
		if err != nil {
			return err
		}
		defer mq.Close()
		sup.Go("mqtt connect", func(ctx context.Context) {
			if err := mq.Connect(ctx); err != nil && ctx.Err() == nil {
				logger.Errorf("mqtt: %v", err)
			}
		})
		sup.Go("mqtt publish", mq.Run)
		sinks = append(sinks, cloudsink.Named{Name: "mqtt", Sink: mq})
		status = mq
	}
	sink := cloudsink.NewMulti(logger, m, sinks...)

	// Core state
	state := service.NewState()
	ledger := service.NewLedger(service.LedgerDeps{
		State:     state,
		Snapshots: snapshots,
		Cycles:    cycles,
		Sink:      sink,
		Clock:     realClock,
		Logger:    logger,
		Metrics:   m,
	})
	n, err := ledger.Restore(ctx)
	if err != nil {
		logger.Errorf("restore sessions: %v", err)
	} else {
		logger.Infof("restored %d active sessions", n)
	}

	// Event channel
	hub := events.NewHub(logger, m, events.HubConfig{})

	// Hardware. Raw GPIO drivers live outside this module; the simulated
	// devices stand in for them.
	sensor := sim.NewDistanceSensor(-1)
	reader := sim.NewCardReader(8)
	servo := sim.NewServo(logger)
	cam := camera.NewShared(func(int) (camera.Device, error) {
		return sim.NewCamera(640, 480), nil
	}, 3, logger)
	defer cam.Close()

	var analyzer faceid.Analyzer = faceid.NopAnalyzer{}
	if simMode {
		analyzer = faceid.NewLoopingAnalyzer(
			faceid.ScriptStep{Faces: []faceid.Face{faceid.SyntheticFace(simEmbedding, true)}},
			faceid.ScriptStep{Faces: []faceid.Face{faceid.SyntheticFace(simEmbedding, false)}},
		)
	} else {
		logger.Warnf("no face analyzer linked; verification will time out (use --sim to simulate)")
	}

	// Faces
	buf := display.NewBuffer()
	registry := faceid.NewRegistry(cfg.FacesDir, logger)
	if err := registry.Load(); err != nil {
		logger.Errorf("load faces: %v", err)
	}
	logger.Infof("loaded %d enrolled faces from %s", registry.Len(), registry.Dir())
	faceDeps := faceid.VerifierDeps{
		Registry: registry,
		Frames:   cam,
		Analyzer: analyzer,
		Overlay:  buf,
		Emitter:  hub,
		Clock:    realClock,
		Logger:   logger,
	}
	verifier := faceid.NewVerifier(faceDeps, faceid.VerifierConfig{
		Timeout:        cfg.Tuning.VerifyTimeout,
		MatchRadius:    cfg.Tuning.MatchRadius,
		BlinkThreshold: cfg.Tuning.BlinkThreshold,
		MaxMisses:      cfg.Tuning.MaxMisses,
		FrameInterval:  cfg.Tuning.FrameInterval,
	})
	enroller := faceid.NewEnroller(faceDeps, faceid.EnrollerConfig{
		Attempts: cfg.Tuning.EnrollAttempts,
		Interval: cfg.Tuning.EnrollInterval,
	})

	// Services
	auditor := service.NewAuditor(scanEvents, realClock, logger)
	unlock := service.NewUnlockSignal()
	admin := service.NewAdminGate(service.NewAdminPolicy(cfg.AdminCardIDs), hub, auditor, realClock,
		service.AdminGateConfig{TokenTTL: cfg.Tuning.AdminTokenTTL, Settle: cfg.Tuning.AdminSettle}, logger, m)
	orch := service.NewOrchestrator(service.OrchestratorDeps{
		State:      state,
		Ledger:     ledger,
		Faces:      registry,
		Verifier:   verifier,
		Overlay:    buf,
		Unlock:     unlock,
		Emitter:    hub,
		Auditor:    auditor,
		Supervisor: sup,
		Clock:      realClock,
		Logger:     logger,
		Metrics:    m,
	}, service.OrchestratorConfig{
		DeniedDisplay:  cfg.Tuning.DeniedDisplay,
		SuccessDisplay: cfg.Tuning.SuccessDisplay,
		AwaitTimeout:   cfg.Tuning.AwaitTimeout,
		UnlockOnBreak:  cfg.UnlockOnBreak,
	})
	enrollment := service.NewEnrollment(service.EnrollmentDeps{
		State:      state,
		Enroller:   enroller,
		Overlay:    buf,
		Emitter:    hub,
		Auditor:    auditor,
		Supervisor: sup,
		Logger:     logger,
	})
	hub.SetHandler(service.NewDispatcher(orch, enrollment, admin))

	door := service.NewDoorController(servo, unlock, state, realClock, service.DoorConfig{
		OpenDuration: cfg.Tuning.DoorOpen,
		Hold:         cfg.Tuning.ServoHold,
		UnlockDuty:   cfg.Tuning.UnlockDuty,
		LockDuty:     cfg.Tuning.LockDuty,
	}, logger, m)
	presence := service.NewPresenceMonitor(sensor, state, realClock, service.PresenceConfig{
		WakeDistanceCM: cfg.Tuning.WakeDistanceCM,
		Dwell:          cfg.Tuning.Dwell,
		Backoff:        cfg.Tuning.PresenceBackoff,
		DoorPausedPoll: cfg.Tuning.DoorPausedPoll,
	}, logger, m)
	cardLoop := service.NewCardLoop(service.CardLoopDeps{
		State:        state,
		Reader:       reader,
		Admin:        admin,
		Orchestrator: orch,
		Emitter:      hub,
		Status:       status,
		Clock:        realClock,
		Logger:       logger,
		Metrics:      m,
	}, service.CardLoopConfig{
		Tick:           cfg.Tuning.StatusTick,
		HeartbeatTicks: cfg.Tuning.HeartbeatTicks,
		Grace:          cfg.Tuning.Grace,
	})
	streamer := display.NewStreamer(buf, hub, realClock, display.StreamConfig{
		Interval:    cfg.Tuning.StreamInterval,
		Width:       cfg.Tuning.StreamWidth,
		Height:      cfg.Tuning.StreamHeight,
		JPEGQuality: cfg.Tuning.JPEGQuality,
	}, logger)

	sup.Go("door", door.Run)
	sup.Go("presence", presence.Run)
	sup.Go("card loop", cardLoop.Run)
	sup.Go("capture", func(ctx context.Context) {
		camera.CaptureLoop(ctx, cam, buf, realClock, cfg.Tuning.CaptureInterval, logger)
	})
	sup.Go("stream", streamer.Run)
	sup.Go("faces watch", func(ctx context.Context) {
		if err := registry.Watch(ctx, 0); err != nil {
			logger.Errorf("faces watch: %v", err)
		}
	})

	// Housekeeping
	settings := service.NewSettings(settingsStore, realClock)
	reports := service.NewReports(records, settings)
	reportJob := service.NewReportJob(reports, cfg.ReportAt, time.Local, logger)
	if err := reportJob.Start(ctx); err != nil {
		logger.Errorf("report job: %v", err)
	} else {
		defer reportJob.Stop()
	}
	pruner := service.NewRecordPruner(scanEvents, service.PrunerConfig{
		RetentionDays: cfg.AuditRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
		Clock:         realClock,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	deps := httpapi.Dependencies{
		Logger:   logger,
		Metrics:  m,
		Addr:     cfg.HTTPAddr,
		Events:   hub,
		Admin:    admin,
		Records:  records,
		Settings: settings,
		Reports:  reports,
		State:    state,
		Ledger:   ledger,
	}
	if simMode {
		deps.DevCards = reader
		deps.DevPresence = sensor
	}
	srv := httpapi.NewServer(deps)

	go func() {
		logger.Infof("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			stop()
		}
	}()

	var health *healthsrv.Server
	if cfg.GRPCAddr != "" {
		health = healthsrv.New(logger)
		go func() {
			if err := health.ListenAndServe(cfg.GRPCAddr); err != nil {
				logger.Errorf("%v", err)
			}
		}()
		health.SetServing(true)
	}

	<-ctx.Done()
	logger.Infof("shutting down")
	if health != nil {
		health.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	hub.Close()
	sup.Wait()
	return nil
}
