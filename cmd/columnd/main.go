package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/config"
	"smartlocker/internal/firmware/column"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/hal"
	"smartlocker/internal/logger"
	pkgmqtt "smartlocker/pkg/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	env := cfg.Server.Environment
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Column.ID == "" {
		logger.Fatal("Column ID is missing. Please set COLUMN_ID environment variable.")
	}

	logger.Info("Starting column controller",
		zap.String("environment", env),
		zap.String("column_id", cfg.Column.ID),
		zap.Int("compartments", cfg.Column.Compartments),
	)

	// The simulated shift register chain stands in for real hardware; a
	// GPIO-backed HAL slots in here without touching the rest of the stack.
	sim := hal.NewSim(cfg.Column.Compartments)

	timing := compartment.Timing{
		MotionTimeout: cfg.Hardware.MotionTimeout,
		SolenoidPulse: cfg.Hardware.SolenoidPulse,
	}
	policy := compartment.NewSafetyPolicy(cfg.Hardware.SafetyBypass)

	machines := make([]*compartment.Machine, cfg.Column.Compartments)
	for i := range machines {
		bus := hal.NewBus(sim, hal.CompartmentPins(i), cfg.Hardware.MinPulseWidth)
		machines[i] = compartment.New(i, bus, policy, timing)
	}

	var events column.EventPublisher
	if cfg.MQTT.Broker != "" {
		publisher, err := column.NewMQTTEventPublisher(&pkgmqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, cfg.Column.ID)
		if err != nil {
			logger.Error("MQTT broker unavailable, falling back to HTTP events", zap.Error(err))
		} else {
			events = publisher
			defer publisher.Close()
		}
	}

	sync := column.NewSyncClient(column.SyncConfig{
		ColumnID:          cfg.Column.ID,
		Address:           cfg.Column.ListenAddr,
		CoordinatorURL:    cfg.Column.CoordinatorURL,
		FirmwareVersion:   cfg.Column.FirmwareVersion,
		AnnounceInterval:  cfg.Column.AnnounceInterval,
		HeartbeatInterval: cfg.Column.HeartbeatInterval,
		SendTimeout:       cfg.Column.SendTimeout,
	}, events)

	loop := column.NewLoop(machines, sync, cfg.Column.CycleInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	server := &http.Server{
		Addr:         cfg.Column.ListenAddr,
		Handler:      column.NewServer(loop, cfg.Column.SendTimeout).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Command endpoint starting",
			zap.String("address", cfg.Column.ListenAddr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start command endpoint", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown column controller ...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Failed to shutdown command endpoint", zap.Error(err))
	}

	log.Println("Column controller exited properly")
}
