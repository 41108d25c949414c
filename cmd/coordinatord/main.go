package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/config"
	"smartlocker/internal/database"
	"smartlocker/internal/eventlog"
	"smartlocker/internal/ingestion"
	"smartlocker/internal/logger"
	"smartlocker/internal/registry"
	"smartlocker/internal/relay"
	"smartlocker/internal/reservation"
	"smartlocker/internal/routes"
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

	logger.Info("Starting coordinator",
		zap.String("environment", env),
	)

	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database connection", zap.Error(err))
		}
	}()

	events, err := eventlog.NewRepository(db.DB)
	if err != nil {
		logger.Fatal("Failed to prepare event log", zap.Error(err))
	}

	reg := registry.New(cfg.Registry.StaleAfter, cfg.Registry.SweepInterval)
	defer reg.Close()

	relayClient := relay.New(reg, cfg.Relay.Timeout)
	reservations := reservation.New(relayClient, cfg.Reservation.CodeLength)

	processor := ingestion.NewProcessor(events, reservations, 256)
	processor.Start(2)
	defer processor.Stop()

	// Columns without a broker connection post events over HTTP instead;
	// the bridge is optional.
	if cfg.MQTT.Broker != "" {
		bridge, err := ingestion.NewMQTTBridge(&ingestion.MQTTBridgeConfig{
			ClientConfig: &pkgmqtt.Config{
				Broker:         cfg.MQTT.Broker,
				ClientID:       cfg.MQTT.ClientID,
				Username:       cfg.MQTT.Username,
				Password:       cfg.MQTT.Password,
				ConnectTimeout: cfg.MQTT.ConnectTimeout,
			},
			EventTopic: cfg.MQTT.EventTopic,
			QoS:        byte(cfg.MQTT.QoS),
		}, processor)
		if err != nil {
			logger.Fatal("Failed to build MQTT bridge", zap.Error(err))
		}
		if err := bridge.Start(); err != nil {
			logger.Error("MQTT bridge unavailable, relying on HTTP events", zap.Error(err))
		} else {
			defer bridge.Stop()
		}
	}

	router := routes.SetupRoutes(cfg, routes.Deps{
		DB:           db,
		Registry:     reg,
		Reservations: reservations,
		Relay:        relayClient,
		Events:       events,
		Processor:    processor,
	})

	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	addr := net.JoinHostPort(host, port)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("address", addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("Failed to shutdown server", zap.Error(err))
	}

	log.Println("Server exited properly")
}
