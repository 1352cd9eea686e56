package main

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/db"
	"github.com/thatsimonsguy/bms-acquisition/internal/acquisition"
	"github.com/thatsimonsguy/bms-acquisition/internal/api"
	"github.com/thatsimonsguy/bms-acquisition/internal/chain"
	"github.com/thatsimonsguy/bms-acquisition/internal/config"
	"github.com/thatsimonsguy/bms-acquisition/internal/datadog"
	"github.com/thatsimonsguy/bms-acquisition/internal/env"
	"github.com/thatsimonsguy/bms-acquisition/internal/gpio"
	"github.com/thatsimonsguy/bms-acquisition/internal/logging"
	"github.com/thatsimonsguy/bms-acquisition/internal/notifications"
	"github.com/thatsimonsguy/bms-acquisition/internal/telemetry"
	"github.com/thatsimonsguy/bms-acquisition/internal/temperature"
	"github.com/thatsimonsguy/bms-acquisition/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)
	env.Cfg = &cfg

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Str("driver", cfg.Chain.Driver).
		Msg("Starting BMS acquisition")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED - GPIO writes are disabled system-wide")
	} else if err := gpio.ValidateOutputPin(cfg.Heartbeat); err != nil {
		log.Warn().Err(err).Int("pin", cfg.Heartbeat.Number).Msg("Heartbeat pin not usable, continuing without it")
	}

	datadog.InitMetrics()

	cal, err := cfg.Calibration()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid thermistor calibration")
	}

	var database *sql.DB
	if cfg.DBPath != "" {
		database, err = db.Open(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
		}
		defer database.Close()
	}

	client, err := chain.NewClient(cfg.Chain.Driver, chain.SimConfig{
		Dims:        cfg.Dims(),
		Temperature: float32(cfg.Chain.SimTemperature),
		ReadyAfter:  cfg.Chain.SimReadyAfter,
	}, cal)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create chain client")
	}

	notifier := notifications.New(cfg.NtfyURL, cfg.NtfyTopic)

	latest := telemetry.NewLatest()
	sinks := telemetry.Fanout{latest, telemetry.LogSink{}, telemetry.MetricsSink{}}
	if database != nil {
		sinks = append(sinks, &telemetry.StoreSink{DB: database, Retain: cfg.RetentionCycles, PruneEvery: 100})
	}

	var channels *temperature.Monitor
	if cfg.Channels.Enabled {
		channels = temperature.NewMonitor(temperature.MonitorConfig{
			MaxDelta:     cfg.Channels.MaxDelta,
			MaxAnomalies: cfg.Channels.MaxAnomalies,
			MinTemp:      float64(cal.MinTemp),
			MaxTemp:      float64(cal.MaxTemp),
		}, notifications.Background{Notifier: notifier})
		sinks = append(sinks, channels)
	}

	heartbeat := gpio.NewHeartbeat(cfg.Heartbeat)
	ctrl := acquisition.New(client, cal, acquisition.Options{
		Dims:               cfg.Dims(),
		Mode:               cfg.ADCMode(),
		DischargePermitted: cfg.Chain.DischargePermitted,
		Period:             cfg.Acquisition.Period,
		PollInterval:       cfg.Acquisition.PollInterval,
		PollRetries:        cfg.Acquisition.PollRetries,
	}, sinks, heartbeat)
	ctrl.SetFaultNotifier(notifier)

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if err := ctrl.Configure(ctx, cfg.Chain.DeviceConfigs); err != nil {
		log.Error().Err(err).Msg("Chain configuration failed, continuing with device defaults")
	}

	if cfg.APIPort > 0 {
		server := api.NewServer(latest, database, &cfg)
		if channels != nil {
			server.SetChannelMonitor(channels)
		}
		go func() {
			if err := server.Start(ctx, cfg.APIPort); err != nil {
				log.Error().Err(err).Msg("API server stopped")
			}
		}()
	}

	err = ctrl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Acquisition stopped unexpectedly")
	}

	log.Info().Msg("Shutting down")
	shutdown.Shutdown()
}
