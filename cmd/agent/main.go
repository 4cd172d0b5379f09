package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"luxagent/internal/buffer"
	"luxagent/internal/buildinfo"
	"luxagent/internal/config"
	"luxagent/internal/health"
	"luxagent/internal/metrics"
	"luxagent/internal/netwatch"
	"luxagent/internal/sampler"
	"luxagent/internal/sender"
	"luxagent/internal/sensor"
	"luxagent/internal/server"
	"luxagent/internal/storage"
	"luxagent/internal/timesync"
	"luxagent/internal/uplink"
)

func main() {
	cfg := config.LoadConfig()

	logger := initLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting light sensor agent",
		zap.String("sensor_id", cfg.Sensor.ID),
		zap.String("sensor_set_id", cfg.Sensor.SetID),
		zap.String("commit", buildinfo.CommitSHA),
	)

	// Durable storage first; everything else degrades around it.
	kv := openKV(cfg.Storage, logger)
	store := storage.NewBatchStore(kv, cfg.Storage.MaxReadings, logger)

	boot, err := health.NewBootTracker(cfg.Storage.MarkerPath)
	if err != nil {
		logger.Warn("boot tracking unavailable", zap.Error(err))
	} else if boot.Unclean() {
		logger.Warn("previous run did not shut down cleanly")
	}

	samples := buffer.NewSampleBuffer(cfg.Buffer.SampleCapacity)
	unsent := buffer.NewUnsentBuffer(cfg.Buffer.UnsentCapacity)
	met := metrics.New()

	sink := buildSink(cfg, logger)
	clock := timesync.NewNTPSource(cfg.NTP.Server, cfg.NTP.Timeout, logger)

	var net netwatch.Network = netwatch.NewProber(netwatch.ProbeConfig{
		Target:     probeTarget(cfg),
		MaxRetries: cfg.Send.ConnectRetries,
		RetryDelay: cfg.Send.ConnectDelay,
	}, logger)

	var battery health.Battery = health.NewSysfsBattery(cfg.Sensor.BatteryPath)

	var power sender.Policy = sender.Continuous{Stay: cfg.Power.StayConnected}
	if cfg.Night.Enabled {
		night, err := sender.NewNightPolicy(
			cfg.Night.StartHour, cfg.Night.EndHour, cfg.Night.Timezone,
			cfg.Power.StayConnected, logger)
		if err != nil {
			logger.Fatal("Invalid night policy", zap.Error(err))
		}
		power = night
	}

	orch := sender.New(sender.Config{
		SendInterval:    cfg.Send.Interval,
		Tick:            cfg.Send.Tick,
		MaxAttempts:     cfg.Send.MaxAttempts,
		RetryDelay:      cfg.Send.RetryDelay,
		NTPSyncInterval: cfg.NTP.SyncInterval,
		MaxLoadReadings: cfg.Storage.MaxReadings,
	}, sender.Deps{
		Samples: samples,
		Unsent:  unsent,
		Store:   store,
		Sink:    sink,
		Net:     net,
		Clock:   clock,
		Battery: battery,
		Boot:    boot,
		Power:   power,
		Metrics: met,
		Log:     logger,
	})

	samp := sampler.New(sampler.Config{
		ReadingInterval: cfg.Sensor.ReadingInterval,
	}, sampler.Deps{
		Light:   buildLightSensor(cfg, logger),
		Temp:    buildTempSource(cfg),
		Samples: samples,
		Store:   store,
		Clock:   clock,
		Metrics: met,
		Log:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		samp.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(server.Config{
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}, server.Deps{
			Samples:  samples,
			Unsent:   unsent,
			Store:    store,
			Delivery: orch,
			Metrics:  met,
			Log:      logger,
		})
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("Observability server error", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()
	wg.Wait()

	// Persist whatever the last cycle left behind so nothing is lost across
	// the restart.
	if leftover := append(unsent.Drain(), samples.Drain()...); len(leftover) > 0 {
		if err := store.SaveBatch(leftover); err != nil {
			logger.Error("Failed to persist readings on shutdown",
				zap.Int("count", len(leftover)), zap.Error(err))
		} else {
			logger.Info("Persisted readings on shutdown", zap.Int("count", len(leftover)))
		}
	}

	if srv != nil {
		if err := srv.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("Server forced to shutdown", zap.Error(err))
		}
	}
	if closer, ok := sink.(interface{ Close() }); ok {
		closer.Close()
	}
	if boot != nil {
		boot.Shutdown()
	}

	logger.Info("Agent exited properly")
}

// openKV opens the durable store, falling back to memory so the agent keeps
// sampling even when the disk is unusable.
func openKV(cfg config.StorageConfig, logger *zap.Logger) storage.KV {
	kv, err := storage.OpenSQLiteKV(cfg.Path, "sensor_data")
	if err != nil {
		logger.Error("Persistent storage unavailable, readings will not survive restarts",
			zap.String("path", cfg.Path), zap.Error(err))
		return storage.NewMemKV()
	}
	return kv
}

func buildSink(cfg *config.Config, logger *zap.Logger) uplink.Sink {
	switch cfg.Uplink.Kind {
	case "influx":
		sink, err := uplink.NewInfluxSink(context.Background(), uplink.InfluxConfig{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			SensorID:    cfg.Sensor.ID,
			SensorSetID: cfg.Sensor.SetID,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to connect to InfluxDB", zap.Error(err))
		}
		return sink
	default:
		return uplink.NewHTTPSink(uplink.HTTPConfig{
			URL:         cfg.API.URL,
			SensorID:    cfg.Sensor.ID,
			SensorSetID: cfg.Sensor.SetID,
			AuthMode:    cfg.API.AuthMode,
			BearerToken: cfg.API.BearerToken,
			JWTSecret:   cfg.API.JWTSecret,
			JWTTTL:      cfg.API.JWTTTL,
			Timeout:     cfg.API.Timeout,
		}, logger)
	}
}

func probeTarget(cfg *config.Config) string {
	if cfg.Uplink.Kind == "influx" {
		return netwatch.TargetFromURL(cfg.Influx.URL)
	}
	return netwatch.TargetFromURL(cfg.API.URL)
}

func buildLightSensor(cfg *config.Config, logger *zap.Logger) sensor.Sensor {
	if cfg.Sensor.Simulate {
		logger.Info("Using simulated light sensor")
		return sensor.NewSimulated()
	}
	// Hardware drivers register through the sensor package; simulate is the
	// only built-in on hosted platforms.
	logger.Warn("No hardware driver configured, using simulated light sensor")
	return sensor.NewSimulated()
}

func buildTempSource(cfg *config.Config) sensor.TempSource {
	if cfg.Sensor.Simulate {
		return sensor.NewSimulatedTemp()
	}
	return nil
}

// initLogger initializes the logger based on configuration.
func initLogger(cfg config.LoggingConfig) *zap.Logger {
	var zapConfig zap.Config

	level := zap.InfoLevel
	level.Set(cfg.Level)

	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Printf("Failed to create logger: %v. Using default logger.\n", err)
		return zap.NewExample()
	}
	return logger
}
