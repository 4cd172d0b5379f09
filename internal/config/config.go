package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the agent.
type Config struct {
	Sensor  SensorConfig
	API     APIConfig
	Uplink  UplinkConfig
	Influx  InfluxConfig
	Buffer  BufferConfig
	Storage StorageConfig
	Send    SendConfig
	NTP     NTPConfig
	Night   NightConfig
	Power   PowerConfig
	Server  ServerConfig
	Logging LoggingConfig
}

// SensorConfig identifies the device and its sampling cadence.
type SensorConfig struct {
	ID              string
	SetID           string
	ReadingInterval time.Duration
	Simulate        bool
	BatteryPath     string
}

// APIConfig holds the remote HTTP API settings.
type APIConfig struct {
	URL         string
	AuthMode    string // "bearer" or "jwt"
	BearerToken string
	JWTSecret   string
	JWTTTL      time.Duration
	Timeout     time.Duration
}

// UplinkConfig selects the delivery sink.
type UplinkConfig struct {
	Kind string // "http" or "influx"
}

// InfluxConfig holds direct-to-InfluxDB settings.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// BufferConfig sizes the in-memory buffers.
type BufferConfig struct {
	SampleCapacity int
	UnsentCapacity int
}

// StorageConfig holds the persistent batch store settings.
type StorageConfig struct {
	Path        string
	MaxReadings int
	MarkerPath  string
}

// SendConfig tunes the send cycle.
type SendConfig struct {
	Interval       time.Duration
	Tick           time.Duration
	MaxAttempts    int
	RetryDelay     time.Duration
	ConnectRetries int
	ConnectDelay   time.Duration
}

// NTPConfig holds time sync settings.
type NTPConfig struct {
	Server       string
	SyncInterval time.Duration
	Timeout      time.Duration
}

// NightConfig defines quiet hours during which send cycles are skipped.
type NightConfig struct {
	Enabled   bool
	StartHour int
	EndHour   int
	Timezone  string
}

// PowerConfig controls connect/disconnect behavior.
type PowerConfig struct {
	StayConnected bool
}

// ServerConfig holds the local observability HTTP server settings.
type ServerConfig struct {
	Enabled         bool
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables and an optional
// config file.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found. Using environment variables and defaults.")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/luxagent")

	// Defaults mirror the field deployment: 15s samples batched for 5
	// minutes, 4 hours of persisted backlog.
	viper.SetDefault("sensor.readingInterval", "15s")
	viper.SetDefault("sensor.simulate", false)
	viper.SetDefault("sensor.batteryPath", "/sys/class/power_supply/BAT0")

	viper.SetDefault("api.authMode", "bearer")
	viper.SetDefault("api.jwtTTL", "5m")
	viper.SetDefault("api.timeout", "30s")

	viper.SetDefault("uplink.kind", "http")

	viper.SetDefault("buffer.sampleCapacity", 20)
	viper.SetDefault("buffer.unsentCapacity", 120)

	viper.SetDefault("storage.path", "/var/lib/luxagent/luxagent.db")
	viper.SetDefault("storage.maxReadings", 960)
	viper.SetDefault("storage.markerPath", "/var/lib/luxagent/running")

	viper.SetDefault("send.interval", "5m")
	viper.SetDefault("send.tick", "30s")
	viper.SetDefault("send.maxAttempts", 3)
	viper.SetDefault("send.retryDelay", "5s")
	viper.SetDefault("send.connectRetries", 15)
	viper.SetDefault("send.connectDelay", "2s")

	viper.SetDefault("ntp.server", "pool.ntp.org")
	viper.SetDefault("ntp.syncInterval", "1h")
	viper.SetDefault("ntp.timeout", "10s")

	viper.SetDefault("night.enabled", false)
	viper.SetDefault("night.startHour", 22)
	viper.SetDefault("night.endHour", 4)
	viper.SetDefault("night.timezone", "UTC")

	viper.SetDefault("power.stayConnected", false)

	viper.SetDefault("server.enabled", true)
	viper.SetDefault("server.port", "9090")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LUXAGENT")

	viper.BindEnv("sensor.id", "LUXAGENT_SENSOR_ID")
	viper.BindEnv("sensor.setId", "LUXAGENT_SENSOR_SET_ID")
	viper.BindEnv("api.url", "LUXAGENT_API_URL")
	viper.BindEnv("api.bearerToken", "LUXAGENT_BEARER_TOKEN")
	viper.BindEnv("api.jwtSecret", "LUXAGENT_JWT_SECRET")
	viper.BindEnv("influx.url", "LUXAGENT_INFLUX_URL")
	viper.BindEnv("influx.token", "LUXAGENT_INFLUX_TOKEN")
	viper.BindEnv("influx.org", "LUXAGENT_INFLUX_ORG")
	viper.BindEnv("influx.bucket", "LUXAGENT_INFLUX_BUCKET")
	viper.BindEnv("storage.path", "LUXAGENT_STORAGE_PATH")
	viper.BindEnv("server.port", "LUXAGENT_PORT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("Error reading config file: %s", err)
		}
		log.Println("No config file found. Using environment variables and defaults.")
	}

	cfg := &Config{
		Sensor: SensorConfig{
			ID:              viper.GetString("sensor.id"),
			SetID:           viper.GetString("sensor.setId"),
			ReadingInterval: mustDuration("sensor.readingInterval"),
			Simulate:        viper.GetBool("sensor.simulate"),
			BatteryPath:     viper.GetString("sensor.batteryPath"),
		},
		API: APIConfig{
			URL:         viper.GetString("api.url"),
			AuthMode:    viper.GetString("api.authMode"),
			BearerToken: viper.GetString("api.bearerToken"),
			JWTSecret:   viper.GetString("api.jwtSecret"),
			JWTTTL:      mustDuration("api.jwtTTL"),
			Timeout:     mustDuration("api.timeout"),
		},
		Uplink: UplinkConfig{
			Kind: viper.GetString("uplink.kind"),
		},
		Influx: InfluxConfig{
			URL:    viper.GetString("influx.url"),
			Token:  viper.GetString("influx.token"),
			Org:    viper.GetString("influx.org"),
			Bucket: viper.GetString("influx.bucket"),
		},
		Buffer: BufferConfig{
			SampleCapacity: viper.GetInt("buffer.sampleCapacity"),
			UnsentCapacity: viper.GetInt("buffer.unsentCapacity"),
		},
		Storage: StorageConfig{
			Path:        viper.GetString("storage.path"),
			MaxReadings: viper.GetInt("storage.maxReadings"),
			MarkerPath:  viper.GetString("storage.markerPath"),
		},
		Send: SendConfig{
			Interval:       mustDuration("send.interval"),
			Tick:           mustDuration("send.tick"),
			MaxAttempts:    viper.GetInt("send.maxAttempts"),
			RetryDelay:     mustDuration("send.retryDelay"),
			ConnectRetries: viper.GetInt("send.connectRetries"),
			ConnectDelay:   mustDuration("send.connectDelay"),
		},
		NTP: NTPConfig{
			Server:       viper.GetString("ntp.server"),
			SyncInterval: mustDuration("ntp.syncInterval"),
			Timeout:      mustDuration("ntp.timeout"),
		},
		Night: NightConfig{
			Enabled:   viper.GetBool("night.enabled"),
			StartHour: viper.GetInt("night.startHour"),
			EndHour:   viper.GetInt("night.endHour"),
			Timezone:  viper.GetString("night.timezone"),
		},
		Power: PowerConfig{
			StayConnected: viper.GetBool("power.stayConnected"),
		},
		Server: ServerConfig{
			Enabled:         viper.GetBool("server.enabled"),
			Port:            viper.GetString("server.port"),
			ReadTimeout:     mustDuration("server.readTimeout"),
			WriteTimeout:    mustDuration("server.writeTimeout"),
			ShutdownTimeout: mustDuration("server.shutdownTimeout"),
		},
		Logging: LoggingConfig{
			Level:  viper.GetString("logging.level"),
			Format: viper.GetString("logging.format"),
		},
	}

	if cfg.Sensor.ID == "" {
		log.Fatal("Sensor ID is required")
	}
	if cfg.Sensor.SetID == "" {
		log.Fatal("Sensor set ID is required")
	}
	switch cfg.Uplink.Kind {
	case "http":
		if cfg.API.URL == "" {
			log.Fatal("API URL is required")
		}
		switch cfg.API.AuthMode {
		case "bearer":
			if cfg.API.BearerToken == "" {
				log.Fatal("Bearer token is required for bearer auth")
			}
		case "jwt":
			if cfg.API.JWTSecret == "" {
				log.Fatal("JWT secret is required for jwt auth")
			}
		default:
			log.Fatalf("Unknown auth mode %q", cfg.API.AuthMode)
		}
	case "influx":
		if cfg.Influx.URL == "" || cfg.Influx.Token == "" {
			log.Fatal("Influx URL and token are required for influx uplink")
		}
	default:
		log.Fatalf("Unknown uplink kind %q", cfg.Uplink.Kind)
	}

	return cfg
}

func mustDuration(key string) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil {
		log.Fatalf("Invalid duration for %s: %s", key, err)
	}
	return d
}
