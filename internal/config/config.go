package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	MQTT        MQTTConfig
	Registry    RegistryConfig
	Relay       RelayConfig
	Reservation ReservationConfig
	Column      ColumnConfig
	Hardware    HardwareConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
}

type ServerConfig struct {
	Port        string
	Host        string
	Environment string
}

type DatabaseConfig struct {
	Driver   string // "postgres" or "sqlite"
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string // sqlite file path
}

type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	EventTopic     string // columns/+/events on the coordinator side
	QoS            int
	ConnectTimeout int // seconds
}

type RegistryConfig struct {
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

type RelayConfig struct {
	Timeout time.Duration
}

type ReservationConfig struct {
	CodeLength int
}

// ColumnConfig configures the embedded column controller daemon.
type ColumnConfig struct {
	ID                string
	ListenAddr        string // address the command endpoint binds and announces
	CoordinatorURL    string
	Compartments      int
	CycleInterval     time.Duration
	AnnounceInterval  time.Duration
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
	FirmwareVersion   string
}

// HardwareConfig carries the actuation timing constants and the safety
// interlock bypass. The bypass is a deliberate, logged configuration value;
// there is no compile-time way to disable the interlock.
type HardwareConfig struct {
	MotionTimeout time.Duration
	SolenoidPulse time.Duration
	MinPulseWidth time.Duration
	SafetyBypass  bool
}

type RateLimitConfig struct {
	GeneralRPS   float64
	GeneralBurst int
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AddConfigPath(".")
	if homeDir, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(homeDir)
	}
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			if _, statErr := os.Stat(".env"); statErr == nil {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
		log.Printf("Warning: config file not found: %v. Falling back to environment variables only.", err)
	}

	setDefaults()

	cfg := &Config{
		Server: ServerConfig{
			Port:        viper.GetString("SERVER_PORT"),
			Host:        viper.GetString("SERVER_HOST"),
			Environment: viper.GetString("ENVIRONMENT"),
		},
		Database: DatabaseConfig{
			Driver:   viper.GetString("DB_DRIVER"),
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			DBName:   viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
			Path:     viper.GetString("DB_PATH"),
		},
		MQTT: MQTTConfig{
			Broker:         viper.GetString("MQTT_BROKER"),
			ClientID:       viper.GetString("MQTT_CLIENT_ID"),
			Username:       viper.GetString("MQTT_USERNAME"),
			Password:       viper.GetString("MQTT_PASSWORD"),
			EventTopic:     viper.GetString("MQTT_EVENT_TOPIC"),
			QoS:            viper.GetInt("MQTT_QOS"),
			ConnectTimeout: viper.GetInt("MQTT_CONNECT_TIMEOUT"),
		},
		Registry: RegistryConfig{
			StaleAfter:    viper.GetDuration("REGISTRY_STALE_AFTER"),
			SweepInterval: viper.GetDuration("REGISTRY_SWEEP_INTERVAL"),
		},
		Relay: RelayConfig{
			Timeout: viper.GetDuration("RELAY_TIMEOUT"),
		},
		Reservation: ReservationConfig{
			CodeLength: viper.GetInt("PICKUP_CODE_LENGTH"),
		},
		Column: ColumnConfig{
			ID:                viper.GetString("COLUMN_ID"),
			ListenAddr:        viper.GetString("COLUMN_LISTEN_ADDR"),
			CoordinatorURL:    viper.GetString("COORDINATOR_URL"),
			Compartments:      viper.GetInt("COLUMN_COMPARTMENTS"),
			CycleInterval:     viper.GetDuration("COLUMN_CYCLE_INTERVAL"),
			AnnounceInterval:  viper.GetDuration("COLUMN_ANNOUNCE_INTERVAL"),
			HeartbeatInterval: viper.GetDuration("COLUMN_HEARTBEAT_INTERVAL"),
			SendTimeout:       viper.GetDuration("COLUMN_SEND_TIMEOUT"),
			FirmwareVersion:   viper.GetString("COLUMN_FIRMWARE_VERSION"),
		},
		Hardware: HardwareConfig{
			MotionTimeout: viper.GetDuration("HW_MOTION_TIMEOUT"),
			SolenoidPulse: viper.GetDuration("HW_SOLENOID_PULSE"),
			MinPulseWidth: viper.GetDuration("HW_MIN_PULSE_WIDTH"),
			SafetyBypass:  viper.GetBool("HW_SAFETY_BYPASS"),
		},
		RateLimit: RateLimitConfig{
			GeneralRPS:   viper.GetFloat64("RATE_LIMIT_RPS"),
			GeneralBurst: viper.GetInt("RATE_LIMIT_BURST"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   viper.GetStringSlice("CORS_ALLOWED_ORIGINS"),
			AllowedMethods:   viper.GetStringSlice("CORS_ALLOWED_METHODS"),
			AllowedHeaders:   viper.GetStringSlice("CORS_ALLOWED_HEADERS"),
			ExposedHeaders:   viper.GetStringSlice("CORS_EXPOSED_HEADERS"),
			AllowCredentials: viper.GetBool("CORS_ALLOW_CREDENTIALS"),
			MaxAge:           viper.GetInt("CORS_MAX_AGE"),
		},
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("ENVIRONMENT", "development")

	viper.SetDefault("DB_DRIVER", "sqlite")
	viper.SetDefault("DB_PATH", "smartlocker.db")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("MQTT_EVENT_TOPIC", "columns/+/events")
	viper.SetDefault("MQTT_QOS", 0)
	viper.SetDefault("MQTT_CONNECT_TIMEOUT", 10)

	viper.SetDefault("REGISTRY_STALE_AFTER", "90s")
	viper.SetDefault("REGISTRY_SWEEP_INTERVAL", "15s")
	viper.SetDefault("RELAY_TIMEOUT", "5s")
	viper.SetDefault("PICKUP_CODE_LENGTH", 6)

	viper.SetDefault("COLUMN_LISTEN_ADDR", "0.0.0.0:9090")
	viper.SetDefault("COLUMN_COMPARTMENTS", 8)
	viper.SetDefault("COLUMN_CYCLE_INTERVAL", "50ms")
	viper.SetDefault("COLUMN_ANNOUNCE_INTERVAL", "5s")
	viper.SetDefault("COLUMN_HEARTBEAT_INTERVAL", "30s")
	viper.SetDefault("COLUMN_SEND_TIMEOUT", "3s")
	viper.SetDefault("COLUMN_FIRMWARE_VERSION", "dev")

	viper.SetDefault("HW_MOTION_TIMEOUT", "8s")
	viper.SetDefault("HW_SOLENOID_PULSE", "150ms")
	viper.SetDefault("HW_MIN_PULSE_WIDTH", "2us")
	viper.SetDefault("HW_SAFETY_BYPASS", false)

	viper.SetDefault("RATE_LIMIT_RPS", 50.0)
	viper.SetDefault("RATE_LIMIT_BURST", 100)

	viper.SetDefault("CORS_ALLOWED_ORIGINS", []string{"*"})
	viper.SetDefault("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
	viper.SetDefault("CORS_MAX_AGE", 3600)
}

// DSN builds the postgres connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
