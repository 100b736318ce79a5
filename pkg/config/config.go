package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Config holds the configuration for a J.E.E.V.E.S. presence agent
type Config struct {
	// MQTT configuration
	MQTTBroker   string
	MQTTPort     int
	MQTTUser     string
	MQTTPassword string
	MQTTClientID string

	// Redis configuration
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres configuration (anomaly archive)
	PostgresHost               string
	PostgresPort               int
	PostgresUser               string
	PostgresPassword           string
	PostgresDB                 string
	PostgresSSLMode            string
	PostgresMaxConnections     int
	PostgresMaxIdleConnections int
	PostgresConnMaxLifetime    time.Duration
	EnableAnomalyArchive       bool

	// Service configuration
	ServiceName string
	HealthPort  int
	LogLevel    string

	// Topology configuration
	TopologyPath string

	// Occupancy engine configuration
	SensorTopics      []string
	MotionClearSec    int
	LongActivationSec int
	GraceWindowSec    int
	TickIntervalMs    int
	MaxEventHistory   int
	PublishOnMutation bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		MQTTBroker:                 "localhost",
		MQTTPort:                   1883,
		MQTTUser:                   "",
		MQTTPassword:               "",
		MQTTClientID:               "",
		RedisHost:                  "localhost",
		RedisPort:                  6379,
		RedisPassword:              "",
		RedisDB:                    0,
		PostgresHost:               "localhost",
		PostgresPort:               5432,
		PostgresUser:               "jeeves",
		PostgresPassword:           "",
		PostgresDB:                 "jeeves",
		PostgresSSLMode:            "disable",
		PostgresMaxConnections:     4,
		PostgresMaxIdleConnections: 2,
		PostgresConnMaxLifetime:    30 * time.Minute,
		EnableAnomalyArchive:       false,
		ServiceName:                "presence-agent",
		HealthPort:                 8080,
		LogLevel:                   "info",
		TopologyPath:               "topology.yaml",
		SensorTopics:               []string{"automation/raw/+/+"},
		// Occupancy engine defaults
		MotionClearSec:    5,
		LongActivationSec: 300,
		GraceWindowSec:    5,
		TickIntervalMs:    1000,
		MaxEventHistory:   100,
		PublishOnMutation: true,
	}
}

// LoadFromEnv loads configuration from environment variables with JEEVES_ prefix
func (c *Config) LoadFromEnv() {
	// MQTT configuration
	if v := os.Getenv("JEEVES_MQTT_BROKER"); v != "" {
		c.MQTTBroker = v
	}
	if v := os.Getenv("JEEVES_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTTPort = port
		}
	}
	if v := os.Getenv("JEEVES_MQTT_USER"); v != "" {
		c.MQTTUser = v
	}
	if v := os.Getenv("JEEVES_MQTT_PASSWORD"); v != "" {
		c.MQTTPassword = v
	}
	if v := os.Getenv("JEEVES_MQTT_CLIENT_ID"); v != "" {
		c.MQTTClientID = v
	}

	// Redis configuration
	if v := os.Getenv("JEEVES_REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v := os.Getenv("JEEVES_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.RedisPort = port
		}
	}
	if v := os.Getenv("JEEVES_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("JEEVES_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.RedisDB = db
		}
	}

	// Postgres configuration
	if v := os.Getenv("JEEVES_POSTGRES_HOST"); v != "" {
		c.PostgresHost = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.PostgresPort = port
		}
	}
	if v := os.Getenv("JEEVES_POSTGRES_USER"); v != "" {
		c.PostgresUser = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_PASSWORD"); v != "" {
		c.PostgresPassword = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_DB"); v != "" {
		c.PostgresDB = v
	}
	if v := os.Getenv("JEEVES_POSTGRES_SSL_MODE"); v != "" {
		c.PostgresSSLMode = v
	}
	if v := os.Getenv("JEEVES_ENABLE_ANOMALY_ARCHIVE"); v != "" {
		if enable, err := strconv.ParseBool(v); err == nil {
			c.EnableAnomalyArchive = enable
		}
	}

	// Service configuration
	if v := os.Getenv("JEEVES_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("JEEVES_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HealthPort = port
		}
	}
	if v := os.Getenv("JEEVES_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	// Topology configuration
	if v := os.Getenv("JEEVES_TOPOLOGY_PATH"); v != "" {
		c.TopologyPath = v
	}

	// Occupancy engine configuration
	if v := os.Getenv("JEEVES_MOTION_CLEAR_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.MotionClearSec = sec
		}
	}
	if v := os.Getenv("JEEVES_LONG_ACTIVATION_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.LongActivationSec = sec
		}
	}
	if v := os.Getenv("JEEVES_GRACE_WINDOW_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil {
			c.GraceWindowSec = sec
		}
	}
	if v := os.Getenv("JEEVES_TICK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.TickIntervalMs = ms
		}
	}
	if v := os.Getenv("JEEVES_MAX_EVENT_HISTORY"); v != "" {
		if max, err := strconv.Atoi(v); err == nil {
			c.MaxEventHistory = max
		}
	}
	if v := os.Getenv("JEEVES_PUBLISH_ON_MUTATION"); v != "" {
		if enable, err := strconv.ParseBool(v); err == nil {
			c.PublishOnMutation = enable
		}
	}
}

// LoadFromFlags parses command-line flags and overrides config values
func (c *Config) LoadFromFlags() {
	// MQTT flags
	pflag.StringVar(&c.MQTTBroker, "mqtt-broker", c.MQTTBroker, "MQTT broker hostname")
	pflag.IntVar(&c.MQTTPort, "mqtt-port", c.MQTTPort, "MQTT broker port")
	pflag.StringVar(&c.MQTTUser, "mqtt-user", c.MQTTUser, "MQTT username")
	pflag.StringVar(&c.MQTTPassword, "mqtt-password", c.MQTTPassword, "MQTT password")
	pflag.StringVar(&c.MQTTClientID, "mqtt-client-id", c.MQTTClientID, "MQTT client ID")

	// Redis flags
	pflag.StringVar(&c.RedisHost, "redis-host", c.RedisHost, "Redis hostname")
	pflag.IntVar(&c.RedisPort, "redis-port", c.RedisPort, "Redis port")
	pflag.StringVar(&c.RedisPassword, "redis-password", c.RedisPassword, "Redis password")
	pflag.IntVar(&c.RedisDB, "redis-db", c.RedisDB, "Redis database number")

	// Postgres flags
	pflag.StringVar(&c.PostgresHost, "postgres-host", c.PostgresHost, "Postgres hostname")
	pflag.IntVar(&c.PostgresPort, "postgres-port", c.PostgresPort, "Postgres port")
	pflag.StringVar(&c.PostgresUser, "postgres-user", c.PostgresUser, "Postgres username")
	pflag.StringVar(&c.PostgresPassword, "postgres-password", c.PostgresPassword, "Postgres password")
	pflag.StringVar(&c.PostgresDB, "postgres-db", c.PostgresDB, "Postgres database name")
	pflag.StringVar(&c.PostgresSSLMode, "postgres-ssl-mode", c.PostgresSSLMode, "Postgres SSL mode")
	pflag.BoolVar(&c.EnableAnomalyArchive, "enable-anomaly-archive", c.EnableAnomalyArchive, "Archive anomaly records to Postgres")

	// Service flags
	pflag.StringVar(&c.ServiceName, "service-name", c.ServiceName, "Service name")
	pflag.IntVar(&c.HealthPort, "health-port", c.HealthPort, "Health check HTTP port")
	pflag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")

	// Topology flags
	pflag.StringVar(&c.TopologyPath, "topology", c.TopologyPath, "Path to the area/sensor topology YAML file")

	// Occupancy engine flags
	pflag.IntVar(&c.MotionClearSec, "motion-clear-sec", c.MotionClearSec, "Motion-clearing window in seconds")
	pflag.IntVar(&c.LongActivationSec, "long-activation-sec", c.LongActivationSec, "Long-activation (stuck sensor) threshold in seconds")
	pflag.IntVar(&c.GraceWindowSec, "grace-window-sec", c.GraceWindowSec, "Retroactive reclassification grace window in seconds")
	pflag.IntVar(&c.TickIntervalMs, "tick-interval-ms", c.TickIntervalMs, "Engine deadline tick interval in milliseconds")
	pflag.IntVar(&c.MaxEventHistory, "max-event-history", c.MaxEventHistory, "Maximum anomaly records retained in the Redis feed")
	pflag.BoolVar(&c.PublishOnMutation, "publish-on-mutation", c.PublishOnMutation, "Publish occupancy snapshots on every mutation")

	pflag.Parse()
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT broker is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT port must be between 1 and 65535")
	}
	if c.RedisHost == "" {
		return fmt.Errorf("Redis host is required")
	}
	if c.RedisPort <= 0 || c.RedisPort > 65535 {
		return fmt.Errorf("Redis port must be between 1 and 65535")
	}
	if c.HealthPort <= 0 || c.HealthPort > 65535 {
		return fmt.Errorf("Health port must be between 1 and 65535")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("Service name is required")
	}
	if c.TopologyPath == "" {
		return fmt.Errorf("Topology path is required")
	}
	if c.MotionClearSec <= 0 {
		return fmt.Errorf("Motion-clearing window must be positive")
	}
	if c.LongActivationSec <= c.MotionClearSec {
		return fmt.Errorf("Long-activation threshold must exceed the motion-clearing window")
	}
	if c.GraceWindowSec <= 0 {
		return fmt.Errorf("Grace window must be positive")
	}
	if c.EnableAnomalyArchive {
		if c.PostgresHost == "" {
			return fmt.Errorf("Postgres host is required when the anomaly archive is enabled")
		}
		if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
			return fmt.Errorf("Postgres port must be between 1 and 65535")
		}
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// MQTTAddress returns the full MQTT broker address
func (c *Config) MQTTAddress() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}

// RedisAddress returns the full Redis address
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// PostgresConnectionString returns the Postgres DSN
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode)
}

// MotionClearWindow returns the motion-clearing window as a duration
func (c *Config) MotionClearWindow() time.Duration {
	return time.Duration(c.MotionClearSec) * time.Second
}

// LongActivationThreshold returns the long-activation threshold as a duration
func (c *Config) LongActivationThreshold() time.Duration {
	return time.Duration(c.LongActivationSec) * time.Second
}

// GraceWindow returns the retroactive reclassification grace window as a duration
func (c *Config) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowSec) * time.Second
}
