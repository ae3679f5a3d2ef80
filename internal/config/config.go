package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment string `mapstructure:"environment"`
	HTTP        struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	DB struct {
		Driver         string        `mapstructure:"driver"`
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		User           string        `mapstructure:"user"`
		Password       string        `mapstructure:"password"`
		Name           string        `mapstructure:"name"`
		SSLMode        string        `mapstructure:"sslmode"`
		Path           string        `mapstructure:"path"`
		MaxConns       int32         `mapstructure:"max_conns"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"db"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Workflow struct {
		HighValueThreshold float64 `mapstructure:"high_value_threshold"`
		PlaybookFile       string  `mapstructure:"playbook_file"`
	} `mapstructure:"workflow"`
	Cache struct {
		TTL      time.Duration `mapstructure:"ttl"`
		Capacity uint64        `mapstructure:"capacity"`
	} `mapstructure:"cache"`
	Notify struct {
		Sink           string `mapstructure:"sink"`
		RedisAddr      string `mapstructure:"redis_addr"`
		RedisChannel   string `mapstructure:"redis_channel"`
		WebhookURL     string `mapstructure:"webhook_url"`
		WebhookRetries uint64 `mapstructure:"webhook_retries"`
	} `mapstructure:"notify"`
	Reminders struct {
		Enable   bool   `mapstructure:"enable"`
		Schedule string `mapstructure:"schedule"`
	} `mapstructure:"reminders"`
	Telemetry struct {
		Enable      bool   `mapstructure:"enable"`
		Exporter    string `mapstructure:"exporter"`
		ServiceName string `mapstructure:"service_name"`
	} `mapstructure:"telemetry"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Notification sinks.
const (
	SinkStore   = "store"
	SinkRedis   = "redis"
	SinkWebhook = "webhook"
)

// Trace exporters.
const (
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// EnvPrefix is prepended to every environment override, e.g. CRM_DB_HOST.
const EnvPrefix = "CRM"

// LoadConfig loads the configuration from an optional .env file, a config
// file and the environment, in increasing order of precedence.
func LoadConfig(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	config.DB.Driver = strings.ToLower(strings.TrimSpace(config.DB.Driver))
	config.Notify.Sink = strings.ToLower(strings.TrimSpace(config.Notify.Sink))
	config.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(config.Telemetry.Exporter))

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)

	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "studio_crm")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.path", "studio-crm.db")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.connect_timeout", 30*time.Second)

	v.SetDefault("tls.enable", false)

	v.SetDefault("workflow.high_value_threshold", 100000)
	v.SetDefault("workflow.playbook_file", "")

	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.capacity", 1000)

	v.SetDefault("notify.sink", SinkStore)
	v.SetDefault("notify.redis_addr", "localhost:6379")
	v.SetDefault("notify.redis_channel", "crm:notifications")
	v.SetDefault("notify.webhook_retries", 3)

	v.SetDefault("reminders.enable", false)
	v.SetDefault("reminders.schedule", "@every 15m")

	v.SetDefault("telemetry.enable", false)
	v.SetDefault("telemetry.exporter", ExporterStdout)
	v.SetDefault("telemetry.service_name", "studio-crm")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks the values that would otherwise fail deep inside startup.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.Port <= 0 {
			return fmt.Errorf("invalid db.port %d", c.DB.Port)
		}
	case DriverSQLite:
		if c.DB.Path == "" {
			return errors.New("db.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}

	switch c.Notify.Sink {
	case SinkStore:
	case SinkRedis:
		if c.Notify.RedisAddr == "" {
			return errors.New("notify.redis_addr is required for the redis sink")
		}
	case SinkWebhook:
		if c.Notify.WebhookURL == "" {
			return errors.New("notify.webhook_url is required for the webhook sink")
		}
	default:
		return fmt.Errorf("unknown notify.sink %q", c.Notify.Sink)
	}

	if c.Workflow.HighValueThreshold < 0 {
		return fmt.Errorf("workflow.high_value_threshold must not be negative")
	}

	switch c.Telemetry.Exporter {
	case ExporterStdout, ExporterOTLP, ExporterNone:
	default:
		return fmt.Errorf("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}

	if c.Reminders.Enable {
		if _, err := cron.ParseStandard(c.Reminders.Schedule); err != nil {
			return fmt.Errorf("invalid reminders.schedule %q: %w", c.Reminders.Schedule, err)
		}
	}

	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file are required when tls is enabled")
	}

	return nil
}

// PostgresDSN renders the key/value connection string understood by pgx.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// IsDev reports whether the service runs in the development environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}
