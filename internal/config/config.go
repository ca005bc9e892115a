// Package config loads the hub configuration: defaults, then an optional
// YAML file named by CONFIG_FILE, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	AuthPermitAll = "permit-all"
	AuthJWT       = "jwt"
	AuthHTTP      = "http"

	NotifierNone  = "none"
	NotifierHTTP  = "http"
	NotifierRedis = "redis"

	StoreHTTP = "http"
	StoreSQL  = "sql"
)

type Config struct {
	Port string `yaml:"port"`

	DocumentServiceURL string        `yaml:"document_service_url"`
	Store              string        `yaml:"store"`
	DatabaseDriver     string        `yaml:"database_driver"`
	DatabaseURL        string        `yaml:"database_url"`
	CacheEnabled       bool          `yaml:"cache_enabled"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	SaveTimeout        time.Duration `yaml:"save_timeout"`

	AuthMode       string        `yaml:"auth_mode"`
	AuthServiceURL string        `yaml:"auth_service_url"`
	AuthTimeout    time.Duration `yaml:"auth_timeout"`
	JWTSecret      string        `yaml:"jwt_secret"`

	Notifier         string        `yaml:"notifier"`
	MessageBrokerURL string        `yaml:"message_broker_url"`
	EventsChannel    string        `yaml:"events_channel"`
	PublishTimeout   time.Duration `yaml:"publish_timeout"`
	NotifyQueue      int           `yaml:"notify_queue"`

	RedisAddr string `yaml:"redis_addr"`

	SaveDebounce       time.Duration `yaml:"save_debounce"`
	CheckpointSchedule string        `yaml:"checkpoint_schedule"`

	MaxMessageBytes int64         `yaml:"ws_max_message_bytes"`
	PingInterval    time.Duration `yaml:"ws_ping_interval"`
	SendBuffer      int           `yaml:"ws_send_buffer"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	LogLevel           string   `yaml:"log_level"`
}

func Defaults() *Config {
	return &Config{
		Port:               "8080",
		DocumentServiceURL: "http://localhost:8001",
		Store:              StoreHTTP,
		DatabaseDriver:     "postgres",
		CacheTTL:           5 * time.Minute,
		FetchTimeout:       5 * time.Second,
		SaveTimeout:        5 * time.Second,
		AuthMode:           AuthPermitAll,
		AuthTimeout:        5 * time.Second,
		EventsChannel:      "document-events",
		PublishTimeout:     3 * time.Second,
		NotifyQueue:        1024,
		SaveDebounce:       2 * time.Second,
		CheckpointSchedule: "@every 30s",
		MaxMessageBytes:    1 << 20,
		PingInterval:       30 * time.Second,
		SendBuffer:         256,
		CORSAllowedOrigins: []string{"*"},
		LogLevel:           "info",
	}
}

// LoadConfig builds the configuration and validates it.
func LoadConfig() (*Config, error) {
	config := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if config.Notifier == "" {
		config.Notifier = NotifierNone
		if config.MessageBrokerURL != "" {
			config.Notifier = NotifierHTTP
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) error {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.DocumentServiceURL = getEnvOrDefault("DOCUMENT_SERVICE_URL", c.DocumentServiceURL)
	c.Store = getEnvOrDefault("STORE", c.Store)
	c.DatabaseDriver = getEnvOrDefault("DATABASE_DRIVER", c.DatabaseDriver)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.AuthMode = getEnvOrDefault("AUTH_MODE", c.AuthMode)
	c.AuthServiceURL = getEnvOrDefault("AUTH_SERVICE_URL", c.AuthServiceURL)
	c.JWTSecret = getEnvOrDefault("JWT_SECRET", c.JWTSecret)
	c.Notifier = getEnvOrDefault("NOTIFIER", c.Notifier)
	c.MessageBrokerURL = getEnvOrDefault("MESSAGE_BROKER_URL", c.MessageBrokerURL)
	c.EventsChannel = getEnvOrDefault("EVENTS_CHANNEL", c.EventsChannel)
	c.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.RedisAddr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	if schedule, ok := os.LookupEnv("CHECKPOINT_SCHEDULE"); ok {
		c.CheckpointSchedule = schedule
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(envBool("CACHE_ENABLED", &c.CacheEnabled))
	collect(envSeconds("SAVE_DEBOUNCE_SECONDS", &c.SaveDebounce))
	collect(envDuration("CACHE_TTL", &c.CacheTTL))
	collect(envDuration("FETCH_TIMEOUT", &c.FetchTimeout))
	collect(envDuration("SAVE_TIMEOUT", &c.SaveTimeout))
	collect(envDuration("AUTH_TIMEOUT", &c.AuthTimeout))
	collect(envDuration("PUBLISH_TIMEOUT", &c.PublishTimeout))
	collect(envDuration("WS_PING_INTERVAL", &c.PingInterval))
	collect(envInt("WS_SEND_BUFFER", &c.SendBuffer))
	collect(envInt("NOTIFY_QUEUE", &c.NotifyQueue))
	collect(envInt64("WS_MAX_MESSAGE_BYTES", &c.MaxMessageBytes))
	return errors.Join(errs...)
}

// Validate checks that every selected backend has what it needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if c.SaveDebounce <= 0 {
		errs = append(errs, errors.New("save debounce must be positive"))
	}

	switch c.Store {
	case StoreHTTP:
		if c.DocumentServiceURL == "" {
			errs = append(errs, errors.New("store http requires DOCUMENT_SERVICE_URL"))
		}
	case StoreSQL:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("store sql requires DATABASE_URL"))
		}
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
			errs = append(errs, fmt.Errorf("unsupported database driver: %s", c.DatabaseDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store: %s. Currently supported: http, sql", c.Store))
	}
	if c.CacheEnabled && c.RedisAddr == "" {
		errs = append(errs, errors.New("cache requires REDIS_ADDR"))
	}

	switch c.AuthMode {
	case AuthPermitAll:
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("auth mode jwt requires JWT_SECRET"))
		}
	case AuthHTTP:
		if c.AuthServiceURL == "" {
			errs = append(errs, errors.New("auth mode http requires AUTH_SERVICE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth mode: %s", c.AuthMode))
	}

	switch c.Notifier {
	case NotifierNone, "":
	case NotifierHTTP:
		if c.MessageBrokerURL == "" {
			errs = append(errs, errors.New("notifier http requires MESSAGE_BROKER_URL"))
		}
	case NotifierRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("notifier redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported notifier: %s", c.Notifier))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envBool(key string, out *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*out = b
	return nil
}

func envInt(key string, out *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*out = n
	return nil
}

func envInt64(key string, out *int64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*out = n
	return nil
}

func envDuration(key string, out *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*out = d
	return nil
}

// envSeconds reads a fractional number of seconds, e.g. "2.5".
func envSeconds(key string, out *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*out = time.Duration(f * float64(time.Second))
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
