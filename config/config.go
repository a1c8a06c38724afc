package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/greg-py/Chapters-sub000/internal/models"
)

const (
	defaultMongoDatabase      = "chapters"
	defaultHTTPAddr           = ":8080"
	defaultTriggerHeader      = "X-Trigger-Token"
	defaultCheckInterval      = time.Hour
	defaultFastCheckInterval  = time.Minute
	defaultIOTimeout          = 10 * time.Second
	defaultPollConcurrency    = 4
	defaultLocale             = "en"
	defaultLongPollingTimeout = 60
	defaultMessagesPerMinute  = 20
)

type AppConfig struct {
	TKey               string        `yaml:"telegram_api_key"`
	MongoURI           string        `yaml:"mongo_uri"`
	MongoDatabase      string        `yaml:"mongo_database"`
	HTTPAddr           string        `yaml:"http_addr"`
	TriggerToken       string        `yaml:"trigger_token"`
	TriggerHeader      string        `yaml:"trigger_header"`
	CheckInterval      time.Duration `yaml:"check_interval"`
	FastMode           bool          `yaml:"fast_mode"`
	IOTimeout          time.Duration `yaml:"io_timeout"`
	PollConcurrency    int           `yaml:"poll_concurrency"`
	Locale             string        `yaml:"locale"`
	DebugMode          bool          `yaml:"debug_mode"`
	LongPollingTimeout int           `yaml:"long_polling_timeout"`
	MessagesPerMinute  int           `yaml:"messages_per_minute"`
	TraceExporter      string        `yaml:"trace_exporter"`
	OTLPEndpoint       string        `yaml:"otlp_endpoint"`
}

// LoadConfig reads .env, then the YAML file named by CONFIG_FILE if any, and
// finally lets environment variables override the file.
func LoadConfig() (*AppConfig, error) {
	godotenv.Load()

	var cfg AppConfig
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyEnv() error {
	setString(&c.TKey, "TELEGRAM_API_KEY")
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDatabase, "MONGO_DATABASE")
	setString(&c.HTTPAddr, "HTTP_ADDR")
	setString(&c.TriggerToken, "TRIGGER_TOKEN")
	setString(&c.TriggerHeader, "TRIGGER_HEADER")
	setString(&c.Locale, "APP_LOCALE")
	setString(&c.TraceExporter, "TRACE_EXPORTER")
	setString(&c.OTLPEndpoint, "OTLP_ENDPOINT")

	if err := setDuration(&c.CheckInterval, "CHECK_INTERVAL"); err != nil {
		return err
	}
	if err := setDuration(&c.IOTimeout, "IO_TIMEOUT"); err != nil {
		return err
	}
	if err := setBool(&c.FastMode, "FAST_MODE"); err != nil {
		return err
	}
	if err := setBool(&c.DebugMode, "DEBUG_MODE"); err != nil {
		return err
	}
	if err := setInt(&c.PollConcurrency, "POLL_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.LongPollingTimeout, "LONG_POLLING_TIMEOUT"); err != nil {
		return err
	}
	return setInt(&c.MessagesPerMinute, "MESSAGES_PER_MINUTE")
}

func (c *AppConfig) applyDefaults() {
	if c.MongoDatabase == "" {
		c.MongoDatabase = defaultMongoDatabase
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaultHTTPAddr
	}
	if c.TriggerHeader == "" {
		c.TriggerHeader = defaultTriggerHeader
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
		if c.FastMode {
			c.CheckInterval = defaultFastCheckInterval
		}
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = defaultIOTimeout
	}
	if c.PollConcurrency <= 0 {
		c.PollConcurrency = defaultPollConcurrency
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	if c.LongPollingTimeout <= 0 {
		c.LongPollingTimeout = defaultLongPollingTimeout
	}
	if c.MessagesPerMinute <= 0 {
		c.MessagesPerMinute = defaultMessagesPerMinute
	}
}

// PhaseUnit is the unit phase lengths of new cycles are counted in.
func (c *AppConfig) PhaseUnit() models.DurationUnit {
	if c.FastMode {
		return models.UnitMinutes
	}
	return models.UnitDays
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}
