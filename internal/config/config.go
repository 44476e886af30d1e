// Package config loads the service configuration from environment variables.
// Unset variables take their defaults; a variable that is set but malformed
// is an error, as is any value failing validation. Load reports every
// problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. Empty allows
// any origin.
type CORSConfig struct {
	AllowedOrigins []string // CORS_ALLOWED_ORIGINS, comma separated
}

// SecurityConfig controls HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
}

// OTELConfig configures trace export.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT, host:port
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE
	ServiceName string  // OTEL_SERVICE_NAME
	Environment string  // DEPLOYMENT_ENV
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0,1]
}

// DBConfig selects and locates the letter store.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)

	MaxOpenConns int           // DB_MAX_OPEN_CONNS; 0 picks a per-driver default
	SlowQuery    time.Duration // DB_SLOW_QUERY; statements slower than this log at warn
}

// WorkflowConfig holds the tunables of the letter lifecycle.
type WorkflowConfig struct {
	SLAWarningFraction float64       // SLA_WARNING_FRACTION in (0,1)
	SLAPollInterval    time.Duration // SLA_POLL_INTERVAL
	ReservationTTL     time.Duration // RESERVATION_TTL; 0 keeps claims forever
	RoutingPolicyPath  string        // ROUTING_POLICY_PATH; empty uses the built-in policy
}

// KafkaConfig configures the notification producer. No brokers means events
// are only logged.
type KafkaConfig struct {
	Brokers    string // KAFKA_BROKERS, comma separated
	Topic      string // KAFKA_TOPIC, workflow events
	ReplyTopic string // KAFKA_REPLY_TOPIC, final responses for the mail relay
}

// Config is the complete service configuration.
type Config struct {
	Port              string // PORT
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	LogRedact      bool // scrub contact data from access logs
	SwaggerEnabled bool
	APIBasePath    string

	DB       DBConfig
	Workflow WorkflowConfig
	Kafka    KafkaConfig

	RateRPS   float64 // tokens per second per actor
	RateBurst int

	CORS     CORSConfig
	Security SecurityConfig

	IdempotencyTTL time.Duration // how long an Idempotency-Key is replayable

	OTEL OTELConfig
}

// MustLoad is Load for main: it panics on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads, normalizes and validates the environment.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.bool("LOG_PRETTY", false),
		LogRedact:      e.bool("LOG_REDACT", true),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver:       strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:         e.str("DB_PATH", "letters.db"),
			URL:          e.str("DATABASE_URL", ""),
			MaxOpenConns: e.int("DB_MAX_OPEN_CONNS", 0),
			SlowQuery:    e.dur("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		Workflow: WorkflowConfig{
			SLAWarningFraction: e.float("SLA_WARNING_FRACTION", 0.2),
			SLAPollInterval:    e.dur("SLA_POLL_INTERVAL", time.Minute),
			ReservationTTL:     e.dur("RESERVATION_TTL", 0),
			RoutingPolicyPath:  e.str("ROUTING_POLICY_PATH", ""),
		},
		Kafka: KafkaConfig{
			Brokers:    e.str("KAFKA_BROKERS", ""),
			Topic:      e.str("KAFKA_TOPIC", "letter-events"),
			ReplyTopic: e.str("KAFKA_REPLY_TOPIC", "letter-replies"),
		},

		RateRPS:   e.float("RATE_RPS", 5),
		RateBurst: e.int("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "letter-workflow"),
			Environment: e.str("DEPLOYMENT_ENV", "dev"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	errs := append(e.errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (cfg Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"))
	}
	check(strings.TrimSpace(cfg.Port) != "", "PORT must not be empty")
	check(cfg.ReadTimeout > 0 && cfg.ReadHeaderTimeout > 0 && cfg.WriteTimeout > 0 && cfg.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(cfg.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch cfg.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(cfg.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(cfg.DB.URL) != "", "DATABASE_URL is required when DB_DRIVER=postgres")
	default:
		errs = append(errs, errors.New("DB_DRIVER must be one of: sqlite, postgres"))
	}
	check(cfg.DB.MaxOpenConns >= 0, "DB_MAX_OPEN_CONNS must be >= 0")

	check(cfg.Workflow.SLAWarningFraction > 0 && cfg.Workflow.SLAWarningFraction < 1, "SLA_WARNING_FRACTION must be in (0,1)")
	check(cfg.Workflow.SLAPollInterval > 0, "SLA_POLL_INTERVAL must be > 0")
	check(cfg.Workflow.ReservationTTL >= 0, "RESERVATION_TTL must be >= 0")
	check(cfg.Kafka.Brokers == "" || strings.TrimSpace(cfg.Kafka.Topic) != "", "KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	check(cfg.Kafka.Topic != cfg.Kafka.ReplyTopic, "KAFKA_REPLY_TOPIC must differ from KAFKA_TOPIC")

	check(cfg.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(cfg.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(cfg.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(cfg.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(cfg.OTEL.SampleRatio >= 0 && cfg.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// env reads typed variables and remembers the ones that failed to parse.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(k, v, kind string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, kind))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) float(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, "number")
		return def
	}
	return f
}

func (e *env) int(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, "integer")
		return def
	}
	return i
}

func (e *env) bool(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.fail(k, v, "boolean")
	return def
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, "duration")
		return def
	}
	return d
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// empty becomes "/".
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
