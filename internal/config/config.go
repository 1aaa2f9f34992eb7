// Package config provides application configuration loaded from environment
// variables (and an optional config file) with defaults and validation. It
// centralizes server timeouts, logging, storage, rate limiting, web
// protection and observability settings.
//
// Keys are the upper-case environment names (PORT, DB_PATH, ...). When
// CONFIG_FILE points at a YAML/TOML/JSON/.env file, its keys (same names,
// any case) provide values below the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain on SIGINT/SIGTERM
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap in bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	GzipEnabled    bool   // gzip responses
	APIBasePath    string // base path for item routes; "/" mounts them at the root

	// Storage
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key replays

	// Observability
	OTEL OTELConfig
}

// DefaultCORSOrigins are the local front-end dev servers allowed by default.
const DefaultCORSOrigins = "http://localhost:4200,http://localhost:3000"

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (and CONFIG_FILE when set),
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if f := strings.TrimSpace(v.GetString("CONFIG_FILE")); f != "" {
		v.SetConfigFile(f)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", f, err)
		}
	}
	return load(v)
}

func load(v *viper.Viper) (Config, error) {
	e := env{v}
	cfg := Config{
		// Server
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   e.dur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    e.int("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(e.int("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(strings.TrimSpace(e.str("GIN_MODE", "release"))),

		// Logging / Docs
		LogLevel:       strings.ToLower(strings.TrimSpace(e.str("LOG_LEVEL", "info"))),
		LogPretty:      e.bool("LOG_PRETTY", false),
		SwaggerEnabled: e.bool("SWAGGER_ENABLED", false),
		GzipEnabled:    e.bool("GZIP_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/")),

		// Storage
		DBPath: e.str("DB_PATH", "todo.db"),

		// Rate limiting
		RateRPS:   e.float("RATE_RPS", 5.0),
		RateBurst: e.int("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", DefaultCORSOrigins)),
		},
		Security: SecurityConfig{
			EnableHSTS: e.bool("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     e.bool("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "go-todo-backend"),
			SampleRatio: e.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// env reads typed values from viper. Unset or empty values yield the default,
// as do unparsable ones for the typed readers. Strings are returned as set so
// validation can reject whitespace-only values.
type env struct{ v *viper.Viper }

func (e env) raw(k string) (string, bool) {
	s := strings.TrimSpace(e.v.GetString(k))
	return s, s != ""
}

func (e env) str(k, def string) string {
	if s := e.v.GetString(k); s != "" {
		return s
	}
	return def
}

func (e env) float(k string, def float64) float64 {
	if s, ok := e.raw(k); ok {
		if f, err := cast.ToFloat64E(s); err == nil {
			return f
		}
	}
	return def
}

func (e env) int(k string, def int) int {
	if s, ok := e.raw(k); ok {
		if i, err := cast.ToIntE(s); err == nil {
			return i
		}
	}
	return def
}

func (e env) bool(k string, def bool) bool {
	if s, ok := e.raw(k); ok {
		switch strings.ToLower(s) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func (e env) dur(k string, def time.Duration) time.Duration {
	if s, ok := e.raw(k); ok {
		if d, err := cast.ToDurationE(s); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures a leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			p = "/"
		}
	}
	return p
}
