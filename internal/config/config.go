package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type ImportOptions struct {
	MaxFileBytes      int64         `env:"IMPORT_MAX_FILE_BYTES" envDefault:"2097152"`
	MaxRows           int           `env:"IMPORT_MAX_ROWS" envDefault:"250"`
	RollbackWindow    time.Duration `env:"IMPORT_ROLLBACK_WINDOW" envDefault:"30m"`
	ApplyRate         float64       `env:"IMPORT_APPLY_RATE" envDefault:"0"`
	RevertConcurrency int           `env:"IMPORT_REVERT_CONCURRENCY" envDefault:"4"`
	StatusPriority    string        `env:"IMPORT_STATUS_PRIORITY" envDefault:"last-fired"`
}

type IndexOptions struct {
	Backend  string        `env:"INDEX_BACKEND" envDefault:"postgres"` // postgres or redis
	RedisURL string        `env:"REDIS_URL"`
	Prefix   string        `env:"REDIS_INDEX_KEY" envDefault:"roster-import:existing"`
	TTL      time.Duration `env:"REDIS_INDEX_TTL" envDefault:"30s"`
}

type AuthzOptions struct {
	ModelPath  string `env:"AUTHZ_MODEL_PATH"`
	PolicyPath string `env:"AUTHZ_POLICY_PATH"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type Configuration struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	BodyLimit   string `env:"HTTP_BODY_LIMIT" envDefault:"10M"`

	Import     ImportOptions
	Index      IndexOptions
	Authz      AuthzOptions
	Prometheus PrometheusOptions
}

// Load reads the optional env files, then the process environment.
func Load(envFiles ...string) (*Configuration, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	c := &Configuration{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Configuration) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port))
	}
	if c.Import.MaxFileBytes <= 0 {
		errs = append(errs, fmt.Errorf("IMPORT_MAX_FILE_BYTES must be positive, got %d", c.Import.MaxFileBytes))
	}
	if c.Import.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("IMPORT_MAX_ROWS must be positive, got %d", c.Import.MaxRows))
	}
	if c.Import.RollbackWindow <= 0 {
		errs = append(errs, fmt.Errorf("IMPORT_ROLLBACK_WINDOW must be positive, got %s", c.Import.RollbackWindow))
	}
	if c.Import.ApplyRate < 0 {
		errs = append(errs, fmt.Errorf("IMPORT_APPLY_RATE must be non-negative, got %v", c.Import.ApplyRate))
	}
	switch c.Import.StatusPriority {
	case "last-fired", "conflict-first":
	default:
		errs = append(errs, fmt.Errorf("IMPORT_STATUS_PRIORITY must be 'last-fired' or 'conflict-first', got '%s'", c.Import.StatusPriority))
	}
	switch c.Index.Backend {
	case "postgres":
	case "redis":
		if c.Index.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when INDEX_BACKEND is 'redis'"))
		}
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be 'postgres' or 'redis', got '%s'", c.Index.Backend))
	}
	if (c.Authz.ModelPath == "") != (c.Authz.PolicyPath == "") {
		errs = append(errs, errors.New("AUTHZ_MODEL_PATH and AUTHZ_POLICY_PATH must be set together"))
	}
	return errors.Join(errs...)
}

func (c *Configuration) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch strings.ToLower(c.LogLevel) {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Configuration) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(c.LogrusLogLevel())
	if strings.EqualFold(c.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
