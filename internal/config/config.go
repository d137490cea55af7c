// Package config loads and validates runtime configuration.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file named by CONFIG_FILE, a .env file in the working directory, and
// the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Bootstrap modes decide who answers the empty-dataset prompt at startup.
const (
	// BootstrapPrompt leaves the answer to the API client.
	BootstrapPrompt = "prompt"
	// BootstrapAuto answers yes at startup.
	BootstrapAuto = "auto"
	// BootstrapSkip answers no at startup.
	BootstrapSkip = "skip"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: field %q: %s", e.Field, e.Message)
}

// Config holds all runtime configuration.
type Config struct {
	StoreDriver string `yaml:"store_driver" validate:"oneof=sqlite postgres"`
	DBDSN       string `yaml:"db_dsn" validate:"required"`
	Port        int    `yaml:"port" validate:"gte=1,lte=65535"`

	// ProviderURL is the remote stop dataset endpoint. Empty disables fetching.
	ProviderURL     string        `yaml:"provider_url" validate:"omitempty,url"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	BootstrapMode   string        `yaml:"bootstrap_mode" validate:"oneof=prompt auto skip"`

	RequestTimeout   time.Duration `yaml:"request_timeout" validate:"gt=0"`
	CORSAllowOrigins []string      `yaml:"cors_allow_origins"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`
}

// Defaults returns a Config with every optional field set.
func Defaults() *Config {
	return &Config{
		StoreDriver:     DriverSQLite,
		DBDSN:           "busstop.db",
		Port:            8080,
		ProviderTimeout: 15 * time.Second,
		BootstrapMode:   BootstrapPrompt,
		RequestTimeout:  10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads the optional config file and .env, applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &ConfigError{Field: ".env", Message: err.Error()}
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile overlays the YAML file at path onto c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Field: "CONFIG_FILE", Message: err.Error()}
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return &ConfigError{Field: "CONFIG_FILE", Message: "invalid YAML: " + err.Error()}
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set.
func (c *Config) applyEnv() error {
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		c.StoreDriver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.DBDSN = v
	} else if c.StoreDriver == DriverPostgres && c.DBDSN == Defaults().DBDSN {
		return &ConfigError{Field: "DB_DSN", Message: "required for the postgres driver"}
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "PORT", Message: "must be a valid integer"}
		}
		c.Port = port
	}

	if v, ok := os.LookupEnv("PROVIDER_URL"); ok {
		c.ProviderURL = v
	}
	c.ProviderTimeout = parseDurationEnv("PROVIDER_TIMEOUT", c.ProviderTimeout)
	if v := os.Getenv("BOOTSTRAP_MODE"); v != "" {
		c.BootstrapMode = strings.ToLower(v)
	}

	c.RequestTimeout = parseDurationEnv("REQUEST_TIMEOUT", c.RequestTimeout)
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		c.CORSAllowOrigins = splitList(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = strings.ToLower(v)
	}
	return nil
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if env, ok := envNames[field]; ok {
			field = env
		}
		errs = append(errs, &ConfigError{Field: field, Message: describe(fe)})
	}
	return errors.Join(errs...)
}

// envNames maps struct fields to the environment variables that set them, so
// errors name what the operator actually has to change.
var envNames = map[string]string{
	"StoreDriver":     "STORE_DRIVER",
	"DBDSN":           "DB_DSN",
	"Port":            "PORT",
	"ProviderURL":     "PROVIDER_URL",
	"ProviderTimeout": "PROVIDER_TIMEOUT",
	"BootstrapMode":   "BOOTSTRAP_MODE",
	"RequestTimeout":  "REQUEST_TIMEOUT",
	"LogLevel":        "LOG_LEVEL",
	"LogFormat":       "LOG_FORMAT",
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "cannot be empty"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "url":
		return "must be a valid URL"
	case "gte", "lte":
		return "must be between 1 and 65535"
	case "gt":
		return "must be positive"
	}
	return "failed " + fe.Tag() + " validation"
}

// parseDurationEnv reads a duration from an environment variable.
// Falls back to defaultVal if the variable is unset or unparseable.
// Accepts Go duration strings like "15s", "2m".
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
