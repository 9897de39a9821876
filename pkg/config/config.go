// Package config holds the process configuration collected from flags and environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EventBusGoChannel = "gochannel"
	EventBusKafka     = "kafka"

	TimerStoreMemory = "memory"
)

// Config is the runtime configuration for the orgflow server.
type Config struct {
	DatabaseURL   string        `validate:"required,database_url"`
	EventBusType  string        `validate:"required,oneof=gochannel kafka"`
	KafkaBrokers  []string      `validate:"required_if=EventBusType kafka,dive,hostname_port"`
	TimerStoreURL string        `validate:"required,timer_store_url"`
	Port          int           `validate:"min=1,max=65535"`
	LogLevel      string        `validate:"omitempty,oneof=debug info warn error"`
	CallTimeout   time.Duration `validate:"gt=0"`
	MaxSteps      int           `validate:"gt=0"`
	PollInterval  time.Duration `validate:"gt=0"`
}

// Default returns the configuration used when no flag or variable is set.
func Default() Config {
	return Config{
		DatabaseURL:   "file://./data",
		EventBusType:  EventBusGoChannel,
		TimerStoreURL: TimerStoreMemory,
		Port:          9091,
		LogLevel:      "info",
		CallTimeout:   30 * time.Second,
		MaxSteps:      10000,
		PollInterval:  time.Second,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("database_url", func(fl validator.FieldLevel) bool {
		scheme, _, ok := strings.Cut(fl.Field().String(), "://")

		return ok && (scheme == "file" || scheme == "memory" || scheme == "postgres" || scheme == "postgresql")
	})

	_ = v.RegisterValidation("timer_store_url", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if value == TimerStoreMemory {
			return true
		}

		parsed, err := url.Parse(value)

		return err == nil && (parsed.Scheme == "redis" || parsed.Scheme == "rediss") && parsed.Host != ""
	})

	return v
}

// Validate checks every field and reports each violation by its flag name.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		errs = append(errs, fmt.Errorf("invalid %s: failed on %q", flagName(fieldErr.StructField()), fieldErr.Tag()))
	}

	return errors.Join(errs...)
}

// DatabaseScheme returns the scheme of DatabaseURL.
func (c Config) DatabaseScheme() string {
	scheme, _, _ := strings.Cut(c.DatabaseURL, "://")

	return scheme
}

func flagName(field string) string {
	switch field {
	case "DatabaseURL":
		return "database-url"
	case "EventBusType":
		return "event-bus"
	case "KafkaBrokers":
		return "kafka-brokers"
	case "TimerStoreURL":
		return "timer-store-url"
	case "LogLevel":
		return "log-level"
	case "CallTimeout":
		return "call-timeout"
	case "MaxSteps":
		return "max-steps"
	case "PollInterval":
		return "poll-interval"
	default:
		return strings.ToLower(field)
	}
}
