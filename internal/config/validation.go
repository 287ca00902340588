package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateStreamer()...)
	errors = append(errors, c.validateAdvisor()...)
	errors = append(errors, c.validateTipOptimizer()...)
	errors = append(errors, c.validateDispatcher()...)
	errors = append(errors, c.validateBundle()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{Field: "app.name", Message: "Application name is required"})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{Field: "app.environment", Message: "Environment is required (development, staging, or production)"})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{Field: "app.environment", Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs)})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{Field: "app.log_level", Message: "Log level is required (debug, info, warn, error)"})
	}

	return errors
}

func (c *Config) validateStreamer() ValidationErrors {
	var errors ValidationErrors

	if c.Streamer.Endpoint == "" {
		errors = append(errors, ValidationError{Field: "streamer.endpoint", Message: "Streamer endpoint is required"})
	}
	if c.Streamer.IngressCapacity < 1 {
		errors = append(errors, ValidationError{Field: "streamer.ingress_capacity", Message: "Ingress capacity must be at least 1"})
	}

	return errors
}

func (c *Config) validateAdvisor() ValidationErrors {
	var errors ValidationErrors

	if c.Advisor.Endpoint == "" {
		errors = append(errors, ValidationError{Field: "advisor.endpoint", Message: "Advisor endpoint is required"})
	}
	if c.Advisor.Temperature < 0 || c.Advisor.Temperature > 2 {
		errors = append(errors, ValidationError{Field: "advisor.temperature", Message: fmt.Sprintf("Invalid temperature %.2f. Must be between 0-2", c.Advisor.Temperature)})
	}
	if c.Advisor.MaxTokens < 1 {
		errors = append(errors, ValidationError{Field: "advisor.max_tokens", Message: "max_tokens must be at least 1"})
	}
	if c.Advisor.CallTimeoutSec < 1 {
		errors = append(errors, ValidationError{Field: "advisor.call_timeout_sec", Message: "call_timeout_sec must be at least 1"})
	}

	return errors
}

func (c *Config) validateTipOptimizer() ValidationErrors {
	var errors ValidationErrors

	if c.TipOptimizer.Alpha <= 0 || c.TipOptimizer.Alpha > 1 {
		errors = append(errors, ValidationError{Field: "tip_optimizer.alpha", Message: fmt.Sprintf("Invalid alpha %.2f. Must be between 0-1", c.TipOptimizer.Alpha)})
	}

	return errors
}

func (c *Config) validateDispatcher() ValidationErrors {
	var errors ValidationErrors

	if c.Dispatcher.MaxInFlight < 1 {
		errors = append(errors, ValidationError{Field: "dispatcher.max_in_flight", Message: "max_in_flight must be at least 1"})
	}

	return errors
}

func (c *Config) validateBundle() ValidationErrors {
	var errors ValidationErrors

	if c.Bundle.Endpoint == "" {
		errors = append(errors, ValidationError{Field: "bundle.endpoint", Message: "Bundle endpoint is required"})
	}

	return errors
}

func (c *Config) validateBreaker() ValidationErrors {
	var errors ValidationErrors

	if c.Breaker.FailureThreshold < 1 {
		errors = append(errors, ValidationError{Field: "breaker.failure_threshold", Message: "failure_threshold must be at least 1"})
	}
	if c.Breaker.SuccessThreshold < 1 {
		errors = append(errors, ValidationError{Field: "breaker.success_threshold", Message: "success_threshold must be at least 1"})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.TipOptimizer.UseRedisState {
		if c.Redis.Host == "" {
			errors = append(errors, ValidationError{Field: "redis.host", Message: "Redis host is required when use_redis_state is enabled"})
		}
		if c.Redis.Port < 1 || c.Redis.Port > 65535 {
			errors = append(errors, ValidationError{Field: "redis.port", Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port)})
		}
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.EnableJetStream || c.NATS.URL != "" {
		if !strings.HasPrefix(c.NATS.URL, "nats://") {
			errors = append(errors, ValidationError{Field: "nats.url", Message: "NATS URL must start with 'nats://'"})
		}
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port < 1 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{Field: "api.port", Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port)})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment == "production" {
		secretErrors := ValidateProductionSecrets(c)
		errors = append(errors, secretErrors...)
	}

	return errors
}

// ValidateAndLoad loads and validates configuration; configPath can be
// empty to use default config locations.
func ValidateAndLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
