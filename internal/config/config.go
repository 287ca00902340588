package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all pipeline configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Streamer     StreamerConfig     `mapstructure:"streamer"`
	Advisor      AdvisorConfig      `mapstructure:"advisor"`
	TipOptimizer TipOptimizerConfig `mapstructure:"tip_optimizer"`
	Classifier   ClassifierConfig   `mapstructure:"classifier"`
	Dispatcher   DispatcherConfig   `mapstructure:"dispatcher"`
	Bundle       BundleConfig       `mapstructure:"bundle"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Vault        VaultConfig        `mapstructure:"vault"`
	API          APIConfig          `mapstructure:"api"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Alerts       AlertsConfig       `mapstructure:"alerts"`
}

// AppConfig contains process-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// StreamerConfig contains the ingestion feed's endpoint and limits (§4.H).
type StreamerConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	IngressCapacity int    `mapstructure:"ingress_capacity"`
	MaxReconnects   int    `mapstructure:"max_reconnects"`
}

// AdvisorConfig contains the AI advisory oracle client settings (§4.D).
type AdvisorConfig struct {
	Endpoint       string  `mapstructure:"endpoint"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	CallTimeoutSec int     `mapstructure:"call_timeout_sec"`
}

// TipOptimizerConfig contains dynamic bid computation settings (§4.E).
type TipOptimizerConfig struct {
	EngineMinimumLamports uint64  `mapstructure:"engine_minimum_lamports"`
	Alpha                 float64 `mapstructure:"alpha"`
	UseRedisState         bool    `mapstructure:"use_redis_state"`
}

// ClassifierConfig contains opportunity classification thresholds (§4.F).
type ClassifierConfig struct {
	MinGrossLamports  uint64 `mapstructure:"min_gross_lamports"`
	OpportunityTTLSec int    `mapstructure:"opportunity_ttl_sec"`
}

// DispatcherConfig contains concurrency limits (§4.I).
type DispatcherConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// BundleConfig contains the block-engine endpoint (§4.J).
type BundleConfig struct {
	Endpoint              string `mapstructure:"endpoint"`
	EngineMinimumLamports uint64 `mapstructure:"engine_minimum_lamports"`
}

// BreakerConfig contains the thresholds of the circuit breaker guarding the
// AI advisor calls.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	SuccessThreshold int `mapstructure:"success_threshold"`
	CooldownSec      int `mapstructure:"cooldown_sec"`
}

// RedisConfig contains Redis settings for the tip-optimizer EWMA store.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig contains the optional outbound event-bus settings.
type NATSConfig struct {
	URL             string `mapstructure:"url"`
	EnableJetStream bool   `mapstructure:"enable_jetstream"`
	Subject         string `mapstructure:"subject"`
}

// VaultConfig contains HashiCorp Vault connection settings.
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
}

// APIConfig contains the operator HTTP surface settings (§6 operational controls).
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains Prometheus exposition settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// AlertsConfig contains the operator-notification channel settings.
type AlertsConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	TelegramChatID   string `mapstructure:"telegram_chat_id"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MEVPIPE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "mevpipe")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("streamer.endpoint", "wss://localhost:8900/ws")
	v.SetDefault("streamer.ingress_capacity", 10000)
	v.SetDefault("streamer.max_reconnects", 10)

	v.SetDefault("advisor.endpoint", "http://localhost:8090/v1/chat/completions")
	v.SetDefault("advisor.model", "advisor-v1")
	v.SetDefault("advisor.temperature", 0.2)
	v.SetDefault("advisor.max_tokens", 400)
	v.SetDefault("advisor.call_timeout_sec", 30)

	v.SetDefault("tip_optimizer.engine_minimum_lamports", 10000)
	v.SetDefault("tip_optimizer.alpha", 0.2)
	v.SetDefault("tip_optimizer.use_redis_state", false)

	v.SetDefault("classifier.min_gross_lamports", 10_000_000)
	v.SetDefault("classifier.opportunity_ttl_sec", 10)

	v.SetDefault("dispatcher.max_in_flight", 100)

	v.SetDefault("bundle.endpoint", "http://localhost:8899")
	v.SetDefault("bundle.engine_minimum_lamports", 10000)

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.success_threshold", 3)
	v.SetDefault("breaker.cooldown_sec", 30)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enable_jetstream", false)
	v.SetDefault("nats.subject", "mevpipe.opportunities")

	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "mevpipe/production")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// RedisAddr returns the Redis address in host:port form.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// APIAddr returns the operator HTTP surface's listen address.
func (c *APIConfig) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CallTimeout returns the advisor call timeout as a time.Duration.
func (c *AdvisorConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSec) * time.Second
}

// Cooldown returns the breaker cooldown as a time.Duration.
func (c *BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSec) * time.Second
}

// OpportunityTTL returns the classifier opportunity TTL as a time.Duration.
func (c *ClassifierConfig) OpportunityTTL() time.Duration {
	return time.Duration(c.OpportunityTTLSec) * time.Second
}
