package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/nulzo/prism-router/internal/platform/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig    `mapstructure:"server"`
	Redis         RedisConfig     `mapstructure:"redis"`
	Database      DatabaseConfig  `mapstructure:"database"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
	Router        RouterConfig    `mapstructure:"router"`
	ProvidersFile string          `mapstructure:"providers_file"`
	Tracing       TracingConfig   `mapstructure:"tracing"`
	Log           logger.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
	// static bearer keys for /api; empty disables auth
	APIKeys        []string      `mapstructure:"api_keys"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
	Jitter     float64       `mapstructure:"jitter"`
}

// RouteRule selects a provider chain by request characteristics.
type RouteRule struct {
	Name       string   `mapstructure:"name"`
	Topics     []string `mapstructure:"topics"`
	TaskTypes  []string `mapstructure:"task_types"`
	Complexity []string `mapstructure:"complexity"`
	Vision     bool     `mapstructure:"vision"`
	Chain      []string `mapstructure:"chain"`
}

type RouterConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	Backoff    BackoffConfig `mapstructure:"backoff"`
	ResultTTL  time.Duration `mapstructure:"result_ttl"`
	// Deadline bounds one routing execution; zero derives it from server.write_timeout
	Deadline     time.Duration `mapstructure:"deadline"`
	Category     string        `mapstructure:"category"`
	DefaultChain []string      `mapstructure:"default_chain"`
	Routes       []RouteRule   `mapstructure:"routes"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoadConfig reads config.yaml from the usual locations, then the environment.
func LoadConfig() (*Config, error) {
	return load("")
}

// LoadConfigFile reads an explicit config file.
func LoadConfigFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	// Load .env file if present
	_ = godotenv.Load()

	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	// SERVER_PORT overrides server.port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// comma separated lists from the environment
	if keys := os.Getenv("SERVER_API_KEYS"); keys != "" {
		cfg.Server.APIKeys = splitList(keys)
	}
	if chain := os.Getenv("ROUTER_DEFAULT_CHAIN"); chain != "" {
		cfg.Router.DefaultChain = splitList(chain)
	}

	cfg.Redis.Password = resolveSecret(v, cfg.Redis.Password)
	for i, key := range cfg.Server.APIKeys {
		cfg.Server.APIKeys[i] = resolveSecret(v, key)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("database.dsn", "prism.db")

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("router.max_retries", 2)
	v.SetDefault("router.backoff.initial", "200ms")
	v.SetDefault("router.backoff.max", "5s")
	v.SetDefault("router.backoff.multiplier", 2.0)
	v.SetDefault("router.backoff.jitter", 0.2)
	v.SetDefault("router.result_ttl", "24h")
	v.SetDefault("router.category", "text")

	v.SetDefault("providers_file", "config/providers.json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "prism-router")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.color", true)
}

// resolveSecret expands "ENV:NAME" to the value of NAME.
func resolveSecret(v *viper.Viper, value string) string {
	if !strings.HasPrefix(value, "ENV:") {
		return value
	}
	name := strings.TrimPrefix(value, "ENV:")
	// process environment first, then whatever viper knows
	if val := os.Getenv(name); val != "" {
		return val
	}
	return v.GetString(name)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Router.MaxRetries < 0 {
		return fmt.Errorf("router.max_retries must not be negative, got %d", c.Router.MaxRetries)
	}
	if c.Router.Backoff.Jitter < 0 || c.Router.Backoff.Jitter >= 1 {
		return fmt.Errorf("router.backoff.jitter must be in [0, 1), got %v", c.Router.Backoff.Jitter)
	}
	if c.Router.Deadline < 0 {
		return fmt.Errorf("router.deadline must not be negative, got %v", c.Router.Deadline)
	}
	if wt := c.Server.WriteTimeout; wt > 0 && c.Router.Deadline >= wt {
		return fmt.Errorf("router.deadline %v must be shorter than server.write_timeout %v", c.Router.Deadline, wt)
	}
	for i, r := range c.Router.Routes {
		if len(r.Chain) == 0 {
			return fmt.Errorf("router.routes[%d] (%s) has an empty chain", i, r.Name)
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be in [0, 1], got %v", c.Tracing.SampleRatio)
	}
	if c.ProvidersFile == "" {
		return errors.New("providers_file is required")
	}
	return nil
}

// routeDeadlineMargin leaves time to write the answer after routing gives up.
const routeDeadlineMargin = 5 * time.Second

// RouteDeadline is how long one routed request may spend on retries and
// fallbacks before it fails with TIMEOUT.
func (c *Config) RouteDeadline() time.Duration {
	if c.Router.Deadline > 0 {
		return c.Router.Deadline
	}
	wt := c.Server.WriteTimeout
	if wt > 2*routeDeadlineMargin {
		return wt - routeDeadlineMargin
	}
	return wt / 2
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}
