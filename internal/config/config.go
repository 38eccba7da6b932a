package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Log        LogConfig        `mapstructure:"log"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	ClickHouse DatabaseConfig   `mapstructure:"clickhouse"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	PSP        []PSPConfig      `mapstructure:"psp"`
	Onboarding OnboardingConfig `mapstructure:"onboarding"`
	AgentAuth  AgentAuthConfig  `mapstructure:"agent_auth"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Usage      UsageConfig      `mapstructure:"usage"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string `mapstructure:"brokers"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

// BucketConfig is one token-bucket policy: burst capacity plus sustained
// refill rate in tokens per second.
type BucketConfig struct {
	Capacity int     `mapstructure:"capacity"`
	Refill   float64 `mapstructure:"refill_per_sec"`
}

type RateLimitConfig struct {
	Merchant BucketConfig `mapstructure:"merchant"`
	Agent    BucketConfig `mapstructure:"agent"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type PSPConfig struct {
	Name       string        `mapstructure:"name"` // "stripe" or a generic HTTP verifier
	Enabled    bool          `mapstructure:"enabled"`
	BaseURL    string        `mapstructure:"base_url"`    // generic verifiers only
	VerifyPath string        `mapstructure:"verify_path"` // generic verifiers only
	TimeoutMs  int           `mapstructure:"timeout_ms"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type OnboardingConfig struct {
	// RequiredDocuments gates auto-advance into review.
	RequiredDocuments []string `mapstructure:"required_documents"`
	// AllowRejectedReset controls whether a rejected merchant may re-enter
	// the document stage with the same business identity.
	AllowRejectedReset bool `mapstructure:"allow_rejected_reset"`
}

type AgentAuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type AdminConfig struct {
	// Keys authorizes the employee review surface. Operator-provisioned,
	// not issued through the key manager.
	Keys []string `mapstructure:"keys"`
}

type UsageConfig struct {
	Topic     string        `mapstructure:"topic"`
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (MERCHGW_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (MERCHGW_*, nested keys joined with underscores)
	v.SetEnvPrefix("MERCHGW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
