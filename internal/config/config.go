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
	HTTP        HTTPConfig        `mapstructure:"http"`
	Log         LogConfig         `mapstructure:"log"`
	MySQL       DatabaseConfig    `mapstructure:"mysql"`
	ClickHouse  DatabaseConfig    `mapstructure:"clickhouse"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Twilio      TwilioConfig      `mapstructure:"twilio"`
	RingCentral RingCentralConfig `mapstructure:"ringcentral"`
	Zoho        ZohoConfig        `mapstructure:"zoho"`
	Workflow    WorkflowConfig    `mapstructure:"workflow"`
	Cron        CronConfig        `mapstructure:"cron"`
	API         APIConfig         `mapstructure:"api"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Mirror      MirrorConfig      `mapstructure:"mirror"`
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
	Topic          string   `mapstructure:"topic"`
	GroupID        string   `mapstructure:"group_id"`
	MinBytes       int      `mapstructure:"min_bytes"`
	MaxBytes       int      `mapstructure:"max_bytes"`
	CommitInterval int      `mapstructure:"commit_interval_ms"`
}

type TwilioConfig struct {
	AccountSID string        `mapstructure:"account_sid"`
	AuthToken  string        `mapstructure:"auth_token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	ListLimit  int           `mapstructure:"list_limit"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"`
}

type RingCentralConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	TokenURL     string        `mapstructure:"token_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ListPageSize int           `mapstructure:"list_page_size"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
}

type ZohoConfig struct {
	AccountsURL string        `mapstructure:"accounts_url"`
	APIURL      string        `mapstructure:"api_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type WorkflowConfig struct {
	AdminNumber           string        `mapstructure:"admin_number"`
	StatusExcludedNumbers []string      `mapstructure:"status_excluded_numbers"`
	SixDayStudios         []string      `mapstructure:"six_day_studios"`
	ClaimLease            time.Duration `mapstructure:"claim_lease"`
	DirectoryTTL          time.Duration `mapstructure:"directory_ttl"`
}

type CronConfig struct {
	Secret      string        `mapstructure:"secret"`
	RequireAuth bool          `mapstructure:"require_auth"`
	Window      time.Duration `mapstructure:"window"`
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

type APIConfig struct {
	// Tokens maps client name -> bearer token for the /v1 API.
	Tokens map[string]string `mapstructure:"tokens"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

type MirrorConfig struct {
	BatchSize int           `mapstructure:"batch_size"`
	BatchWait time.Duration `mapstructure:"batch_wait"`
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (SMSHUB_*).
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

	// env override (SMSHUB_MYSQL_DSN, SMSHUB_CRON_SECRET, ...)
	v.SetEnvPrefix("SMSHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
