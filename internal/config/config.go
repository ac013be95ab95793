// Package config loads gateway settings from an optional YAML file and
// WPS_* environment variables. Environment values override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avaropoint/wpsgate/internal/security"
	"github.com/avaropoint/wpsgate/internal/store"
)

// DefaultBaseURL is the platform open API root.
const DefaultBaseURL = "https://openapi.wps.cn"

// Config holds every runtime setting of the gateway.
type Config struct {
	AppID      string `yaml:"app_id"`
	AppSecret  string `yaml:"app_secret"`
	EncryptKey string `yaml:"encrypt_key"`
	BaseURL    string `yaml:"base_url"`
	SignScheme string `yaml:"sign_scheme"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Replay ReplayConfig `yaml:"replay"`
	TLS    TLSConfig    `yaml:"tls"`
	Limit  LimitConfig  `yaml:"rate_limit"`
	Retry  RetryConfig  `yaml:"retry"`
}

// ReplayConfig selects the processed-message store.
type ReplayConfig struct {
	Backend       string        `yaml:"backend"`
	SQLitePath    string        `yaml:"sqlite_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// TLSConfig configures the callback listener.
type TLSConfig struct {
	Mode     string   `yaml:"mode"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Domains  []string `yaml:"domains"`
	DataDir  string   `yaml:"data_dir"`
}

// LimitConfig is the per-client callback rate limit.
type LimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RetryConfig bounds outbound API retries.
type RetryConfig struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Default returns a Config with every optional field populated.
func Default() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		SignScheme: security.SchemeKSO1.String(),
		Host:       "0.0.0.0",
		Port:       8080,
		LogLevel:   "info",
		Replay: ReplayConfig{
			Backend:    store.BackendMemory,
			SQLitePath: "wpsgate.db",
		},
		TLS:   TLSConfig{Mode: "off", DataDir: "data"},
		Limit: LimitConfig{RPS: 50, Burst: 100},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
	}
}

// Load reads path (when non-empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("WPS_APP_ID", &c.AppID)
	str("WPS_APP_SECRET", &c.AppSecret)
	str("WPS_ENCRYPT_KEY", &c.EncryptKey)
	str("WPS_BASE_URL", &c.BaseURL)
	str("WPS_SIGN_SCHEME", &c.SignScheme)
	str("WPS_HOST", &c.Host)
	num("WPS_PORT", &c.Port)
	str("WPS_LOG_LEVEL", &c.LogLevel)
	str("WPS_LOG_FILE", &c.LogFile)
	if v, ok := lookup("WPS_DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WPS_DEBUG: %w", err))
		} else {
			c.Debug = b
		}
	}

	str("WPS_REPLAY_BACKEND", &c.Replay.Backend)
	str("WPS_SQLITE_PATH", &c.Replay.SQLitePath)
	str("WPS_REDIS_ADDR", &c.Replay.RedisAddr)
	str("WPS_REDIS_PASSWORD", &c.Replay.RedisPassword)
	num("WPS_REDIS_DB", &c.Replay.RedisDB)

	str("WPS_TLS_MODE", &c.TLS.Mode)
	str("WPS_TLS_CERT", &c.TLS.CertFile)
	str("WPS_TLS_KEY", &c.TLS.KeyFile)
	str("WPS_DATA_DIR", &c.TLS.DataDir)
	if v, ok := lookup("WPS_TLS_DOMAINS"); ok {
		c.TLS.Domains = splitList(v)
	}

	if v, ok := lookup("WPS_RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("WPS_RATE_LIMIT_RPS: %w", err))
		} else {
			c.Limit.RPS = f
		}
	}
	num("WPS_RATE_LIMIT_BURST", &c.Limit.Burst)

	if v, ok := lookup("WPS_RETRY_MAX_ATTEMPTS"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("WPS_RETRY_MAX_ATTEMPTS: %w", err))
		} else {
			c.Retry.MaxAttempts = uint(n)
		}
	}
	dur("WPS_RETRY_INITIAL_INTERVAL", &c.Retry.InitialInterval)
	dur("WPS_RETRY_MAX_INTERVAL", &c.Retry.MaxInterval)

	return errors.Join(errs...)
}

// Validate reports every invalid or missing setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.AppID == "" {
		errs = append(errs, errors.New("app_id is required"))
	}
	if c.AppSecret == "" {
		errs = append(errs, errors.New("app_secret is required"))
	}
	if c.EncryptKey != "" {
		if _, err := security.ParseMessageKey(c.EncryptKey); err != nil {
			errs = append(errs, fmt.Errorf("encrypt_key: %w", err))
		}
	}
	if _, ok := security.ParseSigningScheme(c.SignScheme); !ok {
		errs = append(errs, fmt.Errorf("unknown sign_scheme %q", c.SignScheme))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}

	switch strings.ToLower(c.Replay.Backend) {
	case store.BackendMemory, "":
	case store.BackendSQLite:
		if c.Replay.SQLitePath == "" {
			errs = append(errs, errors.New("replay.sqlite_path is required for the sqlite backend"))
		}
	case store.BackendRedis:
		if c.Replay.RedisAddr == "" {
			errs = append(errs, errors.New("replay.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown replay backend %q", c.Replay.Backend))
	}

	mode, err := security.ParseTLSMode(c.TLS.Mode)
	if err != nil {
		errs = append(errs, err)
	}
	switch mode {
	case security.TLSModeCustom:
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			errs = append(errs, errors.New("tls.cert_file and tls.key_file are required in custom mode"))
		}
	case security.TLSModeACME:
		if len(c.TLS.Domains) == 0 {
			errs = append(errs, errors.New("tls.domains is required in acme mode"))
		}
	}

	if c.Limit.RPS < 0 || c.Limit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.Retry.MaxAttempts == 0 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// StoreOptions converts the replay settings for store.Open.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.Replay.Backend,
		SQLitePath:    c.Replay.SQLitePath,
		RedisAddr:     c.Replay.RedisAddr,
		RedisPassword: c.Replay.RedisPassword,
		RedisDB:       c.Replay.RedisDB,
	}
}

// TLSOptions converts the TLS settings for security.SetupTLS.
func (c Config) TLSOptions() (security.TLSOptions, error) {
	mode, err := security.ParseTLSMode(c.TLS.Mode)
	if err != nil {
		return security.TLSOptions{}, err
	}
	return security.TLSOptions{
		Mode:     mode,
		CertFile: c.TLS.CertFile,
		KeyFile:  c.TLS.KeyFile,
		DataDir:  c.TLS.DataDir,
		Domains:  c.TLS.Domains,
	}, nil
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "app_id=%s app_secret=%s", c.AppID, security.SecretHint(c.AppSecret))
	if c.EncryptKey != "" {
		fmt.Fprintf(&b, " encrypt_key=%s", security.SecretHint(c.EncryptKey))
	}
	fmt.Fprintf(&b, " base_url=%s sign_scheme=%s addr=%s replay=%s tls=%s",
		c.BaseURL, c.SignScheme, c.Addr(), c.Replay.Backend, c.TLS.Mode)
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
