// Package config loads service settings from defaults, an optional YAML file,
// an optional .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

type Config struct {
	Env      string         `yaml:"env" validate:"oneof=development production test"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Cookie   CookieConfig   `yaml:"cookie"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr              string          `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration   `yaml:"read_header_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration   `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration   `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration   `yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes      int64           `yaml:"max_body_bytes" validate:"gt=0"`
	CORSOrigins       []string        `yaml:"cors_origins"`
	TrustedProxies    []string        `yaml:"trusted_proxies" validate:"dive,cidr|ip"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps" validate:"required_if=Enabled true,gte=0"`
	Burst   int     `yaml:"burst" validate:"required_if=Enabled true,gte=0"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type TokensConfig struct {
	Issuer        string        `yaml:"issuer" validate:"required"`
	AccessSecret  string        `yaml:"access_secret" validate:"required,min=32"`
	RefreshSecret string        `yaml:"refresh_secret" validate:"required,min=32,nefield=AccessSecret"`
	AccessTTL     time.Duration `yaml:"access_ttl" validate:"gt=0"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" validate:"gtfield=AccessTTL"`
	RotateRefresh bool          `yaml:"rotate_refresh"`
}

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name     string `yaml:"name" validate:"required"`
	Domain   string `yaml:"domain"`
	Path     string `yaml:"path" validate:"required"`
	SameSite string `yaml:"same_site" validate:"oneof=strict lax none"`
	// Secure forces the Secure attribute outside production.
	Secure bool `yaml:"secure"`
}

type AuthConfig struct {
	DefaultRole string `yaml:"default_role"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Env: EnvDevelopment,
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxBodyBytes:      1 << 20,
			RateLimit:         RateLimitConfig{Enabled: true, RPS: 10, Burst: 20},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Tokens: TokensConfig{
			Issuer:     "authix",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Cookie: CookieConfig{
			Name:     "jwt",
			Path:     "/",
			SameSite: "strict",
		},
		Auth: AuthConfig{DefaultRole: "user"},
		Log:  LogConfig{Level: "info"},
	}
}

// SecureCookies reports whether cookies must carry the Secure attribute.
func (c Config) SecureCookies() bool {
	return c.Env == EnvProduction || c.Cookie.Secure
}

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// Option tunes Load.
type Option func(*loader)

// WithEnvFile reads variables from a dotenv file. A missing file is ignored.
func WithEnvFile(path string) Option {
	return func(l *loader) { l.envFile = path }
}

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		if fn != nil {
			l.lookup = fn
		}
	}
}

// Load builds the configuration. An empty path skips the YAML layer; a path
// that does not exist is an error.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if l.envFile != "" {
		vals, err := godotenv.Read(l.envFile)
		switch {
		case err == nil:
			dotenv = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("read env file: %w", err)
		}
	}
	get := func(keys ...string) (string, bool) {
		for _, k := range keys {
			if v, ok := l.lookup(k); ok && v != "" {
				return v, true
			}
			if v, ok := dotenv[k]; ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
	if err := applyEnv(&cfg, get); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, get func(keys ...string) (string, bool)) error {
	if v, ok := get("AUTHIX_ENV"); ok {
		cfg.Env = strings.ToLower(v)
	}
	if v, ok := get("AUTHIX_HTTP_ADDR"); ok {
		cfg.HTTP.Addr = v
	} else if v, ok := get("PORT"); ok {
		cfg.HTTP.Addr = ":" + v
	}
	if v, ok := get("AUTHIX_CORS_ORIGINS"); ok {
		cfg.HTTP.CORSOrigins = splitList(v)
	}
	if v, ok := get("AUTHIX_TRUSTED_PROXIES"); ok {
		cfg.HTTP.TrustedProxies = splitList(v)
	}
	if v, ok := get("AUTHIX_DATABASE_URL", "DATABASE_URL"); ok {
		cfg.Database.URL = v
	}
	if v, ok := get("AUTHIX_ACCESS_TOKEN_SECRET", "ACCESS_TOKEN_SECRET"); ok {
		cfg.Tokens.AccessSecret = v
	}
	if v, ok := get("AUTHIX_REFRESH_TOKEN_SECRET", "REFRESH_TOKEN_SECRET"); ok {
		cfg.Tokens.RefreshSecret = v
	}
	if v, ok := get("AUTHIX_DEFAULT_ROLE"); ok {
		cfg.Auth.DefaultRole = v
	}
	if v, ok := get("AUTHIX_LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := get("AUTHIX_COOKIE_SAMESITE"); ok {
		cfg.Cookie.SameSite = strings.ToLower(v)
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AUTHIX_ACCESS_TTL", &cfg.Tokens.AccessTTL},
		{"AUTHIX_REFRESH_TTL", &cfg.Tokens.RefreshTTL},
		{"AUTHIX_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		if v, ok := get(d.key); ok {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"AUTHIX_ROTATE_REFRESH", &cfg.Tokens.RotateRefresh},
		{"AUTHIX_RATE_LIMIT", &cfg.HTTP.RateLimit.Enabled},
		{"AUTHIX_COOKIE_SECURE", &cfg.Cookie.Secure},
	}
	for _, b := range bools {
		if v, ok := get(b.key); ok {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", b.key, err)
			}
			*b.dst = parsed
		}
	}

	if v, ok := get("AUTHIX_RATE_LIMIT_RPS"); ok {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AUTHIX_RATE_LIMIT_RPS: %w", err)
		}
		cfg.HTTP.RateLimit.RPS = rps
	}
	if v, ok := get("AUTHIX_RATE_LIMIT_BURST"); ok {
		burst, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTHIX_RATE_LIMIT_BURST: %w", err)
		}
		cfg.HTTP.RateLimit.Burst = burst
	}
	return nil
}

var validate = validator.New()

// Validate reports the first invalid field in a readable form.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("config: %s failed %q validation", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("config: %w", err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
