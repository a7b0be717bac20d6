// Package config loads the read-only settings snapshot consumed by the client.
//
// Sources are layered with increasing priority:
//  1. built-in defaults
//  2. an optional YAML file
//  3. CODEMAO_* environment variables ("__" separates nesting levels,
//     e.g. CODEMAO_RETRY__MAX_ATTEMPTS=5)
package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CODEMAO_"

// DefaultHeaders are sent unless the configuration names the same header.
var DefaultHeaders = map[string]string{
	"Content-Type": "application/json",
	"User-Agent":   "codemao-client/1.0",
}

// Settings is the configuration snapshot.
type Settings struct {
	BaseURL   string            `koanf:"base_url" validate:"required,url"`
	Headers   map[string]string `koanf:"headers"`
	Timeout   time.Duration     `koanf:"timeout" validate:"gt=0"`
	RateLimit float64           `koanf:"rate_limit" validate:"gte=0"`

	Retry    RetrySettings    `koanf:"retry"`
	Log      LogSettings      `koanf:"log"`
	Redis    RedisSettings    `koanf:"redis"`
	Metrics  MetricsSettings  `koanf:"metrics"`
	Identity IdentitySettings `koanf:"identity"`
}

// RetrySettings controls the request retry policy.
type RetrySettings struct {
	MaxAttempts int           `koanf:"max_attempts" validate:"gte=1,lte=20"`
	Backoff     time.Duration `koanf:"backoff" validate:"gte=0"`
	MaxBackoff  time.Duration `koanf:"max_backoff" validate:"gte=0"`
}

// LogSettings controls structured logging and the request log file.
type LogSettings struct {
	Level    string `koanf:"level" validate:"oneof=debug info warn warning error"`
	Pretty   bool   `koanf:"pretty"`
	Requests bool   `koanf:"requests"`
	Dir      string `koanf:"dir"`
	MaxChars int    `koanf:"max_chars" validate:"gte=0"`
}

// RedisSettings enables token persistence when Addr is set.
type RedisSettings struct {
	Addr      string        `koanf:"addr" validate:"omitempty,hostname_port"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db" validate:"gte=0"`
	KeyPrefix string        `koanf:"key_prefix"`
	TTL       time.Duration `koanf:"ttl" validate:"gte=0"`
}

// MetricsSettings enables the Prometheus endpoint when Addr is set.
type MetricsSettings struct {
	Addr string `koanf:"addr"`
}

// IdentitySettings selects the identity applied at startup.
type IdentitySettings struct {
	Name  string `koanf:"name" validate:"omitempty,oneof=average edu judgement blank"`
	Token string `koanf:"token"`
}

func defaults() map[string]any {
	return map[string]any{
		"base_url":   "https://api.codemao.cn",
		"timeout":    "10s",
		"rate_limit": 0,

		"retry.max_attempts": 3,
		"retry.backoff":      "300ms",
		"retry.max_backoff":  "30s",

		"log.level":     "info",
		"log.pretty":    false,
		"log.requests":  false,
		"log.dir":       "logs",
		"log.max_chars": 100,

		"redis.db":         0,
		"redis.key_prefix": "codemao:auth",
	}
}

// Load builds a Settings snapshot. path may be empty; a named file that does
// not exist is an error.
func Load(path string) (*Settings, error) {
	return load(path, os.Environ)
}

func load(path string, environ func() []string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
		EnvironFunc:   environ,
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	s.Headers = mergeHeaders(s.Headers)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &s, nil
}

// transformEnv maps CODEMAO_LOG__MAX_CHARS to log.max_chars. Header names
// keep their dashes: CODEMAO_HEADERS__X_TRACE_ID sets headers.x-trace-id.
func transformEnv(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	parts := strings.Split(key, "__")
	if len(parts) == 2 && parts[0] == "headers" {
		parts[1] = strings.ReplaceAll(parts[1], "_", "-")
	}
	return strings.Join(parts, "."), value
}

// mergeHeaders canonicalizes configured header names and fills in
// DefaultHeaders for names not configured.
func mergeHeaders(configured map[string]string) map[string]string {
	out := make(map[string]string, len(configured)+len(DefaultHeaders))
	for name, value := range configured {
		out[http.CanonicalHeaderKey(name)] = value
	}
	for name, value := range DefaultHeaders {
		if _, ok := out[name]; !ok {
			out[name] = value
		}
	}
	return out
}

var validate = validator.New()

// Validate checks struct constraints and cross-field rules.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if s.Retry.MaxBackoff > 0 && s.Retry.Backoff > s.Retry.MaxBackoff {
		return fmt.Errorf("retry.backoff (%s) exceeds retry.max_backoff (%s)", s.Retry.Backoff, s.Retry.MaxBackoff)
	}
	if s.Identity.Token != "" && s.Identity.Name == "" {
		return errors.New("identity.token requires identity.name")
	}
	return nil
}
