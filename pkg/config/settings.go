package config

import (
	"time"

	"github.com/Sternrassler/codemao-client/pkg/client"
	"github.com/Sternrassler/codemao-client/pkg/logging"
	"github.com/Sternrassler/codemao-client/pkg/requestlog"
	"github.com/redis/go-redis/v9"
)

// ClientConfig maps the snapshot onto a client configuration. Auth and
// RequestLog are left for the caller to attach.
func (s *Settings) ClientConfig() client.Config {
	cfg := client.DefaultConfig(s.BaseURL)
	cfg.Headers = make(map[string]string, len(s.Headers))
	for name, value := range s.Headers {
		cfg.Headers[name] = value
	}
	cfg.Timeout = s.Timeout
	cfg.MaxRetries = s.Retry.MaxAttempts
	cfg.Backoff = s.Retry.Backoff
	cfg.MaxBackoff = s.Retry.MaxBackoff
	cfg.RateLimit = s.RateLimit
	return cfg
}

// LoggingConfig maps the log section onto logging.Config.
func (s *Settings) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(s.Log.Level)
	cfg.Pretty = s.Log.Pretty
	return cfg
}

// RequestLog opens the request log file when log.requests is enabled. It
// returns nil, nil when disabled.
func (s *Settings) RequestLog(start time.Time) (*requestlog.FileSink, error) {
	if !s.Log.Requests {
		return nil, nil
	}
	return requestlog.NewFileSink(s.Log.Dir, start, s.Log.MaxChars)
}

// RedisOptions returns connection options, or nil when redis.addr is unset.
func (s *Settings) RedisOptions() *redis.Options {
	if s.Redis.Addr == "" {
		return nil
	}
	return &redis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	}
}
