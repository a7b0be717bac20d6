package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/codemao-client/pkg/auth"
	"github.com/Sternrassler/codemao-client/pkg/client"
	"github.com/Sternrassler/codemao-client/pkg/config"
	"github.com/Sternrassler/codemao-client/pkg/logging"
	"github.com/Sternrassler/codemao-client/pkg/metrics"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the global flags and the components built from them.
type app struct {
	configPath  string
	envFile     string
	identity    string
	token       string
	metricsAddr string
	logLevel    string

	settings *config.Settings
	client   *client.Client
	redis    *redis.Client
	logger   zerolog.Logger
}

// run wraps a command body with setup and teardown.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.setup(cmd); err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, args)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()

	if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to load %s: %v\n", a.envFile, err)
	}

	settings, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		settings.Log.Level = a.logLevel
	}
	if a.metricsAddr != "" {
		settings.Metrics.Addr = a.metricsAddr
	}
	if a.identity != "" {
		settings.Identity.Name = a.identity
	}
	if a.token != "" {
		settings.Identity.Token = a.token
	}
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	a.settings = settings

	logCfg := settings.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	a.logger = logging.NewLogger("codemao-fetch")

	var opts []auth.Option
	if redisOpts := settings.RedisOptions(); redisOpts != nil {
		a.redis = redis.NewClient(redisOpts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", redisOpts.Addr, err)
		}
		a.logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
		store := auth.NewRedisStore(a.redis, settings.Redis.KeyPrefix, settings.Redis.TTL)
		opts = append(opts, auth.WithStore(store))
	}

	state := auth.NewState(settings.Headers, opts...)
	if err := state.Restore(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to restore stored identities")
	}
	if err := applyIdentity(ctx, state, settings.Identity); err != nil {
		return err
	}

	cfg := settings.ClientConfig()
	cfg.Auth = state
	sink, err := settings.RequestLog(time.Now())
	if err != nil {
		return fmt.Errorf("failed to open request log: %w", err)
	}
	if sink != nil {
		cfg.RequestLog = sink
		a.logger.Info().Str("path", sink.Path()).Msg("Request log enabled")
	}

	a.client, err = client.New(cfg)
	if err != nil {
		return err
	}

	if addr := settings.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
			}
		}()
	}

	return nil
}

// applyIdentity switches to the configured identity. Without a token the
// identity's stored token is reused.
func applyIdentity(ctx context.Context, state *auth.State, s config.IdentitySettings) error {
	if s.Name == "" {
		return nil
	}
	id, err := auth.ParseIdentity(s.Name)
	if err != nil {
		return err
	}

	token := s.Token
	if token == "" && id != auth.IdentityBlank {
		stored, ok := state.TokenFor(id)
		if !ok {
			return fmt.Errorf("no token stored for identity %q, pass --token", id)
		}
		token = stored
	}
	return state.Switch(ctx, token, id)
}

func (a *app) close() {
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close client")
		}
		a.client = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close redis")
		}
		a.redis = nil
	}
}
