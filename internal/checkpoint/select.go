package checkpoint

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/relay/internal/config"
	"github.com/Iron-Ham/relay/internal/errors"
	"github.com/Iron-Ham/relay/internal/logging"
)

// Select opens the first usable tier in cfg.Tiers. Tiers without
// configuration (no redis address, no postgres DSN, no sqlite path) are
// skipped; tiers that fail to connect are logged and skipped. It fails only
// when no listed tier can be opened.
func Select(ctx context.Context, cfg config.CheckpointConfig, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}

	var errs []error
	for _, tier := range cfg.Tiers {
		store, err := open(ctx, tier, cfg)
		switch {
		case err == nil && store == nil:
			logger.Debug("checkpoint tier not configured", "tier", tier)
		case err != nil:
			logger.Warn("checkpoint tier unavailable", "tier", tier, "error", err.Error())
			errs = append(errs, err)
		default:
			logger.Info("checkpoint tier selected", "tier", store.Name())
			return store, nil
		}
	}

	return nil, errors.NewCheckpointError(
		fmt.Sprintf("no usable checkpoint tier in %v", cfg.Tiers),
		errors.Join(errs...),
	)
}

// open returns a nil Store and nil error for an unconfigured tier.
func open(ctx context.Context, tier string, cfg config.CheckpointConfig) (Store, error) {
	switch tier {
	case config.TierRedis:
		if cfg.RedisAddr == "" {
			return nil, nil
		}
		return OpenRedis(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
	case config.TierPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil
		}
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case config.TierSQLite:
		if cfg.SQLitePath == "" {
			return nil, nil
		}
		return OpenSQLite(ctx, cfg.SQLitePath)
	case config.TierMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.NewValidationError("unknown checkpoint tier").WithField("checkpoint.tiers").WithValue(tier)
	}
}
