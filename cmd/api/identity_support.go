package main

import (
	"database/sql"
	"log/slog"

	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/session-auth/internal/audit"
	"github.com/yourusername/session-auth/internal/cache"
	"github.com/yourusername/session-auth/internal/config"
	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/metrics"
)

// identityDeps は identity.Service とその周辺コンポーネントをまとめます。
type identityDeps struct {
	service  *identity.Service
	recorder audit.Recorder
	closers  []func() error
}

// Close は起動したワーカーと接続を閉じます。
func (d *identityDeps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// setupIdentity は Redis の有無に応じてキャッシュと監査キューを組み立てます。
func setupIdentity(cfg *config.Config, base identity.Store, db *sql.DB, logger *slog.Logger) (*identityDeps, error) {
	hasher, err := identity.NewBcryptHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	deps := &identityDeps{recorder: audit.NopRecorder{}}
	var st identity.Store = base

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient := redis.NewClient(opt)
		deps.closers = append(deps.closers, redisClient.Close)
		st = cache.NewTokenCache(base, redisClient, cfg.TokenCacheTTL, logger)

		auditManager, err := audit.NewManager(cfg.RedisURL, cfg.AuditConcurrency, audit.NewPostgresSink(db), logger)
		if err != nil {
			deps.Close()
			return nil, err
		}
		auditManager.StartWorkers()
		deps.closers = append(deps.closers, auditManager.Shutdown)
		deps.recorder = auditManager
	} else {
		logger.Info("REDIS_URL is not set; token cache and audit queue disabled")
	}

	svc, err := identity.NewService(st, identity.WithHasher(metrics.InstrumentHasher(hasher)))
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.service = svc
	return deps, nil
}
