// Package cache はトークン解決結果を Redis にキャッシュします。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/metrics"
)

const (
	tokenKeyPrefix = "user:token:"
)

// entry は Redis に保存するユーザー情報です。パスワードダイジェストは保存しません。
type entry struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// TokenCache は identity.Store をラップし、FindByToken を読み込み時キャッシュします。
// トークンはローテーションされず行も更新されないため、キャッシュが古くなることはありません。
type TokenCache struct {
	next   identity.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewTokenCache は TokenCache を作成します。
func NewTokenCache(next identity.Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCache{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// FindByToken はキャッシュを優先し、ミス時は内側のストアから取得して保存します。
// Redis の障害時は内側のストアにそのまま委譲します。
func (c *TokenCache) FindByToken(ctx context.Context, token string) (identity.User, error) {
	key := tokenKey(token)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var e entry
		decErr := json.Unmarshal(data, &e)
		if decErr == nil {
			metrics.TokenCache.WithLabelValues(metrics.ResultHit).Inc()
			return identity.User{ID: e.ID, Username: e.Username, Token: e.Token}, nil
		}
		c.logger.WarnContext(ctx, "cache.token.decode.fail", "err", decErr)
	case errors.Is(err, redis.Nil):
		metrics.TokenCache.WithLabelValues(metrics.ResultMiss).Inc()
	default:
		metrics.TokenCache.WithLabelValues(metrics.ResultError).Inc()
		c.logger.WarnContext(ctx, "cache.token.get.fail", "err", err)
	}

	user, err := c.next.FindByToken(ctx, token)
	if err != nil {
		return identity.User{}, err
	}

	payload, err := json.Marshal(entry{ID: user.ID, Username: user.Username, Token: user.Token})
	if err != nil {
		return user, nil
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "cache.token.set.fail", "err", err)
	}
	return user, nil
}

// FindByUsername は内側のストアに委譲します。
func (c *TokenCache) FindByUsername(ctx context.Context, username string) (identity.User, error) {
	return c.next.FindByUsername(ctx, username)
}

// Insert は内側のストアに委譲します。
func (c *TokenCache) Insert(ctx context.Context, user identity.User) (int64, error) {
	return c.next.Insert(ctx, user)
}

func tokenKey(token string) string {
	return tokenKeyPrefix + token
}
