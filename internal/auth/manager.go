package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/session-auth/internal/audit"
	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/metrics"
)

// ContextUserKey は、ハンドラー間で現在のユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// IdentityService は Manager が利用する identity.Service の操作です。
type IdentityService interface {
	Register(ctx context.Context, username, password string) (identity.User, error)
	Login(ctx context.Context, username, password string) (identity.User, error)
	ResolveToken(ctx context.Context, token string) (identity.User, error)
	Anonymous() identity.User
}

// Manager は認証ハンドラーとミドルウェアをまとめた構造体です。
type Manager struct {
	identity   IdentityService
	recorder   audit.Recorder
	logger     *slog.Logger
	cookieOpts sessions.Options
}

// ManagerOption は Manager の設定を変更します。
type ManagerOption func(*Manager)

// WithSessionOptions はセッションストアと同じクッキー属性を設定します。
// ログアウト時に失効させるクッキーにも同じ Secure / SameSite が付きます。
func WithSessionOptions(opts sessions.Options) ManagerOption {
	return func(m *Manager) {
		m.cookieOpts = opts
	}
}

// NewManager は認証マネージャーを作成します。
func NewManager(svc IdentityService, recorder audit.Recorder, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if recorder == nil {
		recorder = audit.NopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		identity:   svc,
		recorder:   recorder,
		logger:     logger,
		cookieOpts: SessionOptions(0, false),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// LoadUser はセッションのトークンからユーザーを解決してコンテキストに設定するミドルウェアです。
//
// トークンなし → 匿名、解決成功 → そのユーザー、解決失敗 → 匿名。
// 解決に失敗してもリクエストは中断せず、エラーはログにのみ残します。
func (m *Manager) LoadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextUserKey, m.resolve(c))
		c.Next()
	}
}

func (m *Manager) resolve(c *gin.Context) identity.User {
	token := sessionToken(c)
	if token == "" {
		return m.identity.Anonymous()
	}

	ctx := c.Request.Context()
	user, err := m.identity.ResolveToken(ctx, token)
	switch {
	case err == nil:
		metrics.TokenResolutions.WithLabelValues(metrics.ResultSuccess).Inc()
		return user
	case errors.Is(err, identity.ErrUnknownToken):
		metrics.TokenResolutions.WithLabelValues(metrics.ResultUnknown).Inc()
		m.logger.DebugContext(ctx, "auth.token.unknown")
	default:
		metrics.TokenResolutions.WithLabelValues(metrics.ResultError).Inc()
		m.logger.WarnContext(ctx, "auth.token.resolve.fail", "err", err)
	}
	return m.identity.Anonymous()
}

// CurrentUser は LoadUser が設定したユーザーを返します。未設定の場合は匿名ユーザーです。
func CurrentUser(c *gin.Context) identity.User {
	if v, ok := c.Get(ContextUserKey); ok {
		if user, ok := v.(identity.User); ok {
			return user
		}
	}
	return identity.Anonymous()
}

func (m *Manager) record(c *gin.Context, kind audit.Kind, userID *int64) {
	m.recorder.Record(c.Request.Context(), audit.Event{
		Kind:      kind,
		UserID:    userID,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
}
