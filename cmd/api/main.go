// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/session-auth/internal/auth"
	"github.com/yourusername/session-auth/internal/config"
	"github.com/yourusername/session-auth/internal/logging"
	"github.com/yourusername/session-auth/internal/store"
	"github.com/yourusername/session-auth/internal/web"
)

// devSessionSecret はローカル開発で SESSION_SECRET 未設定時に使う署名鍵です。
const devSessionSecret = "dev-only-session-secret-change-me"

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	err = run(cfg, logger)
	if err != nil {
		logger.Error("server stopped with error", "err", err)
	}
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// データベース接続とマイグレーション
	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	pgStore := store.NewPostgresStore(db)

	deps, err := setupIdentity(cfg, pgStore, db, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	gin.SetMode(cfg.GinMode)
	router, err := newRouter(cfg, deps, pgStore, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pinger はヘルスチェックで使う疎通確認です。
type pinger interface {
	Ping(ctx context.Context) error
}

// newRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
func newRouter(cfg *config.Config, deps *identityDeps, db pinger, logger *slog.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery(), logging.RequestLogger(logger))

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// セッションストアの設定（署名のみ、暗号化なし）
	secret := cfg.SessionSecret
	if secret == "" {
		logger.Warn("SESSION_SECRET is not set; using development secret")
		secret = devSessionSecret
	}
	secure := cfg.GinMode == gin.ReleaseMode
	sessionStore := auth.NewSessionStore([]byte(secret), cfg.SessionMaxAge, secure)

	// ヘルスチェックとメトリクスはセッション不要
	router.GET("/health", healthHandler(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authManager := auth.NewManager(deps.service, deps.recorder, logger,
		auth.WithSessionOptions(auth.SessionOptions(cfg.SessionMaxAge, secure)))
	pages := router.Group("")
	pages.Use(auth.Sessions(sessionStore), authManager.LoadUser())
	authManager.Mount(pages)

	return router, nil
}

// healthHandler はヘルスチェックエンドポイントのハンドラーです。
func healthHandler(db pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unavailable",
				"database": "down",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "session-auth",
			"database": "up",
		})
	}
}
