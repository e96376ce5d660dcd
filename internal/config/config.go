// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// minSessionSecretBytes はリリースモードで要求するセッション署名鍵の最小長です。
const minSessionSecretBytes = 32

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // HTTPサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// データベース設定
	DatabaseURL string // PostgreSQL 接続文字列
	DBMaxConns  int    // 接続プールの最大接続数

	// セッション設定
	SessionSecret string        // セッションクッキー署名用の秘密鍵
	SessionMaxAge time.Duration // セッションクッキーの有効期間
	BcryptCost    int           // パスワードハッシュのコスト係数

	// Redis 設定（空の場合はキャッシュと監査キューを無効化）
	RedisURL         string
	TokenCacheTTL    time.Duration
	AuditConcurrency int

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ログ設定
	LogLevel string
	LogFile  string
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  getEnvAsInt("DB_MAX_CONNS", 10),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionMaxAge: time.Duration(getEnvAsInt("SESSION_MAX_AGE_HOURS", 24)) * time.Hour,
		BcryptCost:    getEnvAsInt("BCRYPT_COST", 10),

		RedisURL:         getEnv("REDIS_URL", ""),
		TokenCacheTTL:    time.Duration(getEnvAsInt("TOKEN_CACHE_TTL_MINUTES", 60)) * time.Minute,
		AuditConcurrency: getEnvAsInt("AUDIT_CONCURRENCY", 2),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:8080"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE_HOURS must be positive")
	}

	// ローカル開発では署名鍵は任意（未設定時は起動時に警告して固定鍵を使う）
	if c.GinMode == "release" {
		if len(c.SessionSecret) < minSessionSecretBytes {
			return fmt.Errorf("SESSION_SECRET must be at least %d bytes in release mode", minSessionSecretBytes)
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
