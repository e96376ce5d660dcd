// Package store は users テーブルへのアクセスを提供します。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yourusername/session-auth/internal/identity"
	"github.com/yourusername/session-auth/internal/store/migrations"
)

const uniqueViolation = "23505"

// PostgresStore は identity.Store の PostgreSQL 実装です。
// 接続プールの所有者は呼び出し側で、Close はしません。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore は既存の *sql.DB から PostgresStore を作成します。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open は pgx ドライバで接続プールを開き、疎通を確認します。
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate は埋め込みマイグレーションを最新まで適用します。
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Ping はヘルスチェック用に DB の疎通を確認します。
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// FindByToken はトークンに一致するユーザーを1件返します。
func (s *PostgresStore) FindByToken(ctx context.Context, token string) (identity.User, error) {
	query :=
		`SELECT id, username, token FROM users
		 WHERE token = $1
		 LIMIT 1`

	var (
		user     identity.User
		username sql.NullString
		tok      sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, token).Scan(&user.ID, &username, &tok)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.User{}, identity.ErrNotFound
		}
		return identity.User{}, fmt.Errorf("db error: %w", err)
	}
	user.Username = username.String
	user.Token = tok.String
	return user, nil
}

// FindByUsername はユーザー名に一致するユーザーをダイジェスト込みで返します。
func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (identity.User, error) {
	query :=
		`SELECT id, username, token, password_digest FROM users
		 WHERE username = $1
		 LIMIT 1`

	var (
		user   identity.User
		name   sql.NullString
		tok    sql.NullString
		digest sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &name, &tok, &digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity.User{}, identity.ErrNotFound
		}
		return identity.User{}, fmt.Errorf("db error: %w", err)
	}
	user.Username = name.String
	user.Token = tok.String
	user.PasswordDigest = digest.String
	return user, nil
}

// Insert はユーザーを作成して採番された id を返します。
// 一意制約違反は identity.ConflictError になります。
func (s *PostgresStore) Insert(ctx context.Context, user identity.User) (int64, error) {
	query :=
		`INSERT INTO users (username, token, password_digest)
		 VALUES ($1, $2, $3)
		 RETURNING id`

	var id int64
	err := s.db.QueryRowContext(ctx, query, user.Username, user.Token, user.PasswordDigest).Scan(&id)
	if err != nil {
		if field, ok := uniqueViolationField(err); ok {
			return 0, identity.ConflictError{Field: field}
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// uniqueViolationField は一意制約違反の制約名から論理フィールドを判定します。
func uniqueViolationField(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return "", false
	}
	if strings.Contains(strings.ToLower(pgErr.ConstraintName), "token") {
		return "token", true
	}
	return "username", true
}
