package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresSink は監査イベントを auth_events テーブルに保存します。
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink は PostgresSink を作成します。
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Save はイベントを1行挿入します。
func (s *PostgresSink) Save(ctx context.Context, ev Event) error {
	query :=
		`INSERT INTO auth_events (kind, user_id, client_ip, user_agent, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`

	var userID sql.NullInt64
	if ev.UserID != nil {
		userID = sql.NullInt64{Int64: *ev.UserID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		string(ev.Kind), userID, nullIfBlank(ev.ClientIP), nullIfBlank(ev.UserAgent), ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func nullIfBlank(s string) sql.NullString {
	v := strings.TrimSpace(s)
	return sql.NullString{String: v, Valid: v != ""}
}
