// Package audit は認証イベントを非同期キュー経由で永続化します。
package audit

import (
	"context"
	"time"
)

// Kind は監査イベントの種類です。
type Kind string

const (
	KindRegisterSuccess   Kind = "auth.register.success"
	KindRegisterDuplicate Kind = "auth.register.duplicate"
	KindLoginSuccess      Kind = "auth.login.success"
	KindLoginFailed       Kind = "auth.login.failed"
	KindLogout            Kind = "auth.logout"
)

// Event は1件の監査イベントです。
// ログイン失敗時は入力されたユーザー名もその存在有無も含めません。
type Event struct {
	Kind       Kind      `json:"kind"`
	UserID     *int64    `json:"userId,omitempty"`
	ClientIP   string    `json:"clientIp,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Recorder は監査イベントを受け付けます。失敗はリクエストに影響させません。
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// NopRecorder は何もしない Recorder です（Redis 未設定時に使用）。
type NopRecorder struct{}

// Record は何もしません。
func (NopRecorder) Record(context.Context, Event) {}

// Sink は監査イベントの保存先です。
type Sink interface {
	Save(ctx context.Context, ev Event) error
}
