// Package auth はセッションクッキーを使った登録・ログイン・ログアウトと、
// リクエストごとの現在ユーザー解決を提供します。
package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	// SessionCookieName はセッションクッキーの名前です。
	SessionCookieName = "session"
	sessionKeyToken   = "token"
)

// SessionOptions はセッションクッキーの属性を返します。
func SessionOptions(maxAge time.Duration, secure bool) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// NewSessionStore は署名付き（暗号化なし）のクッキーセッションストアを作成します。
func NewSessionStore(secret []byte, maxAge time.Duration, secure bool) sessions.Store {
	store := cookie.NewStore(secret)
	store.Options(SessionOptions(maxAge, secure))
	return store
}

// Sessions はセッションミドルウェアを返します。
func Sessions(store sessions.Store) gin.HandlerFunc {
	return sessions.Sessions(SessionCookieName, store)
}

// sessionToken はセッションに保存されたトークンを返します。未設定なら空文字です。
func sessionToken(c *gin.Context) string {
	token, _ := sessions.Default(c).Get(sessionKeyToken).(string)
	return token
}
