// Package identity はユーザー登録・ログイン・トークン解決の中核ロジックを提供します。
package identity

// anonymousID と anonymousUsername は未ログイン状態を表す固定値です。
const (
	anonymousID       int64 = -1
	anonymousUsername       = "anon"
)

// User は users テーブルの1行を表します。
// Token が空文字列の場合はトークン未設定（NULL）を意味します。
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	PasswordDigest string `json:"-"`
	Token          string `json:"token,omitempty"`
}

// Anonymous はログインしていないユーザーを表す番兵値を返します。
// 値で返すため呼び出し側が書き換えても共有状態には影響しません。
func Anonymous() User {
	return User{
		ID:       anonymousID,
		Username: anonymousUsername,
	}
}

// IsAnonymous は u が未ログインの番兵値かどうかを返します。
func (u User) IsAnonymous() bool {
	return u.ID == anonymousID
}
