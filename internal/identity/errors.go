package identity

import (
	"errors"
	"fmt"
)

// ストア層が返すエラー
var (
	ErrNotFound = errors.New("identity: not found")
	ErrConflict = errors.New("identity: conflict")
)

// サービス層が呼び出し側に返すエラー
var (
	ErrDuplicateUsername  = errors.New("identity: username already taken")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUnknownToken       = errors.New("identity: unknown token")
	ErrHashingFailure     = errors.New("identity: password hashing failed")
	ErrPasswordTooLong    = errors.New("identity: password too long")
)

// ConflictError は一意制約違反が起きた論理フィールドを保持します。
// Field は "username" または "token" です。
type ConflictError struct {
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%v: %s", ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// conflictField は err が ConflictError の場合にフィールド名を返します。
func conflictField(err error) (string, bool) {
	var ce ConflictError
	if !errors.As(err, &ce) {
		return "", false
	}
	return ce.Field, true
}
