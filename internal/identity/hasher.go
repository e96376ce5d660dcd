package identity

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost は bcrypt のコスト係数の既定値です（1回あたり数十ミリ秒程度）。
const DefaultBcryptCost = 10

// MaxPasswordBytes は bcrypt が受け付けるパスワードの最大バイト数です。
const MaxPasswordBytes = 72

// Hasher はパスワードダイジェストの生成と照合を行います。
type Hasher interface {
	Hash(password string) (string, error)
	Compare(digest, password string) error
}

// BcryptHasher は bcrypt による Hasher 実装です。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher は指定コストの BcryptHasher を作成します。
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be between %d and %d: %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash はソルト付きダイジェストを生成します。
func (h *BcryptHasher) Hash(password string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Compare は digest と password が一致しない場合にエラーを返します。
func (h *BcryptHasher) Compare(digest, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
}

// TokenGenerator はセッション用の不透明なトークンを発行します。
type TokenGenerator interface {
	NewToken() (string, error)
}

// UUIDTokenGenerator は UUID v4 をトークンとして発行します。
type UUIDTokenGenerator struct{}

// NewToken は暗号論的乱数から UUID v4 文字列を生成します。
func (UUIDTokenGenerator) NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
