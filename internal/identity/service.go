package identity

import (
	"context"
	"errors"
	"fmt"
)

// Store は資格情報ストアの境界です。
type Store interface {
	FindByToken(ctx context.Context, token string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Insert(ctx context.Context, user User) (int64, error)
}

// Service はパスワードとトークンに関するすべての処理を担います。
// 平文パスワードを扱うのはこのサービスだけです。
type Service struct {
	store  Store
	hasher Hasher
	tokens TokenGenerator
}

// Option は Service の依存を差し替えます。
type Option func(*Service)

// WithHasher はパスワードハッシャーを設定します。
func WithHasher(h Hasher) Option {
	return func(s *Service) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithTokenGenerator はトークン生成器を設定します。
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Service) {
		if g != nil {
			s.tokens = g
		}
	}
}

// NewService は Service を作成します。
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("identity: store is nil")
	}
	hasher, err := NewBcryptHasher(DefaultBcryptCost)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:  store,
		hasher: hasher,
		tokens: UUIDTokenGenerator{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Register はユーザーを作成し、発行したトークンを含む User を返します。
// 空文字のチェックとパスワード確認は呼び出し側の責務です。
// MaxPasswordBytes を超えるパスワードは ErrPasswordTooLong になります。
func (s *Service) Register(ctx context.Context, username, password string) (User, error) {
	if len(password) > MaxPasswordBytes {
		return User{}, ErrPasswordTooLong
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrHashingFailure, err)
	}

	token, err := s.tokens.NewToken()
	if err != nil {
		return User{}, fmt.Errorf("identity: generate token: %w", err)
	}

	user := User{
		Username:       username,
		PasswordDigest: digest,
		Token:          token,
	}
	id, err := s.store.Insert(ctx, user)
	if err != nil {
		if field, ok := conflictField(err); ok && field == "username" {
			return User{}, ErrDuplicateUsername
		}
		return User{}, fmt.Errorf("identity: insert user: %w", err)
	}
	user.ID = id
	return user, nil
}

// Login は資格情報を検証し、成功時はトークンを含む User を返します。
// ユーザー不在とパスワード不一致はどちらも ErrInvalidCredentials になります。
func (s *Service) Login(ctx context.Context, username, password string) (User, error) {
	user, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, fmt.Errorf("identity: find user: %w", err)
	}

	if err := s.hasher.Compare(user.PasswordDigest, password); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ResolveToken はトークンに対応する User を返します。
func (s *Service) ResolveToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUnknownToken
	}
	user, err := s.store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrUnknownToken
		}
		return User{}, fmt.Errorf("identity: find token: %w", err)
	}
	return user, nil
}

// Anonymous は未ログインユーザーの番兵値を返します。
func (s *Service) Anonymous() User {
	return Anonymous()
}
