// Package emulator はIdPとドキュメントストアのローカル実装を提供する。
//
// 本物のバックエンドと同じワイヤコントラクトをHTTPで公開し、
// 開発時の実行環境および統合テストのスタンドインとして動作する。
// アカウントはメモリ上に保持し、パスワードはbcryptでハッシュする。
// IDトークンはHS256署名のJWTで、uid・email・expのclaimを持つ。
package emulator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/taskpad/internal/docstore"
)

// IdPが返すエラーコード
var (
	// ErrEmailExists は登録済みメールアドレスでのサインアップを示す。
	ErrEmailExists = errors.New("EMAIL_EXISTS")
	// ErrInvalidCredentials は認証失敗を示す。
	// メールアドレス未登録とパスワード誤りを区別しない。
	ErrInvalidCredentials = errors.New("INVALID_LOGIN_CREDENTIALS")
)

// Account は登録済みアカウントを表す。
type Account struct {
	UID          string
	Email        string
	PasswordHash []byte
}

// Emulator はIdPとドキュメントストアの状態を保持する。
type Emulator struct {
	store    docstore.Store
	secret   []byte
	tokenTTL time.Duration

	mu       sync.RWMutex
	accounts map[string]*Account // メールアドレスをキーとする
}

// New はEmulatorを生成する。署名鍵は起動ごとにランダムに生成される。
// storeにはドキュメントAPIの裏側となるStore実装を渡す。
func New(store docstore.Store, tokenTTL time.Duration) (*Emulator, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Emulator{
		store:    store,
		secret:   secret,
		tokenTTL: tokenTTL,
		accounts: make(map[string]*Account),
	}, nil
}

// SignUp は新規アカウントを作成しIDトークンを発行する。
func (e *Emulator) SignUp(email, password string) (*Account, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	e.mu.Lock()
	if _, exists := e.accounts[email]; exists {
		e.mu.Unlock()
		return nil, "", ErrEmailExists
	}
	account := &Account{
		UID:          uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
	}
	e.accounts[email] = account
	e.mu.Unlock()

	token, err := e.issueToken(account)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

// SignIn は資格情報を検証しIDトークンを発行する。
func (e *Emulator) SignIn(email, password string) (*Account, string, error) {
	e.mu.RLock()
	account, exists := e.accounts[email]
	e.mu.RUnlock()

	if !exists {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := e.issueToken(account)
	if err != nil {
		return nil, "", err
	}
	return account, token, nil
}

// HasAccount は指定メールアドレスのアカウントが存在するかを返す。
// OOBメール送信処理がログ内容を決めるために使用する。
// 応答には反映してはならない（アカウント列挙防止）。
func (e *Emulator) HasAccount(email string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.accounts[email]
	return exists
}

// issueToken はアカウントに対するIDトークンを発行する。
func (e *Emulator) issueToken(account *Account) (string, error) {
	claims := jwt.MapClaims{
		"uid":   account.UID,
		"email": account.Email,
		"exp":   time.Now().Add(e.tokenTTL).Unix(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyToken はIDトークンを検証しuidを返す。
func (e *Emulator) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return e.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	uid, ok := claims["uid"].(string)
	if !ok || uid == "" {
		return "", fmt.Errorf("token has no uid claim")
	}
	return uid, nil
}
