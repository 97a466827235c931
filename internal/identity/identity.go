// Package identity はIdPへの認証操作とセッション変更通知を提供する。
//
// Providerの実装はIDトークンの保持とその失効管理まで担い、
// 購読者にはサインイン・サインアウト・トークン失効のたびに
// 現在のプリンシパル（未認証時はnil）を通知する。
package identity

import (
	"context"

	"github.com/hitoshi/taskpad/internal/model"
)

// Provider はIdPの操作コントラクト。
type Provider interface {
	// CreateAccount は新規アカウントを作成しサインイン済み状態にする。
	CreateAccount(ctx context.Context, email, password string) (*model.Identity, error)
	// SignIn はメールアドレスとパスワードで認証する。
	SignIn(ctx context.Context, email, password string) (*model.Identity, error)
	// SignOut は現在のセッションを破棄する。
	SignOut(ctx context.Context) error
	// SendVerificationEmail はサインイン中のユーザーに確認メールを送信する。
	SendVerificationEmail(ctx context.Context) error
	// SendPasswordResetEmail はパスワードリセットメールの送信を依頼する。
	// アカウントの存在有無は呼び出し結果から区別できてはならない。
	SendPasswordResetEmail(ctx context.Context, email string) error
	// Subscribe はセッション変更の購読を開始する。
	// 登録直後に現在の状態（未認証ならnil）が1回通知され、
	// 以後は変化のたびに通知される。戻り値で購読を解除する。
	Subscribe(fn func(*model.Identity)) (unsubscribe func())
}
