// Package model はドメインモデルを定義する。
package model

import "fmt"

// AppError は統一エラーフォーマットを表す。
// Messageはそのままユーザーに表示される固定文言であり、
// IdPやドキュメントストア由来の生の診断情報を含めてはならない。
type AppError struct {
	Code     string // エラーコード
	Message  string // ユーザー向けの固定メッセージ
	Category string // カテゴリ: auth, validation, data
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSignUpFailed  = "SIGN_UP_FAILED"
	ErrCodeLoginFailed   = "LOGIN_FAILED"
	ErrCodeDataFailed    = "DATA_FAILED"
	ErrCodeNotAuthorized = "NOT_AUTHORIZED"
)

// NewSignUpFailedError はサインアップ失敗エラーを生成する。
// アカウント列挙を防ぐため、IdPがどんな理由で失敗しても文言は1つに固定する。
func NewSignUpFailedError() *AppError {
	return &AppError{
		Code:     ErrCodeSignUpFailed,
		Message:  "このメールアドレスはすでに登録されています。パスワードを忘れた場合は、「パスワードをお忘れですか？」をクリックしてリセットするか、新しいアカウントを作成してください。",
		Category: "auth",
	}
}

// NewLoginFailedError はログイン失敗エラーを生成する。
// メールアドレスの存在有無とパスワード誤りを区別しない固定文言を返す。
func NewLoginFailedError() *AppError {
	return &AppError{
		Code:     ErrCodeLoginFailed,
		Message:  "メールアドレスとパスワードの組み合わせが正しくありません。もう一度お試しいただくか、「パスワードをお忘れですか？」をクリックしてリセットしてください。",
		Category: "auth",
	}
}

// NewDataFailedError はドキュメントストア操作の失敗エラーを生成する。
func NewDataFailedError() *AppError {
	return &AppError{
		Code:     ErrCodeDataFailed,
		Message:  "エラーが発生しました！",
		Category: "data",
	}
}

// NewNotAuthorizedError は未認証状態での操作エラーを生成する。
func NewNotAuthorizedError() *AppError {
	return &AppError{
		Code:     ErrCodeNotAuthorized,
		Message:  "ログインし直してください。",
		Category: "auth",
	}
}
