// Package schema は認証入力とタスク入力のバリデーションスキーマを提供する。
//
// 各スキーマは純粋・同期・副作用なしで、入力の形と意味的制約を検証し、
// フィールド単位のmodel.FieldErrorsを返す。不正な入力に対してpanicしない。
// ネットワーク層に到達する前に必ずここを通すこと。
package schema

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/taskpad/internal/model"
)

const (
	maxEmailLength    = 256
	minPasswordLength = 8
	maxTitleLength    = 256
	maxContentLength  = 4096

	// パスワードに要求する特殊文字の固定セット
	passwordSpecialChars = "@$!%*?&#"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Input はバリデーション対象となる操作種別のタグ付きユニオン。
// 実装はSignUpInput, LoginInput, ResetPasswordInput, TaskInputの4つに限る。
type Input interface {
	// Validate は入力を検証し、不正があればフィールド単位のエラーを返す。
	// 有効な入力に対してはnilを返す。
	Validate() model.FieldErrors
}

// SignUpInput はサインアップ操作の入力。
type SignUpInput struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// LoginInput はログイン操作の入力。
type LoginInput struct {
	Email    string
	Password string
}

// ResetPasswordInput はパスワードリセット操作の入力。
type ResetPasswordInput struct {
	Email string
}

// TaskInput はタスクの追加・編集操作の入力。
type TaskInput struct {
	Title   string
	Content string
}

// Validate はサインアップ入力を検証する。
// パスワードは複雑性ルール（英字2文字以上・数字2文字以上・特殊文字2文字以上）
// まで検証し、確認用パスワードの不一致はconfirmPassword側のエラーとして返す。
func (in SignUpInput) Validate() model.FieldErrors {
	errs := model.FieldErrors{}

	validateEmail(errs, in.Email)
	validatePassword(errs, in.Password, true)

	if in.ConfirmPassword == "" {
		errs.Add("confirmPassword", "パスワード（確認用）を入力してください。")
	} else if in.Password != in.ConfirmPassword {
		errs.Add("confirmPassword", "パスワードが一致する必要があります。")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Validate はログイン入力を検証する。
// 複雑性ルールは再検証しない。ルール変更前に登録された正しいパスワードが
// 現行ルールを満たさない可能性があるためで、長さの下限のみ確認する。
func (in LoginInput) Validate() model.FieldErrors {
	errs := model.FieldErrors{}

	validateEmail(errs, in.Email)
	validatePassword(errs, in.Password, false)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Validate はパスワードリセット入力を検証する。
func (in ResetPasswordInput) Validate() model.FieldErrors {
	errs := model.FieldErrors{}

	validateEmail(errs, in.Email)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Validate はタスク入力を検証する。
func (in TaskInput) Validate() model.FieldErrors {
	errs := model.FieldErrors{}

	if in.Title == "" {
		errs.Add("title", "タイトルを入力してください。")
	} else if utf8.RuneCountInString(in.Title) > maxTitleLength {
		errs.Add("title", "タイトルは256文字以内である必要があります。")
	}

	if in.Content == "" {
		errs.Add("content", "本文を入力してください。")
	} else if utf8.RuneCountInString(in.Content) > maxContentLength {
		errs.Add("content", "本文は4096文字以内である必要があります。")
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateEmail(errs model.FieldErrors, email string) {
	if email == "" {
		errs.Add("email", "メールアドレスを入力してください。")
		return
	}
	if utf8.RuneCountInString(email) > maxEmailLength {
		errs.Add("email", "メールアドレスは256文字以内である必要があります。")
		return
	}
	if !emailPattern.MatchString(email) {
		errs.Add("email", "無効なメールアドレスです。")
	}
}

// validatePassword はパスワードを検証する。
// checkComplexityはサインアップ・リセット文脈でのみtrueにする。
func validatePassword(errs model.FieldErrors, password string, checkComplexity bool) {
	if password == "" {
		errs.Add("password", "パスワードを入力してください。")
		return
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		errs.Add("password", "パスワードは8文字以上である必要があります。")
		return
	}
	if checkComplexity && !meetsComplexity(password) {
		errs.Add("password", "パスワードには少なくとも2文字の英語、2つの数字、および2つの特殊文字を含める必要があります。")
	}
}

// meetsComplexity は英字2文字以上・数字2文字以上・特殊文字2文字以上を満たすかを返す。
func meetsComplexity(password string) bool {
	var letters, digits, specials int
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		case strings.ContainsRune(passwordSpecialChars, r):
			specials++
		}
	}
	return letters >= 2 && digits >= 2 && specials >= 2
}
