// Package security はアプリケーションのセキュリティ機能を提供する。
//
// InputSanitizerService はタスクのタイトルと本文からHTMLマークアップを
// 除去し、保存したコンテンツが後段の表示でスクリプトとして解釈される
// リスクを断つ。bluemondayのStrictPolicyを使用し、タグを一切許可しない。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// InputSanitizerService はユーザー入力のサニタイズ機能のインターフェースを定義する。
// タスクの保存前（バリデーションより前）に使用される。
type InputSanitizerService interface {
	// Sanitize は入力からすべてのHTMLタグを除去したプレーンテキストを返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// inputSanitizer はInputSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type inputSanitizer struct {
	policy *bluemonday.Policy
}

// NewInputSanitizer はInputSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyは許可タグを持たないため、script等の危険なタグだけでなく
// 装飾タグも含めてすべて除去される。タスクのフィールドはプレーンテキスト
// であり、マークアップを保持する理由がない。
func NewInputSanitizer() *inputSanitizer {
	return &inputSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は入力からHTMLタグを除去する。
// StrictPolicyは残ったテキストをエンティティ参照にエスケープするため、
// プレーンテキストとして保存できるようアンエスケープして返す。
func (s *inputSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}
