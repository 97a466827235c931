package model

import (
	"sort"
	"strings"
)

// FieldErrors はフィールド単位のバリデーションエラーを表す。
// キーは入力フィールド名、値はそのフィールドに表示するメッセージ列。
// ネットワーク層に到達する前にバリデーション層で生成され、
// 該当フィールドの横にインライン表示されることを想定している。
type FieldErrors map[string][]string

// Add は指定フィールドにメッセージを追加する。
func (e FieldErrors) Add(field, message string) {
	e[field] = append(e[field], message)
}

// Has は指定フィールドにエラーがあるかを返す。
func (e FieldErrors) Has(field string) bool {
	return len(e[field]) > 0
}

// Error はerrorインターフェースを実装する。フィールド名順に連結して返す。
func (e FieldErrors) Error() string {
	fields := make([]string, 0, len(e))
	for f := range e {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f)
		b.WriteString(": ")
		b.WriteString(strings.Join(e[f], " "))
	}
	return b.String()
}
