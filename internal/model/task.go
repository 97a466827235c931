// Package model はドメインモデルを定義する。
package model

import "time"

// Task はサインイン中のユーザーが所有するToDoタスクを表す。
// IDはドキュメントストアが採番する不透明な識別子で、
// 同一ユーザーのコレクション内で一意である。
type Task struct {
	ID          string
	Title       string
	Content     string
	IsCompleted bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Identity はIdPにサインイン済みのプリンシパルを指す不透明ハンドル。
type Identity struct {
	UID   string
	Email string
}
