// Package docstore はユーザー単位のドキュメントストアへのアクセスを提供する。
//
// ストアはコレクションパス配下にスキーマレスなレコードを保持し、
// レコードIDはストア側が採番する。パス規約:
//
//	ユーザープロファイル: users/{uid}
//	タスク:             users/{uid}/tasks/{taskId}
//
// バックエンドとしてメモリ・PostgreSQL・SQLite・REST APIの4実装を持つ。
// いずれの実装でもローカルキャッシュ側が真実になることはなく、
// 書き込み後の再取得で常にストア側の状態に収束させる。
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound は指定パスのドキュメントが存在しないことを示す。
var ErrNotFound = errors.New("document not found")

// Document はIDと本体データの組。IDは本体には含まれない。
type Document struct {
	ID   string
	Data map[string]any
}

// Store はドキュメントストアの操作コントラクト。
type Store interface {
	// Create はコレクション配下に新規レコードを作成し、採番されたIDを返す。
	Create(ctx context.Context, collection string, data map[string]any) (string, error)
	// Set は指定パスにレコードを書き込む。既存レコードは本体ごと置き換える。
	// IDを呼び出し側が決めるレコード（ユーザープロファイル）に使う。
	Set(ctx context.Context, path string, data map[string]any) error
	// List はコレクション配下の全レコードを返す。順序は保証されない。
	List(ctx context.Context, collection string) ([]Document, error)
	// Update は指定パスのレコードに部分データをマージする。
	// レコードが存在しない場合はErrNotFoundを返す。
	Update(ctx context.Context, path string, partial map[string]any) error
	// Delete は指定パスのレコードを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, path string) error
}

// UserPath はユーザープロファイルのドキュメントパスを返す。
func UserPath(uid string) string {
	return fmt.Sprintf("users/%s", uid)
}

// TasksCollection はユーザーのタスクコレクションパスを返す。
func TasksCollection(uid string) string {
	return fmt.Sprintf("users/%s/tasks", uid)
}

// TaskPath はタスクのドキュメントパスを返す。
func TaskPath(uid, taskID string) string {
	return fmt.Sprintf("users/%s/tasks/%s", uid, taskID)
}

// SplitPath はドキュメントパスをコレクションとIDに分割する。
func SplitPath(path string) (collection, id string, err error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid document path: %q", path)
	}
	return path[:i], path[i+1:], nil
}
