package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SQLiteStore はSQLiteを使用したStore実装。
// スキーマはdatabase.OpenSQLiteで適用済みであることを前提とする。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore はSQLiteStoreを生成する。
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Create は新規レコードを作成しUUIDを採番して返す。
func (s *SQLiteStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document body: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, collection, body) VALUES (?, ?, ?)`,
		collection+"/"+id, collection, string(body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return id, nil
}

// Set は指定パスにレコードを書き込む。既存レコードは置き換える。
func (s *SQLiteStore) Set(ctx context.Context, path string, data map[string]any) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document body: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, collection, body) VALUES (?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET body = excluded.body`,
		path, collection, string(body),
	); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// List はコレクション配下の全レコードを返す。
func (s *SQLiteStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, body FROM documents WHERE collection = ?`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var path, body string
		if err := rows.Scan(&path, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		_, id, err := SplitPath(path)
		if err != nil {
			return nil, err
		}

		data := map[string]any{}
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			return nil, fmt.Errorf("failed to decode document body: %w", err)
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

// Update は部分データを既存レコードにマージする。
func (s *SQLiteStore) Update(ctx context.Context, path string, partial map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE path = ?`,
		path,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find document: %w", err)
	}

	data := map[string]any{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return fmt.Errorf("failed to decode document body: %w", err)
	}
	for k, v := range partial {
		data[k] = v
	}

	merged, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document body: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE path = ?`,
		string(merged), path,
	); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

// Delete は指定パスのレコードを削除する。存在しない場合は何もしない。
func (s *SQLiteStore) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE path = ?`,
		path,
	); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*SQLiteStore)(nil)
