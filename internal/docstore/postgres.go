package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PostgresStore はPostgreSQLを使用したStore実装。
// レコード本体はdocumentsテーブルのJSONBカラムに保持する。
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create は新規レコードを作成しUUIDを採番して返す。
func (s *PostgresStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document body: %w", err)
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (path, collection, body)
		 VALUES ($1, $2, $3)`,
		collection+"/"+id, collection, body,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}
	return id, nil
}

// Set は指定パスにレコードを書き込む。既存レコードは置き換える。
func (s *PostgresStore) Set(ctx context.Context, path string, data map[string]any) error {
	collection, _, err := SplitPath(path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document body: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (path, collection, body)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (path) DO UPDATE SET body = EXCLUDED.body`,
		path, collection, body,
	); err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// List はコレクション配下の全レコードを返す。
func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, body FROM documents WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var path string
		var body []byte
		if err := rows.Scan(&path, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		_, id, err := SplitPath(path)
		if err != nil {
			return nil, err
		}

		data := map[string]any{}
		if err := json.Unmarshal(body, &data); err != nil {
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
// 行ロックを取ってread-modify-writeするため、同一ドキュメントへの
// 並行更新はストア側で直列化される。
func (s *PostgresStore) Update(ctx context.Context, path string, partial map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE path = $1 FOR UPDATE`,
		path,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find document: %w", err)
	}

	data := map[string]any{}
	if err := json.Unmarshal(body, &data); err != nil {
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
		`UPDATE documents SET body = $2 WHERE path = $1`,
		path, merged,
	); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update: %w", err)
	}
	return nil
}

// Delete は指定パスのレコードを削除する。存在しない場合は何もしない。
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE path = $1`,
		path,
	); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
