package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// TokenSource は各リクエストに添付するIDトークンの供給元。
// identityパッケージのRESTクライアントが実装する。
type TokenSource interface {
	IDToken() string
}

// RESTStore はドキュメントストアAPIを呼び出すHTTPクライアント実装。
// エミュレーターおよび互換のホスト型バックエンドに対して動作する。
// バックエンド障害時に呼び出しを早期遮断するためサーキットブレーカーを挟む。
type RESTStore struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	breaker    *gobreaker.CircuitBreaker
}

// NewRESTStore はRESTStoreを生成する。
// timeoutが0の場合は10秒を使用する。
func NewRESTStore(baseURL string, tokens TokenSource, timeout time.Duration) *RESTStore {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RESTStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "docstore",
		}),
	}
}

type createRequest struct {
	Data map[string]any `json:"data"`
}

type createResponse struct {
	ID string `json:"id"`
}

type setRequest struct {
	Data map[string]any `json:"data"`
}

type listResponse struct {
	Documents []documentPayload `json:"documents"`
}

type documentPayload struct {
	ID   string         `json:"id"`
	Data map[string]any `json:"data"`
}

type updateRequest struct {
	Data map[string]any `json:"data"`
}

// Create は新規レコードの作成をストアAPIに依頼し、採番されたIDを返す。
func (s *RESTStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	var resp createResponse
	err := s.do(ctx, http.MethodPost, collection, createRequest{Data: data}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Set は指定パスへのレコードの書き込みをストアAPIに依頼する。
func (s *RESTStore) Set(ctx context.Context, path string, data map[string]any) error {
	return s.do(ctx, http.MethodPut, path, setRequest{Data: data}, nil)
}

// List はコレクション配下の全レコードを取得する。
func (s *RESTStore) List(ctx context.Context, collection string) ([]Document, error) {
	var resp listResponse
	if err := s.do(ctx, http.MethodGet, collection, nil, &resp); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(resp.Documents))
	for _, d := range resp.Documents {
		docs = append(docs, Document{ID: d.ID, Data: d.Data})
	}
	return docs, nil
}

// Update は部分データのマージをストアAPIに依頼する。
func (s *RESTStore) Update(ctx context.Context, path string, partial map[string]any) error {
	return s.do(ctx, http.MethodPatch, path, updateRequest{Data: partial}, nil)
}

// Delete は指定パスのレコードの削除をストアAPIに依頼する。
func (s *RESTStore) Delete(ctx context.Context, path string) error {
	return s.do(ctx, http.MethodDelete, path, nil, nil)
}

// do はサーキットブレーカー越しにJSONリクエストを実行する。
func (s *RESTStore) do(ctx context.Context, method, path string, body, out any) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.doOnce(ctx, method, path, body, out)
	})
	return err
}

func (s *RESTStore) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+"/store/v1/"+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := s.tokens.IDToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("document store request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("document store returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

// compile-time interface check
var _ Store = (*RESTStore)(nil)
