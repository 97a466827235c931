package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sony/gobreaker"

	"github.com/hitoshi/taskpad/internal/model"
)

// APIError はIdPが返したエラー応答を表す。
// ユーザーに表示してはならず、開発者向けログにのみ使用する。
type APIError struct {
	Status int
	Code   string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("identity provider error: status=%d code=%s", e.Status, e.Code)
}

// RESTClient はIdP REST APIのクライアント実装。
// 現在のIDトークンを保持し、exp claimに合わせた失効タイマーで
// プロバイダー起点のサインアウトを購読者へ通知する。
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker

	mu          sync.Mutex
	current     *model.Identity
	idToken     string
	expiryTimer *time.Timer
	subscribers map[int]func(*model.Identity)
	nextSubID   int
}

// NewRESTClient はRESTClientを生成する。
// timeoutが0の場合は10秒を使用する。
func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "identity",
		}),
		subscribers: make(map[int]func(*model.Identity)),
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	IDToken string `json:"idToken"`
	UID     string `json:"uid"`
	Email   string `json:"email"`
}

type oobCodeRequest struct {
	RequestType string `json:"requestType"`
	IDToken     string `json:"idToken,omitempty"`
	Email       string `json:"email,omitempty"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CreateAccount は新規アカウントを作成し、発行されたトークンでサインインする。
func (c *RESTClient) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	return c.authenticate(ctx, "accounts:signUp", email, password)
}

// SignIn はメールアドレスとパスワードで認証する。
func (c *RESTClient) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	return c.authenticate(ctx, "accounts:signInWithPassword", email, password)
}

func (c *RESTClient) authenticate(ctx context.Context, endpoint, email, password string) (*model.Identity, error) {
	var resp tokenResponse
	if err := c.post(ctx, endpoint, credentialsRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}

	ident := &model.Identity{UID: resp.UID, Email: resp.Email}
	c.setSession(ident, resp.IDToken)
	return ident, nil
}

// SignOut は保持しているトークンを破棄し、購読者へnilを通知する。
// IdPサイドにセッション状態はないため、ローカルの破棄で完結する。
func (c *RESTClient) SignOut(ctx context.Context) error {
	c.setSession(nil, "")
	return nil
}

// SendVerificationEmail はサインイン中のユーザーに確認メールの送信を依頼する。
func (c *RESTClient) SendVerificationEmail(ctx context.Context) error {
	token := c.IDToken()
	if token == "" {
		return fmt.Errorf("no signed-in user")
	}
	return c.post(ctx, "accounts:sendOobCode", oobCodeRequest{
		RequestType: "VERIFY_EMAIL",
		IDToken:     token,
	}, nil)
}

// SendPasswordResetEmail はパスワードリセットメールの送信を依頼する。
func (c *RESTClient) SendPasswordResetEmail(ctx context.Context, email string) error {
	return c.post(ctx, "accounts:sendOobCode", oobCodeRequest{
		RequestType: "PASSWORD_RESET",
		Email:       email,
	}, nil)
}

// Subscribe はセッション変更の購読を開始する。
// 登録時に現在の状態を即座に1回通知する。
func (c *RESTClient) Subscribe(fn func(*model.Identity)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	current := c.current
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// IDToken は現在のIDトークンを返す。未認証時は空文字列。
// docstore.TokenSourceを実装する。
func (c *RESTClient) IDToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idToken
}

// setSession は現在のセッションを差し替え、購読者へ通知する。
func (c *RESTClient) setSession(ident *model.Identity, token string) {
	c.mu.Lock()

	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}

	c.current = ident
	c.idToken = token

	if token != "" {
		if ttl, ok := tokenTTL(token); ok {
			c.expiryTimer = time.AfterFunc(ttl, c.expireSession)
		}
	}

	subs := make([]func(*model.Identity), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ident)
	}
}

// expireSession はトークン失効時にセッションを破棄する。
func (c *RESTClient) expireSession() {
	slog.Info("id token expired, signing out")
	c.setSession(nil, "")
}

// tokenTTL はIDトークンのexp claimから残り有効期間を求める。
// 自前のIdPが発行したトークンなので署名検証はせずclaimのみ読む。
// exp claimは秒精度のため、期限切れ済み・同一秒内のトークンは0を返し、
// 呼び出し側が即時失効として扱う。
func tokenTTL(token string) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	parser := &jwt.Parser{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		slog.Warn("failed to parse id token", slog.String("error", err.Error()))
		return 0, false
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return 0, false
	}

	ttl := time.Until(time.Unix(int64(exp), 0))
	if ttl < 0 {
		ttl = 0
	}
	return ttl, true
}

// post はサーキットブレーカー越しにIdP APIを呼び出す。
// 4xxのAPIエラーはブレーカーの失敗に数えず、5xxと通信エラーのみ数える。
func (c *RESTClient) post(ctx context.Context, endpoint string, body, out any) error {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		apiErr, err := c.postOnce(ctx, endpoint, body, out)
		if err != nil {
			return nil, err
		}
		return apiErr, nil
	})
	if err != nil {
		return err
	}
	if apiErr, ok := result.(*APIError); ok && apiErr != nil {
		return apiErr
	}
	return nil
}

// postOnce は1回のHTTP呼び出しを行う。
// 戻り値のerrorは通信エラーと5xxのみで、4xxは*APIErrorとして返す。
func (c *RESTClient) postOnce(ctx context.Context, endpoint string, body, out any) (*APIError, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/identity/v1/"+endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &APIError{Status: resp.StatusCode, Code: errResp.Error.Message}, nil
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil, nil
}

// compile-time interface check
var _ Provider = (*RESTClient)(nil)
