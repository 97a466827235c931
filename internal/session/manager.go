// Package session は認証セッションのライフサイクルを管理する。
//
// Managerは Initializing / Unauthenticated / Authenticated の3状態を持つ
// 状態機械で、IdPのセッション変更通知を購読して状態を追従させる。
// isLoadingと一時的なエラーメッセージは状態の上に重なる表示用フラグであり、
// 状態そのものではない。インスタンスはプロセスごとに1つを明示的に生成し、
// 必要とする側へ参照渡しする。暗黙のグローバル状態は持たない。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/identity"
	"github.com/hitoshi/taskpad/internal/model"
	"github.com/hitoshi/taskpad/internal/notify"
	"github.com/hitoshi/taskpad/internal/schema"
)

// State はセッションの状態を表す。
type State string

const (
	// StateInitializing はIdPからの初回通知を待っている状態。
	StateInitializing State = "initializing"
	// StateUnauthenticated は未認証状態。
	StateUnauthenticated State = "unauthenticated"
	// StateAuthenticated は認証済み状態。
	StateAuthenticated State = "authenticated"
)

// 操作完了後の固定通知文言
const msgResetMailSent = "パスワードリセット用のリンクを送信しました。しばらくしても届かない場合は、迷惑メールフォルダを確認するか、もう一度お試しください。"

// Navigator は認証状態の変化に応じた画面遷移の依頼先。
// プレゼンテーション層が実装する。
type Navigator interface {
	// Back は認証成功後に元の画面へ戻す。
	Back()
	// ToLogin はサインアウト後にログイン画面へ遷移させる。
	ToLogin()
}

// Metrics は認証操作の結果を記録するインターフェース。
type Metrics interface {
	RecordAuthAttempt(operation string, success bool)
}

// Snapshot はプレゼンテーション層へ公開するセッションの読み取り専用ビュー。
type Snapshot struct {
	State     State
	Identity  *model.Identity
	IsLoading bool
	// Error は直近の操作が残した表示用の固定文言。成功すると消える。
	Error string
}

// Manager はセッション状態機械の実装。
// 書き込みはManager自身のみが行い、Snapshotは任意のゴルーチンから読める。
type Manager struct {
	provider identity.Provider
	store    docstore.Store
	notifier notify.Notifier
	nav      Navigator
	metrics  Metrics

	mu          sync.Mutex
	state       State
	identity    *model.Identity
	isLoading   bool
	errMessage  string
	inFlight    bool
	unsubscribe func()
}

// NewManager はManagerを生成する。初期状態はInitializing。
func NewManager(provider identity.Provider, store docstore.Store, notifier notify.Notifier, nav Navigator, metrics Metrics) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		notifier: notifier,
		nav:      nav,
		metrics:  metrics,
		state:    StateInitializing,
	}
}

// Start はIdPのセッション変更通知の購読を開始する。
// プロセスの生存期間中に1回だけ呼ぶこと。初回通知で
// Authenticated/Unauthenticatedいずれかに遷移し、以後の通知
// （プロバイダー起点のサインアウトやトークン失効を含む）にも追従する。
func (m *Manager) Start() {
	m.unsubscribe = m.provider.Subscribe(m.onSessionChange)
}

// Close は購読を解除する。プロセス終了時に呼ぶ。
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Snapshot は現在のセッション状態のコピーを返す。
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ident *model.Identity
	if m.identity != nil {
		copied := *m.identity
		ident = &copied
	}
	return Snapshot{
		State:     m.state,
		Identity:  ident,
		IsLoading: m.isLoading,
		Error:     m.errMessage,
	}
}

// ClearError は表示用エラーメッセージを消す。
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMessage = ""
}

// SignUp は新規アカウントを作成する。
//
// バリデーション失敗時はネットワークに触れずフィールドエラーを返す。
// 成功時はIdPでアカウントを作成し、users/{uid}に空のプロファイルを作り、
// 元の画面へ戻したのち、確認メールを完了を待たずに送信する。
// IdP失敗時は状態遷移せず、固定文言のみを表示用に残す。
func (m *Manager) SignUp(ctx context.Context, in schema.SignUpInput) model.FieldErrors {
	if errs := in.Validate(); errs != nil {
		return errs
	}

	if !m.beginOperation() {
		return nil
	}
	defer m.endOperation()

	ident, err := m.provider.CreateAccount(ctx, in.Email, in.Password)
	if err != nil {
		slog.Error("sign-up failed", slog.String("error", err.Error()))
		m.setError(model.NewSignUpFailedError().Message)
		m.recordAuth("sign_up", false)
		return nil
	}

	if err := m.store.Set(ctx, docstore.UserPath(ident.UID), map[string]any{}); err != nil {
		slog.Error("failed to create profile record",
			slog.String("uid", ident.UID),
			slog.String("error", err.Error()),
		)
		m.setError(model.NewSignUpFailedError().Message)
		m.recordAuth("sign_up", false)
		return nil
	}

	slog.Info("user signed up", slog.String("uid", ident.UID))
	m.setError("")
	m.recordAuth("sign_up", true)
	m.nav.Back()

	// 確認メールは遷移をブロックしない。失敗してもログに残すだけ。
	go func() {
		if err := m.provider.SendVerificationEmail(context.Background()); err != nil {
			slog.Warn("failed to send verification email",
				slog.String("uid", ident.UID),
				slog.String("error", err.Error()),
			)
		}
	}()

	return nil
}

// Login はメールアドレスとパスワードで認証する。
//
// IdP失敗時は未認証のまま、メールアドレスの存在有無を明かさない
// 固定文言のみを表示用に残す。
func (m *Manager) Login(ctx context.Context, in schema.LoginInput) model.FieldErrors {
	if errs := in.Validate(); errs != nil {
		return errs
	}

	if !m.beginOperation() {
		return nil
	}
	defer m.endOperation()

	ident, err := m.provider.SignIn(ctx, in.Email, in.Password)
	if err != nil {
		slog.Warn("login failed", slog.String("error", err.Error()))
		m.setError(model.NewLoginFailedError().Message)
		m.recordAuth("login", false)
		return nil
	}

	slog.Info("user logged in", slog.String("uid", ident.UID))
	m.setError("")
	m.recordAuth("login", true)
	m.nav.Back()
	return nil
}

// SignOut は現在のセッションを破棄してログイン画面へ遷移させる。
// IdP失敗はログに残すのみで、ユーザーの操作をブロックしない。
func (m *Manager) SignOut(ctx context.Context) {
	if !m.beginOperation() {
		return
	}
	defer m.endOperation()

	if err := m.provider.SignOut(ctx); err != nil {
		slog.Error("sign-out failed", slog.String("error", err.Error()))
		return
	}

	slog.Info("user signed out")
	m.nav.ToLogin()
}

// ResetPassword はパスワードリセットメールの送信を依頼する。
// アカウントの存在有無にかかわらず同一の成功通知を返し、失敗はログのみ。
func (m *Manager) ResetPassword(ctx context.Context, in schema.ResetPasswordInput) model.FieldErrors {
	if errs := in.Validate(); errs != nil {
		return errs
	}

	if !m.beginOperation() {
		return nil
	}
	defer m.endOperation()

	if err := m.provider.SendPasswordResetEmail(ctx, in.Email); err != nil {
		slog.Warn("password reset request failed", slog.String("error", err.Error()))
	}

	m.notifier.Success(msgResetMailSent)
	return nil
}

// onSessionChange はIdPからの通知を状態機械へ適用する。
// 初回通知でInitializingを抜ける。以降も同じ写像を適用し続ける。
func (m *Manager) onSessionChange(ident *model.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ident != nil {
		m.identity = ident
		m.state = StateAuthenticated
	} else {
		m.identity = nil
		m.state = StateUnauthenticated
	}

	slog.Info("session state changed", slog.String("state", string(m.state)))
}

// beginOperation はシングルフライトガードを取得しisLoadingを立てる。
// すでに別の認証操作が進行中の場合はfalseを返し、呼び出しは破棄される。
func (m *Manager) beginOperation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		slog.Debug("auth operation dropped: another operation in flight")
		return false
	}
	m.inFlight = true
	m.isLoading = true
	return true
}

// endOperation はガードを解放しisLoadingを下ろす。
// 成功・失敗どちらの経路でも必ず呼ばれる。
func (m *Manager) endOperation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
	m.isLoading = false
}

func (m *Manager) setError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errMessage = message
}

func (m *Manager) recordAuth(operation string, success bool) {
	if m.metrics != nil {
		m.metrics.RecordAuthAttempt(operation, success)
	}
}
