package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/model"
	"github.com/hitoshi/taskpad/internal/schema"
)

type mockProvider struct {
	createAccountFunc          func(ctx context.Context, email, password string) (*model.Identity, error)
	signInFunc                 func(ctx context.Context, email, password string) (*model.Identity, error)
	signOutFunc                func(ctx context.Context) error
	sendVerificationEmailFunc  func(ctx context.Context) error
	sendPasswordResetEmailFunc func(ctx context.Context, email string) error
	subscribeFunc              func(fn func(*model.Identity)) func()
}

func (m *mockProvider) CreateAccount(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.createAccountFunc == nil {
		return nil, errors.New("unexpected call to CreateAccount")
	}
	return m.createAccountFunc(ctx, email, password)
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (*model.Identity, error) {
	if m.signInFunc == nil {
		return nil, errors.New("unexpected call to SignIn")
	}
	return m.signInFunc(ctx, email, password)
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	if m.signOutFunc == nil {
		return errors.New("unexpected call to SignOut")
	}
	return m.signOutFunc(ctx)
}

func (m *mockProvider) SendVerificationEmail(ctx context.Context) error {
	if m.sendVerificationEmailFunc == nil {
		return nil
	}
	return m.sendVerificationEmailFunc(ctx)
}

func (m *mockProvider) SendPasswordResetEmail(ctx context.Context, email string) error {
	if m.sendPasswordResetEmailFunc == nil {
		return errors.New("unexpected call to SendPasswordResetEmail")
	}
	return m.sendPasswordResetEmailFunc(ctx, email)
}

func (m *mockProvider) Subscribe(fn func(*model.Identity)) func() {
	if m.subscribeFunc == nil {
		fn(nil)
		return func() {}
	}
	return m.subscribeFunc(fn)
}

type mockNavigator struct {
	mu           sync.Mutex
	backCalls    int
	toLoginCalls int
}

func (m *mockNavigator) Back() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backCalls++
}

func (m *mockNavigator) ToLogin() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toLoginCalls++
}

type mockNotifier struct {
	mu        sync.Mutex
	successes []string
	errs      []string
}

func (m *mockNotifier) Success(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes = append(m.successes, message)
}

func (m *mockNotifier) Error(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, message)
}

func validSignUpInput() schema.SignUpInput {
	return schema.SignUpInput{
		Email:           "a@b.com",
		Password:        "Ab12!@cd",
		ConfirmPassword: "Ab12!@cd",
	}
}

// TestManager_StartFollowsProviderNotifications は初回通知と以降の通知で
// 状態機械が遷移することを検証する。
func TestManager_StartFollowsProviderNotifications(t *testing.T) {
	var notify func(*model.Identity)
	provider := &mockProvider{
		subscribeFunc: func(fn func(*model.Identity)) func() {
			notify = fn
			fn(nil)
			return func() {}
		},
	}
	mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, &mockNavigator{}, nil)

	if got := mgr.Snapshot().State; got != StateInitializing {
		t.Fatalf("expected initializing before Start, got %s", got)
	}

	mgr.Start()
	defer mgr.Close()

	if got := mgr.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("expected unauthenticated after initial notification, got %s", got)
	}

	notify(&model.Identity{UID: "user-1", Email: "a@b.com"})
	snap := mgr.Snapshot()
	if snap.State != StateAuthenticated {
		t.Errorf("expected authenticated, got %s", snap.State)
	}
	if snap.Identity == nil || snap.Identity.UID != "user-1" {
		t.Errorf("unexpected identity: %+v", snap.Identity)
	}

	// プロバイダー起点のサインアウト（トークン失効など）にも追従する
	notify(nil)
	snap = mgr.Snapshot()
	if snap.State != StateUnauthenticated || snap.Identity != nil {
		t.Errorf("expected unauthenticated after provider sign-out, got %+v", snap)
	}
}

// TestManager_SignUp は成功経路を検証する。プロファイルがちょうど1件
// 作られ、元の画面へ戻り、確認メールが完了を待たずに送られる。
func TestManager_SignUp(t *testing.T) {
	verificationSent := make(chan struct{})
	provider := &mockProvider{
		createAccountFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			return &model.Identity{UID: "user-1", Email: email}, nil
		},
		sendVerificationEmailFunc: func(ctx context.Context) error {
			close(verificationSent)
			return nil
		},
	}
	store := docstore.NewMemoryStore()
	nav := &mockNavigator{}
	mgr := NewManager(provider, store, &mockNotifier{}, nav, nil)

	errs := mgr.SignUp(context.Background(), validSignUpInput())
	if errs != nil {
		t.Fatalf("expected no field errors, got %v", errs)
	}

	docs, _ := store.List(context.Background(), "users")
	if len(docs) != 1 {
		t.Fatalf("expected exactly 1 profile record, got %d", len(docs))
	}
	// プロファイルはusers/{uid}の固定パス。採番されたIDの下に置いてはならない
	if docs[0].ID != "user-1" {
		t.Errorf("profile must be stored at users/{uid}, got id %q", docs[0].ID)
	}
	if len(docs[0].Data) != 0 {
		t.Errorf("expected empty profile record, got %v", docs[0].Data)
	}

	if nav.backCalls != 1 {
		t.Errorf("expected 1 Back call, got %d", nav.backCalls)
	}

	select {
	case <-verificationSent:
	case <-time.After(time.Second):
		t.Error("verification email was not requested")
	}

	snap := mgr.Snapshot()
	if snap.Error != "" {
		t.Errorf("expected no error message, got %q", snap.Error)
	}
	if snap.IsLoading {
		t.Error("isLoading must be cleared after the operation")
	}
}

// TestManager_SignUp_ValidationFailure はバリデーション失敗時に
// ネットワークへ一切触れないことを検証する。
func TestManager_SignUp_ValidationFailure(t *testing.T) {
	provider := &mockProvider{
		createAccountFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			t.Error("CreateAccount must not be called on validation failure")
			return nil, errors.New("unreachable")
		},
	}
	mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, &mockNavigator{}, nil)

	in := validSignUpInput()
	in.ConfirmPassword = "different1!"

	errs := mgr.SignUp(context.Background(), in)
	if errs == nil || !errs.Has("confirmPassword") {
		t.Fatalf("expected field error on confirmPassword, got %v", errs)
	}
	if mgr.Snapshot().IsLoading {
		t.Error("validation failure must not set isLoading")
	}
}

// TestManager_SignUp_ProviderFailure はIdP失敗時に状態遷移せず、
// 固定文言だけが残ることを検証する。
func TestManager_SignUp_ProviderFailure(t *testing.T) {
	provider := &mockProvider{
		createAccountFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			return nil, errors.New("EMAIL_EXISTS")
		},
	}
	store := docstore.NewMemoryStore()
	nav := &mockNavigator{}
	mgr := NewManager(provider, store, &mockNotifier{}, nav, nil)

	errs := mgr.SignUp(context.Background(), validSignUpInput())
	if errs != nil {
		t.Fatalf("provider failure must not produce field errors, got %v", errs)
	}

	snap := mgr.Snapshot()
	if snap.Error != model.NewSignUpFailedError().Message {
		t.Errorf("unexpected error message: %q", snap.Error)
	}
	if snap.IsLoading {
		t.Error("isLoading must be cleared after failure")
	}
	if nav.backCalls != 0 {
		t.Error("failed sign-up must not navigate")
	}

	docs, _ := store.List(context.Background(), "users")
	if len(docs) != 0 {
		t.Errorf("failed sign-up must not create a profile, got %d", len(docs))
	}
}

// TestManager_Login_FailureIsEnumerationSafe は未登録メールと誤パスワードで
// 同一の固定文言になることを検証する。
func TestManager_Login_FailureIsEnumerationSafe(t *testing.T) {
	failures := []error{
		errors.New("INVALID_LOGIN_CREDENTIALS"), // 誤パスワード
		errors.New("EMAIL_NOT_FOUND"),           // 未登録メール
	}

	var messages []string
	for _, failure := range failures {
		failure := failure
		provider := &mockProvider{
			signInFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
				return nil, failure
			},
		}
		mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, &mockNavigator{}, nil)

		if errs := mgr.Login(context.Background(), schema.LoginInput{Email: "a@b.com", Password: "abcdefgh"}); errs != nil {
			t.Fatalf("expected no field errors, got %v", errs)
		}
		messages = append(messages, mgr.Snapshot().Error)
	}

	if messages[0] != messages[1] {
		t.Errorf("failure messages must not distinguish causes: %q vs %q", messages[0], messages[1])
	}
	if messages[0] != model.NewLoginFailedError().Message {
		t.Errorf("unexpected message: %q", messages[0])
	}
}

// TestManager_Login_SuccessClearsError は成功時に前回のエラーが消え、
// 元の画面へ戻ることを検証する。
func TestManager_Login_SuccessClearsError(t *testing.T) {
	attempt := 0
	provider := &mockProvider{
		signInFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			attempt++
			if attempt == 1 {
				return nil, errors.New("INVALID_LOGIN_CREDENTIALS")
			}
			return &model.Identity{UID: "user-1", Email: email}, nil
		},
	}
	nav := &mockNavigator{}
	mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, nav, nil)
	ctx := context.Background()
	in := schema.LoginInput{Email: "a@b.com", Password: "abcdefgh"}

	mgr.Login(ctx, in)
	if mgr.Snapshot().Error == "" {
		t.Fatal("expected error message after failed login")
	}

	mgr.Login(ctx, in)
	if got := mgr.Snapshot().Error; got != "" {
		t.Errorf("expected error to be cleared on success, got %q", got)
	}
	if nav.backCalls != 1 {
		t.Errorf("expected 1 Back call, got %d", nav.backCalls)
	}
}

// TestManager_SignOut はサインアウト成功でログイン画面へ遷移することを検証する。
func TestManager_SignOut(t *testing.T) {
	provider := &mockProvider{
		signOutFunc: func(ctx context.Context) error { return nil },
	}
	nav := &mockNavigator{}
	mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, nav, nil)

	mgr.SignOut(context.Background())

	if nav.toLoginCalls != 1 {
		t.Errorf("expected 1 ToLogin call, got %d", nav.toLoginCalls)
	}
	if mgr.Snapshot().IsLoading {
		t.Error("isLoading must be cleared")
	}
}

// TestManager_ResetPassword_AlwaysSucceedsOutwardly はIdPの成否にかかわらず
// 同一の成功通知を出すことを検証する。
func TestManager_ResetPassword_AlwaysSucceedsOutwardly(t *testing.T) {
	results := []error{nil, errors.New("EMAIL_NOT_FOUND")}

	for _, result := range results {
		result := result
		provider := &mockProvider{
			sendPasswordResetEmailFunc: func(ctx context.Context, email string) error {
				return result
			},
		}
		notifier := &mockNotifier{}
		mgr := NewManager(provider, docstore.NewMemoryStore(), notifier, &mockNavigator{}, nil)

		errs := mgr.ResetPassword(context.Background(), schema.ResetPasswordInput{Email: "a@b.com"})
		if errs != nil {
			t.Fatalf("expected no field errors, got %v", errs)
		}

		if len(notifier.successes) != 1 || notifier.successes[0] != msgResetMailSent {
			t.Errorf("expected fixed success notification, got %v", notifier.successes)
		}
		if len(notifier.errs) != 0 {
			t.Errorf("reset must not surface errors, got %v", notifier.errs)
		}
	}
}

// TestManager_SingleFlight は操作の進行中に重ねて発行された操作が
// 破棄されることを検証する。
func TestManager_SingleFlight(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var signInCalls int
	provider := &mockProvider{
		signInFunc: func(ctx context.Context, email, password string) (*model.Identity, error) {
			signInCalls++
			close(started)
			<-block
			return &model.Identity{UID: "user-1", Email: email}, nil
		},
	}
	mgr := NewManager(provider, docstore.NewMemoryStore(), &mockNotifier{}, &mockNavigator{}, nil)
	ctx := context.Background()
	in := schema.LoginInput{Email: "a@b.com", Password: "abcdefgh"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Login(ctx, in)
	}()
	<-started

	if !mgr.Snapshot().IsLoading {
		t.Error("expected isLoading during the operation")
	}

	// 進行中の再発行は破棄され、IdPに到達しない
	if errs := mgr.Login(ctx, in); errs != nil {
		t.Errorf("dropped call must not return field errors, got %v", errs)
	}

	close(block)
	<-done

	if signInCalls != 1 {
		t.Errorf("expected exactly 1 SignIn call, got %d", signInCalls)
	}
	if mgr.Snapshot().IsLoading {
		t.Error("isLoading must be cleared after the operation")
	}
}
