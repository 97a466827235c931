package app

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/taskpad/internal/config"
	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/emulator"
	"github.com/hitoshi/taskpad/internal/notify"
	"github.com/hitoshi/taskpad/internal/schema"
	"github.com/hitoshi/taskpad/internal/session"
)

type recordingNavigator struct {
	mu           sync.Mutex
	backCalls    int
	toLoginCalls int
}

func (n *recordingNavigator) Back() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.backCalls++
}

func (n *recordingNavigator) ToLogin() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toLoginCalls++
}

// newIntegrationCore はエミュレーターとRESTバックエンドで組んだコアを返す。
func newIntegrationCore(t *testing.T) (*Core, *recordingNavigator) {
	t.Helper()

	emu, err := emulator.New(docstore.NewMemoryStore(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create emulator: %v", err)
	}
	rl := emulator.NewRateLimiter(emulator.RateLimiterConfig{
		AuthRate:        rate.Limit(1000),
		AuthBurst:       1000,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	server := httptest.NewServer(emulator.NewRouter(emu, rl, nil))
	t.Cleanup(server.Close)

	cfg := &config.Config{
		BackendKind:  config.BackendREST,
		BaseURL:      server.URL,
		HTTPTimeout:  5 * time.Second,
		NotifyBuffer: 16,
	}
	nav := &recordingNavigator{}

	core, err := BuildCore(cfg, nav)
	if err != nil {
		t.Fatalf("BuildCore failed: %v", err)
	}
	t.Cleanup(core.Close)
	return core, nav
}

func waitForState(t *testing.T, core *Core, want session.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if core.Session.Snapshot().State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session did not reach state %s, current: %s", want, core.Session.Snapshot().State)
}

func drainEvents(hub *notify.Hub) []notify.Event {
	var events []notify.Event
	for {
		select {
		case ev := <-hub.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

// TestCore_SignUpThroughTaskLifecycle はサインアップからタスクのCRUDまでを
// 実サーバー相手に通しで検証する。
func TestCore_SignUpThroughTaskLifecycle(t *testing.T) {
	core, nav := newIntegrationCore(t)
	ctx := context.Background()

	if got := core.Session.Snapshot().State; got != session.StateUnauthenticated {
		t.Fatalf("expected unauthenticated after start, got %s", got)
	}

	errs := core.Session.SignUp(ctx, schema.SignUpInput{
		Email:           "a@b.com",
		Password:        "Ab12!@cd",
		ConfirmPassword: "Ab12!@cd",
	})
	if errs != nil {
		t.Fatalf("SignUp returned field errors: %v", errs)
	}
	waitForState(t, core, session.StateAuthenticated)

	snap := core.Session.Snapshot()
	if snap.Identity == nil || snap.Identity.Email != "a@b.com" {
		t.Fatalf("unexpected identity: %+v", snap.Identity)
	}
	nav.mu.Lock()
	backCalls := nav.backCalls
	nav.mu.Unlock()
	if backCalls != 1 {
		t.Errorf("expected 1 Back call, got %d", backCalls)
	}

	// タスク作成
	if errs := core.Tasks.Add(ctx, schema.TaskInput{Title: "Buy milk", Content: "2 liters"}); errs != nil {
		t.Fatalf("Add returned field errors: %v", errs)
	}
	tasks := core.Tasks.Snapshot().Tasks
	if len(tasks) != 1 || tasks[0].Title != "Buy milk" {
		t.Fatalf("unexpected tasks after add: %+v", tasks)
	}
	if !tasks[0].CreatedAt.Equal(tasks[0].UpdatedAt) {
		t.Error("createdAt and updatedAt must match on creation")
	}

	// 更新
	id := tasks[0].ID
	if errs := core.Tasks.Edit(ctx, id, schema.TaskInput{Title: "Buy oat milk", Content: "1 liter"}); errs != nil {
		t.Fatalf("Edit returned field errors: %v", errs)
	}
	tasks = core.Tasks.Snapshot().Tasks
	if len(tasks) != 1 || tasks[0].Title != "Buy oat milk" {
		t.Fatalf("unexpected tasks after edit: %+v", tasks)
	}
	if !tasks[0].CreatedAt.Before(tasks[0].UpdatedAt) && !tasks[0].CreatedAt.Equal(tasks[0].UpdatedAt) {
		t.Error("createdAt must not move forward on edit")
	}

	// 削除
	core.Tasks.Remove(ctx, id)
	if got := core.Tasks.Snapshot().Tasks; len(got) != 0 {
		t.Fatalf("expected no tasks after remove, got %+v", got)
	}

	// 通知は成功3件（追加・更新・削除）
	var successes int
	for _, ev := range drainEvents(core.Hub) {
		if ev.Kind == notify.KindSuccess {
			successes++
		}
	}
	if successes != 3 {
		t.Errorf("expected 3 success notifications, got %d", successes)
	}
}

// TestCore_SignOutUnbindsTasks はサインアウトでタスクストアが解放され、
// 以後の操作がバックエンドに届かないことを検証する。
func TestCore_SignOutUnbindsTasks(t *testing.T) {
	core, nav := newIntegrationCore(t)
	ctx := context.Background()

	if errs := core.Session.SignUp(ctx, schema.SignUpInput{
		Email:           "a@b.com",
		Password:        "Ab12!@cd",
		ConfirmPassword: "Ab12!@cd",
	}); errs != nil {
		t.Fatalf("SignUp returned field errors: %v", errs)
	}
	waitForState(t, core, session.StateAuthenticated)

	if errs := core.Tasks.Add(ctx, schema.TaskInput{Title: "before", Content: "x"}); errs != nil {
		t.Fatalf("Add returned field errors: %v", errs)
	}

	core.Session.SignOut(ctx)
	waitForState(t, core, session.StateUnauthenticated)

	if got := core.Tasks.Snapshot().Tasks; len(got) != 0 {
		t.Errorf("sign-out must clear the task cache, got %+v", got)
	}
	nav.mu.Lock()
	toLoginCalls := nav.toLoginCalls
	nav.mu.Unlock()
	if toLoginCalls != 1 {
		t.Errorf("expected 1 ToLogin call, got %d", toLoginCalls)
	}

	// 未束縛の操作は何も変えない
	if errs := core.Tasks.Add(ctx, schema.TaskInput{Title: "after", Content: "x"}); errs != nil {
		t.Fatalf("Add returned field errors: %v", errs)
	}
	if got := core.Tasks.Snapshot().Tasks; len(got) != 0 {
		t.Errorf("unbound add must be a no-op, got %+v", got)
	}
}

// TestCore_TasksAreScopedPerUser は別ユーザーで入り直すと前のユーザーの
// タスクが見えないことを検証する。
func TestCore_TasksAreScopedPerUser(t *testing.T) {
	core, _ := newIntegrationCore(t)
	ctx := context.Background()

	if errs := core.Session.SignUp(ctx, schema.SignUpInput{
		Email:           "a@b.com",
		Password:        "Ab12!@cd",
		ConfirmPassword: "Ab12!@cd",
	}); errs != nil {
		t.Fatalf("SignUp returned field errors: %v", errs)
	}
	waitForState(t, core, session.StateAuthenticated)

	if errs := core.Tasks.Add(ctx, schema.TaskInput{Title: "user-a task", Content: "x"}); errs != nil {
		t.Fatalf("Add returned field errors: %v", errs)
	}

	core.Session.SignOut(ctx)
	waitForState(t, core, session.StateUnauthenticated)

	if errs := core.Session.SignUp(ctx, schema.SignUpInput{
		Email:           "b@b.com",
		Password:        "Ab12!@cd",
		ConfirmPassword: "Ab12!@cd",
	}); errs != nil {
		t.Fatalf("SignUp returned field errors: %v", errs)
	}
	waitForState(t, core, session.StateAuthenticated)

	core.Tasks.List(ctx)
	if got := core.Tasks.Snapshot().Tasks; len(got) != 0 {
		t.Errorf("user B must not see user A's tasks, got %+v", got)
	}
}

// TestCore_LoginFailureLeavesStateUntouched はログイン失敗時の固定文言と
// 状態維持を検証する。
func TestCore_LoginFailureLeavesStateUntouched(t *testing.T) {
	core, _ := newIntegrationCore(t)
	ctx := context.Background()

	if errs := core.Session.Login(ctx, schema.LoginInput{
		Email:    "nobody@b.com",
		Password: "abcdefgh",
	}); errs != nil {
		t.Fatalf("Login returned field errors: %v", errs)
	}

	snap := core.Session.Snapshot()
	if snap.State != session.StateUnauthenticated {
		t.Errorf("failed login must stay unauthenticated, got %s", snap.State)
	}
	if snap.Error == "" {
		t.Error("expected a fixed error message after failed login")
	}
}

// TestParseCommand はサブコマンドの解析を検証する。
func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CommandEmulator},
		{[]string{"emulator"}, CommandEmulator},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandEmulator},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %s, want %s", tt.args, got, tt.want)
		}
	}
}
