// Package task はサインイン中ユーザーのタスクコレクションを管理する。
//
// Storeはドキュメントストアを唯一の真実として扱い、すべての変更操作の
// 成功後にコレクション全体を再取得してローカルキャッシュを置き換える
// （invalidate-then-refetch）。楽観的マージは行わない。整合性を
// レイテンシより優先する意図的な設計であり、変更してはならない。
//
// アイデンティティの切り替えに備えて各操作は発行時点の世代番号を持ち、
// 世代が進んだあとに解決した結果は破棄される（リクエストフェンシング）。
package task

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/model"
	"github.com/hitoshi/taskpad/internal/notify"
	"github.com/hitoshi/taskpad/internal/schema"
	"github.com/hitoshi/taskpad/internal/security"
)

// タスク操作の固定通知文言
const (
	msgTaskAdded   = "新しいタスクが追加されました！"
	msgTaskUpdated = "タスクが更新されました！"
	msgTaskDeleted = "タスクが削除されました！"
)

// 失敗時の文言はmodelのエラー分類に集約する
var (
	errDataFailed    = model.NewDataFailedError()
	errNotAuthorized = model.NewNotAuthorizedError()
)

// ドキュメント本体のタイムスタンプはISO-8601文字列で持つ。
const timeLayout = time.RFC3339Nano

// Metrics はタスク操作の結果を記録するインターフェース。
type Metrics interface {
	RecordTaskOperation(operation string, success bool)
	RecordResyncLatency(duration time.Duration)
}

// Snapshot はプレゼンテーション層へ公開するタスク一覧の読み取り専用ビュー。
// TasksはCreatedAt昇順（同時刻はID昇順）で安定に並ぶ。一覧の描画キーには
// 必ずIDを使うこと。タイムスタンプは同一tick内の生成で衝突しうる。
type Snapshot struct {
	Tasks     []model.Task
	IsLoading bool
}

// Store はタスクキャッシュの実装。
// 書き込みはStore自身のみが行い、Snapshotは任意のゴルーチンから読める。
type Store struct {
	docs      docstore.Store
	sanitizer security.InputSanitizerService
	notifier  notify.Notifier
	metrics   Metrics
	clock     func() time.Time

	mu         sync.Mutex
	uid        string
	generation uint64
	tasks      []model.Task
	isLoading  bool
	inFlight   bool
}

// NewStore はStoreを生成する。Bindを呼ぶまで操作は受け付けない。
func NewStore(docs docstore.Store, sanitizer security.InputSanitizerService, notifier notify.Notifier, metrics Metrics) *Store {
	return &Store{
		docs:      docs,
		sanitizer: sanitizer,
		notifier:  notifier,
		metrics:   metrics,
		clock:     time.Now,
	}
}

// Bind はストアを指定ユーザーに束縛し、世代番号を進めてキャッシュを空にする。
// サインアウト時は空文字列で呼ぶ。束縛の切り替え以降、旧世代の操作の
// 結果はすべて破棄される。
func (s *Store) Bind(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.uid = uid
	s.generation++
	s.tasks = nil
	s.inFlight = false
	s.isLoading = false

	slog.Info("task store bound",
		slog.String("uid", uid),
		slog.Uint64("generation", s.generation),
	)
}

// Snapshot は現在のタスク一覧のコピーを返す。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]model.Task, len(s.tasks))
	copy(tasks, s.tasks)
	return Snapshot{Tasks: tasks, IsLoading: s.isLoading}
}

// List はコレクション全体を取得してキャッシュを置き換える。
// 取得失敗時は直前のキャッシュを保持したまま汎用エラーを通知する。
func (s *Store) List(ctx context.Context) {
	gen, ok := s.beginOperation()
	if !ok {
		return
	}
	defer s.endOperation(gen)

	if err := s.refetch(ctx, gen); err != nil {
		s.recordOp("list", false)
		return
	}
	s.recordOp("list", true)
}

// Add は新規タスクを作成する。
//
// タイトルと本文はサニタイズ後にバリデーションし、失敗時はネットワークに
// 触れずフィールドエラーを返す。作成時はcreatedAtとupdatedAtを同一時刻で
// 刻み、isCompletedはfalseで固定する。書き込み成功後に再取得で同期する。
func (s *Store) Add(ctx context.Context, in schema.TaskInput) model.FieldErrors {
	in = s.sanitizeInput(in)
	if errs := in.Validate(); errs != nil {
		return errs
	}

	gen, ok := s.beginOperation()
	if !ok {
		return nil
	}
	defer s.endOperation(gen)

	uid, ok := s.boundUID()
	if !ok {
		return nil
	}

	now := s.clock().UTC()
	record := map[string]any{
		"title":       in.Title,
		"content":     in.Content,
		"isCompleted": false,
		"createdAt":   now.Format(timeLayout),
		"updatedAt":   now.Format(timeLayout),
	}

	if _, err := s.docs.Create(ctx, docstore.TasksCollection(uid), record); err != nil {
		slog.Error("failed to create task", slog.String("error", err.Error()))
		s.notifier.Error(errDataFailed.Message)
		s.recordOp("add", false)
		return nil
	}

	s.resync(ctx, gen)
	s.notifier.Success(msgTaskAdded)
	s.recordOp("add", true)
	return nil
}

// Edit は既存タスクのタイトルと本文を更新する。
// updatedAtのみ刻み直し、createdAtには触れない。
func (s *Store) Edit(ctx context.Context, id string, in schema.TaskInput) model.FieldErrors {
	in = s.sanitizeInput(in)
	if errs := in.Validate(); errs != nil {
		return errs
	}

	gen, ok := s.beginOperation()
	if !ok {
		return nil
	}
	defer s.endOperation(gen)

	uid, ok := s.boundUID()
	if !ok {
		return nil
	}

	partial := map[string]any{
		"title":     in.Title,
		"content":   in.Content,
		"updatedAt": s.clock().UTC().Format(timeLayout),
	}

	if err := s.docs.Update(ctx, docstore.TaskPath(uid, id), partial); err != nil {
		slog.Error("failed to update task",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
		s.notifier.Error(errDataFailed.Message)
		s.recordOp("edit", false)
		return nil
	}

	s.resync(ctx, gen)
	s.notifier.Success(msgTaskUpdated)
	s.recordOp("edit", true)
	return nil
}

// Remove は指定IDのタスクを削除する。
func (s *Store) Remove(ctx context.Context, id string) {
	gen, ok := s.beginOperation()
	if !ok {
		return
	}
	defer s.endOperation(gen)

	uid, ok := s.boundUID()
	if !ok {
		return
	}

	if err := s.docs.Delete(ctx, docstore.TaskPath(uid, id)); err != nil {
		slog.Error("failed to delete task",
			slog.String("task_id", id),
			slog.String("error", err.Error()),
		)
		s.notifier.Error(errDataFailed.Message)
		s.recordOp("remove", false)
		return
	}

	s.resync(ctx, gen)
	s.notifier.Success(msgTaskDeleted)
	s.recordOp("remove", true)
}

// resync は変更操作の成功後の再取得を行い、レイテンシを記録する。
// 再取得の失敗は自前で通知済みのため、変更操作の成否には影響しない。
func (s *Store) resync(ctx context.Context, gen uint64) {
	start := s.clock()
	if err := s.refetch(ctx, gen); err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordResyncLatency(time.Since(start))
	}
}

// refetch はストアからコレクション全体を取得しキャッシュを置き換える。
// 発行時の世代が現在と一致しない場合、結果は適用せず破棄する。
func (s *Store) refetch(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	uid := s.uid
	current := s.generation
	s.mu.Unlock()

	if uid == "" || current != gen {
		return nil
	}

	docs, err := s.docs.List(ctx, docstore.TasksCollection(uid))
	if err != nil {
		slog.Error("failed to list tasks", slog.String("error", err.Error()))
		s.notifier.Error(errDataFailed.Message)
		return err
	}

	tasks := make([]model.Task, 0, len(docs))
	for _, doc := range docs {
		t, err := decodeTask(doc)
		if err != nil {
			slog.Warn("skipping malformed task record",
				slog.String("task_id", doc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		tasks = append(tasks, t)
	}

	// 描画キーの安定のため、同時刻の生成はIDで順序を固定する
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		slog.Debug("stale refetch discarded",
			slog.Uint64("issued", gen),
			slog.Uint64("current", s.generation),
		)
		return nil
	}
	s.tasks = tasks
	return nil
}

func (s *Store) sanitizeInput(in schema.TaskInput) schema.TaskInput {
	if s.sanitizer == nil {
		return in
	}
	return schema.TaskInput{
		Title:   s.sanitizer.Sanitize(in.Title),
		Content: s.sanitizer.Sanitize(in.Content),
	}
}

// boundUID は束縛済みのuidを返す。未束縛での呼び出しは前提条件違反であり、
// 操作は実行せずログに残す。
func (s *Store) boundUID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uid == "" {
		slog.Error("task store operation invoked without a bound identity")
		s.notifier.Error(errNotAuthorized.Message)
		return "", false
	}
	return s.uid, true
}

// beginOperation はシングルフライトガードを取得しisLoadingを立てる。
// すでに別の操作が進行中の場合はfalseを返し、呼び出しは破棄される。
// 戻り値の世代番号は操作の全結果のフェンシングに使う。
func (s *Store) beginOperation() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		slog.Debug("task operation dropped: another operation in flight")
		return 0, false
	}
	s.inFlight = true
	s.isLoading = true
	return s.generation, true
}

// endOperation はガードを解放しisLoadingを下ろす。
// 世代が進んでいる場合はBindがすでに状態を初期化済みなので何もしない。
func (s *Store) endOperation(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return
	}
	s.inFlight = false
	s.isLoading = false
}

func (s *Store) recordOp(operation string, success bool) {
	if s.metrics != nil {
		s.metrics.RecordTaskOperation(operation, success)
	}
}
