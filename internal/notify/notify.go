// Package notify はプレゼンテーション層向けの通知チャネルを提供する。
//
// セッション管理とタスクストアは操作の成否をEventとして発行し、
// プレゼンテーション層がトースト等の一時表示のために消費する。
// 発行はfire-and-forgetで、購読者が追いつかない場合は古いイベントを破棄する。
package notify

import "log/slog"

// Kind は通知の種別を表す。
type Kind string

const (
	// KindSuccess は成功通知を示す。
	KindSuccess Kind = "success"
	// KindError はエラー通知を示す。
	KindError Kind = "error"
)

// Event は一度だけ表示される通知イベント。
type Event struct {
	Kind    Kind
	Message string
}

// Notifier は通知の発行側インターフェース。
type Notifier interface {
	Success(message string)
	Error(message string)
}

// Hub はバッファ付きチャネルによるNotifier実装。
// 単一の消費者（プレゼンテーション層）を想定する。
type Hub struct {
	events chan Event
}

// NewHub はバッファサイズを指定してHubを生成する。
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{events: make(chan Event, buffer)}
}

// Events は消費側チャネルを返す。
func (h *Hub) Events() <-chan Event {
	return h.events
}

// Success は成功通知を発行する。
func (h *Hub) Success(message string) {
	h.publish(Event{Kind: KindSuccess, Message: message})
}

// Error はエラー通知を発行する。
func (h *Hub) Error(message string) {
	h.publish(Event{Kind: KindError, Message: message})
}

// publish はブロックせずにイベントを発行する。
// バッファが満杯の場合は最も古いイベントを捨てて詰め直す。
func (h *Hub) publish(ev Event) {
	for {
		select {
		case h.events <- ev:
			return
		default:
		}
		select {
		case dropped := <-h.events:
			slog.Debug("notification dropped",
				slog.String("kind", string(dropped.Kind)),
				slog.String("message", dropped.Message),
			)
		default:
		}
	}
}
