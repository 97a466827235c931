package app

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/taskpad/internal/config"
	"github.com/hitoshi/taskpad/internal/docstore"
	"github.com/hitoshi/taskpad/internal/identity"
	"github.com/hitoshi/taskpad/internal/metrics"
	"github.com/hitoshi/taskpad/internal/model"
	"github.com/hitoshi/taskpad/internal/notify"
	"github.com/hitoshi/taskpad/internal/security"
	"github.com/hitoshi/taskpad/internal/session"
	"github.com/hitoshi/taskpad/internal/task"
)

// Core はプレゼンテーション層に公開するクライアントコア一式。
// プロセスごとに1つだけ生成し、必要とする画面へ参照渡しする。
type Core struct {
	Session  *session.Manager
	Tasks    *task.Store
	Hub      *notify.Hub
	Registry *prometheus.Registry

	closers []func()
}

// BuildCore は設定に従ってクライアントコアを組み立てる。
// IdPクライアント・ドキュメントストア・セッション管理・タスクストアを
// ワイヤリングし、アイデンティティの変化にタスクストアを追従させる。
// navはプレゼンテーション層が実装したNavigatorを渡す。
func BuildCore(cfg *config.Config, nav session.Navigator) (*Core, error) {
	hub := notify.NewHub(cfg.NotifyBuffer)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	provider := identity.NewRESTClient(cfg.BaseURL, cfg.HTTPTimeout)

	var store docstore.Store
	var closers []func()

	if cfg.BackendKind == config.BackendREST {
		store = docstore.NewRESTStore(cfg.BaseURL, provider, cfg.HTTPTimeout)
	} else {
		backend, closeStore, err := openBackendStore(cfg)
		if err != nil {
			return nil, err
		}
		store = backend
		closers = append(closers, closeStore)
	}

	sanitizer := security.NewInputSanitizer()

	mgr := session.NewManager(provider, store, hub, nav, collector)
	tasks := task.NewStore(store, sanitizer, hub, collector)

	// アイデンティティの切り替えごとに世代を進め、旧世代の結果を遮断する
	unsubscribe := provider.Subscribe(func(ident *model.Identity) {
		if ident != nil {
			tasks.Bind(ident.UID)
		} else {
			tasks.Bind("")
		}
	})
	closers = append(closers, unsubscribe)

	mgr.Start()
	closers = append(closers, mgr.Close)

	return &Core{
		Session:  mgr,
		Tasks:    tasks,
		Hub:      hub,
		Registry: registry,
		closers:  closers,
	}, nil
}

// Close はコアが保持する購読と接続を解放する。プロセス終了時に呼ぶ。
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
