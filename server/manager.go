package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"blobarena/arena"
	"blobarena/persist"
)

// Manager 管理竞技场房间与持久化 outbox 的生命周期
type Manager struct {
	cfg    Config
	room   *Room
	store  persist.Store
	outbox *persist.Outbox

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	clientSq atomic.Uint64
	idPrefix string // 进程级前缀
}

// NewManager 组装房间与 outbox：房间在 Tick 内把脏玩家的记录副本交给 outbox
func NewManager(cfg Config, store persist.Store, opts ...arena.Option) *Manager {
	cfg.Arena = cfg.Arena.Normalized()
	m := &Manager{cfg: cfg, store: store, idPrefix: strconv.FormatInt(time.Now().UnixNano(), 36)}
	popts := cfg.Persist
	popts.Logger = Log.With("component", "outbox")
	m.outbox = persist.NewOutbox(store, popts)
	m.room = NewRoom("arena", cfg.Arena, cfg.InboxSize, m.outbox, opts...)
	return m
}

func (m *Manager) Room() *Room { return m.room }

// Start 启动 Tick 循环与 outbox 刷写
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.room.StartTicker(m.cfg.Arena.TickInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.outbox.Run(ctx)
	}()
	Log.Infow("arena started", "tick", m.cfg.Arena.TickInterval, "world", fmt.Sprintf("%.0fx%.0f", m.cfg.Arena.WorldWidth, m.cfg.Arena.WorldHeight))
}

// Shutdown 先停 Tick（等待进行中的 Tick 完成），再让 outbox 做最后一次刷写
func (m *Manager) Shutdown() {
	m.room.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	Log.Infow("arena stopped", "pending", m.outbox.Pending())
}

// Routes 注册 HTTP 路由
func (m *Manager) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", m.HandleWS)
	mux.HandleFunc("/leaderboard", m.HandleLeaderboard)
	mux.HandleFunc("/admin/config", m.HandleAdminConfig)
	mux.HandleFunc("/admin/schema", HandleSchema)
	mux.HandleFunc("/metrics", m.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	if m.cfg.StaticDir != "" {
		// 前后端分离：将 / 映射到 web 目录的静态资源
		mux.Handle("/", http.FileServer(http.Dir(m.cfg.StaticDir)))
	}
}

func (m *Manager) newClientID() string {
	return fmt.Sprintf("guest-%s-%d", m.idPrefix, m.clientSq.Add(1))
}
