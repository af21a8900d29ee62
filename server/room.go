package server

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"blobarena/arena"
	"blobarena/persist"
)

// ErrRoomStopped 房间已停止，不再接受命令
var ErrRoomStopped = errors.New("server: room stopped")

// Conn 房间向客户端推送消息的发送端
type Conn interface {
	SendMessage(msgType string, payload any) error
	Close()
}

// RecordSink 接收需要持久化的玩家记录（值副本，Tick 内产生）
type RecordSink interface {
	Stage(recs ...persist.Record)
}

// 入站命令：在 Tick 开始时按到达顺序应用
type (
	attachCmd struct {
		clientID string
		conn     Conn
	}
	joinCmd struct {
		req arena.JoinRequest
	}
	moveCmd struct {
		clientID string
		vx, vy   float64
	}
	viewportCmd struct {
		clientID      string
		width, height float64
	}
	leaveCmd struct {
		clientID string
		conn     Conn
		reply    chan leaveResult
	}
)

type leaveResult struct {
	player arena.Player
	ok     bool
}

type delivery struct {
	conn    Conn
	msgType string
	payload any
}

// Room 竞技场：World 只由 Tick 线程在 mu 保护下修改，
// 网络事件经 inbox 排队，在下一次 Tick 开始时生效
type Room struct {
	ID string

	mu      sync.Mutex
	world   *arena.World
	clients map[string]Conn
	step    func() arena.StepResult

	inbox   chan any
	sink    RecordSink
	metrics *RoomMetrics

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	tickerStarted bool
}

// NewRoom 创建房间，初始化数据结构
func NewRoom(id string, cfg arena.Config, inboxSize int, sink RecordSink, opts ...arena.Option) *Room {
	if inboxSize <= 0 {
		inboxSize = 256
	}
	r := &Room{
		ID:      id,
		world:   arena.NewWorld(cfg, opts...),
		clients: make(map[string]Conn),
		inbox:   make(chan any, inboxSize),
		sink:    sink,
		metrics: &RoomMetrics{},
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	r.step = r.world.Step
	return r
}

// Metrics 运行指标
func (r *Room) Metrics() *RoomMetrics { return r.metrics }

// push 阻塞式写入，房间停止时返回错误
func (r *Room) push(cmd any) error {
	select {
	case <-r.quit:
		return ErrRoomStopped
	default:
	}
	select {
	case r.inbox <- cmd:
		return nil
	case <-r.quit:
		return ErrRoomStopped
	}
}

// offer 非阻塞写入：拥塞时丢弃，保证 Tick 准时
func (r *Room) offer(cmd any) {
	select {
	case r.inbox <- cmd:
	default:
		r.metrics.IncChanFullDiscarded()
	}
}

// Attach 登记连接；同一客户端的旧连接会被关闭，旧连接的玩家随之移除
func (r *Room) Attach(clientID string, conn Conn) error {
	return r.push(attachCmd{clientID: clientID, conn: conn})
}

// Join 请求加入（或重新加入）
func (r *Room) Join(req arena.JoinRequest) error {
	return r.push(joinCmd{req: req})
}

// OnMove 入站移动意图，不立即改变位置
func (r *Room) OnMove(clientID string, vx, vy float64) {
	r.offer(moveCmd{clientID: clientID, vx: vx, vy: vy})
}

// OnViewport 入站视口尺寸
func (r *Room) OnViewport(clientID string, width, height float64) {
	r.offer(viewportCmd{clientID: clientID, width: width, height: height})
}

// RequestLeave 请求在 Tick 线程中移除玩家并等待结果；
// 返回移除前的玩家状态，供断线时同步持久化
func (r *Room) RequestLeave(ctx context.Context, clientID string, conn Conn) (arena.Player, bool, error) {
	reply := make(chan leaveResult, 1)
	if err := r.push(leaveCmd{clientID: clientID, conn: conn, reply: reply}); err != nil {
		return arena.Player{}, false, err
	}
	select {
	case res := <-reply:
		return res.player, res.ok, nil
	case <-r.quit:
		return arena.Player{}, false, ErrRoomStopped
	case <-ctx.Done():
		return arena.Player{}, false, ctx.Err()
	}
}

// ProcessInputs 处理当前帧的所有命令（非阻塞 drain），调用方持有 mu
func (r *Room) ProcessInputs() []delivery {
	var out []delivery
	for {
		select {
		case cmd := <-r.inbox:
			out = append(out, r.handleCommand(cmd)...)
		default:
			return out
		}
	}
}

func (r *Room) handleCommand(cmd any) []delivery {
	switch c := cmd.(type) {
	case attachCmd:
		if old, ok := r.clients[c.clientID]; ok && old != c.conn {
			old.Close()
			// 新连接必须重新 join，不能接管旧连接的实体
			if p, ok := r.world.Remove(c.clientID); ok {
				r.metrics.IncLeaves()
				r.stage(recordOf(p))
				Log.Warnw("connection displaced", "room", r.ID, "client", c.clientID)
			}
		}
		r.clients[c.clientID] = c.conn
		cfg := r.world.Config()
		return []delivery{{conn: c.conn, msgType: MsgWelcome, payload: WelcomeMessage{
			ClientID:    c.clientID,
			WorldWidth:  cfg.WorldWidth,
			WorldHeight: cfg.WorldHeight,
			CellSize:    cfg.CellSize,
			TickMs:      cfg.TickInterval.Milliseconds(),
			Encoding:    encodingOf(c.conn),
		}}}
	case joinCmd:
		if _, ok := r.clients[c.req.ClientID]; !ok {
			// 连接已断开
			return nil
		}
		p := r.world.Join(c.req)
		r.metrics.IncJoins()
		Log.Infow("player joined", "room", r.ID, "client", p.ClientID, "name", p.Name,
			"x", p.Pos.X, "y", p.Pos.Y, "radius", p.Radius)
	case moveCmd:
		if err := r.world.Move(c.clientID, c.vx, c.vy); err != nil {
			r.metrics.IncUnknownClient()
			return nil
		}
		r.metrics.IncAccepted()
	case viewportCmd:
		if err := r.world.UpdateViewport(c.clientID, c.width, c.height); err != nil {
			r.metrics.IncUnknownClient()
			return nil
		}
		r.metrics.IncAccepted()
	case leaveCmd:
		// 只允许当前登记的连接移除自己
		if cur, ok := r.clients[c.clientID]; ok && (c.conn == nil || cur == c.conn) {
			delete(r.clients, c.clientID)
			p, ok := r.world.Remove(c.clientID)
			if ok {
				r.metrics.IncLeaves()
			}
			c.reply <- leaveResult{player: p, ok: ok}
			return nil
		}
		c.reply <- leaveResult{}
	}
	return nil
}

// Tick 单个 Tick：处理命令 → 推进世界 → 生成快照（持锁），然后在锁外推送
func (r *Room) Tick() {
	start := time.Now()
	out := r.advance()
	r.deliver(out)
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}

// advance 任何 panic 都在 Tick 边界被捕获，本 Tick 退化为空操作
func (r *Room) advance() (out []delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.IncTickPanics()
			Log.Errorw("tick panic recovered", "room", r.ID, "tick", r.world.TickSeq(),
				"panic", rec, "stack", string(debug.Stack()))
			out = nil
		}
	}()

	out = r.ProcessInputs()
	res := r.step()
	r.metrics.AddStep(len(res.Absorbed), res.FoodEaten)

	r.stageDirty()
	for _, ev := range res.Absorbed {
		Log.Infow("player absorbed", "room", r.ID, "client", ev.Victim.ClientID, "by", ev.ByClientID,
			"score", ev.Victim.Score)
		// 被吞噬者的最终状态
		r.stage(recordOf(ev.Victim))
		if c, ok := r.clients[ev.Victim.ClientID]; ok {
			out = append(out, delivery{conn: c, msgType: MsgAbsorbed, payload: absorbedMessage(ev)})
		}
	}
	for id, snap := range r.world.Snapshots() {
		if c, ok := r.clients[id]; ok {
			out = append(out, delivery{conn: c, msgType: MsgGameState, payload: snap})
		}
	}
	return out
}

// deliver 单播推送；发送端非阻塞，队列满时丢弃
func (r *Room) deliver(out []delivery) {
	for _, d := range out {
		if err := d.conn.SendMessage(d.msgType, d.payload); err != nil {
			r.metrics.IncSendDropped()
		}
	}
}

// stageDirty 把本 Tick 标记为脏的玩家以值副本交给持久化，调用方持有 mu
func (r *Room) stageDirty() {
	ids := r.world.DrainDirty()
	if r.sink == nil || len(ids) == 0 {
		return
	}
	recs := make([]persist.Record, 0, len(ids))
	for _, id := range ids {
		if p, ok := r.world.Player(id); ok {
			recs = append(recs, recordOf(*p))
		}
	}
	r.sink.Stage(recs...)
}

func (r *Room) stage(rec persist.Record) {
	if r.sink != nil {
		r.sink.Stage(rec)
	}
}

// Tune 在锁内调整运行规则
func (r *Room) Tune(t arena.Tuning) arena.Tuning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.Tune(t)
}

// Tuning 当前运行规则
func (r *Room) Tuning() arena.Tuning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.world.Tuning()
}

// RoomStatus 房间概况
type RoomStatus struct {
	Tick    uint64 `json:"tick"`
	Players int    `json:"players"`
	Food    int    `json:"food"`
	Clients int    `json:"clients"`
}

func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomStatus{
		Tick:    r.world.TickSeq(),
		Players: r.world.PlayerCount(),
		Food:    r.world.FoodCount(),
		Clients: len(r.clients),
	}
}

func recordOf(p arena.Player) persist.Record {
	return persist.Record{
		PlayerID: p.ClientID,
		Name:     p.Name,
		Score:    p.Score,
		Radius:   p.Radius,
		X:        p.Pos.X,
		Y:        p.Pos.Y,
		JoinedAt: p.JoinedAt,
	}
}

func encodingOf(c Conn) string {
	if cc, ok := c.(*ClientConn); ok {
		return cc.codec.Name()
	}
	return jsonCodec{}.Name()
}
