package arena

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrUnknownClient 客户端没有存活的玩家实体（未加入或已被吞噬）
var ErrUnknownClient = errors.New("arena: unknown client")

// Viewport 客户端可见区域（世界坐标单位）
type Viewport struct {
	Width  float64
	Height float64
}

// Player 玩家实体（服务端权威状态）
type Player struct {
	ID       EntityID
	ClientID string
	Name     string
	Pos      Vec2
	Vel      Vec2 // 每 Tick 的位移，在下一次积分时生效
	Radius   float64
	Score    int
	Viewport Viewport
	JoinedAt time.Time
	Dirty    bool // 持久化记录已过期

	// 上次标记为脏时的值，用于判断变化是否显著
	persistedPos    Vec2
	persistedRadius float64
	persistedScore  int
	removed         bool
}

// Food 食物实体：无速度，不持久化
type Food struct {
	ID     EntityID
	Pos    Vec2
	Radius float64
}

// JoinRequest 加入请求，可选字段为 nil 时由服务端决定
type JoinRequest struct {
	ClientID string
	Position *Vec2
	Radius   *float64
	Name     string
	Viewport *Viewport
}

// Option 构造 World 的可选项
type Option func(*World)

// WithRand 指定随机源（测试中用于确定性）
func WithRand(r *rand.Rand) Option {
	return func(w *World) { w.rng = r }
}

// WithClock 指定时钟
func WithClock(now func() time.Time) Option {
	return func(w *World) { w.now = now }
}

// World 实体存储 + 空间索引的聚合体。
// 非并发安全：由唯一的持有者（Room）串行访问。
type World struct {
	cfg  Config
	grid *Grid
	rng  *rand.Rand
	now  func() time.Time

	// 稠密实体表 + ID→下标，迭代顺序稳定
	players   []*Player
	playerIdx map[EntityID]int
	byClient  map[string]EntityID
	food      []*Food
	foodIdx   map[EntityID]int

	nextID  EntityID
	joinSeq int
	tickSeq uint64
	maxR    float64 // 本 Tick 最大玩家半径，决定碰撞查询范围
}

// NewWorld 创建空世界
func NewWorld(cfg Config, opts ...Option) *World {
	cfg = cfg.Normalized()
	w := &World{
		cfg:       cfg,
		grid:      NewGrid(cfg.WorldWidth, cfg.WorldHeight, cfg.CellSize),
		now:       time.Now,
		playerIdx: make(map[EntityID]int),
		byClient:  make(map[string]EntityID),
		foodIdx:   make(map[EntityID]int),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.rng == nil {
		w.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return w
}

// Config 当前规则
func (w *World) Config() Config { return w.cfg }

// Grid 空间索引（只读使用）
func (w *World) Grid() *Grid { return w.grid }

// TickSeq 已推进的 Tick 数
func (w *World) TickSeq() uint64 { return w.tickSeq }

// Players 存活玩家表，调用方不得修改
func (w *World) Players() []*Player { return w.players }

// Food 存活食物表，调用方不得修改
func (w *World) Food() []*Food { return w.food }

func (w *World) PlayerCount() int { return len(w.players) }
func (w *World) FoodCount() int   { return len(w.food) }

// Player 按客户端标识查找玩家
func (w *World) Player(clientID string) (*Player, bool) {
	id, ok := w.byClient[clientID]
	if !ok {
		return nil, false
	}
	return w.playerByID(id)
}

func (w *World) playerByID(id EntityID) (*Player, bool) {
	i, ok := w.playerIdx[id]
	if !ok {
		return nil, false
	}
	return w.players[i], true
}

func (w *World) foodByID(id EntityID) (*Food, bool) {
	i, ok := w.foodIdx[id]
	if !ok {
		return nil, false
	}
	return w.food[i], true
}

// Tuning 运行时可调整的规则子集；nil 字段保持不变
type Tuning struct {
	MaxFood         *int     `json:"maxFood,omitempty"`
	MaxSpeed        *float64 `json:"maxSpeed,omitempty"`
	AbsorbFactor    *float64 `json:"absorbFactor,omitempty"`
	GrowthThreshold *float64 `json:"growthThreshold,omitempty"`
}

// Tune 应用运行时调整，非法值被忽略（网格几何不可在运行中改变）
func (w *World) Tune(t Tuning) Tuning {
	if t.MaxFood != nil && *t.MaxFood >= 0 {
		w.cfg.MaxFood = *t.MaxFood
	}
	if t.MaxSpeed != nil && positive(*t.MaxSpeed) {
		w.cfg.MaxSpeed = *t.MaxSpeed
	}
	if t.AbsorbFactor != nil && positive(*t.AbsorbFactor) {
		w.cfg.AbsorbFactor = *t.AbsorbFactor
	}
	if t.GrowthThreshold != nil && *t.GrowthThreshold >= 0 && finite(*t.GrowthThreshold) {
		w.cfg.GrowthThreshold = *t.GrowthThreshold
	}
	return w.Tuning()
}

// Tuning 返回当前可调整规则
func (w *World) Tuning() Tuning {
	maxFood, speed := w.cfg.MaxFood, w.cfg.MaxSpeed
	absorb, growth := w.cfg.AbsorbFactor, w.cfg.GrowthThreshold
	return Tuning{MaxFood: &maxFood, MaxSpeed: &speed, AbsorbFactor: &absorb, GrowthThreshold: &growth}
}

func (w *World) allocID() EntityID {
	w.nextID++
	return w.nextID
}

// Join 创建玩家；同一客户端重复加入时替换旧实体。
// 非法输入按默认值处理，不拒绝。
func (w *World) Join(req JoinRequest) *Player {
	if old, ok := w.byClient[req.ClientID]; ok {
		w.removePlayer(old)
	}
	w.joinSeq++

	radius := w.cfg.DefaultRadius
	if req.Radius != nil && positive(*req.Radius) {
		radius = math.Min(*req.Radius, math.Min(w.cfg.WorldWidth, w.cfg.WorldHeight)/2)
	}
	var pos Vec2
	if req.Position != nil && finite(req.Position.X) && finite(req.Position.Y) {
		pos = *req.Position
	} else {
		pos = w.randomPoint()
	}
	pos = w.clamp(pos, radius)

	name := req.Name
	if name == "" {
		name = fmt.Sprintf("Player %d", w.joinSeq)
	}
	vp := w.cfg.DefaultViewport
	if req.Viewport != nil {
		vp = w.normalizeViewport(req.Viewport.Width, req.Viewport.Height)
	}

	p := &Player{
		ID:       w.allocID(),
		ClientID: req.ClientID,
		Name:     name,
		Pos:      pos,
		Radius:   radius,
		Viewport: vp,
		JoinedAt: w.now(),
	}
	w.playerIdx[p.ID] = len(w.players)
	w.players = append(w.players, p)
	w.byClient[p.ClientID] = p.ID
	w.grid.Reindex(p.ID, KindPlayer, nil, &p.Pos)
	w.markDirty(p)
	return p
}

// Move 记录速度意图，下一次积分时生效；NaN/Inf 置零，速度按上限缩放
func (w *World) Move(clientID string, vx, vy float64) error {
	p, ok := w.Player(clientID)
	if !ok {
		return ErrUnknownClient
	}
	if !finite(vx) {
		vx = 0
	}
	if !finite(vy) {
		vy = 0
	}
	if speed := math.Hypot(vx, vy); speed > w.cfg.MaxSpeed {
		scale := w.cfg.MaxSpeed / speed
		vx *= scale
		vy *= scale
	}
	p.Vel = Vec2{X: vx, Y: vy}
	return nil
}

// UpdateViewport 更新可见区域尺寸
func (w *World) UpdateViewport(clientID string, width, height float64) error {
	p, ok := w.Player(clientID)
	if !ok {
		return ErrUnknownClient
	}
	p.Viewport = w.normalizeViewport(width, height)
	return nil
}

// Remove 断线移除玩家，返回移除前的状态副本
func (w *World) Remove(clientID string) (Player, bool) {
	id, ok := w.byClient[clientID]
	if !ok {
		return Player{}, false
	}
	p, ok := w.playerByID(id)
	if !ok {
		return Player{}, false
	}
	snapshot := *p
	w.removePlayer(id)
	return snapshot, true
}

// AddFood 在指定位置放置食物（位置被限制在世界内）
func (w *World) AddFood(pos Vec2) *Food {
	pos = w.clamp(pos, 0)
	// 右/下边界属于世界之外的单元
	if pos.X >= w.cfg.WorldWidth {
		pos.X = math.Nextafter(w.cfg.WorldWidth, 0)
	}
	if pos.Y >= w.cfg.WorldHeight {
		pos.Y = math.Nextafter(w.cfg.WorldHeight, 0)
	}
	f := &Food{ID: w.allocID(), Pos: pos, Radius: w.cfg.FoodRadius}
	w.foodIdx[f.ID] = len(w.food)
	w.food = append(w.food, f)
	w.grid.Reindex(f.ID, KindFood, nil, &f.Pos)
	return f
}

// DrainDirty 返回并清除本轮标记为脏的客户端标识
func (w *World) DrainDirty() []string {
	var out []string
	for _, p := range w.players {
		if p.Dirty {
			out = append(out, p.ClientID)
			p.Dirty = false
		}
	}
	return out
}

func (w *World) removePlayer(id EntityID) {
	i, ok := w.playerIdx[id]
	if !ok {
		return
	}
	p := w.players[i]
	p.removed = true
	w.grid.Reindex(id, KindPlayer, &p.Pos, nil)

	last := len(w.players) - 1
	if i != last {
		w.players[i] = w.players[last]
		w.playerIdx[w.players[i].ID] = i
	}
	w.players[last] = nil
	w.players = w.players[:last]
	delete(w.playerIdx, id)
	if cur, ok := w.byClient[p.ClientID]; ok && cur == id {
		delete(w.byClient, p.ClientID)
	}
}

func (w *World) removeFood(id EntityID) {
	i, ok := w.foodIdx[id]
	if !ok {
		return
	}
	f := w.food[i]
	w.grid.Reindex(id, KindFood, &f.Pos, nil)

	last := len(w.food) - 1
	if i != last {
		w.food[i] = w.food[last]
		w.foodIdx[w.food[i].ID] = i
	}
	w.food[last] = nil
	w.food = w.food[:last]
	delete(w.foodIdx, id)
}

// moveTo 修改位置并同步网格
func (w *World) moveTo(p *Player, pos Vec2) {
	if pos == p.Pos {
		return
	}
	old := p.Pos
	p.Pos = pos
	w.grid.Reindex(p.ID, KindPlayer, &old, &p.Pos)
}

func (w *World) markDirty(p *Player) {
	p.Dirty = true
	p.persistedPos = p.Pos
	p.persistedRadius = p.Radius
	p.persistedScore = p.Score
}

// clamp 保证 [r, size-r] 范围
func (w *World) clamp(pos Vec2, r float64) Vec2 {
	return Vec2{
		X: clampAxis(pos.X, r, w.cfg.WorldWidth),
		Y: clampAxis(pos.Y, r, w.cfg.WorldHeight),
	}
}

func clampAxis(v, r, size float64) float64 {
	lo, hi := r, size-r
	if hi < lo {
		return size / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (w *World) randomPoint() Vec2 {
	return Vec2{
		X: w.rng.Float64() * w.cfg.WorldWidth,
		Y: w.rng.Float64() * w.cfg.WorldHeight,
	}
}

func (w *World) normalizeViewport(width, height float64) Viewport {
	vp := w.cfg.DefaultViewport
	if positive(width) {
		vp.Width = math.Min(width, w.cfg.WorldWidth)
	}
	if positive(height) {
		vp.Height = math.Min(height, w.cfg.WorldHeight)
	}
	return vp
}
