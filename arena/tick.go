package arena

import (
	"math"
	"slices"
)

// Absorbed 一次吞噬的结果，Victim 为被移除前的状态副本
type Absorbed struct {
	Victim     Player
	ByClientID string
}

// StepResult 单个 Tick 的结果摘要
type StepResult struct {
	Tick        uint64
	Absorbed    []Absorbed
	FoodSpawned int
	FoodEaten   int
}

// Step 推进一个 Tick，顺序固定：
// 积分 → 生成食物 → 玩家间碰撞 → 玩家吃食物 → 标记脏数据
func (w *World) Step() StepResult {
	w.tickSeq++
	res := StepResult{Tick: w.tickSeq}

	w.integrate()
	if w.spawnFood() {
		res.FoodSpawned = 1
	}
	res.Absorbed = w.resolvePlayers()
	res.FoodEaten = w.resolveFood()
	w.markChanged()
	return res
}

// integrate 位置 += 速度，并保证整个圆在世界内
func (w *World) integrate() {
	w.maxR = 0
	for _, p := range w.players {
		next := w.clamp(Vec2{X: p.Pos.X + p.Vel.X, Y: p.Pos.Y + p.Vel.Y}, p.Radius)
		w.moveTo(p, next)
		w.maxR = math.Max(w.maxR, p.Radius)
	}
}

// spawnFood 每 Tick 至多补一个食物，只填补缺口
func (w *World) spawnFood() bool {
	if len(w.food) >= w.cfg.MaxFood {
		return false
	}
	w.AddFood(w.randomPoint())
	return true
}

func (w *World) resolvePlayers() []Absorbed {
	var events []Absorbed
	// 移除会交换稠密表中的位置，因此按快照迭代
	order := slices.Clone(w.players)
	var buf []EntityID
	for _, p := range order {
		if p.removed {
			continue
		}
		buf = w.nearby(buf[:0], p.Pos, p.Radius+w.maxR, KindPlayer)
		for _, qid := range buf {
			if qid == p.ID {
				continue
			}
			q, ok := w.playerByID(qid)
			if !ok {
				// 本 Tick 已被吞噬
				continue
			}
			big, small, ok := w.contest(p, q)
			if !ok {
				continue
			}
			events = append(events, Absorbed{Victim: *small, ByClientID: big.ClientID})
			w.absorb(big, small)
			if small == p {
				break
			}
		}
	}
	return events
}

// contest 判断重叠的两名玩家谁吞噬谁；半径接近（差值低于较小半径的阈值比例）时不发生任何事
func (w *World) contest(p, q *Player) (big, small *Player, ok bool) {
	d := math.Hypot(p.Pos.X-q.Pos.X, p.Pos.Y-q.Pos.Y)
	if d >= p.Radius+q.Radius {
		return nil, nil, false
	}
	diff := math.Abs(p.Radius - q.Radius)
	if diff == 0 || diff < w.cfg.GrowthThreshold*math.Min(p.Radius, q.Radius) {
		return nil, nil, false
	}
	if p.Radius > q.Radius {
		return p, q, true
	}
	return q, p, true
}

func (w *World) absorb(big, small *Player) {
	big.Radius = grow(big.Radius, small.Radius, w.cfg.AbsorbFactor)
	big.Score++
	w.maxR = math.Max(w.maxR, big.Radius)
	w.removePlayer(small.ID)
}

func (w *World) resolveFood() int {
	eaten := 0
	var buf []EntityID
	for _, p := range w.players {
		buf = w.nearby(buf[:0], p.Pos, p.Radius+w.cfg.FoodRadius, KindFood)
		for _, fid := range buf {
			f, ok := w.foodByID(fid)
			if !ok {
				continue
			}
			if math.Hypot(p.Pos.X-f.Pos.X, p.Pos.Y-f.Pos.Y) >= p.Radius+f.Radius {
				continue
			}
			p.Radius = grow(p.Radius, f.Radius, w.cfg.AbsorbFactor)
			p.Score++
			w.removeFood(fid)
			eaten++
		}
	}
	return eaten
}

// markChanged 分数、半径或位置有显著变化的玩家标记为脏
func (w *World) markChanged() {
	for _, p := range w.players {
		if p.Dirty {
			continue
		}
		moved := math.Hypot(p.Pos.X-p.persistedPos.X, p.Pos.Y-p.persistedPos.Y)
		if p.Score != p.persistedScore || p.Radius != p.persistedRadius || moved >= w.cfg.DirtyMoveEpsilon {
			w.markDirty(p)
		}
	}
}

// nearby 收集 reach 范围内单元中的指定类别实体，按 ID 排序以保证确定性
func (w *World) nearby(buf []EntityID, pos Vec2, reach float64, kind Kind) []EntityID {
	for _, k := range w.grid.QueryRadius(pos.X, pos.Y, reach) {
		buf = w.grid.Members(k, kind, buf)
	}
	slices.Sort(buf)
	return slices.Compact(buf)
}

// grow 面积 πr² 增加 factor 倍的对方面积后的新半径
func grow(r, other, factor float64) float64 {
	area := math.Pi*r*r + factor*math.Pi*other*other
	return math.Sqrt(area / math.Pi)
}
