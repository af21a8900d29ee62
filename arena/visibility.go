package arena

import (
	"math"
	"slices"
)

// PlayerView 快照中的玩家
type PlayerView struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
	Score  int     `json:"score"`
}

// FoodView 快照中的食物
type FoodView struct {
	ID     uint64  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// CellView 可见单元（调试与可视化用）
type CellView struct {
	X       int     `json:"x"`
	Y       int     `json:"y"`
	MinX    float64 `json:"minX"`
	MinY    float64 `json:"minY"`
	MaxX    float64 `json:"maxX"`
	MaxY    float64 `json:"maxY"`
	Players int     `json:"players"`
	Food    int     `json:"food"`
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Score int    `json:"score"`
	IsYou bool   `json:"isYou"`
}

// Snapshot 发送给单个玩家的过滤后世界状态
type Snapshot struct {
	Tick         uint64                `json:"tick"`
	SelfID       string                `json:"selfId"`
	Players      map[string]PlayerView `json:"players"`
	Food         []FoodView            `json:"food"`
	TotalPlayers int                   `json:"totalPlayers"`
	Cells        []CellView            `json:"cells"`
	Leaderboard  []LeaderboardEntry    `json:"leaderboard"`
}

// Leaderboard 全体玩家按分数排名的前 N 名（不区分是否可见）
func (w *World) Leaderboard() []LeaderboardEntry {
	ranked := slices.Clone(w.players)
	slices.SortStableFunc(ranked, func(a, b *Player) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	if len(ranked) > w.cfg.LeaderboardSize {
		ranked = ranked[:w.cfg.LeaderboardSize]
	}
	out := make([]LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		out[i] = LeaderboardEntry{ID: p.ClientID, Name: p.Name, Score: p.Score}
	}
	return out
}

// VisibleCells 按视口尺寸计算的矩形可见窗口：
// 每个方向 ceil(尺寸/单元) + 2 个单元
func (w *World) VisibleCells(pos Vec2, vp Viewport) []CellKey {
	if !positive(vp.Width) || !positive(vp.Height) {
		vp = w.cfg.DefaultViewport
	}
	cs := w.grid.CellSize()
	visX := int(math.Ceil(vp.Width/cs)) + 2
	visY := int(math.Ceil(vp.Height/cs)) + 2
	maxDistance := max(visX, visY)

	center := w.grid.CellKeyOf(pos.X, pos.Y)
	var out []CellKey
	for dy := -maxDistance; dy <= maxDistance; dy++ {
		if abs(dy) > visY {
			continue
		}
		for dx := -maxDistance; dx <= maxDistance; dx++ {
			if abs(dx) > visX {
				continue
			}
			k := CellKey{X: center.X + dx, Y: center.Y + dy}
			if w.grid.Contains(k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// SnapshotFor 计算单个玩家的快照；board 为本 Tick 共享的排行榜
func (w *World) SnapshotFor(p *Player, board []LeaderboardEntry) Snapshot {
	snap := Snapshot{
		Tick:         w.tickSeq,
		SelfID:       p.ClientID,
		Players:      make(map[string]PlayerView),
		Food:         []FoodView{},
		TotalPlayers: len(w.players),
		Leaderboard:  make([]LeaderboardEntry, len(board)),
	}
	for i, e := range board {
		e.IsYou = e.ID == p.ClientID
		snap.Leaderboard[i] = e
	}

	cells := w.VisibleCells(p.Pos, p.Viewport)
	snap.Cells = make([]CellView, 0, len(cells))
	var pids, fids []EntityID
	for _, k := range cells {
		pids = w.grid.Members(k, KindPlayer, pids)
		fids = w.grid.Members(k, KindFood, fids)
		np, nf := w.grid.Occupancy(k)
		minX, minY, maxX, maxY := w.grid.Bounds(k)
		snap.Cells = append(snap.Cells, CellView{
			X: k.X, Y: k.Y,
			MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY,
			Players: np, Food: nf,
		})
	}

	// 第二遍：按 ID 解析当前状态，索引中残留的标识直接跳过
	for _, id := range pids {
		if q, ok := w.playerByID(id); ok {
			snap.Players[q.ClientID] = viewOf(q)
		}
	}
	snap.Players[p.ClientID] = viewOf(p)

	slices.Sort(fids)
	for _, id := range fids {
		if f, ok := w.foodByID(id); ok {
			snap.Food = append(snap.Food, FoodView{ID: uint64(f.ID), X: f.Pos.X, Y: f.Pos.Y, Radius: f.Radius})
		}
	}
	return snap
}

// Snapshots 为每个存活玩家生成快照，键为客户端标识
func (w *World) Snapshots() map[string]Snapshot {
	board := w.Leaderboard()
	out := make(map[string]Snapshot, len(w.players))
	for _, p := range w.players {
		out[p.ClientID] = w.SnapshotFor(p, board)
	}
	return out
}

func viewOf(p *Player) PlayerView {
	return PlayerView{
		ID:     p.ClientID,
		Name:   p.Name,
		X:      p.Pos.X,
		Y:      p.Pos.Y,
		Radius: p.Radius,
		Score:  p.Score,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
