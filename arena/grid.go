package arena

import "math"

// EntityID 实体唯一标识，生命周期内稳定，且不复用
type EntityID uint64

// Kind 网格中的实体类别
type Kind uint8

const (
	KindPlayer Kind = iota
	KindFood
)

// Vec2 二维坐标/速度
type Vec2 struct {
	X float64
	Y float64
}

// CellKey 网格单元坐标（整数对，作为 map 键）
type CellKey struct {
	X int
	Y int
}

type cell struct {
	players map[EntityID]struct{}
	food    map[EntityID]struct{}
}

func (c *cell) set(kind Kind) map[EntityID]struct{} {
	if kind == KindFood {
		return c.food
	}
	return c.players
}

func (c *cell) empty() bool {
	return len(c.players) == 0 && len(c.food) == 0
}

// Grid 均匀网格空间索引：只是派生索引，从不作为实体状态的真相来源
type Grid struct {
	cellSize float64
	cols     int
	rows     int
	cells    map[CellKey]*cell
}

// NewGrid 按世界尺寸划分网格
func NewGrid(width, height, cellSize float64) *Grid {
	return &Grid{
		cellSize: cellSize,
		cols:     int(math.Ceil(width / cellSize)),
		rows:     int(math.Ceil(height / cellSize)),
		cells:    make(map[CellKey]*cell),
	}
}

// CellSize 单元格边长
func (g *Grid) CellSize() float64 { return g.cellSize }

// Dims 返回网格的列数与行数
func (g *Grid) Dims() (cols, rows int) { return g.cols, g.rows }

// CellKeyOf 坐标按单元边长向下取整
func (g *Grid) CellKeyOf(x, y float64) CellKey {
	return CellKey{
		X: int(math.Floor(x / g.cellSize)),
		Y: int(math.Floor(y / g.cellSize)),
	}
}

// Contains 判断单元是否在世界范围内
func (g *Grid) Contains(k CellKey) bool {
	return k.X >= 0 && k.Y >= 0 && k.X < g.cols && k.Y < g.rows
}

// Bounds 单元的世界坐标范围
func (g *Grid) Bounds(k CellKey) (minX, minY, maxX, maxY float64) {
	minX = float64(k.X) * g.cellSize
	minY = float64(k.Y) * g.cellSize
	return minX, minY, minX + g.cellSize, minY + g.cellSize
}

// Neighbors 以 (x,y) 所在单元为中心的 3x3 单元（边缘处少于 9 个）
func (g *Grid) Neighbors(x, y float64) []CellKey {
	return g.ring(g.CellKeyOf(x, y), 1, 1)
}

// QueryRadius 当查询半径超过一个单元时扩大 3x3 邻域，
// 覆盖到 extra 世界单位内的所有单元
func (g *Grid) QueryRadius(x, y, extra float64) []CellKey {
	reach := 1
	if finite(extra) && extra > g.cellSize {
		reach = int(math.Ceil(extra / g.cellSize))
	}
	// 超出网格的部分没有意义
	if limit := max(g.cols, g.rows); reach > limit {
		reach = limit
	}
	return g.ring(g.CellKeyOf(x, y), reach, reach)
}

func (g *Grid) ring(center CellKey, rx, ry int) []CellKey {
	out := make([]CellKey, 0, (2*rx+1)*(2*ry+1))
	for dy := -ry; dy <= ry; dy++ {
		for dx := -rx; dx <= rx; dx++ {
			k := CellKey{X: center.X + dx, Y: center.Y + dy}
			if g.Contains(k) {
				out = append(out, k)
			}
		}
	}
	return out
}

// Reindex 从 oldPos 对应单元移除并插入 newPos 对应单元；
// oldPos 为 nil 表示首次插入，newPos 为 nil 表示最终移除
func (g *Grid) Reindex(id EntityID, kind Kind, oldPos, newPos *Vec2) {
	if oldPos != nil {
		k := g.CellKeyOf(oldPos.X, oldPos.Y)
		if c, ok := g.cells[k]; ok {
			delete(c.set(kind), id)
			if c.empty() {
				delete(g.cells, k)
			}
		}
	}
	if newPos != nil {
		k := g.CellKeyOf(newPos.X, newPos.Y)
		c, ok := g.cells[k]
		if !ok {
			c = &cell{
				players: make(map[EntityID]struct{}),
				food:    make(map[EntityID]struct{}),
			}
			g.cells[k] = c
		}
		c.set(kind)[id] = struct{}{}
	}
}

// Has 判断实体是否登记在指定单元
func (g *Grid) Has(k CellKey, kind Kind, id EntityID) bool {
	c, ok := g.cells[k]
	if !ok {
		return false
	}
	_, ok = c.set(kind)[id]
	return ok
}

// Members 将单元内指定类别的实体追加到 buf
func (g *Grid) Members(k CellKey, kind Kind, buf []EntityID) []EntityID {
	c, ok := g.cells[k]
	if !ok {
		return buf
	}
	for id := range c.set(kind) {
		buf = append(buf, id)
	}
	return buf
}

// Occupancy 单元内玩家与食物数量
func (g *Grid) Occupancy(k CellKey) (players, food int) {
	c, ok := g.cells[k]
	if !ok {
		return 0, 0
	}
	return len(c.players), len(c.food)
}

// Locate 返回实体所在的全部单元（正常情况下恰好一个），用于一致性校验
func (g *Grid) Locate(kind Kind, id EntityID) []CellKey {
	var out []CellKey
	for k, c := range g.cells {
		if _, ok := c.set(kind)[id]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Count 网格中某类实体的登记总数（含重复登记）
func (g *Grid) Count(kind Kind) int {
	n := 0
	for _, c := range g.cells {
		n += len(c.set(kind))
	}
	return n
}
