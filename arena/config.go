package arena

import (
	"math"
	"time"
)

// Config 世界与规则参数（服务端权威，客户端无法修改）
type Config struct {
	WorldWidth  float64
	WorldHeight float64
	CellSize    float64 // 网格单元边长

	TickInterval time.Duration

	MaxFood    int
	FoodRadius float64

	AbsorbFactor    float64 // 被吞噬者面积转移比例
	GrowthThreshold float64 // 半径差低于 min(r) * 该比例时视为平局

	DefaultRadius   float64
	DefaultViewport Viewport
	MaxSpeed        float64 // 每 Tick 最大位移

	LeaderboardSize  int
	DirtyMoveEpsilon float64 // 位移超过该值才标记为需要持久化
}

// DefaultConfig 返回默认规则：2000x2000 世界，200 单元格，30Hz
func DefaultConfig() Config {
	return Config{
		WorldWidth:       2000,
		WorldHeight:      2000,
		CellSize:         200,
		TickInterval:     33 * time.Millisecond,
		MaxFood:          100,
		FoodRadius:       5,
		AbsorbFactor:     0.5,
		GrowthThreshold:  0.05,
		DefaultRadius:    20,
		DefaultViewport:  Viewport{Width: 800, Height: 600},
		MaxSpeed:         10,
		LeaderboardSize:  10,
		DirtyMoveEpsilon: 1,
	}
}

// Normalized 用默认值修复缺失或非法的字段
func (c Config) Normalized() Config {
	d := DefaultConfig()
	if !positive(c.WorldWidth) {
		c.WorldWidth = d.WorldWidth
	}
	if !positive(c.WorldHeight) {
		c.WorldHeight = d.WorldHeight
	}
	if !positive(c.CellSize) {
		c.CellSize = d.CellSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MaxFood < 0 {
		c.MaxFood = 0
	}
	if !positive(c.FoodRadius) {
		c.FoodRadius = d.FoodRadius
	}
	if !positive(c.AbsorbFactor) {
		c.AbsorbFactor = d.AbsorbFactor
	}
	if c.GrowthThreshold < 0 || math.IsNaN(c.GrowthThreshold) || math.IsInf(c.GrowthThreshold, 0) {
		c.GrowthThreshold = d.GrowthThreshold
	}
	if !positive(c.DefaultRadius) {
		c.DefaultRadius = d.DefaultRadius
	}
	// 玩家必须能放进世界
	if limit := math.Min(c.WorldWidth, c.WorldHeight) / 2; c.DefaultRadius > limit {
		c.DefaultRadius = limit
	}
	if !positive(c.DefaultViewport.Width) || !positive(c.DefaultViewport.Height) {
		c.DefaultViewport = d.DefaultViewport
	}
	if !positive(c.MaxSpeed) {
		c.MaxSpeed = d.MaxSpeed
	}
	if c.LeaderboardSize <= 0 {
		c.LeaderboardSize = d.LeaderboardSize
	}
	if c.DirtyMoveEpsilon < 0 || math.IsNaN(c.DirtyMoveEpsilon) {
		c.DirtyMoveEpsilon = d.DirtyMoveEpsilon
	}
	return c
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
