package server

import (
	"sync/atomic"
)

// RoomMetrics 记录房间运行期的关键指标（用于监控与调试）
type RoomMetrics struct {
	TickCount         int64 // 统计的 Tick 次数
	TotalTickNs       int64 // Tick 累计耗时（纳秒）
	MaxTickNs         int64 // 最慢的一次 Tick
	TickPanics        int64 // 被捕获的 Tick 异常
	InputsAccepted    int64 // 被接受的输入数
	UnknownClient     int64 // 未加入或已被吞噬的客户端发来的输入
	ChanFullDiscarded int64 // 因通道满被丢弃的输入数
	SendDropped       int64 // 发送队列满而丢弃的消息
	Joins             int64
	Leaves            int64
	Absorptions       int64
	FoodEaten         int64
}

func (m *RoomMetrics) IncAccepted()          { atomic.AddInt64(&m.InputsAccepted, 1) }
func (m *RoomMetrics) IncUnknownClient()     { atomic.AddInt64(&m.UnknownClient, 1) }
func (m *RoomMetrics) IncChanFullDiscarded() { atomic.AddInt64(&m.ChanFullDiscarded, 1) }
func (m *RoomMetrics) IncSendDropped()       { atomic.AddInt64(&m.SendDropped, 1) }
func (m *RoomMetrics) IncTickPanics()        { atomic.AddInt64(&m.TickPanics, 1) }
func (m *RoomMetrics) IncJoins()             { atomic.AddInt64(&m.Joins, 1) }
func (m *RoomMetrics) IncLeaves()            { atomic.AddInt64(&m.Leaves, 1) }

func (m *RoomMetrics) AddStep(absorbed, eaten int) {
	atomic.AddInt64(&m.Absorptions, int64(absorbed))
	atomic.AddInt64(&m.FoodEaten, int64(eaten))
}

func (m *RoomMetrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
	for {
		cur := atomic.LoadInt64(&m.MaxTickNs)
		if ns <= cur || atomic.CompareAndSwapInt64(&m.MaxTickNs, cur, ns) {
			return
		}
	}
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *RoomMetrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":          tick,
		"tick_panics":         atomic.LoadInt64(&m.TickPanics),
		"inputs_accepted":     atomic.LoadInt64(&m.InputsAccepted),
		"unknown_client":      atomic.LoadInt64(&m.UnknownClient),
		"chan_full_discarded": atomic.LoadInt64(&m.ChanFullDiscarded),
		"send_dropped":        atomic.LoadInt64(&m.SendDropped),
		"joins":               atomic.LoadInt64(&m.Joins),
		"leaves":              atomic.LoadInt64(&m.Leaves),
		"absorptions":         atomic.LoadInt64(&m.Absorptions),
		"food_eaten":          atomic.LoadInt64(&m.FoodEaten),
		"avg_tick_ms":         avgMs,
		"max_tick_ms":         float64(atomic.LoadInt64(&m.MaxTickNs)) / 1e6,
	}
}
