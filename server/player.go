package server

import "blobarena/arena"

// WelcomeMessage 连接建立后发送：分配的标识与世界参数
type WelcomeMessage struct {
	ClientID    string  `json:"clientId"`
	WorldWidth  float64 `json:"worldWidth"`
	WorldHeight float64 `json:"worldHeight"`
	CellSize    float64 `json:"cellSize"`
	TickMs      int64   `json:"tickMs"`
	Encoding    string  `json:"encoding"`
}

// AbsorbedMessage 被吞噬通知，之后客户端可以重新 join
type AbsorbedMessage struct {
	By     string  `json:"by"`
	Score  int     `json:"score"`
	Radius float64 `json:"radius"`
}

// GameStateMessage 每 Tick 推送的过滤快照
type GameStateMessage = arena.Snapshot

func absorbedMessage(ev arena.Absorbed) AbsorbedMessage {
	return AbsorbedMessage{By: ev.ByClientID, Score: ev.Victim.Score, Radius: ev.Victim.Radius}
}
