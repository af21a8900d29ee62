package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"

	"blobarena/arena"
	"blobarena/persist"
)

const leaderboardSize = 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// HandleAdminConfig 提供规则的读取与更新（热更新基本规则）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (m *Manager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, m.room.Tuning())
	case http.MethodPost:
		var body arena.Tuning
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		cur := m.room.Tune(body)
		writeJSON(w, http.StatusOK, cur)
		Log.Infof("config updated: maxFood=%d maxSpeed=%.2f absorb=%.2f threshold=%.3f",
			*cur.MaxFood, *cur.MaxSpeed, *cur.AbsorbFactor, *cur.GrowthThreshold)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleMetrics 输出房间运行指标
// GET /metrics
func (m *Manager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"room":    m.room.ID,
		"status":  m.room.Status(),
		"metrics": m.room.metrics.Snapshot(),
		"outbox":  m.outbox.Stats(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleLeaderboard 直接从持久化存储读取前 10 名
// GET /leaderboard
func (m *Manager) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	top, err := m.store.TopScores(ctx, leaderboardSize)
	if err != nil {
		Log.Warnw("leaderboard read failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "leaderboard unavailable",
			"leaderboard": []persist.Record{},
		})
		return
	}
	if top == nil {
		top = []persist.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": top})
}

// protocolSchema 汇总客户端协议中的消息类型
type protocolSchema struct {
	Input     InputMessage     `json:"input"`
	Welcome   WelcomeMessage   `json:"welcome"`
	GameState GameStateMessage `json:"gameState"`
	Absorbed  AbsorbedMessage  `json:"absorbed"`
}

// HandleSchema 输出协议的 JSON Schema，便于客户端生成类型
// GET /admin/schema
func HandleSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jsonschema.Reflect(&protocolSchema{}))
}
