package persist

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrClosed 存储已关闭
var ErrClosed = errors.New("persist: store closed")

// Record 玩家的持久化记录，以玩家标识为键（后写覆盖）。
// DynamoDB 中键属性为 sessionId，与旧版服务共用同一张表
type Record struct {
	PlayerID  string    `json:"playerId" dynamodbav:"sessionId"`
	Name      string    `json:"name" dynamodbav:"name"`
	Score     int       `json:"score" dynamodbav:"score"`
	Radius    float64   `json:"radius" dynamodbav:"radius"`
	X         float64   `json:"x" dynamodbav:"x"`
	Y         float64   `json:"y" dynamodbav:"y"`
	JoinedAt  time.Time `json:"joinedAt" dynamodbav:"joinedAt,unixtime"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt,unixtime"`
}

// Store 持久化存储：按玩家标识 upsert，排行榜全表扫描
type Store interface {
	Upsert(ctx context.Context, rec Record) error
	TopScores(ctx context.Context, n int) ([]Record, error)
}

// MemoryStore 进程内存储，用于本地运行与测试
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Upsert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records[rec.PlayerID] = rec
	return nil
}

func (m *MemoryStore) TopScores(ctx context.Context, n int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	m.mu.RUnlock()
	return topN(out, n), nil
}

// Get 按标识读取（测试与调试用）
func (m *MemoryStore) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// Len 记录数
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close 之后的写入返回 ErrClosed
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// topN 按分数降序，分数相同按标识升序
func topN(recs []Record, n int) []Record {
	slices.SortFunc(recs, func(a, b Record) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		switch {
		case a.PlayerID < b.PlayerID:
			return -1
		case a.PlayerID > b.PlayerID:
			return 1
		}
		return 0
	})
	if n >= 0 && len(recs) > n {
		recs = recs[:n]
	}
	return recs
}
