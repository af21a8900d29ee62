package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"blobarena/arena"
	"blobarena/persist"
)

// LogConfig 日志输出
type LogConfig struct {
	File   string
	Level  string
	Stdout bool
}

// StoreConfig 持久化后端：memory 或 dynamodb
type StoreConfig struct {
	Kind   string
	Table  string
	Region string
}

// Config 进程级配置
type Config struct {
	Addr      string
	StaticDir string
	InboxSize int // 房间命令队列容量

	Arena   arena.Config
	Persist persist.Options
	Store   StoreConfig
	Log     LogConfig
}

func DefaultConfig() Config {
	return Config{
		Addr:      ":8080",
		StaticDir: "web",
		InboxSize: 1024,
		Arena:     arena.DefaultConfig(),
		Persist: persist.Options{
			BatchSize:       25,
			Interval:        5 * time.Second,
			WriteTimeout:    2 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Store: StoreConfig{Kind: "memory", Table: persist.DefaultTable, Region: "us-east-1"},
		Log:   LogConfig{File: "app.log", Level: "info"},
	}
}

// LoadConfig 先加载 .env（不存在则跳过），再从环境变量覆盖默认值
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()
	e := &envReader{}

	cfg.Addr = e.text("ARENA_ADDR", cfg.Addr)
	cfg.StaticDir = e.text("ARENA_STATIC_DIR", cfg.StaticDir)
	cfg.InboxSize = e.integer("ARENA_INBOX_SIZE", cfg.InboxSize)

	a := &cfg.Arena
	a.WorldWidth = e.number("ARENA_WORLD_WIDTH", a.WorldWidth)
	a.WorldHeight = e.number("ARENA_WORLD_HEIGHT", a.WorldHeight)
	a.CellSize = e.number("ARENA_CELL_SIZE", a.CellSize)
	a.TickInterval = e.dur("ARENA_TICK_INTERVAL", a.TickInterval)
	a.MaxFood = e.integer("ARENA_MAX_FOOD", a.MaxFood)
	a.FoodRadius = e.number("ARENA_FOOD_RADIUS", a.FoodRadius)
	a.AbsorbFactor = e.number("ARENA_ABSORB_FACTOR", a.AbsorbFactor)
	a.GrowthThreshold = e.number("ARENA_GROWTH_THRESHOLD", a.GrowthThreshold)
	a.DefaultRadius = e.number("ARENA_DEFAULT_RADIUS", a.DefaultRadius)
	a.MaxSpeed = e.number("ARENA_MAX_SPEED", a.MaxSpeed)
	a.LeaderboardSize = e.integer("ARENA_LEADERBOARD_SIZE", a.LeaderboardSize)
	a.DirtyMoveEpsilon = e.number("ARENA_DIRTY_MOVE_EPSILON", a.DirtyMoveEpsilon)
	a.DefaultViewport.Width = e.number("ARENA_VIEWPORT_WIDTH", a.DefaultViewport.Width)
	a.DefaultViewport.Height = e.number("ARENA_VIEWPORT_HEIGHT", a.DefaultViewport.Height)
	cfg.Arena = cfg.Arena.Normalized()

	p := &cfg.Persist
	p.BatchSize = e.integer("PERSIST_BATCH_SIZE", p.BatchSize)
	p.Interval = e.dur("PERSIST_FLUSH_INTERVAL", p.Interval)
	p.WriteTimeout = e.dur("PERSIST_WRITE_TIMEOUT", p.WriteTimeout)
	p.ShutdownTimeout = e.dur("PERSIST_SHUTDOWN_TIMEOUT", p.ShutdownTimeout)

	cfg.Store.Kind = strings.ToLower(e.text("STORE_KIND", cfg.Store.Kind))
	cfg.Store.Table = e.text("STORE_TABLE", cfg.Store.Table)
	cfg.Store.Region = e.text("AWS_REGION", cfg.Store.Region)
	switch cfg.Store.Kind {
	case "memory", "dynamodb":
	default:
		e.errs = multierr.Append(e.errs, fmt.Errorf("STORE_KIND: unsupported %q", cfg.Store.Kind))
	}

	cfg.Log.File = e.text("LOG_FILE", cfg.Log.File)
	cfg.Log.Level = e.text("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Stdout = e.flag("LOG_STDOUT", cfg.Log.Stdout)

	return cfg, e.errs
}

// envReader 读取环境变量，解析错误累积后统一返回
type envReader struct {
	errs error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = multierr.Append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
}

func (e *envReader) text(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) number(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func (e *envReader) flag(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}
