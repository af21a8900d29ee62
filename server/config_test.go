package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaultsWithoutEnvFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Arena.WorldWidth != 2000 || cfg.Arena.CellSize != 200 || cfg.Arena.TickInterval != 33*time.Millisecond {
		t.Fatalf("arena defaults = %+v", cfg.Arena)
	}
	if cfg.Store.Kind != "memory" || cfg.Persist.BatchSize != 25 {
		t.Fatalf("store/persist defaults = %+v %+v", cfg.Store, cfg.Persist)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_WORLD_WIDTH", "4000")
	t.Setenv("ARENA_TICK_INTERVAL", "50ms")
	t.Setenv("ARENA_MAX_FOOD", "10")
	t.Setenv("STORE_KIND", "DynamoDB")
	t.Setenv("LOG_STDOUT", "true")
	t.Setenv("ARENA_DIRTY_MOVE_EPSILON", "2.5")
	t.Setenv("ARENA_VIEWPORT_WIDTH", "1280")
	t.Setenv("ARENA_VIEWPORT_HEIGHT", "720")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Arena.WorldWidth != 4000 || cfg.Arena.TickInterval != 50*time.Millisecond || cfg.Arena.MaxFood != 10 {
		t.Fatalf("arena = %+v", cfg.Arena)
	}
	if cfg.Arena.DirtyMoveEpsilon != 2.5 || cfg.Arena.DefaultViewport.Width != 1280 || cfg.Arena.DefaultViewport.Height != 720 {
		t.Fatalf("epsilon = %v viewport = %+v", cfg.Arena.DirtyMoveEpsilon, cfg.Arena.DefaultViewport)
	}
	if cfg.Store.Kind != "dynamodb" || !cfg.Log.Stdout {
		t.Fatalf("store = %+v log = %+v", cfg.Store, cfg.Log)
	}
}

func TestLoadConfigReadsDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("ARENA_CELL_SIZE=250\nPERSIST_FLUSH_INTERVAL=1s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// godotenv 不覆盖已有变量；先登记以便测试结束后恢复
	t.Setenv("ARENA_CELL_SIZE", "")
	t.Setenv("PERSIST_FLUSH_INTERVAL", "")
	os.Unsetenv("ARENA_CELL_SIZE")
	os.Unsetenv("PERSIST_FLUSH_INTERVAL")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Arena.CellSize != 250 || cfg.Persist.Interval != time.Second {
		t.Fatalf("cell = %v interval = %v", cfg.Arena.CellSize, cfg.Persist.Interval)
	}
}

func TestLoadConfigCollectsErrors(t *testing.T) {
	t.Setenv("ARENA_MAX_FOOD", "lots")
	t.Setenv("ARENA_TICK_INTERVAL", "soon")
	t.Setenv("STORE_KIND", "redis")

	_, err := LoadConfig("")
	if err == nil {
		t.Fatalf("expected error")
	}
	for _, key := range []string{"ARENA_MAX_FOOD", "ARENA_TICK_INTERVAL", "STORE_KIND"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}
