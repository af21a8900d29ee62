package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blobarena/persist"
	"blobarena/server"
)

// BlobArena 入口：加载配置，启动竞技场、持久化与 HTTP + WebSocket 服务
func main() {
	var addr, envFile string
	flag.StringVar(&addr, "addr", "", "server listen address, e.g. :8080 (overrides ARENA_ADDR)")
	flag.StringVar(&envFile, "env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	cfg, err := server.LoadConfig(envFile)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.Log); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		server.Log.Errorw("open store", "kind", cfg.Store.Kind, "error", err)
		os.Exit(1)
	}

	mgr := server.NewManager(cfg, store)
	mgr.Start(context.Background())

	mux := http.NewServeMux()
	mgr.Routes(mux)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		server.Log.Infof("BlobArena listening on %s; open http://localhost%v/", cfg.Addr, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）：先断开 HTTP，再停 Tick 并做最后一次持久化
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnw("http shutdown", "error", err)
	}
	mgr.Shutdown()
}

func openStore(ctx context.Context, cfg server.StoreConfig) (persist.Store, error) {
	switch cfg.Kind {
	case "dynamodb":
		return persist.NewDynamoStore(ctx, cfg.Region, cfg.Table)
	default:
		return persist.NewMemoryStore(), nil
	}
}
