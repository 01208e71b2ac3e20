package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fpsrelay/server"
)

// FPS 中继服务入口：读取环境变量配置，启动 HTTP + WebSocket 服务
func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		os.Exit(2)
	}
	var addr string
	flag.StringVar(&addr, "addr", "", "server listen address, e.g. :3000 (overrides HOST/PORT)")
	flag.Parse()
	if addr == "" {
		addr = cfg.Addr()
	}

	// zap 日志写入滚动文件并同步输出到 stderr
	if err := server.InitLogger(cfg.Log); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(cfg)
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewHandler(hub, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		server.Log.Infof("FPS relay listening on %s", addr)
		for _, ip := range server.ServerIPs() {
			server.Log.Infof("  ws://%s:%d", ip, cfg.Port)
		}
		if cfg.StaticDir != "" {
			server.Log.Infof("game client served from %s at http://localhost:%d", cfg.StaticDir, cfg.Port)
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）：先让 Hub 向所有客户端发送 1001 关闭帧
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	stopped := make(chan struct{})
	go func() {
		hub.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
}
