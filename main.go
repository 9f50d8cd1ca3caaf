package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"coopsession/config"
	"coopsession/logging"
	"coopsession/server"
)

// 协调器入口：启动 HTTP + WebSocket 服务与重开重试扫描
func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// zap 日志写入滚动文件
	log, err := logging.New(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel, Stderr: cfg.LogStderr})
	if err != nil {
		panic(err)
	}
	defer logging.Sync(log)

	metrics := &server.Metrics{}
	conns := server.NewConnManager(log, metrics)
	coord := server.NewCoordinator(conns, server.Options{
		RetryInterval: cfg.RetryInterval,
		MaxAttempts:   cfg.MaxAttempts,
		Metrics:       metrics,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(coord, conns, joinURL(cfg), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("coordinator listening on %s; join via %s", cfg.Addr, joinURL(cfg))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coord.RunRetrySweep(ctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		// Shutdown 不会关闭已升级的 websocket 连接
		conns.CloseAll()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Errorw("coordinator stopped", "err", err)
		logging.Sync(log)
		os.Exit(1)
	}
}

// joinURL 客户端连接地址，用于加入二维码
func joinURL(cfg config.Config) string {
	addr := cfg.PublicAddr
	if addr == "" {
		host, port, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return "ws://localhost" + cfg.Addr + "/ws"
		}
		if host == "" {
			host = "localhost"
		}
		addr = net.JoinHostPort(host, port)
	}
	return "ws://" + addr + "/ws"
}
