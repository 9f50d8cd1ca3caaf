// coopbot 无界面的测试玩家：连接协调器，按固定频率上报位置，
// 自动处理开局、重开确认与返回菜单
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coopsession/client"
	"coopsession/config"
	"coopsession/logging"
)

func main() {
	cfg, err := config.FromEnv(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.LogFile = "coopbot.log"

	fs := flag.NewFlagSet("coopbot", flag.ExitOnError)
	cfg.RegisterFlags(fs)
	server := fs.String("server", "localhost:54555", "coordinator address (host:port or ws:// URL)")
	level := fs.String("host-level", "", "send lobby config for this level (act as host)")
	players := fs.Int("players", 2, "expected players when hosting")
	tickRate := fs.Duration("tick", 50*time.Millisecond, "state report period")
	_ = fs.Parse(os.Args[1:])
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log, err := logging.New(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel, Stderr: true})
	if err != nil {
		panic(err)
	}
	defer logging.Sync(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	lost := make(chan error, 1)
	c := client.New(client.GameFunc(func(lvl string) {
		log.Infow("reset to level", "level", lvl)
	}), client.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		MenuWatchdog:   cfg.MenuWatchdog,
		OnDisconnect:   func(err error) { lost <- err },
	}, log)

	if err := c.Connect(ctx, *server); err != nil {
		log.Errorw("connect failed", "err", err)
		logging.Sync(log)
		os.Exit(1)
	}
	if *level != "" {
		if err := c.SendLobbyConfig(*level, *players); err != nil {
			log.Warnw("lobby config not sent", "err", err)
		}
	}

	g.Go(func() error { return run(ctx, c, *tickRate, log) })
	g.Go(func() error {
		select {
		case err := <-lost:
			return fmt.Errorf("coordinator connection lost: %w", err)
		case <-ctx.Done():
			return c.Disconnect()
		}
	})

	if err := g.Wait(); err != nil {
		log.Errorw("bot stopped", "err", err)
	}
}

// run 游戏循环：每帧先处理槽位事件，再上报状态
func run(ctx context.Context, c *client.Client, every time.Duration, log *zap.SugaredLogger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	var t float64
	playing := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ev, ok := c.PollStartSession(); ok {
			log.Infow("session started", "level", ev.LevelIdentifier, "players", ev.PlayerCount)
			playing, t = true, 0
		}
		// 过期或重复的轮次也已确认，只是不重置
		if req, fresh := c.PollRestart(); fresh {
			log.Infow("restart", "round", req.RoundID, "level", req.LevelIdentifier)
			playing, t = true, 0
		}
		if ev, ok := c.PollGameOver(); ok {
			log.Infow("game over", "reason", ev.Reason)
		}
		if ev, ok := c.PollReturnToMenu(); ok {
			log.Infow("back to menu", "reason", ev.Reason, "local", ev.Local)
			playing = false
		}
		if !playing {
			continue
		}

		t += every.Seconds()
		if err := c.Tick(math.Cos(t)*5, math.Sin(t)*5, true); err != nil {
			return err
		}
	}
}
