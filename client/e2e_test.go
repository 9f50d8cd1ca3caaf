package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coopsession/protocol"
	"coopsession/server"
)

func startCoordinator(t *testing.T) (string, *server.Coordinator) {
	t.Helper()
	log := zap.NewNop().Sugar()
	metrics := &server.Metrics{}
	conns := server.NewConnManager(log, metrics)
	coord := server.NewCoordinator(conns, server.Options{RetryInterval: time.Second, MaxAttempts: 3, Metrics: metrics}, log)
	srv := httptest.NewServer(server.NewRouter(coord, conns, "", log))
	t.Cleanup(func() {
		conns.CloseAll()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", coord
}

func connectClient(t *testing.T, url string, game Game) *Client {
	t.Helper()
	c := New(game, Options{ConnectTimeout: 2 * time.Second}, zap.NewNop().Sugar())
	require.NoError(t, c.Connect(context.Background(), url))
	t.Cleanup(func() { _ = c.Disconnect() })
	return c
}

func TestEndToEnd_SessionLifecycle(t *testing.T) {
	url, coord := startCoordinator(t)
	hostGame, guestGame := &gameRecorder{}, &gameRecorder{}

	host := connectClient(t, url, hostGame)
	guest := connectClient(t, url, guestGame)
	assert.NotEqual(t, host.ID(), guest.ID())
	assert.Positive(t, host.ID())

	require.NoError(t, host.SendLobbyConfig("forest", 2))
	for _, c := range []*Client{host, guest} {
		c := c
		require.Eventually(t, func() bool {
			_, ok := c.PollStartSession()
			return ok
		}, 2*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, []string{"forest"}, hostGame.resets())
	assert.Equal(t, []string{"forest"}, guestGame.resets())

	// 位置同步
	require.NoError(t, guest.Tick(3, 4, true))
	require.Eventually(t, func() bool {
		p, ok := host.RemotePlayers()[guest.ID()]
		return ok && p.X == 3 && p.Y == 4
	}, 2*time.Second, 10*time.Millisecond)
	_, self := host.RemotePlayers()[host.ID()]
	assert.False(t, self)

	// 门事件只到达其他玩家
	sent, err := host.EmitDoor(5, true)
	require.NoError(t, err)
	require.True(t, sent)
	require.Eventually(t, func() bool {
		open, known := guest.Doors().Open(5)
		return known && open
	}, 2*time.Second, 10*time.Millisecond)

	// 房主重开，双方确认后待确认集合清空
	require.NoError(t, host.RequestRestart(""))
	var firstRound int64
	for _, c := range []*Client{host, guest} {
		c := c
		require.Eventually(t, func() bool {
			req, fresh := c.PollRestart()
			if fresh && req.LevelIdentifier == "forest" {
				firstRound = req.RoundID
				return true
			}
			return false
		}, 2*time.Second, 10*time.Millisecond)
	}
	require.Eventually(t, func() bool { return coord.Status().Restart == nil }, 2*time.Second, 10*time.Millisecond)
	_, known := guest.Doors().Open(5)
	assert.False(t, known, "restart clears door state")

	// 队友离线：房主收到返回菜单
	require.NoError(t, guest.Disconnect())
	var ev MenuEvent
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = host.PollReturnToMenu()
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, MenuEvent{Reason: server.ReasonPlayerDisconnected}, ev)
	assert.Empty(t, host.RemotePlayers())
	assert.Equal(t, server.PhaseLobby, coord.Status().Phase)

	// 剩下的房主再次重开：只收到一个更新轮次的请求
	require.NoError(t, host.RequestRestart("forest"))
	var req protocol.RestartRequest
	require.Eventually(t, func() bool {
		var fresh bool
		req, fresh = host.PollRestart()
		return fresh
	}, 2*time.Second, 10*time.Millisecond)
	assert.Greater(t, req.RoundID, firstRound)
	assert.Equal(t, protocol.RestartRequest{LevelIdentifier: "forest", PlayerCount: 1, RoundID: req.RoundID}, req)
	require.Eventually(t, func() bool { return coord.Status().Restart == nil }, 2*time.Second, 10*time.Millisecond)
	_, again := host.PollRestart()
	assert.False(t, again)
	require.Eventually(t, func() bool {
		// 一次在返回菜单前，一次在之后
		return coord.Metrics().Snapshot()["restart_rounds"] == int64(2)
	}, 2*time.Second, 10*time.Millisecond)
}

// fakeCoordinator 按固定顺序写出消息后保持连接
func fakeCoordinator(t *testing.T, msgs ...protocol.Message) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, m := range msgs {
			b, err := protocol.Encode(m)
			if err != nil {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestConnect_OwnRecordBeforeWelcomeIsExcluded(t *testing.T) {
	url := fakeCoordinator(t,
		protocol.PlayerState{ID: 2},
		protocol.Welcome{ID: 2},
		protocol.PlayerState{ID: 3, X: 1, Y: 2, Alive: true},
	)
	c := connectClient(t, url, nil)

	require.Eventually(t, func() bool {
		_, ok := c.RemotePlayers()[3]
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, c.ID())
	assert.Equal(t, map[int]RemotePlayer{3: {X: 1, Y: 2, Alive: true}}, c.RemotePlayers())
}

func TestEndToEnd_ReturnToMenuRoundTrip(t *testing.T) {
	url, _ := startCoordinator(t)
	a := connectClient(t, url, nil)
	b := connectClient(t, url, nil)
	require.NoError(t, a.SendLobbyConfig("caves", 2))
	require.Eventually(t, func() bool {
		_, ok := b.PollStartSession()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.RequestReturnToMenu("quit"))
	for _, c := range []*Client{a, b} {
		c := c
		require.Eventually(t, func() bool {
			ev, ok := c.PollReturnToMenu()
			return ok && !ev.Local && ev.Reason == "quit"
		}, 2*time.Second, 10*time.Millisecond)
	}
}
