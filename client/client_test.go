package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"coopsession/protocol"
)

// fakeTransport 记录发送的消息
type fakeTransport struct {
	mu     sync.Mutex
	sent   []protocol.Message
	err    error
	closed int
}

func (f *fakeTransport) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

// gameRecorder 记录 ResetToLevel 调用
type gameRecorder struct {
	mu     sync.Mutex
	levels []string
}

func (g *gameRecorder) ResetToLevel(level string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.levels = append(g.levels, level)
}

func (g *gameRecorder) resets() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.levels...)
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeTransport, *gameRecorder) {
	t.Helper()
	game := &gameRecorder{}
	c := New(game, opts, zaptest.NewLogger(t).Sugar())
	tr := &fakeTransport{}
	c.conn = tr
	c.id.Store(1)
	return c, tr, game
}

func TestPollRestart_AcksEveryRoundResetsOnlyFresh(t *testing.T) {
	c, tr, game := newTestClient(t, Options{})

	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 4})
	req, fresh := c.PollRestart()
	assert.True(t, fresh)
	assert.Equal(t, int64(4), req.RoundID)
	assert.Equal(t, int64(4), c.LastHandledRestart())

	// 重发同一轮次：回复确认但不重置
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 4})
	_, fresh = c.PollRestart()
	assert.False(t, fresh)

	// 更旧的轮次
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 3})
	_, fresh = c.PollRestart()
	assert.False(t, fresh)

	assert.Equal(t, []string{"l1"}, game.resets())
	assert.Equal(t, []protocol.Message{
		protocol.RestartAck{RoundID: 4},
		protocol.RestartAck{RoundID: 4},
		protocol.RestartAck{RoundID: 3},
	}, tr.messages())

	_, ok := c.PollRestart()
	assert.False(t, ok, "slot is consumed by take")
}

func TestPollStartSession_ClearsLastRestart(t *testing.T) {
	c, _, game := newTestClient(t, Options{})

	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 1, RoundID: 9})
	_, fresh := c.PollRestart()
	require.True(t, fresh)

	c.ingest(protocol.StartSession{LevelIdentifier: "l2", PlayerCount: 1})
	ev, ok := c.PollStartSession()
	require.True(t, ok)
	assert.Equal(t, "l2", ev.LevelIdentifier)
	assert.Zero(t, c.LastHandledRestart())

	// 新会话里较小的轮次也视为新的
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l2", PlayerCount: 1, RoundID: 1})
	_, fresh = c.PollRestart()
	assert.True(t, fresh)
	assert.Equal(t, []string{"l1", "l2", "l2"}, game.resets())
}

func TestSlots_LatestWins(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})

	c.ingest(protocol.GameOver{Reason: "first"})
	c.ingest(protocol.GameOver{Reason: "second"})
	ev, ok := c.PollGameOver()
	require.True(t, ok)
	assert.Equal(t, "second", ev.Reason)
	_, ok = c.PollGameOver()
	assert.False(t, ok)
}

func TestRemoteView_ExcludesSelfAndPrunes(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})

	c.ingest(protocol.PlayerState{ID: 1, X: 1, Y: 1, Alive: true})
	c.ingest(protocol.PlayerState{ID: 2, X: 3, Y: 4, Alive: true})
	c.ingest(protocol.PlayerState{ID: 3, X: 5, Y: 6})
	assert.Equal(t, map[int]RemotePlayer{
		2: {X: 3, Y: 4, Alive: true},
		3: {X: 5, Y: 6},
	}, c.RemotePlayers())

	c.ingest(protocol.PlayerLeft{ID: 2})
	_, ok := c.RemotePlayers()[2]
	assert.False(t, ok)
	assert.Len(t, c.RemotePlayers(), 1)
}

func TestReturnToMenu_BroadcastTearsDown(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	c.ingest(protocol.PlayerState{ID: 2, Alive: true})
	c.ingest(protocol.DoorEvent{DoorID: 7, Open: true})
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 2})
	_, _ = c.PollRestart()

	c.ingest(protocol.ReturnToMenu{Reason: "player disconnected"})

	ev, ok := c.PollReturnToMenu()
	require.True(t, ok)
	assert.Equal(t, MenuEvent{Reason: "player disconnected"}, ev)
	assert.Empty(t, c.RemotePlayers())
	assert.Empty(t, c.Doors().Snapshot())
	assert.Equal(t, int64(2), c.LastHandledRestart(), "only a session start clears the handled round")
}

func TestReturnToMenu_LateRestartOfHandledRoundDoesNotReset(t *testing.T) {
	c, tr, game := newTestClient(t, Options{})
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 1})
	_, fresh := c.PollRestart()
	require.True(t, fresh)

	c.ingest(protocol.ReturnToMenu{Reason: "quit"})
	_, ok := c.PollReturnToMenu()
	require.True(t, ok)

	// 协调器在返回菜单前已入队的重发
	c.ingest(protocol.RestartRequest{LevelIdentifier: "l1", PlayerCount: 2, RoundID: 1})
	_, fresh = c.PollRestart()
	assert.False(t, fresh)
	assert.Equal(t, []string{"l1"}, game.resets())
	assert.Equal(t, protocol.RestartAck{RoundID: 1}, tr.messages()[len(tr.messages())-1])
}

func TestWelcome_PrunesOwnRecordReceivedBeforeID(t *testing.T) {
	c, _, _ := newTestClient(t, Options{})
	c.id.Store(0)

	c.ingest(protocol.PlayerState{ID: 2, X: 1, Y: 1})
	c.ingest(protocol.PlayerState{ID: 3, X: 2, Y: 2})
	c.ingest(protocol.Welcome{ID: 2})

	assert.Equal(t, 2, c.ID())
	assert.Equal(t, map[int]RemotePlayer{3: {X: 2, Y: 2}}, c.RemotePlayers())
}

func TestRequestReturnToMenu_WatchdogFiresLocally(t *testing.T) {
	c, tr, _ := newTestClient(t, Options{MenuWatchdog: 30 * time.Millisecond})
	c.ingest(protocol.PlayerState{ID: 2, Alive: true})

	require.NoError(t, c.RequestReturnToMenu("quit"))
	assert.Equal(t, []protocol.Message{protocol.ReturnToMenu{Reason: "quit"}}, tr.messages())

	var ev MenuEvent
	require.Eventually(t, func() bool {
		var ok bool
		ev, ok = c.PollReturnToMenu()
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, MenuEvent{Reason: "quit", Local: true}, ev)
	assert.Empty(t, c.RemotePlayers())
	assert.True(t, c.Connected(), "watchdog leaves the transport open")
}

func TestRequestReturnToMenu_BroadcastCancelsWatchdog(t *testing.T) {
	c, _, _ := newTestClient(t, Options{MenuWatchdog: 30 * time.Millisecond})

	require.NoError(t, c.RequestReturnToMenu("quit"))
	c.ingest(protocol.ReturnToMenu{Reason: "quit"})

	ev, ok := c.PollReturnToMenu()
	require.True(t, ok)
	assert.False(t, ev.Local)

	time.Sleep(80 * time.Millisecond)
	_, ok = c.PollReturnToMenu()
	assert.False(t, ok, "watchdog must not fire after the broadcast")
}

func TestRequestReturnToMenu_SendFailureStillArmsWatchdog(t *testing.T) {
	c, tr, _ := newTestClient(t, Options{MenuWatchdog: 20 * time.Millisecond})
	tr.err = errors.New("broken pipe")

	require.Error(t, c.RequestReturnToMenu("quit"))
	require.Eventually(t, func() bool {
		ev, ok := c.PollReturnToMenu()
		return ok && ev.Local
	}, time.Second, 5*time.Millisecond)
}

func TestDoors_EmitSendsOncePerChange(t *testing.T) {
	c, tr, _ := newTestClient(t, Options{})

	sent, err := c.EmitDoor(4, true)
	require.NoError(t, err)
	assert.True(t, sent)
	sent, err = c.EmitDoor(4, true)
	require.NoError(t, err)
	assert.False(t, sent)

	assert.Equal(t, []protocol.Message{protocol.DoorEvent{DoorID: 4, Open: true}}, tr.messages())
}

func TestSend_NotConnected(t *testing.T) {
	c := New(nil, Options{}, zaptest.NewLogger(t).Sugar())

	assert.ErrorIs(t, c.Tick(1, 2, true), ErrNotConnected)
	assert.ErrorIs(t, c.SendLobbyConfig("l1", 2), ErrNotConnected)
	assert.ErrorIs(t, c.SendGameOver("dead"), ErrNotConnected)
	assert.Zero(t, c.ID())
}

func TestDisconnect_Idempotent(t *testing.T) {
	c, tr, _ := newTestClient(t, Options{})

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())
	assert.Equal(t, 1, tr.closed)
	assert.False(t, c.Connected())
	assert.Zero(t, c.ID())
}

func TestConnect_Unreachable(t *testing.T) {
	c := New(nil, Options{ConnectTimeout: 200 * time.Millisecond}, zaptest.NewLogger(t).Sugar())

	err := c.Connect(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
	assert.False(t, c.Connected())
}
