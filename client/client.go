// Package client 每个玩家进程内的会话客户端：上报本地状态、接收名册与会话广播、
// 驱动本地生命周期（开局、重开、游戏结束、返回菜单）
package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coopsession/protocol"
	"coopsession/relay"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectTimeout   = errors.New("timed out waiting for welcome")
	ErrConnectionClosed = errors.New("connection closed before welcome")
)

// Game 游戏层入口：收到开局或新的重开请求时重置到指定关卡
type Game interface {
	ResetToLevel(level string)
}

// GameFunc 适配普通函数
type GameFunc func(level string)

func (f GameFunc) ResetToLevel(level string) { f(level) }

// Options 客户端配置
type Options struct {
	ConnectTimeout time.Duration // 等待 Welcome 的上限
	MenuWatchdog   time.Duration // 返回菜单看门狗
	World          relay.Applier // 门状态落地到世界层，可为空
	OnDisconnect   func(err error)
}

// RemotePlayer 其他玩家最近一次已知状态
type RemotePlayer struct {
	X     float64
	Y     float64
	Alive bool
}

// MenuEvent 返回菜单事件；Local 表示由看门狗在本地产生
type MenuEvent struct {
	Reason string
	Local  bool
}

// Client 会话客户端
type Client struct {
	log  *zap.SugaredLogger
	game Game
	opts Options

	mu   sync.Mutex
	conn transport
	id   atomic.Int64

	startSlot    slot[protocol.StartSession]
	restartSlot  slot[protocol.RestartRequest]
	gameOverSlot slot[protocol.GameOver]
	menuSlot     slot[MenuEvent]

	viewMu  sync.RWMutex
	remotes map[int]RemotePlayer

	doors *relay.Doors

	// 已处理的最大重开轮次，0 表示未设置（轮次从 1 开始）
	lastRestart atomic.Int64

	watchMu  sync.Mutex
	watchdog *time.Timer
	watchGen uint64
}

// New 创建客户端；game 为空时重置操作为空操作
func New(game Game, opts Options, log *zap.SugaredLogger) *Client {
	if game == nil {
		game = GameFunc(func(string) {})
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.MenuWatchdog <= 0 {
		opts.MenuWatchdog = 3 * time.Second
	}
	c := &Client{
		log:     log,
		game:    game,
		opts:    opts,
		remotes: make(map[int]RemotePlayer),
	}
	c.doors = relay.NewDoors(func(ev protocol.DoorEvent) error { return c.send(ev) }, opts.World)
	return c
}

// Connect 建立连接并等待协调器分配 id；失败直接返回，不自动重试
// address 可以是 host:port 或完整的 ws:// URL
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	url := address
	if !strings.Contains(address, "://") {
		url = "ws://" + address + "/ws"
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	t := newWSTransport(ws)
	welcomed := make(chan int, 1)

	c.mu.Lock()
	c.conn = t
	c.mu.Unlock()
	go c.readLoop(t, welcomed)

	select {
	case id := <-welcomed:
		c.log.Infow("connected", "addr", url, "id", id)
		return nil
	case <-t.done:
		c.drop(t)
		return fmt.Errorf("connect %s: %w", url, ErrConnectionClosed)
	case <-ctx.Done():
		c.drop(t)
		_ = t.Close()
		return fmt.Errorf("connect %s: %w", url, ErrConnectTimeout)
	}
}

// readLoop 读取协调器消息；退出即视为断开
func (c *Client) readLoop(t *wsTransport, welcomed chan<- int) {
	var readErr error
	defer func() {
		close(t.done)
		if c.drop(t) {
			c.log.Infow("disconnected from coordinator", "err", readErr)
			if c.opts.OnDisconnect != nil {
				c.opts.OnDisconnect(readErr)
			}
		}
	}()
	for {
		_, payload, err := t.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		msg, err := protocol.Decode(payload)
		if err != nil {
			c.log.Debugw("dropping undecodable message", "err", err)
			continue
		}
		if w, ok := msg.(protocol.Welcome); ok {
			c.welcome(w.ID)
			select {
			case welcomed <- w.ID:
			default:
			}
			continue
		}
		c.ingest(msg)
	}
}

// welcome 记下自己的 id；id 未知时收到的自身记录从视图中移除
func (c *Client) welcome(id int) {
	c.id.Store(int64(id))
	c.viewMu.Lock()
	delete(c.remotes, id)
	c.viewMu.Unlock()
}

// drop 若 t 仍是当前连接则解除绑定，返回是否解除
func (c *Client) drop(t transport) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != t {
		return false
	}
	c.conn = nil
	c.id.Store(0)
	return true
}

// Disconnect 关闭连接；重复调用无副作用
func (c *Client) Disconnect() error {
	c.mu.Lock()
	t := c.conn
	c.conn = nil
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	c.id.Store(0)
	c.log.Info("disconnecting")
	return t.Close()
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ID 协调器分配的连接 id，未连接时为 0
func (c *Client) ID() int { return int(c.id.Load()) }

func (c *Client) send(m protocol.Message) error {
	c.mu.Lock()
	t := c.conn
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	if err := t.Send(m); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	return nil
}

// Tick 上报本地玩家状态（即发即弃，不需要确认）
func (c *Client) Tick(x, y float64, alive bool) error {
	return c.send(protocol.PlayerState{ID: c.ID(), X: x, Y: y, Alive: alive})
}

// SendLobbyConfig 房主设置关卡与期望人数
func (c *Client) SendLobbyConfig(level string, expectedPlayers int) error {
	return c.send(protocol.LobbyConfig{LevelIdentifier: level, ExpectedPlayers: expectedPlayers})
}

// RequestRestart 房主请求重开；level 为空时沿用当前关卡
func (c *Client) RequestRestart(level string) error {
	return c.send(protocol.HostRestart{LevelIdentifier: level})
}

// SendGameOver 由世界层的死亡判定触发
func (c *Client) SendGameOver(reason string) error {
	return c.send(protocol.GameOver{Reason: reason})
}

// EmitDoor 本地门状态变化，每次真实变化只发送一次
func (c *Client) EmitDoor(doorID int, open bool) (bool, error) {
	return c.doors.Emit(doorID, open)
}

func (c *Client) Doors() *relay.Doors { return c.doors }

// RemotePlayers 其他玩家视图的副本
func (c *Client) RemotePlayers() map[int]RemotePlayer {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return maps.Clone(c.remotes)
}

// ingest 网络协程中处理一条入站消息（不阻塞）
func (c *Client) ingest(m protocol.Message) {
	switch msg := m.(type) {
	case protocol.PlayerState:
		if msg.ID == c.ID() {
			return
		}
		c.viewMu.Lock()
		c.remotes[msg.ID] = RemotePlayer{X: msg.X, Y: msg.Y, Alive: msg.Alive}
		c.viewMu.Unlock()
	case protocol.PlayerLeft:
		c.viewMu.Lock()
		delete(c.remotes, msg.ID)
		c.viewMu.Unlock()
	case protocol.StartSession:
		c.startSlot.put(msg)
	case protocol.RestartRequest:
		c.restartSlot.put(msg)
	case protocol.GameOver:
		c.gameOverSlot.put(msg)
	case protocol.ReturnToMenu:
		c.stopWatchdog()
		c.teardown()
		c.menuSlot.put(MenuEvent{Reason: msg.Reason})
	case protocol.DoorEvent:
		c.doors.Apply(msg)
	case protocol.Welcome:
		c.welcome(msg.ID)
	default:
		c.log.Debugw("client-bound message of wrong direction", "kind", m.Kind())
	}
}

// PollStartSession 取出开局事件：重置到对应关卡，并清除已处理的重开轮次
func (c *Client) PollStartSession() (protocol.StartSession, bool) {
	ev, ok := c.startSlot.take()
	if !ok {
		return ev, false
	}
	c.lastRestart.Store(0)
	c.doors.Reset()
	c.game.ResetToLevel(ev.LevelIdentifier)
	return ev, true
}

// PollRestart 取出重开请求；无论轮次新旧都回复确认
// 仅当轮次大于已处理轮次时重置关卡并返回 true
func (c *Client) PollRestart() (protocol.RestartRequest, bool) {
	ev, ok := c.restartSlot.take()
	if !ok {
		return ev, false
	}
	fresh := ev.RoundID > c.lastRestart.Load()
	if fresh {
		c.lastRestart.Store(ev.RoundID)
		c.doors.Reset()
		c.game.ResetToLevel(ev.LevelIdentifier)
	}
	if err := c.send(protocol.RestartAck{RoundID: ev.RoundID}); err != nil {
		c.log.Warnw("restart ack not sent", "round", ev.RoundID, "err", err)
	}
	return ev, fresh
}

func (c *Client) PollGameOver() (protocol.GameOver, bool) {
	return c.gameOverSlot.take()
}

func (c *Client) PollReturnToMenu() (MenuEvent, bool) {
	return c.menuSlot.take()
}

// LastHandledRestart 已处理的最大重开轮次，0 表示未设置
func (c *Client) LastHandledRestart() int64 { return c.lastRestart.Load() }
