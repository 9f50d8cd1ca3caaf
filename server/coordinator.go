package server

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coopsession/protocol"
)

// ReasonPlayerDisconnected 活跃会话中有玩家断开时返回菜单的原因
const ReasonPlayerDisconnected = "player disconnected"

// Sender 协调器的出站通道（传输层实现），每个目标即发即弃
type Sender interface {
	SendTo(id ConnID, m protocol.Message)
	Broadcast(m protocol.Message)
	BroadcastExcept(except ConnID, m protocol.Message)
}

// Options 协调器配置
type Options struct {
	RetryInterval time.Duration
	MaxAttempts   int
	Now           func() time.Time // 测试注入时钟
	Metrics       *Metrics         // 与 ConnManager 共用；为空则新建
}

// Coordinator 权威会话协调器：名册、会话生命周期、重开重试
// 每个连接事件一次处理调用，可在多个连接的 I/O 协程上并发执行
type Coordinator struct {
	log     *zap.SugaredLogger
	out     Sender
	now     func() time.Time
	metrics *Metrics

	roster  *Roster
	session session
	restart restartTracker
}

// NewCoordinator 创建协调器；out 通常是 ConnManager
func NewCoordinator(out Sender, opts Options, log *zap.SugaredLogger) *Coordinator {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = &Metrics{}
	}
	c := &Coordinator{
		log:     log,
		out:     out,
		now:     opts.Now,
		metrics: opts.Metrics,
		roster:  NewRoster(),
	}
	c.session.phase = PhaseLobby
	c.restart.retryInterval = opts.RetryInterval
	c.restart.maxAttempts = opts.MaxAttempts
	return c
}

func (c *Coordinator) Metrics() *Metrics { return c.metrics }

// OnConnect 新连接入册，告知其 id，广播整表并评估开局条件
// Welcome 先于入册入队：该连接收到的任何含自身记录的名册都排在 Welcome 之后
func (c *Coordinator) OnConnect(id ConnID) {
	c.out.SendTo(id, protocol.Welcome{ID: int(id)})
	c.roster.Add(id)
	c.log.Infow("player connected", "conn", id, "players", c.roster.Len())
	c.broadcastRoster()
	c.evaluateStart()
}

// OnDisconnect 移出名册与待确认集合；活跃会话中断开视为整局失败
func (c *Coordinator) OnDisconnect(id ConnID) {
	if !c.roster.Remove(id) {
		return
	}
	if c.restart.forget(id) {
		c.log.Debugw("dropped pending restart ack of disconnected player", "conn", id)
	}
	c.out.Broadcast(protocol.PlayerLeft{ID: int(id)})

	// 阶段判断与重置在同一临界区内，并发断开只会广播一次 ReturnToMenu
	c.session.mu.Lock()
	if c.session.host == id {
		c.session.host = 0
	}
	active := c.session.phase == PhaseActive
	if active {
		c.returnToMenuLocked(ReasonPlayerDisconnected)
	}
	c.session.mu.Unlock()

	c.log.Infow("player disconnected", "conn", id, "players", c.roster.Len(), "active", active)
	if !active {
		c.evaluateStart()
	}
}

// OnPlayerState 覆盖该连接的记录并整表广播；未知连接忽略
func (c *Coordinator) OnPlayerState(id ConnID, x, y float64, alive bool) {
	if !c.roster.Update(id, x, y, alive) {
		return
	}
	c.metrics.IncStates()
	c.broadcastRoster()
}

// OnLobbyConfig 仅在 LOBBY 阶段生效；期望人数为 0 或缺少关卡时不做任何事
// from 为 0 表示进程内房主
func (c *Coordinator) OnLobbyConfig(from ConnID, level string, expected int) {
	if level == "" || expected <= 0 {
		c.log.Debugw("ignoring lobby config", "conn", from, "level", level, "expected", expected)
		return
	}
	c.session.mu.Lock()
	if c.session.phase != PhaseLobby {
		c.session.mu.Unlock()
		c.log.Debugw("lobby config outside lobby ignored", "conn", from)
		return
	}
	c.session.level = level
	c.session.expected = expected
	c.session.started = false
	c.session.host = from
	c.session.mu.Unlock()

	c.log.Infow("lobby configured", "level", level, "expected", expected, "host", from)
	c.evaluateStart()
}

// evaluateStart 条件满足时广播 StartSession（每次 LOBBY 至多一次）
func (c *Coordinator) evaluateStart() {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	size := c.roster.Len()
	if !c.session.canStart(size) {
		return
	}
	c.session.started = true
	c.session.phase = PhaseActive
	c.session.runID = uuid.New()
	c.out.Broadcast(protocol.StartSession{LevelIdentifier: c.session.level, PlayerCount: size})
	c.metrics.IncStarted()
	c.log.Infow("session started", "run", c.session.runID, "level", c.session.level, "players", size)
}

// RequestRestart 房主发起重开：重置存活标记，开新轮次并逐个发送 RestartRequest
// level 为空时沿用当前关卡；都没有则不做任何事
func (c *Coordinator) RequestRestart(level string) (int64, bool) {
	c.session.mu.Lock()
	if level == "" {
		level = c.session.level
	}
	if level == "" {
		c.session.mu.Unlock()
		c.log.Debug("restart requested with no known level")
		return 0, false
	}
	c.session.level = level
	c.session.phase = PhaseActive
	c.session.started = true
	if c.session.runID == uuid.Nil {
		c.session.runID = uuid.New()
	}
	runID := c.session.runID

	c.roster.ResetAlive()
	ids := c.roster.IDs()
	req := c.restart.begin(level, ids, c.now())
	for _, id := range ids {
		c.out.SendTo(id, req)
	}
	c.session.mu.Unlock()

	c.metrics.IncRounds()
	c.log.Infow("restart round started", "run", runID, "round", req.RoundID, "level", level, "players", len(ids))
	c.broadcastRoster()
	return req.RoundID, true
}

// OnRestartAck 仅当轮次匹配且该连接仍待确认时移除记录
func (c *Coordinator) OnRestartAck(id ConnID, roundID int64) AckResult {
	res := c.restart.ack(id, roundID)
	if res == AckAccepted {
		c.metrics.IncAccepted()
	} else {
		c.metrics.IncStale()
		c.log.Debugw("ignored restart ack", "conn", id, "round", roundID, "result", res)
	}
	return res
}

// SweepRetries 重发超时的 RestartRequest，放弃用尽次数的记录（仅记日志）
// 持有 session.mu 直到重发入队，被返回菜单清除的轮次不会排在 ReturnToMenu 之后
func (c *Coordinator) SweepRetries(now time.Time) {
	c.session.mu.Lock()
	res := c.restart.sweep(now)
	for _, id := range res.resend {
		c.out.SendTo(id, res.req)
	}
	c.session.mu.Unlock()

	if len(res.resend) > 0 {
		c.metrics.AddResends(len(res.resend))
		c.log.Debugw("resent restart request", "round", res.req.RoundID, "conns", res.resend)
	}
	if len(res.dropped) > 0 {
		c.metrics.AddExhausted(len(res.dropped))
		c.log.Warnw("restart ack never arrived, giving up", "round", res.req.RoundID, "conns", res.dropped)
	}
}

// OnGameOver 原样中继给所有连接，不改变会话状态
func (c *Coordinator) OnGameOver(from ConnID, reason string) {
	c.metrics.IncGameOver()
	c.log.Infow("game over", "conn", from, "reason", reason)
	c.out.Broadcast(protocol.GameOver{Reason: reason})
}

// OnReturnToMenu 中继给所有连接，然后会话回到 LOBBY 并清除重开轮次
func (c *Coordinator) OnReturnToMenu(from ConnID, reason string) {
	c.log.Infow("return to menu requested", "conn", from, "reason", reason)
	c.session.mu.Lock()
	c.returnToMenuLocked(reason)
	c.session.mu.Unlock()
}

// returnToMenuLocked 需持有 session.mu
func (c *Coordinator) returnToMenuLocked(reason string) {
	c.out.Broadcast(protocol.ReturnToMenu{Reason: reason})
	runID := c.session.runID
	c.session.resetToLobby()
	c.restart.clear()

	c.metrics.IncMenu()
	c.log.Infow("session back to lobby", "run", runID, "reason", reason)
}

// OnDoorEvent 原样中继给其他所有连接，不做服务端校验
func (c *Coordinator) OnDoorEvent(from ConnID, doorID int, open bool) {
	c.metrics.IncDoor()
	c.out.BroadcastExcept(from, protocol.DoorEvent{DoorID: doorID, Open: open})
}

// broadcastRoster 整表广播：每个玩家一条 PlayerState
func (c *Coordinator) broadcastRoster() {
	for _, ps := range c.roster.Snapshot() {
		c.out.Broadcast(ps)
	}
	c.metrics.IncRoster()
}

// RetryPolicy 当前重试策略
func (c *Coordinator) RetryPolicy() RetryPolicy { return c.restart.policy() }

// SetRetryPolicy 热更新，零值字段保持不变；下一次扫描生效
func (c *Coordinator) SetRetryPolicy(p RetryPolicy) {
	c.restart.setPolicy(p)
	cur := c.restart.policy()
	c.log.Infow("retry policy updated", "interval", cur.Interval, "maxAttempts", cur.MaxAttempts)
}

// Status 会话只读快照
type Status struct {
	Phase           Phase                  `json:"phase"`
	Level           string                 `json:"level,omitempty"`
	ExpectedPlayers int                    `json:"expectedPlayers"`
	Started         bool                   `json:"started"`
	RunID           string                 `json:"runId,omitempty"`
	HostID          ConnID                 `json:"hostId,omitempty"`
	Players         []protocol.PlayerState `json:"players"`
	Restart         *RoundStatus           `json:"restart,omitempty"`
}

func (c *Coordinator) Status() Status {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	st := Status{
		Phase:           c.session.phase,
		Level:           c.session.level,
		ExpectedPlayers: c.session.expected,
		Started:         c.session.started,
		HostID:          c.session.host,
		Players:         c.roster.Snapshot(),
		Restart:         c.restart.status(),
	}
	if c.session.runID != uuid.Nil {
		st.RunID = c.session.runID.String()
	}
	return st
}
