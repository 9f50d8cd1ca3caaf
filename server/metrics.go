package server

import (
	"sync/atomic"
)

// Metrics 协调器运行期的关键指标（用于监控与调试）
type Metrics struct {
	StatesReceived   int64 // 收到的玩家状态数
	RosterBroadcasts int64 // 整表广播次数
	SessionsStarted  int64 // LOBBY → ACTIVE 次数
	RestartRounds    int64 // 开启的重开轮次
	RestartResends   int64 // 扫描触发的重发
	AcksAccepted     int64 // 有效确认
	AcksStale        int64 // 过期/重复确认
	RetryExhausted   int64 // 达到上限被放弃的记录
	ReturnsToMenu    int64 // 返回菜单次数
	GameOvers        int64 // 中继的游戏结束
	DoorEvents       int64 // 中继的门事件
	ProtocolErrors   int64 // 无法解码或方向不对的消息
	SlowConsumers    int64 // 因发送队列满被关闭的连接
}

func (m *Metrics) IncStates()         { atomic.AddInt64(&m.StatesReceived, 1) }
func (m *Metrics) IncRoster()         { atomic.AddInt64(&m.RosterBroadcasts, 1) }
func (m *Metrics) IncStarted()        { atomic.AddInt64(&m.SessionsStarted, 1) }
func (m *Metrics) IncRounds()         { atomic.AddInt64(&m.RestartRounds, 1) }
func (m *Metrics) AddResends(n int)   { atomic.AddInt64(&m.RestartResends, int64(n)) }
func (m *Metrics) IncAccepted()       { atomic.AddInt64(&m.AcksAccepted, 1) }
func (m *Metrics) IncStale()          { atomic.AddInt64(&m.AcksStale, 1) }
func (m *Metrics) AddExhausted(n int) { atomic.AddInt64(&m.RetryExhausted, int64(n)) }
func (m *Metrics) IncMenu()           { atomic.AddInt64(&m.ReturnsToMenu, 1) }
func (m *Metrics) IncGameOver()       { atomic.AddInt64(&m.GameOvers, 1) }
func (m *Metrics) IncDoor()           { atomic.AddInt64(&m.DoorEvents, 1) }
func (m *Metrics) IncProtocolError()  { atomic.AddInt64(&m.ProtocolErrors, 1) }
func (m *Metrics) IncSlowConsumer()   { atomic.AddInt64(&m.SlowConsumers, 1) }

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"states_received":   atomic.LoadInt64(&m.StatesReceived),
		"roster_broadcasts": atomic.LoadInt64(&m.RosterBroadcasts),
		"sessions_started":  atomic.LoadInt64(&m.SessionsStarted),
		"restart_rounds":    atomic.LoadInt64(&m.RestartRounds),
		"restart_resends":   atomic.LoadInt64(&m.RestartResends),
		"acks_accepted":     atomic.LoadInt64(&m.AcksAccepted),
		"acks_stale":        atomic.LoadInt64(&m.AcksStale),
		"retry_exhausted":   atomic.LoadInt64(&m.RetryExhausted),
		"returns_to_menu":   atomic.LoadInt64(&m.ReturnsToMenu),
		"game_overs":        atomic.LoadInt64(&m.GameOvers),
		"door_events":       atomic.LoadInt64(&m.DoorEvents),
		"protocol_errors":   atomic.LoadInt64(&m.ProtocolErrors),
		"slow_consumers":    atomic.LoadInt64(&m.SlowConsumers),
	}
}
