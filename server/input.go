package server

import (
	"coopsession/protocol"
)

// Handle 入站消息分派：每种消息一个分支
// 只应由服务端发出的消息视为协议不一致，记录后丢弃
func (c *Coordinator) Handle(from ConnID, m protocol.Message) {
	switch msg := m.(type) {
	case protocol.PlayerState:
		// 以连接 id 为准，忽略客户端自报的 id
		c.OnPlayerState(from, msg.X, msg.Y, msg.Alive)
	case protocol.LobbyConfig:
		c.OnLobbyConfig(from, msg.LevelIdentifier, msg.ExpectedPlayers)
	case protocol.RestartAck:
		c.OnRestartAck(from, msg.RoundID)
	case protocol.HostRestart:
		c.onHostRestart(from, msg.LevelIdentifier)
	case protocol.GameOver:
		c.OnGameOver(from, msg.Reason)
	case protocol.ReturnToMenu:
		c.OnReturnToMenu(from, msg.Reason)
	case protocol.DoorEvent:
		c.OnDoorEvent(from, msg.DoorID, msg.Open)
	case protocol.Welcome, protocol.PlayerLeft, protocol.StartSession, protocol.RestartRequest:
		c.metrics.IncProtocolError()
		c.log.Debugw("server-bound message of wrong direction", "conn", from, "kind", m.Kind())
	default:
		c.metrics.IncProtocolError()
		c.log.Debugw("unhandled message", "conn", from, "kind", m.Kind())
	}
}

// onHostRestart 网络上的房主重开请求；非房主连接的请求被忽略
func (c *Coordinator) onHostRestart(from ConnID, level string) {
	c.session.mu.Lock()
	isHost := c.session.host != 0 && c.session.host == from
	c.session.mu.Unlock()
	if !isHost {
		c.log.Infow("restart request from non-host ignored", "conn", from)
		return
	}
	c.RequestRestart(level)
}
