package server

import (
	"sync"

	"go.uber.org/zap"

	"coopsession/protocol"
)

// ConnManager 管理所有在线连接，实现 Sender
// 广播时每条消息只编码一次；发送队列满的连接被关闭，而不是静默丢消息
type ConnManager struct {
	log     *zap.SugaredLogger
	metrics *Metrics

	mu     sync.RWMutex
	conns  map[ConnID]*ClientConn
	lastID ConnID
}

func NewConnManager(log *zap.SugaredLogger, metrics *Metrics) *ConnManager {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &ConnManager{
		log:     log,
		metrics: metrics,
		conns:   make(map[ConnID]*ClientConn),
	}
}

// Add 分配新的连接 id（从 1 开始递增，不复用）
func (m *ConnManager) Add(c *ClientConn) ConnID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID++
	m.conns[m.lastID] = c
	return m.lastID
}

func (m *ConnManager) Remove(id ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conns, id)
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *ConnManager) SendTo(id ConnID, msg protocol.Message) {
	b, ok := m.encode(msg)
	if !ok {
		return
	}
	m.mu.RLock()
	c := m.conns[id]
	m.mu.RUnlock()
	if c != nil {
		m.deliver(id, c, b)
	}
}

func (m *ConnManager) Broadcast(msg protocol.Message) {
	m.BroadcastExcept(0, msg)
}

func (m *ConnManager) BroadcastExcept(except ConnID, msg protocol.Message) {
	b, ok := m.encode(msg)
	if !ok {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, c := range m.conns {
		if id == except {
			continue
		}
		m.deliver(id, c, b)
	}
}

// CloseAll 关闭所有连接（进程退出时）
func (m *ConnManager) CloseAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conns {
		c.Close()
	}
}

func (m *ConnManager) deliver(id ConnID, c *ClientConn, b []byte) {
	if c.Enqueue(b) {
		return
	}
	m.metrics.IncSlowConsumer()
	m.log.Warnw("send queue full, closing connection", "conn", id)
	c.Close()
}

func (m *ConnManager) encode(msg protocol.Message) ([]byte, bool) {
	b, err := protocol.Encode(msg)
	if err != nil {
		m.log.Errorw("encode outbound message", "kind", msg.Kind(), "err", err)
		return nil, false
	}
	return b, true
}
