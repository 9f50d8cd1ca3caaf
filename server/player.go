package server

import (
	"sort"
	"sync"

	"coopsession/protocol"
)

// ConnID 连接级唯一标识（连接建立时分配，断开即失效）
type ConnID int

// Player 名册中的玩家记录（服务端权威）
type Player struct {
	ID    ConnID
	X     float64
	Y     float64
	Alive bool
}

func (p Player) state() protocol.PlayerState {
	return protocol.PlayerState{ID: int(p.ID), X: p.X, Y: p.Y, Alive: p.Alive}
}

// Roster 玩家名册，独立的互斥域
type Roster struct {
	mu      sync.RWMutex
	players map[ConnID]*Player
}

func NewRoster() *Roster {
	return &Roster{players: make(map[ConnID]*Player)}
}

// Add 新连接以 (0,0)、未存活 入册
func (r *Roster) Add(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[id] = &Player{ID: id}
}

// Remove 返回是否确实移除了记录
func (r *Roster) Remove(id ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.players[id]; !ok {
		return false
	}
	delete(r.players, id)
	return true
}

// Update 以最新状态覆盖；未知连接返回 false
func (r *Roster) Update(id ConnID, x, y float64, alive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.X, p.Y, p.Alive = x, y, alive
	return true
}

// ResetAlive 重开关卡时所有玩家标记为未存活
func (r *Roster) ResetAlive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.players {
		p.Alive = false
	}
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

func (r *Roster) Has(id ConnID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[id]
	return ok
}

// IDs 按 id 升序
func (r *Roster) IDs() []ConnID {
	r.mu.RLock()
	ids := make([]ConnID, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot 名册的只读副本（按 id 升序），用于整表广播
func (r *Roster) Snapshot() []protocol.PlayerState {
	r.mu.RLock()
	out := make([]protocol.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p.state())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
