package server

import (
	"sync"

	"github.com/google/uuid"
)

// Phase 会话阶段
type Phase string

const (
	PhaseLobby  Phase = "LOBBY"
	PhaseActive Phase = "ACTIVE"
)

// session 进程内唯一的会话状态，独立的互斥域
// 加锁顺序：session → roster → restart
type session struct {
	mu       sync.Mutex
	phase    Phase
	level    string
	expected int
	started  bool
	host     ConnID // 0 表示无房主连接
	runID    uuid.UUID
}

// canStart 需持有 mu
func (s *session) canStart(rosterSize int) bool {
	return s.phase == PhaseLobby && !s.started &&
		s.level != "" && s.expected > 0 && rosterSize >= s.expected
}

// resetToLobby 需持有 mu；清空关卡与期望人数
func (s *session) resetToLobby() {
	s.phase = PhaseLobby
	s.level = ""
	s.expected = 0
	s.started = false
	s.runID = uuid.Nil
}
