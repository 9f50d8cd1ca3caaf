package server

import (
	"sort"
	"sync"
	"time"

	"coopsession/protocol"
)

// pendingAck 某连接对当前轮次尚未确认的发送记录
type pendingAck struct {
	attempts   int
	lastSentAt time.Time
}

// restartRound 一次重开同步尝试
type restartRound struct {
	id          int64
	level       string
	playerCount int
	pending     map[ConnID]*pendingAck
}

func (r *restartRound) request() protocol.RestartRequest {
	return protocol.RestartRequest{LevelIdentifier: r.level, PlayerCount: r.playerCount, RoundID: r.id}
}

// AckResult 确认处理结果
type AckResult int

const (
	AckAccepted  AckResult = iota // 移除了一条待确认记录
	AckStale                      // 轮次已过期或当前无轮次
	AckDuplicate                  // 轮次正确但该连接已确认过（或不在本轮）
)

// restartTracker 重开轮次与待确认集合，独立的互斥域
// 同一时间至多一个轮次；轮次 id 单调递增
type restartTracker struct {
	mu            sync.Mutex
	lastID        int64
	round         *restartRound
	retryInterval time.Duration
	maxAttempts   int
}

// begin 开启新轮次（旧轮次作废），每个连接记一次发送
func (t *restartTracker) begin(level string, ids []ConnID, now time.Time) protocol.RestartRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	round := &restartRound{
		id:          t.lastID,
		level:       level,
		playerCount: len(ids),
		pending:     make(map[ConnID]*pendingAck, len(ids)),
	}
	for _, id := range ids {
		round.pending[id] = &pendingAck{attempts: 1, lastSentAt: now}
	}
	if len(round.pending) > 0 {
		t.round = round
	} else {
		t.round = nil
	}
	return round.request()
}

func (t *restartTracker) ack(id ConnID, roundID int64) AckResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.round == nil || t.round.id != roundID {
		return AckStale
	}
	if _, ok := t.round.pending[id]; !ok {
		return AckDuplicate
	}
	delete(t.round.pending, id)
	if len(t.round.pending) == 0 {
		t.round = nil
	}
	return AckAccepted
}

// forget 连接断开：移除其待确认记录，不再重发
func (t *restartTracker) forget(id ConnID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.round == nil {
		return false
	}
	if _, ok := t.round.pending[id]; !ok {
		return false
	}
	delete(t.round.pending, id)
	if len(t.round.pending) == 0 {
		t.round = nil
	}
	return true
}

func (t *restartTracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.round = nil
}

// sweepResult 一次扫描需要重发与放弃的连接
type sweepResult struct {
	req     protocol.RestartRequest
	resend  []ConnID
	dropped []ConnID
}

// sweep 超过重试间隔的记录：未达上限则重发并计数，已达上限则丢弃
func (t *restartTracker) sweep(now time.Time) sweepResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.round == nil {
		return sweepResult{}
	}
	res := sweepResult{req: t.round.request()}
	for id, p := range t.round.pending {
		if now.Sub(p.lastSentAt) < t.retryInterval {
			continue
		}
		if p.attempts < t.maxAttempts {
			p.attempts++
			p.lastSentAt = now
			res.resend = append(res.resend, id)
			continue
		}
		delete(t.round.pending, id)
		res.dropped = append(res.dropped, id)
	}
	if len(t.round.pending) == 0 {
		t.round = nil
	}
	sort.Slice(res.resend, func(i, j int) bool { return res.resend[i] < res.resend[j] })
	sort.Slice(res.dropped, func(i, j int) bool { return res.dropped[i] < res.dropped[j] })
	return res
}

// RetryPolicy 重试策略
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

func (t *restartTracker) policy() RetryPolicy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RetryPolicy{Interval: t.retryInterval, MaxAttempts: t.maxAttempts}
}

func (t *restartTracker) setPolicy(p RetryPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.Interval > 0 {
		t.retryInterval = p.Interval
	}
	if p.MaxAttempts > 0 {
		t.maxAttempts = p.MaxAttempts
	}
}

// RoundStatus 当前轮次的只读视图
type RoundStatus struct {
	ID      int64          `json:"id"`
	Level   string         `json:"level"`
	Pending map[ConnID]int `json:"pending"` // 连接 → 已发送次数
}

func (t *restartTracker) status() *RoundStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.round == nil {
		return nil
	}
	st := &RoundStatus{ID: t.round.id, Level: t.round.level, Pending: make(map[ConnID]int, len(t.round.pending))}
	for id, p := range t.round.pending {
		st.Pending[id] = p.attempts
	}
	return st
}
