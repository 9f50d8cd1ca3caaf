package client

import "sync/atomic"

// slot 单槽“最新待处理事件”缓冲：网络协程写、游戏循环读
// 新消息覆盖未消费的旧消息，读取即清空
type slot[T any] struct {
	p atomic.Pointer[T]
}

func (s *slot[T]) put(v T) { s.p.Store(&v) }

func (s *slot[T]) take() (T, bool) {
	if p := s.p.Swap(nil); p != nil {
		return *p, true
	}
	var zero T
	return zero, false
}

func (s *slot[T]) clear() { s.p.Store(nil) }
