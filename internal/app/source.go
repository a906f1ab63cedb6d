package app

import (
	"sync"

	"tradeflow/internal/signal"
)

// Source 抽象信号来源。众多上游信号生产者在核心看来只是
// 统一的"产出 Signal"能力，运行时对策略无感。
type Source interface {
	Signals() <-chan signal.Signal
}

// ChanSource 是基于通道的信号源，供外部生产者投递信号。
type ChanSource struct {
	ch     chan signal.Signal
	mu     sync.Mutex
	closed bool
}

// NewChanSource 创建缓冲信号源。
func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanSource{ch: make(chan signal.Signal, buffer)}
}

// Publish 投递一个信号，通道满或已关闭时返回 false。
func (s *ChanSource) Publish(sig signal.Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.ch <- sig:
		return true
	default:
		return false
	}
}

// Signals 实现 Source。
func (s *ChanSource) Signals() <-chan signal.Signal {
	return s.ch
}

// Close 关闭信号源。
func (s *ChanSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
