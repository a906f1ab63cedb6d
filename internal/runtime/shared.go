package runtime

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Shared 持有跨标的共享的进程级状态：急停/安全模式开关与下单频率滑动窗口。
// 两者由同一把互斥锁保护，保证窗口的检查与记录对并发调用方是原子的。
type Shared struct {
	mu           sync.Mutex
	killSwitch   bool
	safeMode     bool
	window       []time.Time
	maxPerWindow int
	windowSize   time.Duration
	seq          uint64
}

// NewShared 创建共享状态，maxOrdersPerMin 为 60 秒窗口内允许的下单次数。
func NewShared(maxOrdersPerMin int) *Shared {
	return &Shared{
		maxPerWindow: maxOrdersPerMin,
		windowSize:   time.Minute,
	}
}

// SetKillSwitch 设置急停开关。
func (s *Shared) SetKillSwitch(on bool) {
	s.mu.Lock()
	s.killSwitch = on
	s.mu.Unlock()
}

// SetSafeMode 设置安全模式。
func (s *Shared) SetSafeMode(on bool) {
	s.mu.Lock()
	s.safeMode = on
	s.mu.Unlock()
}

// Halted 返回是否处于禁止开仓状态。
func (s *Shared) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killSwitch || s.safeMode
}

// Admit 在一次加锁内完成安全开关检查与频率窗口的检查加记录。
// 通过后本次尝试立即计入窗口，后续风控拒绝不回滚计数。
func (s *Shared) Admit(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.killSwitch || s.safeMode {
		return ErrSafetyHalted
	}

	cutoff := now.Add(-s.windowSize)
	kept := s.window[:0]
	for _, t := range s.window {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.window = kept

	if len(s.window) >= s.maxPerWindow {
		return ErrRateLimited
	}
	s.window = append(s.window, now)
	return nil
}

// NextOrderID 生成全局唯一的客户端订单号，交给网关做幂等去重。
func (s *Shared) NextOrderID(instrument string, now time.Time) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	sym := strings.NewReplacer("/", "", ":", "").Replace(instrument)
	return fmt.Sprintf("tf-%s-%d-%d", sym, now.UnixMilli(), seq)
}
