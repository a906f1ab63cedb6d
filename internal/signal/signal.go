package signal

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction 表示信号方向。
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNone  Direction = "NONE"
)

// Kind 表示信号的交易形态，决定执行路由的下单方式。
type Kind string

const (
	KindPullback      Kind = "PULLBACK"
	KindBreakout      Kind = "BREAKOUT"
	KindMomentum      Kind = "MOMENTUM"
	KindMeanReversion Kind = "MEAN_REVERSION"
	KindUnknown       Kind = "UNKNOWN"
)

// EntryZone 描述信号建议的入场价格区间。
type EntryZone struct {
	High float64
	Low  float64
}

// Mid 返回入场区间中点，作为参考入场价。
func (z EntryZone) Mid() float64 {
	return (z.High + z.Low) / 2
}

// Signal 为上游信号生产者产出的一次交易意图。
// 信号被消费一次后即丢弃，运行时不持有引用。
type Signal struct {
	Symbol            string
	Direction         Direction
	Entry             EntryZone
	InvalidationPrice float64
	TargetPrice       float64 // 可选的显式止盈目标，0 表示未给出
	Tags              []string
	QualityScore      float64
	GeneratedAt       time.Time
}

// ErrInvalid 表示信号本身不合法，属于校验类错误。
var ErrInvalid = errors.New("signal: 信号不合法")

// Validate 校验信号字段，不做任何状态变更。
func (s Signal) Validate() error {
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol 为空", ErrInvalid)
	}
	if s.Direction != DirectionLong && s.Direction != DirectionShort {
		return fmt.Errorf("%w: 方向 %q 不可交易", ErrInvalid, s.Direction)
	}
	if s.Entry.High <= 0 || s.Entry.Low <= 0 {
		return fmt.Errorf("%w: 入场区间必须为正", ErrInvalid)
	}
	if s.Entry.High < s.Entry.Low {
		return fmt.Errorf("%w: 入场区间上沿低于下沿", ErrInvalid)
	}
	if s.InvalidationPrice <= 0 {
		return fmt.Errorf("%w: 失效价必须为正", ErrInvalid)
	}
	return nil
}

// KindOf 从标签推断信号形态，未识别时返回 KindUnknown。
func (s Signal) KindOf() Kind {
	for _, tag := range s.Tags {
		switch Kind(strings.ToUpper(strings.TrimSpace(tag))) {
		case KindPullback:
			return KindPullback
		case KindBreakout:
			return KindBreakout
		case KindMomentum:
			return KindMomentum
		case KindMeanReversion:
			return KindMeanReversion
		}
	}
	return KindUnknown
}

// Sign 返回方向符号，多头为 +1，空头为 -1。
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}
