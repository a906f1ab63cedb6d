package risk

import (
	"errors"
	"fmt"

	"tradeflow/internal/signal"
)

// FeeModel 描述手续费率，用于估算一笔交易的成本。
type FeeModel struct {
	TakerRate float64
	MakerRate float64
}

// RoundTripCost 估算按吃单费率进出场一次的手续费。
func (f FeeModel) RoundTripCost(notional float64) float64 {
	if notional <= 0 {
		return 0
	}
	return notional * f.TakerRate * 2
}

// Snapshot 为一次风控评估的账户与合约约束快照，由调用方每次提供，核心不持久化。
type Snapshot struct {
	Balance         float64
	RiskPerTradeUSD float64
	MaxAllowedUSD   float64
	MaxPositions    int
	Fees            FeeModel
	MinQty          float64
	LotStep         float64
}

// OpenPosition 是风控视角下的一个已开仓位，由运行时从台账转换而来。
type OpenPosition struct {
	Symbol     string
	Direction  signal.Direction
	EntryPrice float64
	StopLoss   float64
	Quantity   float64
}

// RiskValue 返回止损被触发时的美元损失。
func (p OpenPosition) RiskValue() float64 {
	d := p.EntryPrice - p.StopLoss
	if d < 0 {
		d = -d
	}
	return d * p.Quantity
}

// SizeResult 为仓位测算的输出。
type SizeResult struct {
	Quantity  float64
	RiskValue float64
	Fees      float64
	Slippage  float64
}

// ErrRejected 是所有风控拒绝的根错误，拒绝属于常态事件而非系统故障。
var ErrRejected = errors.New("risk: 交易被风控拒绝")

var (
	// ErrInvalidStop 表示止损价与参考价重合或在错误一侧。
	ErrInvalidStop = fmt.Errorf("%w: 止损距离无效", ErrRejected)
	// ErrQtyBelowMinimum 表示按预算折算的数量低于合约最小量。
	ErrQtyBelowMinimum = fmt.Errorf("%w: 数量低于最小下单量", ErrRejected)
	// ErrInsufficientEdge 表示风险价值无法覆盖费用与滑点缓冲。
	ErrInsufficientEdge = fmt.Errorf("%w: 预期收益不足以覆盖成本", ErrRejected)
	// ErrMaxPositions 表示持仓数已达上限。
	ErrMaxPositions = fmt.Errorf("%w: 持仓数量已达上限", ErrRejected)
	// ErrCooldown 表示该标的处于连亏冷却期。
	ErrCooldown = fmt.Errorf("%w: 标的处于冷却期", ErrRejected)
)
