package risk

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeflow/internal/config"
	"tradeflow/internal/signal"
)

// Engine 负责仓位测算与开仓前校验，并维护自适应连亏状态。
// 所有标的共用一个 Engine，内部自行同步。
type Engine struct {
	cfg    config.RiskConfig
	logger *zap.Logger

	mu      sync.Mutex
	streaks *StreakState

	now func() time.Time
}

// NewEngine 创建风控引擎。
func NewEngine(cfg config.RiskConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		streaks: NewStreakState(cfg),
		now:     time.Now,
	}
}

// ComputeBudget 计算一笔新交易可用的美元风险预算。
// 预算 = min(单笔申请额度, 总额度 − 已占用额度)；
// 风险削减生效时再压到固定下限；若同一贝塔桶里已有同向仓位则减半。
// 贝塔桶是固定的相关性启发式，不是协方差模型，属于已知局限。
func (e *Engine) ComputeBudget(open []OpenPosition, snap Snapshot, symbol string, dir signal.Direction) float64 {
	used := 0.0
	for _, p := range open {
		used += p.RiskValue()
	}

	budget := math.Min(snap.RiskPerTradeUSD, snap.MaxAllowedUSD-used)
	if budget <= 0 {
		return 0
	}

	e.mu.Lock()
	cut := e.streaks.RiskCutActive()
	e.mu.Unlock()
	if cut {
		budget = math.Min(budget, e.cfg.RiskCutFloorUSD)
	}

	if e.correlatedSameDirection(open, symbol, dir) {
		budget *= e.cfg.CorrelationDamping
	}

	return budget
}

// SizeAndValidate 根据信号与止损价测算下单数量，并执行开仓前的全部风控检查。
// 任一检查失败都返回包装了 ErrRejected 的具体原因，且不改变任何状态。
func (e *Engine) SizeAndValidate(sig signal.Signal, stopPrice float64, snap Snapshot, open []OpenPosition) (SizeResult, error) {
	ref := sig.Entry.Mid()

	distance := math.Abs(ref - stopPrice)
	if distance <= 0 {
		return SizeResult{}, ErrInvalidStop
	}

	e.mu.Lock()
	inCooldown := e.streaks.InCooldown(sig.Symbol, e.now())
	e.mu.Unlock()
	if inCooldown {
		return SizeResult{}, ErrCooldown
	}

	budget := e.ComputeBudget(open, snap, sig.Symbol, sig.Direction)
	qty := floorToStep(budget/distance, snap.LotStep)
	if qty <= 0 || qty < snap.MinQty {
		return SizeResult{}, ErrQtyBelowMinimum
	}

	riskValue := distance * qty
	notional := ref * qty
	fees := snap.Fees.RoundTripCost(notional)
	slippage := notional * e.cfg.SlippageBufferBps / 10000

	if riskValue <= fees+slippage {
		return SizeResult{}, ErrInsufficientEdge
	}

	if len(open) >= snap.MaxPositions {
		return SizeResult{}, ErrMaxPositions
	}

	return SizeResult{
		Quantity:  qty,
		RiskValue: riskValue,
		Fees:      fees,
		Slippage:  slippage,
	}, nil
}

// RecordOutcome 把一笔已平仓交易的盈亏回馈给自适应状态。
func (e *Engine) RecordOutcome(symbol string, pnl float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.streaks.RiskCutActive()
	e.streaks.RecordOutcome(symbol, pnl, e.now())
	after := e.streaks.RiskCutActive()

	if !before && after {
		e.logger.Warn("连亏达到阈值，激活全局风险削减",
			zap.String("symbol", symbol),
			zap.Float64("pnl", pnl),
		)
	}
}

// StreakSnapshot 返回自适应状态快照。
func (e *Engine) StreakSnapshot() StreakSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.streaks.Snapshot()
}

func (e *Engine) correlatedSameDirection(open []OpenPosition, symbol string, dir signal.Direction) bool {
	bucket := e.bucketOf(symbol)
	if bucket == "" {
		return false
	}
	for _, p := range open {
		if p.Symbol == symbol {
			continue
		}
		if p.Direction == dir && e.bucketOf(p.Symbol) == bucket {
			return true
		}
	}
	return false
}

func (e *Engine) bucketOf(symbol string) string {
	for name, members := range e.cfg.BetaBuckets {
		for _, m := range members {
			if m == symbol {
				return name
			}
		}
	}
	return ""
}

func floorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty/step + 1e-9)
	if steps <= 0 {
		return 0
	}
	return steps * step
}
