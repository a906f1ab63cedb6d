package runtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradeflow/internal/audit"
	"tradeflow/internal/risk"
	"tradeflow/internal/router"
	"tradeflow/internal/signal"
)

// Runtime 是单个标的的生命周期状态机。
// 它持有该标的的持仓台账与标记价缓存，并在下单前依次调用风控引擎与执行路由。
// 状态机本身不做任何阻塞 I/O：交易所交互全部委托给外部网关，
// 成交与确认通过 HandleOrderAck / HandleFill 异步回报。
// 每个操作要么完整成功（改状态并记审计流水），要么失败且不产生任何变更。
type Runtime struct {
	instrument string

	mu      sync.Mutex
	state   State
	ledger  map[string]*Position
	marks   map[string]float64
	pending *router.OrderPlan

	shared  *Shared
	engine  *risk.Engine
	profile router.Profile
	auditor *audit.Log
	logger  *zap.Logger

	// peers 返回其他标的的开仓视图，由 Registry 注入；独立使用时只看本标的台账。
	// 实现会拿其他运行时的锁，调用时绝不能持有本实例的 mu。
	peers func() []risk.OpenPosition

	now func() time.Time
}

// New 创建一个标的的生命周期运行时，初始状态为 SCAN。
func New(instrument string, shared *Shared, engine *risk.Engine, profile router.Profile, auditor *audit.Log, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{
		instrument: instrument,
		state:      StateScan,
		ledger:     make(map[string]*Position),
		marks:      make(map[string]float64),
		shared:     shared,
		engine:     engine,
		profile:    profile,
		auditor:    auditor,
		logger:     logger.With(zap.String("instrument", instrument)),
		now:        time.Now,
	}
	rt.peers = func() []risk.OpenPosition { return nil }
	return rt
}

// Instrument 返回该运行时负责的标的。
func (rt *Runtime) Instrument() string { return rt.instrument }

// State 返回当前状态。
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Positions 返回台账副本。
func (rt *Runtime) Positions() []Position {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	out := make([]Position, 0, len(rt.ledger))
	for _, p := range rt.ledger {
		out = append(out, *p)
	}
	return out
}

// RequestPlace 处理一次下单请求：安全开关与频率窗口准入、风控测算、
// 生成执行计划并进入 PLACE 状态。要求当前状态为 SCAN。
func (rt *Runtime) RequestPlace(sig signal.Signal, snap risk.Snapshot, stopPrice float64, market router.MarketSnapshot) (router.OrderPlan, error) {
	if err := sig.Validate(); err != nil {
		return router.OrderPlan{}, err
	}
	if stopPrice <= 0 {
		stopPrice = sig.InvalidationPrice
	}

	// 在加自身锁之前快照同侪持仓，避免持锁互相等待
	peerOpen := rt.peers()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StateScan {
		return router.OrderPlan{}, fmt.Errorf("%w: %s 不能发起下单", ErrInvalidTransition, rt.state)
	}

	now := rt.now()
	if err := rt.shared.Admit(now); err != nil {
		return router.OrderPlan{}, err
	}

	open := append(rt.openPositionsLocked(), peerOpen...)
	routed := sig
	routed.InvalidationPrice = stopPrice

	sized, err := rt.engine.SizeAndValidate(routed, stopPrice, snap, open)
	if err != nil {
		rt.logger.Info("风控拒绝下单", zap.String("symbol", sig.Symbol), zap.Error(err))
		return router.OrderPlan{}, err
	}

	plan := router.DecidePlan(routed, market, rt.profile, sized.Quantity)
	plan.ClientOrderID = rt.shared.NextOrderID(rt.instrument, now)

	rt.pending = &plan
	rt.state = StatePlace
	rt.auditor.Append("order_requested", map[string]interface{}{
		"symbol":     plan.Symbol,
		"side":       string(plan.Side),
		"mode":       string(plan.Mode),
		"qty":        plan.Quantity,
		"stop":       plan.StopLoss,
		"take":       plan.TakeProfit,
		"client_oid": plan.ClientOrderID,
		"risk_usd":   sized.RiskValue,
		"reason":     plan.Reason,
	})
	rt.logger.Info("生成执行计划",
		zap.String("symbol", plan.Symbol),
		zap.String("mode", string(plan.Mode)),
		zap.Float64("qty", plan.Quantity),
		zap.String("client_oid", plan.ClientOrderID),
	)

	return plan, nil
}

// HandleOrderAck 处理网关的下单确认，仅记录，不改变状态。要求处于 PLACE。
func (rt *Runtime) HandleOrderAck(orderID string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StatePlace {
		return fmt.Errorf("%w: %s 状态收到确认回报", ErrInvalidTransition, rt.state)
	}
	if rt.pending == nil || rt.pending.ClientOrderID != orderID {
		rt.auditor.Append("unknown_ack", map[string]interface{}{"order_id": orderID})
		rt.logger.Warn("确认回报引用了未知订单", zap.String("order_id", orderID))
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	rt.auditor.Append("order_acked", map[string]interface{}{"order_id": orderID})
	return nil
}

// HandleFill 处理成交回报：持仓入账并进入 MANAGE。要求处于 PLACE 或 MANAGE。
func (rt *Runtime) HandleFill(orderID, symbol string, side signal.Direction, entryPrice, qty, stopPrice float64) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StatePlace && rt.state != StateManage {
		return fmt.Errorf("%w: %s 状态收到成交回报", ErrInvalidTransition, rt.state)
	}
	if entryPrice <= 0 || qty <= 0 {
		return fmt.Errorf("%w: 成交价格或数量无效", ErrValidation)
	}
	if !stopOnLossSide(side, entryPrice, stopPrice) {
		return fmt.Errorf("%w: 止损 %.4f 不在 %s 方向的亏损侧", ErrValidation, stopPrice, side)
	}

	var take float64
	var trailing router.TrailingPlan
	if rt.pending != nil && rt.pending.ClientOrderID == orderID {
		take = rt.pending.TakeProfit
		trailing = rt.pending.Trailing
		rt.pending = nil
	} else {
		rt.auditor.Append("unexpected_fill", map[string]interface{}{"order_id": orderID, "symbol": symbol})
		rt.logger.Warn("成交回报引用了未知订单，仍按权威回报入账",
			zap.String("order_id", orderID), zap.String("symbol", symbol))
	}

	rt.ledger[symbol] = &Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Quantity:   qty,
		StopLoss:   stopPrice,
		TakeProfit: take,
		Trailing:   trailing,
		Status:     PositionOpen,
		OpenedAt:   rt.now(),
	}
	rt.marks[symbol] = entryPrice
	rt.state = StateManage

	rt.auditor.Append("order_filled", map[string]interface{}{
		"order_id": orderID,
		"symbol":   symbol,
		"side":     string(side),
		"entry":    entryPrice,
		"qty":      qty,
		"stop":     stopPrice,
	})
	return nil
}

// HandleOrderFailed 处理网关的下单失败回报，撤销在途计划并回到 SCAN。要求处于 PLACE。
func (rt *Runtime) HandleOrderFailed(orderID, reason string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StatePlace {
		return fmt.Errorf("%w: %s 状态收到失败回报", ErrInvalidTransition, rt.state)
	}
	if rt.pending == nil || rt.pending.ClientOrderID != orderID {
		rt.auditor.Append("unknown_failure", map[string]interface{}{"order_id": orderID})
		return fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}

	rt.pending = nil
	rt.state = StateScan
	rt.auditor.Append("order_failed", map[string]interface{}{"order_id": orderID, "reason": reason})
	rt.logger.Warn("下单失败，回到扫描状态", zap.String("order_id", orderID), zap.String("reason", reason))
	return nil
}

// AdjustStop 朝有利方向收紧止损：多头只升不降，空头只降不升，
// 不利方向的调整是静默空操作。
func (rt *Runtime) AdjustStop(symbol string, newStop float64) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	pos, ok := rt.ledger[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	improved := (pos.Side == signal.DirectionLong && newStop > pos.StopLoss) ||
		(pos.Side == signal.DirectionShort && newStop < pos.StopLoss)
	if !improved {
		return nil
	}

	old := pos.StopLoss
	pos.StopLoss = newStop
	rt.auditor.Append("stop_adjusted", map[string]interface{}{
		"symbol": symbol,
		"from":   old,
		"to":     newStop,
	})
	return nil
}

// ExitPosition 将持仓移出台账。要求处于 MANAGE；
// 还有其他持仓时留在 MANAGE，否则进入 EXIT。
func (rt *Runtime) ExitPosition(symbol string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StateManage {
		return fmt.Errorf("%w: %s 状态不能平仓", ErrInvalidTransition, rt.state)
	}
	if _, ok := rt.ledger[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	delete(rt.ledger, symbol)
	if len(rt.ledger) > 0 {
		rt.state = StateManage
	} else {
		rt.state = StateExit
	}
	rt.auditor.Append("position_exited", map[string]interface{}{"symbol": symbol})
	return nil
}

// CompleteExit 结束一轮平仓流程，从 EXIT 回到 SCAN。
func (rt *Runtime) CompleteExit() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StateExit {
		return fmt.Errorf("%w: %s 状态不能结束平仓", ErrInvalidTransition, rt.state)
	}
	rt.state = StateScan
	rt.auditor.Append("cycle_complete", map[string]interface{}{"instrument": rt.instrument})
	return nil
}

// Reconcile 用交易所的权威持仓列表整体替换台账，任何状态下可调用，幂等。
// 对账前存在、对账后消失的标的视为已平仓：若有缓存标记价则据此估算
// 已实现盈亏并回馈风控引擎；没有缓存价时不记结果也不报错。
// 该估算对部分成交或均价摊薄的仓位可能失真，属于已知近似。
func (rt *Runtime) Reconcile(entries []ReconcileEntry) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	next := make(map[string]*Position, len(entries))
	for _, e := range entries {
		if e.Symbol == "" || e.Quantity <= 0 {
			return fmt.Errorf("%w: 对账记录不合法 %+v", ErrValidation, e)
		}
		keep := Position{
			Symbol:     e.Symbol,
			Side:       e.Side,
			EntryPrice: e.EntryPrice,
			Quantity:   e.Quantity,
			StopLoss:   e.StopLoss,
			Status:     PositionOpen,
			OpenedAt:   rt.now(),
		}
		if prev, ok := rt.ledger[e.Symbol]; ok {
			keep.TakeProfit = prev.TakeProfit
			keep.Trailing = prev.Trailing
			keep.OpenedAt = prev.OpenedAt
		}
		next[e.Symbol] = &keep
	}

	for symbol, prev := range rt.ledger {
		if _, stillOpen := next[symbol]; stillOpen {
			continue
		}
		mark, priced := rt.marks[symbol]
		if !priced {
			rt.logger.Debug("缺少标记价，跳过平仓盈亏推断", zap.String("symbol", symbol))
			continue
		}
		pnl := (mark - prev.EntryPrice) * prev.Quantity * prev.Side.Sign()
		rt.engine.RecordOutcome(symbol, pnl)
		rt.auditor.Append("closure_inferred", map[string]interface{}{
			"symbol": symbol,
			"mark":   mark,
			"pnl":    pnl,
		})
	}

	rt.ledger = next
	rt.pending = nil
	if len(rt.ledger) > 0 {
		rt.state = StateManage
	} else {
		rt.state = StateScan
	}
	rt.auditor.Append("reconciled", map[string]interface{}{
		"instrument": rt.instrument,
		"positions":  len(rt.ledger),
	})
	return nil
}

// ObserveMark 更新标记价缓存，并在盈利超过激活距离时按移动止损计划收紧止损。
func (rt *Runtime) ObserveMark(symbol string, price float64) {
	if price <= 0 {
		return
	}

	rt.mu.Lock()
	rt.marks[symbol] = price
	pos, ok := rt.ledger[symbol]
	var lock float64
	trail := false
	if ok && pos.Trailing.Enabled {
		gain := (price - pos.EntryPrice) * pos.Side.Sign()
		if gain >= pos.Trailing.ActivationDistance {
			lock = pos.Trailing.LockStop
			trail = true
		}
	}
	rt.mu.Unlock()

	if trail {
		// AdjustStop 自带棘轮规则，不利方向会被静默忽略
		_ = rt.AdjustStop(symbol, lock)
	}
}

// RecordOutcome 将外部结果源报告的已实现盈亏转发给风控引擎。
func (rt *Runtime) RecordOutcome(symbol string, pnl float64) {
	rt.engine.RecordOutcome(symbol, pnl)
	rt.auditor.Append("outcome_recorded", map[string]interface{}{"symbol": symbol, "pnl": pnl})
}

func (rt *Runtime) openPositionsLocked() []risk.OpenPosition {
	out := make([]risk.OpenPosition, 0, len(rt.ledger))
	for _, p := range rt.ledger {
		out = append(out, risk.OpenPosition{
			Symbol:     p.Symbol,
			Direction:  p.Side,
			EntryPrice: p.EntryPrice,
			StopLoss:   p.StopLoss,
			Quantity:   p.Quantity,
		})
	}
	return out
}

func stopOnLossSide(side signal.Direction, entry, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if side == signal.DirectionShort {
		return stop > entry
	}
	return stop < entry
}
