package router

import (
	"fmt"
	"math"

	"tradeflow/internal/signal"
)

// DecidePlan 把信号、行情与策略画像翻译为具体的执行计划。
// 纯函数：不持有状态，不做 I/O，相同输入必得相同输出。
// 数量由风控引擎预先测算，客户端订单号由运行时在下单前填充。
func DecidePlan(sig signal.Signal, market MarketSnapshot, profile Profile, qty float64) OrderPlan {
	kind := sig.KindOf()
	dir := sig.Direction.Sign()

	entry := entryPrice(sig, kind)
	r := math.Abs(entry - sig.InvalidationPrice)
	minDist := entry * profile.MinStopDistancePct
	if r < minDist {
		r = minDist
	}

	stop := normalizeStop(entry, sig.InvalidationPrice, dir, minDist)
	take := sig.TargetPrice
	if take <= 0 {
		take = entry + dir*profile.TakeProfitR*r
	}
	take = normalizeTake(entry, take, dir, minDist)

	scale := market.VolatilityScale
	if scale <= 0 {
		scale = 1
	}
	trailing := TrailingPlan{
		Enabled:            profile.TrailActivateR > 0,
		ActivationDistance: math.Max(profile.TrailActivateR*scale*r, minDist),
		LockStop:           entry + dir*profile.TrailLockR*r,
	}

	side := OrderSideBuy
	if sig.Direction == signal.DirectionShort {
		side = OrderSideSell
	}

	distBps := distanceBps(market.LastPrice, entry)
	spreadBps := market.SpreadBps()
	spreadOK := spreadBps > 0 && spreadBps <= profile.MaxSpreadBps

	plan := OrderPlan{
		Symbol:      sig.Symbol,
		Side:        side,
		TimeInForce: profile.TimeInForce,
		Quantity:    qty,
		StopLoss:    stop,
		TakeProfit:  take,
		Trailing:    trailing,
	}

	near := distBps <= profile.MarketDistanceBps

	switch kind {
	case signal.KindPullback, signal.KindMeanReversion:
		if near && spreadOK {
			plan.Mode = ModeMarket
			plan.Reason = fmt.Sprintf("%s: 距入场 %.1fbps、点差 %.1fbps 可接受，市价入场", kind, distBps, spreadBps)
		} else {
			applyPassiveLimit(&plan, market, entry)
			plan.Reason = fmt.Sprintf("%s: 距入场 %.1fbps 或点差 %.1fbps 超限，被动限价等待", kind, distBps, spreadBps)
		}
	case signal.KindBreakout:
		if near && spreadOK {
			plan.Mode = ModeMarket
			plan.Reason = fmt.Sprintf("%s: 已接近触发价 %.1fbps，市价追入", kind, distBps)
		} else {
			plan.Mode = ModeStopLimit
			plan.TriggerPrice = entry
			plan.LimitPrice = entry * (1 + dir*profile.StopLimitBufferBps/10000)
			plan.Reason = fmt.Sprintf("%s: 距触发价 %.1fbps，挂止损限价单并以 %.0fbps 缓冲限制滑点", kind, distBps, profile.StopLimitBufferBps)
		}
	case signal.KindMomentum:
		switch {
		case near:
			plan.Mode = ModeMarket
			plan.Reason = fmt.Sprintf("%s: 距入场 %.1fbps，市价跟进", kind, distBps)
		case distBps <= profile.ChaseDistanceBps:
			plan.Mode = ModeLimit
			plan.LimitPrice = entry
			plan.Reason = fmt.Sprintf("%s: 距入场 %.1fbps 在追价范围内，限价 %.4f 等待", kind, distBps, entry)
		default:
			applyPassiveLimit(&plan, market, entry)
			plan.Reason = fmt.Sprintf("%s: 距入场 %.1fbps 超出追价范围，被动限价避免追高", kind, distBps)
		}
	default:
		applyPassiveLimit(&plan, market, entry)
		plan.Reason = fmt.Sprintf("%s: 未识别形态，默认被动限价", kind)
	}

	return plan
}

// entryPrice 返回计划的参考入场价：突破类取区间触发沿，其余取区间中点。
func entryPrice(sig signal.Signal, kind signal.Kind) float64 {
	if kind == signal.KindBreakout {
		if sig.Direction == signal.DirectionShort {
			return sig.Entry.Low
		}
		return sig.Entry.High
	}
	return sig.Entry.Mid()
}

// normalizeStop 保证止损位于亏损一侧且与入场价至少保持最小距离，
// 防御上游噪声信号给出的近零距离退化输入。
func normalizeStop(entry, stop, dir, minDist float64) float64 {
	bound := entry - dir*minDist
	if dir > 0 {
		if stop >= bound {
			return bound
		}
	} else {
		if stop <= bound {
			return bound
		}
	}
	return stop
}

func normalizeTake(entry, take, dir, minDist float64) float64 {
	bound := entry + dir*minDist
	if dir > 0 {
		if take <= bound {
			return bound
		}
	} else {
		if take >= bound {
			return bound
		}
	}
	return take
}

// applyPassiveLimit 设定只挂单不吃单的限价：买方挂买一，卖方挂卖一，绝不穿越点差。
// 盘口缺失时退回入场价挂单，避免产生零价限价单。
func applyPassiveLimit(plan *OrderPlan, market MarketSnapshot, entry float64) {
	plan.Mode = ModeLimit
	plan.PostOnly = true
	if plan.Side == OrderSideBuy {
		plan.LimitPrice = entry
		if market.BestBid > 0 {
			plan.LimitPrice = math.Min(entry, market.BestBid)
		}
	} else {
		plan.LimitPrice = entry
		if market.BestAsk > 0 {
			plan.LimitPrice = math.Max(entry, market.BestAsk)
		}
	}
}

func distanceBps(last, entry float64) float64 {
	if entry <= 0 {
		return 0
	}
	return math.Abs(last-entry) / entry * 10000
}
