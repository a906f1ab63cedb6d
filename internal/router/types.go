package router

import (
	"tradeflow/internal/config"
)

// OrderSide 表示下单方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Mode 表示订单执行方式。
type Mode string

const (
	ModeMarket    Mode = "MARKET"
	ModeLimit     Mode = "LIMIT"
	ModeStopLimit Mode = "STOP_LIMIT"
)

// MarketSnapshot 为路由决策所需的即时行情切片。
type MarketSnapshot struct {
	LastPrice       float64
	BestBid         float64
	BestAsk         float64
	VolatilityScale float64 // ATR 相对基准的比例，0 按 1 处理
}

// SpreadBps 返回买卖价差，单位基点。
func (m MarketSnapshot) SpreadBps() float64 {
	mid := (m.BestBid + m.BestAsk) / 2
	if mid <= 0 {
		return 0
	}
	return (m.BestAsk - m.BestBid) / mid * 10000
}

// TrailingPlan 描述移动止损计划。
type TrailingPlan struct {
	Enabled            bool
	ActivationDistance float64 // 盈利超过该距离后开始移动
	LockStop           float64 // 激活后锁定的保底止损价
}

// OrderPlan 为一次下单的完整执行计划，生成后不可变。
type OrderPlan struct {
	Symbol        string
	Side          OrderSide
	Mode          Mode
	LimitPrice    float64 // LIMIT 与 STOP_LIMIT 使用
	TriggerPrice  float64 // 仅 STOP_LIMIT 使用
	TimeInForce   string
	PostOnly      bool
	Quantity      float64
	StopLoss      float64
	TakeProfit    float64
	Trailing      TrailingPlan
	ClientOrderID string
	Reason        string
}

// Profile 是执行路由的策略画像，直接取自配置。
type Profile = config.RouterConfig
