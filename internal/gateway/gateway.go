package gateway

import (
	"context"

	"tradeflow/internal/router"
)

// Result 为一次下单提交的回执。
// AvgFillPrice 为 0 表示订单已受理但尚未成交（挂单等待）。
type Result struct {
	OrderID      string
	AvgFillPrice float64
	FilledQty    float64
}

// Gateway 是交易所网关的窄契约：执行计划、报告回执。
// 重试、成交等待与撤单都是网关的职责，核心状态机不做任何阻塞 I/O。
// 网关必须用计划中的 ClientOrderID 做幂等去重，重复提交不产生新订单。
type Gateway interface {
	Place(ctx context.Context, plan router.OrderPlan) (Result, error)
}
