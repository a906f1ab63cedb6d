package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tradeflow/internal/router"
)

// Sim 是模拟网关：市价单立即按标记价成交，挂单保持受理状态。
// 用于干跑模式与演示，幂等语义与真实网关一致。
type Sim struct {
	logger *zap.Logger

	// MarkPrice 提供市价单的模拟成交价，未设置时退回计划内的价格字段。
	MarkPrice func(symbol string) float64

	mu   sync.Mutex
	seen map[string]Result
}

var _ Gateway = (*Sim)(nil)

// NewSim 创建模拟网关。
func NewSim(logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sim{
		logger: logger,
		seen:   make(map[string]Result),
	}
}

// Place 模拟提交：同一 ClientOrderID 重复提交返回首次回执。
func (s *Sim) Place(_ context.Context, plan router.OrderPlan) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.seen[plan.ClientOrderID]; ok {
		return prev, nil
	}

	res := Result{OrderID: plan.ClientOrderID}
	if plan.Mode == router.ModeMarket {
		price := 0.0
		if s.MarkPrice != nil {
			price = s.MarkPrice(plan.Symbol)
		}
		if price <= 0 {
			price = plan.LimitPrice
		}
		if price <= 0 {
			price = plan.TriggerPrice
		}
		res.AvgFillPrice = price
		res.FilledQty = plan.Quantity
	}

	s.seen[plan.ClientOrderID] = res
	s.logger.Info("模拟网关受理订单",
		zap.String("client_oid", plan.ClientOrderID),
		zap.String("mode", string(plan.Mode)),
		zap.Float64("fill", res.AvgFillPrice),
	)
	return res, nil
}
