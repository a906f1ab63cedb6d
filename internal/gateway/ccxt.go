package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradeflow/internal/config"
	"tradeflow/internal/router"
)

type orderClient interface {
	CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error)
	CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error)
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
}

// CCXT 通过 ccxt 客户端把执行计划提交到真实交易所。
type CCXT struct {
	client orderClient
	cfg    config.RetryConfig
	logger *zap.Logger
}

var _ Gateway = (*CCXT)(nil)

// NewCCXT 按配置构造交易所网关。
func NewCCXT(cfg config.GatewayConfig, logger *zap.Logger) (*CCXT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &CCXT{client: ex, cfg: cfg.Retry, logger: logger}, nil
}

// Place 提交执行计划。瞬时错误按配置做指数退避重试，
// ClientOrderID 原样下传，重试由交易所侧去重。
func (g *CCXT) Place(ctx context.Context, plan router.OrderPlan) (Result, error) {
	var order ccxt.Order
	err := g.withRetry(ctx, plan.ClientOrderID, func() error {
		var submitErr error
		order, submitErr = g.submit(plan)
		return submitErr
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{OrderID: plan.ClientOrderID}
	if order.Id != nil && *order.Id != "" {
		res.OrderID = *order.Id
	}
	if order.Average != nil {
		res.AvgFillPrice = *order.Average
	}
	if order.Filled != nil {
		res.FilledQty = *order.Filled
	}
	return res, nil
}

func (g *CCXT) submit(plan router.OrderPlan) (ccxt.Order, error) {
	params := map[string]interface{}{
		"clientOrderId": plan.ClientOrderID,
	}
	if plan.TimeInForce != "" {
		params["timeInForce"] = strings.ToLower(plan.TimeInForce)
	}
	if plan.PostOnly {
		params["postOnly"] = true
	}
	if plan.StopLoss > 0 {
		params["stopLossPrice"] = plan.StopLoss
	}
	if plan.TakeProfit > 0 {
		params["takeProfitPrice"] = plan.TakeProfit
	}

	switch plan.Mode {
	case router.ModeMarket:
		return g.client.CreateMarketOrder(plan.Symbol, string(plan.Side), plan.Quantity,
			ccxt.WithCreateMarketOrderParams(params))
	case router.ModeLimit:
		return g.client.CreateLimitOrder(plan.Symbol, string(plan.Side), plan.Quantity, plan.LimitPrice,
			ccxt.WithCreateLimitOrderParams(params))
	case router.ModeStopLimit:
		params["stopPrice"] = plan.TriggerPrice
		return g.client.CreateOrder(plan.Symbol, "limit", string(plan.Side), plan.Quantity,
			ccxt.WithCreateOrderPrice(plan.LimitPrice),
			ccxt.WithCreateOrderParams(params))
	default:
		return ccxt.Order{}, fmt.Errorf("gateway: 不支持的订单类型 %s", plan.Mode)
	}
}

func (g *CCXT) withRetry(ctx context.Context, orderID string, fn func() error) error {
	delay := g.cfg.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := g.cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	var err error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = fn()
		if err == nil {
			if attempt > 1 {
				g.logger.Info("下单重试后成功", zap.String("client_oid", orderID), zap.Int("attempts", attempt))
			}
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		g.logger.Warn("下单失败，等待重试",
			zap.String("client_oid", orderID),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return fmt.Errorf("gateway: 重试后仍下单失败: %w", err)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
