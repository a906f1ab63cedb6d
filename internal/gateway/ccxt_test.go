package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradeflow/internal/config"
	"tradeflow/internal/router"
)

type mockOrderClient struct {
	calls []string
	err   error

	lastSymbol string
	lastSide   string
	lastAmount float64
	lastPrice  float64
	lastType   string

	order ccxt.Order
}

func (m *mockOrderClient) CreateMarketOrder(symbol string, side string, amount float64, options ...ccxt.CreateMarketOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateMarketOrder")
	m.lastSymbol, m.lastSide, m.lastAmount = symbol, side, amount
	return m.order, m.err
}

func (m *mockOrderClient) CreateLimitOrder(symbol string, side string, amount float64, price float64, options ...ccxt.CreateLimitOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateLimitOrder")
	m.lastSymbol, m.lastSide, m.lastAmount, m.lastPrice = symbol, side, amount, price
	return m.order, m.err
}

func (m *mockOrderClient) CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error) {
	m.calls = append(m.calls, "CreateOrder")
	m.lastSymbol, m.lastType, m.lastSide, m.lastAmount = symbol, typeVar, side, amount
	return m.order, m.err
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func strPtr(s string) *string { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestCCXTPlace_MarketOrderMapsResult(t *testing.T) {
	mock := &mockOrderClient{
		order: ccxt.Order{Id: strPtr("ex-123"), Average: f64Ptr(100.5), Filled: f64Ptr(0.8)},
	}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	plan := router.OrderPlan{
		Symbol:        "BTC/USDT",
		Side:          router.OrderSideBuy,
		Mode:          router.ModeMarket,
		Quantity:      0.8,
		StopLoss:      95,
		TakeProfit:    110,
		ClientOrderID: "tf-BTCUSDT-1-1",
	}

	res, err := g.Place(context.Background(), plan)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if len(mock.calls) != 1 || mock.calls[0] != "CreateMarketOrder" {
		t.Fatalf("expected single CreateMarketOrder call, got %v", mock.calls)
	}
	if mock.lastSymbol != "BTC/USDT" || mock.lastSide != "buy" || mock.lastAmount != 0.8 {
		t.Errorf("unexpected order args: %s %s %f", mock.lastSymbol, mock.lastSide, mock.lastAmount)
	}
	if res.OrderID != "ex-123" {
		t.Errorf("expected exchange order id adopted, got %s", res.OrderID)
	}
	if res.AvgFillPrice != 100.5 || res.FilledQty != 0.8 {
		t.Errorf("unexpected fill mapping: %f/%f", res.AvgFillPrice, res.FilledQty)
	}
}

func TestCCXTPlace_LimitAndStopLimitDispatch(t *testing.T) {
	mock := &mockOrderClient{}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	limit := router.OrderPlan{
		Symbol: "BTC/USDT", Side: router.OrderSideSell, Mode: router.ModeLimit,
		LimitPrice: 101, Quantity: 1, ClientOrderID: "tf-1",
	}
	if _, err := g.Place(context.Background(), limit); err != nil {
		t.Fatalf("limit Place returned error: %v", err)
	}
	if mock.calls[len(mock.calls)-1] != "CreateLimitOrder" || mock.lastPrice != 101 {
		t.Errorf("expected CreateLimitOrder at 101, got %v price %f", mock.calls, mock.lastPrice)
	}

	stopLimit := router.OrderPlan{
		Symbol: "BTC/USDT", Side: router.OrderSideBuy, Mode: router.ModeStopLimit,
		TriggerPrice: 105, LimitPrice: 105.1, Quantity: 1, ClientOrderID: "tf-2",
	}
	if _, err := g.Place(context.Background(), stopLimit); err != nil {
		t.Fatalf("stop-limit Place returned error: %v", err)
	}
	if mock.calls[len(mock.calls)-1] != "CreateOrder" || mock.lastType != "limit" {
		t.Errorf("expected conditional limit via CreateOrder, got %v type %q", mock.calls, mock.lastType)
	}
}

func TestCCXTPlace_FallsBackToClientOrderID(t *testing.T) {
	mock := &mockOrderClient{}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	plan := router.OrderPlan{
		Symbol: "BTC/USDT", Side: router.OrderSideBuy, Mode: router.ModeMarket,
		Quantity: 1, ClientOrderID: "tf-BTCUSDT-1-9",
	}
	res, err := g.Place(context.Background(), plan)
	if err != nil {
		t.Fatalf("Place returned error: %v", err)
	}
	if res.OrderID != plan.ClientOrderID {
		t.Errorf("expected client order id fallback, got %s", res.OrderID)
	}
}

func TestCCXTPlace_NonRetryableFailsFast(t *testing.T) {
	mock := &mockOrderClient{err: errors.New("insufficient balance")}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	plan := router.OrderPlan{
		Symbol: "BTC/USDT", Side: router.OrderSideBuy, Mode: router.ModeMarket,
		Quantity: 1, ClientOrderID: "tf-3",
	}
	if _, err := g.Place(context.Background(), plan); err == nil {
		t.Fatal("expected error from gateway")
	}
	if len(mock.calls) != 1 {
		t.Fatalf("expected no retries for non-retryable error, got %d attempts", len(mock.calls))
	}
}

func TestCCXTPlace_UnsupportedMode(t *testing.T) {
	mock := &mockOrderClient{}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	plan := router.OrderPlan{Symbol: "BTC/USDT", Mode: "ICEBERG", Quantity: 1, ClientOrderID: "tf-4"}
	if _, err := g.Place(context.Background(), plan); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestCCXTPlace_HonorsContextCancellation(t *testing.T) {
	mock := &mockOrderClient{}
	g := &CCXT{client: mock, cfg: testRetryConfig(), logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	plan := router.OrderPlan{
		Symbol: "BTC/USDT", Side: router.OrderSideBuy, Mode: router.ModeMarket,
		Quantity: 1, ClientOrderID: "tf-5",
	}
	if _, err := g.Place(ctx, plan); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(mock.calls) != 0 {
		t.Fatalf("expected no submission after cancellation, got %d calls", len(mock.calls))
	}
}
