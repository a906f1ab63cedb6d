package app

import (
	"errors"
	"testing"
	"time"

	"tradeflow/internal/config"
	"tradeflow/internal/exchange"
	"tradeflow/internal/runtime"
	"tradeflow/internal/signal"
)

func testAppConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Environment: "test"},
		Account: config.AccountConfig{
			Balance:           10000,
			RiskPerTradeUSD:   4,
			MaxAllowedRiskUSD: 100,
			MaxPositions:      5,
			MinQty:            0.1,
			LotStep:           0.1,
			TakerFeeRate:      0.0005,
			MakerFeeRate:      0.0002,
		},
		Risk: config.RiskConfig{
			RiskCutFloorUSD:    1,
			GlobalLossStreak:   3,
			SymbolLossStreak:   2,
			CorrelationDamping: 0.5,
			SymbolCooldown:     30 * time.Minute,
			SlippageBufferBps:  5,
		},
		Router: config.RouterConfig{
			TakeProfitR:        2,
			TrailActivateR:     1,
			TrailLockR:         0.5,
			MarketDistanceBps:  10,
			ChaseDistanceBps:   30,
			MaxSpreadBps:       5,
			StopLimitBufferBps: 10,
			MinStopDistancePct: 0.001,
			TimeInForce:        "GTC",
		},
		Runtime: config.RuntimeConfig{
			Instruments:       []string{"BTC/USDT"},
			MaxOrdersPerMin:   5,
			AuditCapacity:     32,
			PollInterval:      time.Second,
			ReconcileInterval: time.Minute,
			ATRBaselinePct:    0.01,
		},
		Gateway: config.GatewayConfig{
			Name:       "binanceusdm",
			Simulation: true,
			Retry:      config.RetryConfig{MaxAttempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
	}
}

func TestToReconcileEntries_MapsSidesAndKeepsLocalStops(t *testing.T) {
	states := []exchange.PositionState{
		{Symbol: "BTC/USDT", Side: "LONG", EntryPrice: 100, Quantity: 0.5},
		{Symbol: "ETH/USDT", Side: "SHORT", EntryPrice: 2000, Quantity: 1},
	}
	current := []runtime.Position{{Symbol: "BTC/USDT", StopLoss: 95}}

	entries := toReconcileEntries(states, current)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Side != signal.DirectionLong || entries[1].Side != signal.DirectionShort {
		t.Errorf("unexpected side mapping: %s / %s", entries[0].Side, entries[1].Side)
	}
	// 交易所不回报止损，已登记的本地止损必须保留
	if entries[0].StopLoss != 95 {
		t.Errorf("expected local stop 95 carried over, got %f", entries[0].StopLoss)
	}
	if entries[1].StopLoss != 0 {
		t.Errorf("expected no stop for unknown position, got %f", entries[1].StopLoss)
	}
	if entries[0].EntryPrice != 100 || entries[0].Quantity != 0.5 {
		t.Errorf("unexpected entry mapping: %+v", entries[0])
	}
}

func TestOrchestratorReconcile_AppliesAuthoritativePositions(t *testing.T) {
	o, err := newOrchestrator(testAppConfig(), nil, nil, NewChanSource(1))
	if err != nil {
		t.Fatalf("newOrchestrator returned error: %v", err)
	}

	entries := []runtime.ReconcileEntry{
		{Symbol: "BTC/USDT", Side: signal.DirectionLong, EntryPrice: 100, Quantity: 0.5, StopLoss: 95},
	}
	if err := o.Reconcile("BTC/USDT", entries); err != nil {
		t.Fatalf("Reconcile returned error: %v", err)
	}

	rt, err := o.registry.Get("BTC/USDT")
	if err != nil {
		t.Fatalf("registry lookup failed: %v", err)
	}
	if rt.State() != runtime.StateManage {
		t.Fatalf("expected MANAGE after adopting a position, got %s", rt.State())
	}
	positions := rt.Positions()
	if len(positions) != 1 || positions[0].Quantity != 0.5 {
		t.Fatalf("expected single 0.5 position in ledger, got %+v", positions)
	}

	if err := o.Reconcile("SOL/USDT", nil); !errors.Is(err, runtime.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unregistered instrument, got %v", err)
	}
}

func TestAppReconcile_RequiresRunningSystem(t *testing.T) {
	a := New(testAppConfig(), nil, nil)
	if err := a.Reconcile("BTC/USDT", nil); err == nil {
		t.Fatal("expected error before the run loop starts")
	}
}
