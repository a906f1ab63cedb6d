package runtime

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"tradeflow/internal/audit"
	"tradeflow/internal/risk"
	"tradeflow/internal/signal"
)

func newTestRegistry(maxOrdersPerMin int) (*Registry, *audit.Log) {
	auditor := audit.NewLog(64)
	engine := risk.NewEngine(testRiskConfig(), nil)
	r := NewRegistry(NewShared(maxOrdersPerMin), engine, testProfile(), auditor, nil)
	return r, auditor
}

func TestRegistry_EnsureReturnsSameInstance(t *testing.T) {
	r, _ := newTestRegistry(10)

	first := r.Ensure("BTC/USDT")
	second := r.Ensure("BTC/USDT")
	if first != second {
		t.Fatal("expected Ensure to return the existing runtime")
	}

	if _, err := r.Get("ETH/USDT"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unregistered instrument, got %v", err)
	}

	r.Ensure("ETH/USDT")
	r.Ensure("AAA/USDT")
	want := []string{"AAA/USDT", "BTC/USDT", "ETH/USDT"}
	if got := r.Instruments(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected sorted instruments %v, got %v", want, got)
	}

	r.Remove("AAA/USDT")
	if _, err := r.Get("AAA/USDT"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected removed instrument gone, got %v", err)
	}
}

func TestRegistry_PeersSeeCrossInstrumentPositions(t *testing.T) {
	r, _ := newTestRegistry(10)

	btc := r.Ensure("BTC/USDT")
	eth := r.Ensure("ETH/USDT")

	sig := pullbackSignal()
	plan, err := btc.RequestPlace(sig, testSnapshot(), 0, testMarket())
	if err != nil {
		t.Fatalf("RequestPlace returned error: %v", err)
	}
	if err := btc.HandleFill(plan.ClientOrderID, "BTC/USDT", signal.DirectionLong, 100, plan.Quantity, 95); err != nil {
		t.Fatalf("HandleFill returned error: %v", err)
	}

	peers := eth.peers()
	if len(peers) != 1 || peers[0].Symbol != "BTC/USDT" {
		t.Fatalf("expected ETH runtime to see BTC position, got %+v", peers)
	}
	// 自身持仓不出现在 peers 视图里
	if own := btc.peers(); len(own) != 0 {
		t.Fatalf("expected no self positions in peers view, got %+v", own)
	}
}

// 两个标的的工作协程同时下单时互查对方持仓，彼此不能阻塞。
func TestRegistry_ConcurrentRequestsAcrossInstruments(t *testing.T) {
	r, _ := newTestRegistry(100000)

	btc := r.Ensure("BTC/USDT")
	eth := r.Ensure("ETH/USDT")

	run := func(rt *Runtime, symbol string) error {
		for i := 0; i < 200; i++ {
			sig := pullbackSignal()
			sig.Symbol = symbol
			plan, err := rt.RequestPlace(sig, testSnapshot(), 0, testMarket())
			if err != nil {
				return err
			}
			if err := rt.HandleOrderFailed(plan.ClientOrderID, "exchange rejected"); err != nil {
				return err
			}
		}
		return nil
	}

	done := make(chan error, 2)
	go func() { done <- run(btc, "BTC/USDT") }()
	go func() { done <- run(eth, "ETH/USDT") }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("concurrent request loop failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("cross-instrument requests did not finish, runtimes are blocking each other")
		}
	}
}

func TestRegistry_KillSwitchBlocksAllInstruments(t *testing.T) {
	r, auditor := newTestRegistry(10)

	btc := r.Ensure("BTC/USDT")
	eth := r.Ensure("ETH/USDT")

	r.SetKillSwitch(true)
	if _, err := btc.RequestPlace(pullbackSignal(), testSnapshot(), 0, testMarket()); !errors.Is(err, ErrSafetyHalted) {
		t.Fatalf("expected BTC runtime halted, got %v", err)
	}
	ethSig := pullbackSignal()
	ethSig.Symbol = "ETH/USDT"
	if _, err := eth.RequestPlace(ethSig, testSnapshot(), 0, testMarket()); !errors.Is(err, ErrSafetyHalted) {
		t.Fatalf("expected ETH runtime halted, got %v", err)
	}
	if !hasEvent(auditor, "kill_switch") {
		t.Error("expected kill_switch audit event")
	}

	r.SetKillSwitch(false)
	if _, err := btc.RequestPlace(pullbackSignal(), testSnapshot(), 0, testMarket()); err != nil {
		t.Fatalf("expected trading resumed after release, got %v", err)
	}
}
