package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradeflow/internal/audit"
	"tradeflow/internal/config"
	"tradeflow/internal/exchange"
	"tradeflow/internal/gateway"
	"tradeflow/internal/indicator"
	"tradeflow/internal/risk"
	"tradeflow/internal/router"
	"tradeflow/internal/runtime"
	"tradeflow/internal/signal"
)

type pipeline struct {
	instrument string
	rt         *runtime.Runtime
	client     *exchange.Client
	feed       *exchange.MarketDataService
	inbox      chan signal.Signal

	lastReconcile time.Time
}

type orchestrator struct {
	cfg      *config.Config
	logger   *zap.Logger
	engine   *risk.Engine
	auditor  *audit.Log
	registry *runtime.Registry
	gw       gateway.Gateway
	source   Source

	pipelines []*pipeline

	marksMu sync.Mutex
	marks   map[string]float64
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, sinks []audit.Sink, source Source) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &orchestrator{
		cfg:    cfg,
		logger: logger,
		source: source,
		marks:  make(map[string]float64),
	}

	o.auditor = audit.NewLog(cfg.Runtime.AuditCapacity, sinks...)
	o.engine = risk.NewEngine(cfg.Risk, logger)
	shared := runtime.NewShared(cfg.Runtime.MaxOrdersPerMin)
	o.registry = runtime.NewRegistry(shared, o.engine, cfg.Router, o.auditor, logger)

	if cfg.Gateway.Simulation {
		sim := gateway.NewSim(logger)
		sim.MarkPrice = o.lastMark
		o.gw = sim
		logger.Info("网关处于模拟模式")
	} else {
		gw, err := gateway.NewCCXT(cfg.Gateway, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化交易网关失败: %w", err)
		}
		o.gw = gw
	}

	for _, instrument := range cfg.Runtime.Instruments {
		client, err := exchange.NewClient(cfg.Gateway, instrument, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化行情客户端失败 (%s): %w", instrument, err)
		}
		o.pipelines = append(o.pipelines, &pipeline{
			instrument: instrument,
			rt:         o.registry.Ensure(instrument),
			client:     client,
			feed:       exchange.NewMarketDataService(client, logger),
			inbox:      make(chan signal.Signal, 8),
		})
	}

	return o, nil
}

// Run 启动信号分发与每标的一个的工作协程，阻塞直到 ctx 取消。
func (o *orchestrator) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return o.dispatch(groupCtx)
	})

	for _, p := range o.pipelines {
		p := p
		group.Go(func() error {
			return o.work(groupCtx, p)
		})
	}

	if o.cfg.App.StatusPort > 0 {
		group.Go(func() error {
			return o.serveStatus(groupCtx, o.cfg.App.StatusPort)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dispatch 按标的把信号分发到对应工作协程的收件箱。
func (o *orchestrator) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-o.source.Signals():
			if !ok {
				return nil
			}
			p := o.pipelineFor(sig.Symbol)
			if p == nil {
				o.logger.Warn("收到未注册标的的信号", zap.String("symbol", sig.Symbol))
				continue
			}
			select {
			case p.inbox <- sig:
			default:
				o.logger.Warn("信号收件箱已满，丢弃信号", zap.String("symbol", sig.Symbol))
			}
		}
	}
}

func (o *orchestrator) work(ctx context.Context, p *pipeline) error {
	ticker := time.NewTicker(o.cfg.Runtime.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.tick(ctx, p)
		}
	}
}

func (o *orchestrator) tick(ctx context.Context, p *pipeline) {
	obs, err := p.feed.Observe(ctx)
	if err != nil {
		o.logger.Warn("行情采集失败", zap.String("instrument", p.instrument), zap.Error(err))
		return
	}

	o.setMark(p.instrument, obs.Quote.Last)
	p.rt.ObserveMark(p.instrument, obs.Quote.Last)

	if p.rt.State() == runtime.StateExit {
		if err := p.rt.CompleteExit(); err != nil {
			o.logger.Warn("结束平仓流程失败", zap.Error(err))
		}
	}

	o.maybeReconcile(ctx, p)

	select {
	case sig := <-p.inbox:
		o.handleSignal(ctx, p, sig, obs)
	default:
	}
}

func (o *orchestrator) handleSignal(ctx context.Context, p *pipeline, sig signal.Signal, obs exchange.Observation) {
	if sig.Direction == signal.DirectionNone {
		return
	}

	market := router.MarketSnapshot{
		LastPrice: obs.Quote.Last,
		BestBid:   obs.Quote.Bid,
		BestAsk:   obs.Quote.Ask,
	}
	if scale, err := indicator.VolatilityScale(toIndicatorCandles(obs.Candles), o.cfg.Runtime.ATRBaselinePct); err == nil {
		market.VolatilityScale = scale
	}

	plan, err := p.rt.RequestPlace(sig, o.accountSnapshot(), sig.InvalidationPrice, market)
	if err != nil {
		// 风控拒绝与限流是常态事件，不按故障处理
		o.logger.Info("下单请求被拒绝",
			zap.String("instrument", p.instrument),
			zap.Error(err),
		)
		return
	}

	res, err := o.gw.Place(ctx, plan)
	if err != nil {
		o.logger.Error("网关下单失败", zap.String("client_oid", plan.ClientOrderID), zap.Error(err))
		if failErr := p.rt.HandleOrderFailed(plan.ClientOrderID, err.Error()); failErr != nil {
			o.logger.Error("记录下单失败状态出错", zap.Error(failErr))
		}
		return
	}

	if err := p.rt.HandleOrderAck(plan.ClientOrderID); err != nil {
		o.logger.Warn("处理下单确认失败", zap.Error(err))
	}

	if res.AvgFillPrice > 0 && res.FilledQty > 0 {
		err := p.rt.HandleFill(plan.ClientOrderID, plan.Symbol, sideToDirection(plan.Side), res.AvgFillPrice, res.FilledQty, plan.StopLoss)
		if err != nil {
			o.logger.Error("处理成交回报失败", zap.Error(err))
		}
	}
}

// Reconcile 把交易所权威持仓下发给对应标的的运行时。
func (o *orchestrator) Reconcile(instrument string, entries []runtime.ReconcileEntry) error {
	rt, err := o.registry.Get(instrument)
	if err != nil {
		return err
	}
	return rt.Reconcile(entries)
}

// maybeReconcile 按配置周期从交易所拉取权威持仓并校正本地台账。
// 模拟网关没有交易所侧持仓，跳过以免清空本地台账。
func (o *orchestrator) maybeReconcile(ctx context.Context, p *pipeline) {
	interval := o.cfg.Runtime.ReconcileInterval
	if interval <= 0 || o.cfg.Gateway.Simulation {
		return
	}
	if time.Since(p.lastReconcile) < interval {
		return
	}
	p.lastReconcile = time.Now()

	states, err := p.client.FetchPositions(ctx)
	if err != nil {
		o.logger.Warn("拉取权威持仓失败，跳过本轮对账",
			zap.String("instrument", p.instrument),
			zap.Error(err),
		)
		return
	}

	entries := toReconcileEntries(states, p.rt.Positions())
	if err := o.Reconcile(p.instrument, entries); err != nil {
		o.logger.Error("持仓对账失败", zap.String("instrument", p.instrument), zap.Error(err))
	}
}

// toReconcileEntries 把交易所持仓映射为对账记录。
// 交易所不回报止损价，留用本地台账中同标的已登记的止损。
func toReconcileEntries(states []exchange.PositionState, current []runtime.Position) []runtime.ReconcileEntry {
	stops := make(map[string]float64, len(current))
	for _, pos := range current {
		stops[pos.Symbol] = pos.StopLoss
	}

	entries := make([]runtime.ReconcileEntry, 0, len(states))
	for _, st := range states {
		side := signal.DirectionLong
		if strings.EqualFold(st.Side, "SHORT") || strings.EqualFold(st.Side, "SELL") {
			side = signal.DirectionShort
		}
		entries = append(entries, runtime.ReconcileEntry{
			Symbol:     st.Symbol,
			Side:       side,
			EntryPrice: st.EntryPrice,
			Quantity:   st.Quantity,
			StopLoss:   stops[st.Symbol],
		})
	}
	return entries
}

func (o *orchestrator) pipelineFor(symbol string) *pipeline {
	for _, p := range o.pipelines {
		if p.instrument == symbol {
			return p
		}
	}
	return nil
}

func (o *orchestrator) accountSnapshot() risk.Snapshot {
	acct := o.cfg.Account
	return risk.Snapshot{
		Balance:         acct.Balance,
		RiskPerTradeUSD: acct.RiskPerTradeUSD,
		MaxAllowedUSD:   acct.MaxAllowedRiskUSD,
		MaxPositions:    acct.MaxPositions,
		Fees: risk.FeeModel{
			TakerRate: acct.TakerFeeRate,
			MakerRate: acct.MakerFeeRate,
		},
		MinQty:  acct.MinQty,
		LotStep: acct.LotStep,
	}
}

func (o *orchestrator) setMark(symbol string, price float64) {
	if price <= 0 {
		return
	}
	o.marksMu.Lock()
	o.marks[symbol] = price
	o.marksMu.Unlock()
}

func (o *orchestrator) lastMark(symbol string) float64 {
	o.marksMu.Lock()
	defer o.marksMu.Unlock()
	return o.marks[symbol]
}

func sideToDirection(side router.OrderSide) signal.Direction {
	if side == router.OrderSideSell {
		return signal.DirectionShort
	}
	return signal.DirectionLong
}

func toIndicatorCandles(candles []exchange.Candle) []indicator.Candle {
	out := make([]indicator.Candle, len(candles))
	for i, c := range candles {
		out[i] = indicator.Candle{High: c.High, Low: c.Low, Close: c.Close}
	}
	return out
}
