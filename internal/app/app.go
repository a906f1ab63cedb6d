package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"tradeflow/internal/audit"
	"tradeflow/internal/config"
	"tradeflow/internal/runtime"
	"tradeflow/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	source *ChanSource

	mu   sync.Mutex
	orch *orchestrator
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
		source: NewChanSource(64),
	}
}

// Source 返回信号入口，供外部信号生产者投递。
func (a *App) Source() *ChanSource {
	return a.source
}

// Reconcile 把一份交易所权威持仓下发给指定标的，供运维按需校正台账。
// 周期性对账由运行循环自动驱动，这里只处理外部主动触发的场景。
func (a *App) Reconcile(instrument string, entries []runtime.ReconcileEntry) error {
	a.mu.Lock()
	orch := a.orch
	a.mu.Unlock()
	if orch == nil {
		return errors.New("app: 系统尚未启动，无法对账")
	}
	return orch.Reconcile(instrument, entries)
}

// Run 组装依赖并运行主循环，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("生命周期运行时已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Strings("instruments", a.cfg.Runtime.Instruments),
		zap.Bool("simulation", a.cfg.Gateway.Simulation),
	)

	var sinks []audit.Sink
	if a.store != nil {
		journal, err := store.NewJournal(a.store, a.logger)
		if err != nil {
			return fmt.Errorf("初始化审计流水存储失败: %w", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	orch, err := newOrchestrator(a.cfg, a.logger, sinks, a.source)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.orch = orch
	a.mu.Unlock()

	if err := orch.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		}
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}
