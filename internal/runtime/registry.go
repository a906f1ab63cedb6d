package runtime

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"tradeflow/internal/audit"
	"tradeflow/internal/risk"
	"tradeflow/internal/router"
)

// Registry 管理标的到运行时实例的映射。
// 它由调用方显式创建并持有，实例的创建、销毁与生命周期因此可见且可独立测试，
// 不再依赖包级单例。
type Registry struct {
	mu        sync.Mutex
	instances map[string]*Runtime

	shared  *Shared
	engine  *risk.Engine
	profile router.Profile
	auditor *audit.Log
	logger  *zap.Logger
}

// NewRegistry 创建注册表，所有实例共享同一份安全开关、频率窗口与风控引擎。
func NewRegistry(shared *Shared, engine *risk.Engine, profile router.Profile, auditor *audit.Log, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		instances: make(map[string]*Runtime),
		shared:    shared,
		engine:    engine,
		profile:   profile,
		auditor:   auditor,
		logger:    logger,
	}
}

// Ensure 返回标的对应的运行时，不存在时创建。
func (r *Registry) Ensure(instrument string) *Runtime {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.instances[instrument]; ok {
		return rt
	}

	rt := New(instrument, r.shared, r.engine, r.profile, r.auditor, r.logger)
	rt.peers = func() []risk.OpenPosition { return r.otherPositions(instrument) }
	r.instances[instrument] = rt
	return rt
}

// Get 返回已存在的运行时。
func (r *Registry) Get(instrument string) (*Runtime, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.instances[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: 标的 %s 未注册", ErrNotFound, instrument)
	}
	return rt, nil
}

// Remove 销毁标的对应的运行时。
func (r *Registry) Remove(instrument string) {
	r.mu.Lock()
	delete(r.instances, instrument)
	r.mu.Unlock()
}

// Instruments 返回已注册标的的有序列表。
func (r *Registry) Instruments() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.instances))
	for k := range r.instances {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetKillSwitch 设置全局急停开关，立即阻止所有新下单。
// 已处于 MANAGE 的持仓仍可跟踪与调整，在途交易所订单的撤销属于网关职责。
func (r *Registry) SetKillSwitch(on bool) {
	r.shared.SetKillSwitch(on)
	r.auditor.Append("kill_switch", map[string]interface{}{"on": on})
	r.logger.Warn("急停开关变更", zap.Bool("on", on))
}

// SetSafeMode 设置全局安全模式。
func (r *Registry) SetSafeMode(on bool) {
	r.shared.SetSafeMode(on)
	r.auditor.Append("safe_mode", map[string]interface{}{"on": on})
	r.logger.Warn("安全模式变更", zap.Bool("on", on))
}

// otherPositions 汇总除 exclude 外全部实例的开仓，供跨标的的风控预算与贝塔桶判断。
func (r *Registry) otherPositions(exclude string) []risk.OpenPosition {
	r.mu.Lock()
	runtimes := make([]*Runtime, 0, len(r.instances))
	for name, rt := range r.instances {
		if name == exclude {
			continue
		}
		runtimes = append(runtimes, rt)
	}
	r.mu.Unlock()

	var out []risk.OpenPosition
	for _, rt := range runtimes {
		for _, p := range rt.Positions() {
			out = append(out, risk.OpenPosition{
				Symbol:     p.Symbol,
				Direction:  p.Side,
				EntryPrice: p.EntryPrice,
				StopLoss:   p.StopLoss,
				Quantity:   p.Quantity,
			})
		}
	}
	return out
}
