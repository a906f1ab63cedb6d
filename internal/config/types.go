package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Account  AccountConfig  `mapstructure:"account"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Router   RouterConfig   `mapstructure:"router"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。StatusPort 为 0 时关闭状态服务。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	StatusPort  int    `mapstructure:"status_port"`
}

// AccountConfig 描述账户与合约约束，用于构造每次下单的风控快照。
type AccountConfig struct {
	Balance           float64 `mapstructure:"balance"`
	RiskPerTradeUSD   float64 `mapstructure:"risk_per_trade_usd"`
	MaxAllowedRiskUSD float64 `mapstructure:"max_allowed_risk_usd"`
	MaxPositions      int     `mapstructure:"max_positions"`
	MinQty            float64 `mapstructure:"min_qty"`
	LotStep           float64 `mapstructure:"lot_step"`
	TakerFeeRate      float64 `mapstructure:"taker_fee_rate"`
	MakerFeeRate      float64 `mapstructure:"maker_fee_rate"`
}

// RiskConfig 管理风控参数。
// 这些阈值历史上是源码里的固定常量，现统一提升为配置项，默认值与原常量一致。
type RiskConfig struct {
	RiskCutFloorUSD    float64             `mapstructure:"risk_cut_floor_usd"`
	GlobalLossStreak   int                 `mapstructure:"global_loss_streak"`
	SymbolLossStreak   int                 `mapstructure:"symbol_loss_streak"`
	CorrelationDamping float64             `mapstructure:"correlation_damping"`
	SymbolCooldown     time.Duration       `mapstructure:"symbol_cooldown"`
	SlippageBufferBps  float64             `mapstructure:"slippage_buffer_bps"`
	BetaBuckets        map[string][]string `mapstructure:"beta_buckets"`
}

// RouterConfig 描述执行路由使用的策略画像。
type RouterConfig struct {
	TakeProfitR        float64 `mapstructure:"take_profit_r"`
	TrailActivateR     float64 `mapstructure:"trail_activate_r"`
	TrailLockR         float64 `mapstructure:"trail_lock_r"`
	MarketDistanceBps  float64 `mapstructure:"market_distance_bps"`
	ChaseDistanceBps   float64 `mapstructure:"chase_distance_bps"`
	MaxSpreadBps       float64 `mapstructure:"max_spread_bps"`
	StopLimitBufferBps float64 `mapstructure:"stop_limit_buffer_bps"`
	MinStopDistancePct float64 `mapstructure:"min_stop_distance_pct"`
	TimeInForce        string  `mapstructure:"time_in_force"`
}

// RuntimeConfig 控制生命周期运行时的全局行为。
// ReconcileInterval 为 0 时关闭周期性持仓对账。
type RuntimeConfig struct {
	Instruments       []string      `mapstructure:"instruments"`
	MaxOrdersPerMin   int           `mapstructure:"max_orders_per_min"`
	AuditCapacity     int           `mapstructure:"audit_capacity"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ATRBaselinePct    float64       `mapstructure:"atr_baseline_pct"`
}

// GatewayConfig 描述交易所网关连接信息。
type GatewayConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Simulation bool        `mapstructure:"simulation"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制网关重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// DatabaseConfig 管理审计流水数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.StatusPort < 0 || c.App.StatusPort > 65535 {
		err = multierr.Append(err, errors.New("app.status_port 必须位于[0,65535]"))
	}
	if c.Account.Balance <= 0 {
		err = multierr.Append(err, errors.New("account.balance 必须大于0"))
	}
	if c.Account.RiskPerTradeUSD <= 0 {
		err = multierr.Append(err, errors.New("account.risk_per_trade_usd 必须大于0"))
	}
	if c.Account.MaxAllowedRiskUSD < c.Account.RiskPerTradeUSD {
		err = multierr.Append(err, errors.New("account.max_allowed_risk_usd 不应小于 risk_per_trade_usd"))
	}
	if c.Account.MaxPositions <= 0 {
		err = multierr.Append(err, errors.New("account.max_positions 必须大于0"))
	}
	if c.Account.MinQty < 0 || c.Account.LotStep <= 0 {
		err = multierr.Append(err, errors.New("account.lot_step 必须大于0且 min_qty 不能为负"))
	}
	if c.Account.TakerFeeRate < 0 || c.Account.MakerFeeRate < 0 {
		err = multierr.Append(err, errors.New("account.fee_rate 不能为负"))
	}
	if c.Risk.RiskCutFloorUSD < 0 {
		err = multierr.Append(err, errors.New("risk.risk_cut_floor_usd 不能为负"))
	}
	if c.Risk.GlobalLossStreak <= 0 {
		err = multierr.Append(err, errors.New("risk.global_loss_streak 必须大于0"))
	}
	if c.Risk.SymbolLossStreak <= 0 {
		err = multierr.Append(err, errors.New("risk.symbol_loss_streak 必须大于0"))
	}
	if c.Risk.CorrelationDamping <= 0 || c.Risk.CorrelationDamping > 1 {
		err = multierr.Append(err, errors.New("risk.correlation_damping 必须位于(0,1]"))
	}
	if c.Risk.SymbolCooldown < 0 {
		err = multierr.Append(err, errors.New("risk.symbol_cooldown 不能为负"))
	}
	if c.Risk.SlippageBufferBps < 0 {
		err = multierr.Append(err, errors.New("risk.slippage_buffer_bps 不能为负"))
	}
	if c.Router.TakeProfitR <= 0 {
		err = multierr.Append(err, errors.New("router.take_profit_r 必须大于0"))
	}
	if c.Router.TrailActivateR <= 0 {
		err = multierr.Append(err, errors.New("router.trail_activate_r 必须大于0"))
	}
	if c.Router.TrailLockR < 0 {
		err = multierr.Append(err, errors.New("router.trail_lock_r 不能为负"))
	}
	if c.Router.MarketDistanceBps <= 0 {
		err = multierr.Append(err, errors.New("router.market_distance_bps 必须大于0"))
	}
	if c.Router.ChaseDistanceBps < c.Router.MarketDistanceBps {
		err = multierr.Append(err, errors.New("router.chase_distance_bps 不应小于 market_distance_bps"))
	}
	if c.Router.MaxSpreadBps <= 0 {
		err = multierr.Append(err, errors.New("router.max_spread_bps 必须大于0"))
	}
	if c.Router.StopLimitBufferBps <= 0 {
		err = multierr.Append(err, errors.New("router.stop_limit_buffer_bps 必须大于0"))
	}
	if c.Router.MinStopDistancePct <= 0 || c.Router.MinStopDistancePct > 0.5 {
		err = multierr.Append(err, errors.New("router.min_stop_distance_pct 应位于(0,0.5]"))
	}
	if len(c.Runtime.Instruments) == 0 {
		err = multierr.Append(err, errors.New("runtime.instruments 至少包含一个标的"))
	}
	if c.Runtime.MaxOrdersPerMin <= 0 {
		err = multierr.Append(err, errors.New("runtime.max_orders_per_min 必须大于0"))
	}
	if c.Runtime.AuditCapacity <= 0 {
		err = multierr.Append(err, errors.New("runtime.audit_capacity 必须大于0"))
	}
	if c.Runtime.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("runtime.poll_interval 必须大于0"))
	}
	if c.Runtime.ReconcileInterval < 0 {
		err = multierr.Append(err, errors.New("runtime.reconcile_interval 不能为负"))
	}
	if c.Runtime.ATRBaselinePct <= 0 {
		err = multierr.Append(err, errors.New("runtime.atr_baseline_pct 必须大于0"))
	}
	if c.Gateway.Name == "" {
		err = multierr.Append(err, errors.New("gateway.name 不能为空"))
	}
	if !c.Gateway.Simulation && (c.Gateway.APIKey == "" || c.Gateway.APISecret == "") {
		err = multierr.Append(err, errors.New("实盘网关需要配置 api_key 与 api_secret"))
	}
	if c.Gateway.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.max_attempts 必须大于0"))
	}
	if c.Gateway.Retry.MinDelay <= 0 || c.Gateway.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("gateway.retry.delay 必须为正"))
	}
	if c.Gateway.Retry.MinDelay > c.Gateway.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("gateway.retry.min_delay 不能大于 max_delay"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
