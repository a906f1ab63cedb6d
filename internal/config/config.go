package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "tradeflow"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.status_port", 0)

	v.SetDefault("account.balance", 10000.0)
	v.SetDefault("account.risk_per_trade_usd", 50.0)
	v.SetDefault("account.max_allowed_risk_usd", 150.0)
	v.SetDefault("account.max_positions", 3)
	v.SetDefault("account.min_qty", 0.001)
	v.SetDefault("account.lot_step", 0.001)
	v.SetDefault("account.taker_fee_rate", 0.0005)
	v.SetDefault("account.maker_fee_rate", 0.0002)

	v.SetDefault("risk.risk_cut_floor_usd", 1.0)
	v.SetDefault("risk.global_loss_streak", 3)
	v.SetDefault("risk.symbol_loss_streak", 2)
	v.SetDefault("risk.correlation_damping", 0.5)
	v.SetDefault("risk.symbol_cooldown", "30m")
	v.SetDefault("risk.slippage_buffer_bps", 5.0)
	v.SetDefault("risk.beta_buckets", map[string][]string{
		"majors": {"BTC/USDT", "ETH/USDT"},
	})

	v.SetDefault("router.take_profit_r", 2.0)
	v.SetDefault("router.trail_activate_r", 1.0)
	v.SetDefault("router.trail_lock_r", 0.5)
	v.SetDefault("router.market_distance_bps", 10.0)
	v.SetDefault("router.chase_distance_bps", 35.0)
	v.SetDefault("router.max_spread_bps", 8.0)
	v.SetDefault("router.stop_limit_buffer_bps", 15.0)
	v.SetDefault("router.min_stop_distance_pct", 0.001)
	v.SetDefault("router.time_in_force", "GTC")

	v.SetDefault("runtime.instruments", []string{"BTC/USDT"})
	v.SetDefault("runtime.max_orders_per_min", 5)
	v.SetDefault("runtime.audit_capacity", 512)
	v.SetDefault("runtime.poll_interval", "15s")
	v.SetDefault("runtime.reconcile_interval", "5m")
	v.SetDefault("runtime.atr_baseline_pct", 0.01)

	v.SetDefault("gateway.name", "binanceusdm")
	v.SetDefault("gateway.use_sandbox", false)
	v.SetDefault("gateway.simulation", true)
	v.SetDefault("gateway.retry.max_attempts", 3)
	v.SetDefault("gateway.retry.min_delay", "500ms")
	v.SetDefault("gateway.retry.max_delay", "5s")

	// 审计流水是单写者追加负载，单连接即可且避免写锁竞争
	v.SetDefault("database.path", "data/tradeflow.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
