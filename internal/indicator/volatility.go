package indicator

import (
	"fmt"

	talib "github.com/markcheno/go-talib"
)

// Candle 为计算波动所需的最小K线切片。
type Candle struct {
	High  float64
	Low   float64
	Close float64
}

const defaultATRPeriod = 14

// VolatilityScale 基于 ATR 计算波动比例，供路由放大移动止损的激活距离。
// 返回值为当前 ATR 相对价格的比例除以基准比例，基准下波动返回 1。
func VolatilityScale(candles []Candle, baselinePct float64) (float64, error) {
	if len(candles) <= defaultATRPeriod {
		return 0, fmt.Errorf("indicator: K线数量不足，需要至少 %d 根", defaultATRPeriod+1)
	}
	if baselinePct <= 0 {
		return 0, fmt.Errorf("indicator: 基准波动比例必须为正")
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}

	atr := talib.Atr(highs, lows, closes, defaultATRPeriod)
	last := atr[len(atr)-1]
	lastClose := closes[len(closes)-1]
	if last <= 0 || lastClose <= 0 {
		return 0, fmt.Errorf("indicator: ATR 计算结果无效")
	}

	scale := (last / lastClose) / baselinePct
	// 夹在合理区间内，极端行情不至于把激活距离推到没有意义的程度
	if scale < 0.5 {
		scale = 0.5
	}
	if scale > 3 {
		scale = 3
	}
	return scale, nil
}
