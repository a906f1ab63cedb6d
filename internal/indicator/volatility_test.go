package indicator

import (
	"math"
	"testing"
)

// flatCandles 生成真实波幅恒定的K线序列，ATR 收敛到固定值，便于断言。
func flatCandles(n int, rangeWidth float64) []Candle {
	out := make([]Candle, n)
	for i := range out {
		out[i] = Candle{High: 100 + rangeWidth/2, Low: 100 - rangeWidth/2, Close: 100}
	}
	return out
}

func TestVolatilityScale_MatchesATRRatio(t *testing.T) {
	// 波幅 2、收盘 100、基准 1% → ATR/价格 = 2%，比例应为 2
	scale, err := VolatilityScale(flatCandles(40, 2), 0.01)
	if err != nil {
		t.Fatalf("VolatilityScale returned error: %v", err)
	}
	if math.Abs(scale-2) > 1e-6 {
		t.Fatalf("expected scale 2, got %f", scale)
	}
}

func TestVolatilityScale_ClampsExtremes(t *testing.T) {
	// 极端高波动夹到 3
	scale, err := VolatilityScale(flatCandles(40, 10), 0.01)
	if err != nil {
		t.Fatalf("VolatilityScale returned error: %v", err)
	}
	if scale != 3 {
		t.Errorf("expected scale clamped to 3, got %f", scale)
	}

	// 极端低波动夹到 0.5
	scale, err = VolatilityScale(flatCandles(40, 0.1), 0.01)
	if err != nil {
		t.Fatalf("VolatilityScale returned error: %v", err)
	}
	if scale != 0.5 {
		t.Errorf("expected scale clamped to 0.5, got %f", scale)
	}
}

func TestVolatilityScale_Rejections(t *testing.T) {
	if _, err := VolatilityScale(flatCandles(10, 2), 0.01); err == nil {
		t.Error("expected error for insufficient candles")
	}
	if _, err := VolatilityScale(flatCandles(40, 2), 0); err == nil {
		t.Error("expected error for non-positive baseline")
	}
}
