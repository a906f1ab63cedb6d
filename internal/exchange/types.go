package exchange

import "time"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Quote 为一次盘口快照。
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	At     time.Time
}

// PositionState 为交易所权威持仓列表中的一条记录。
type PositionState struct {
	Symbol     string
	Side       string
	EntryPrice float64
	Quantity   float64
}

// Observation 聚合一次行情采集的K线与盘口。
type Observation struct {
	Symbol      string
	Candles     []Candle
	Quote       Quote
	RetrievedAt time.Time
}
