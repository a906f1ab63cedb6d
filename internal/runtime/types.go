package runtime

import (
	"errors"
	"time"

	"tradeflow/internal/router"
	"tradeflow/internal/signal"
)

// State 表示单个标的的生命周期状态。
type State string

const (
	StateScan   State = "SCAN"
	StatePlace  State = "PLACE"
	StateManage State = "MANAGE"
	StateExit   State = "EXIT"
)

// PositionStatus 表示持仓状态。
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
)

// Position 为台账中的一个持仓。成交时创建，平仓或对账移除。
type Position struct {
	Symbol     string
	Side       signal.Direction
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	Trailing   router.TrailingPlan
	Status     PositionStatus
	OpenedAt   time.Time
}

// ReconcileEntry 是交易所权威持仓列表中的一条记录。
type ReconcileEntry struct {
	Symbol     string
	Side       signal.Direction
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
}

var (
	// ErrInvalidTransition 表示当前状态不允许该操作，调用方需要重新同步状态。
	ErrInvalidTransition = errors.New("runtime: 当前状态不允许该操作")
	// ErrSafetyHalted 表示急停或安全模式已触发，拒绝新的下单请求。
	ErrSafetyHalted = errors.New("runtime: 安全开关已触发，拒绝下单")
	// ErrRateLimited 表示滑动窗口内的下单次数已达上限，稍后重试。
	ErrRateLimited = errors.New("runtime: 超过下单频率限制")
	// ErrNotFound 表示操作引用了不存在的持仓。
	ErrNotFound = errors.New("runtime: 找不到对应持仓")
	// ErrUnknownOrder 表示回调引用了未知订单号，需要上层核对。
	ErrUnknownOrder = errors.New("runtime: 回调引用了未知订单")
	// ErrValidation 表示回调或入参不合法，操作未产生任何变更。
	ErrValidation = errors.New("runtime: 参数不合法")
)
