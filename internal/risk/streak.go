package risk

import (
	"time"

	"tradeflow/internal/config"
)

// StreakState 维护连亏计数与风险削减状态。
// 原先这些计数散落在各处的可变字段里，收拢为显式子状态后可独立做快照测试。
// 调用方负责加锁，StreakState 本身不做同步。
type StreakState struct {
	cfg           config.RiskConfig
	global        int
	riskCut       bool
	perSymbol     map[string]int
	cooldownUntil map[string]time.Time
}

// StreakSnapshot 为 StreakState 的只读快照。
type StreakSnapshot struct {
	GlobalLossStreak  int
	RiskCutActive     bool
	SymbolLossStreaks map[string]int
	CooldownUntil     map[string]time.Time
}

// NewStreakState 创建连亏状态。
func NewStreakState(cfg config.RiskConfig) *StreakState {
	return &StreakState{
		cfg:           cfg,
		perSymbol:     make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
	}
}

// RecordOutcome 记录一笔已平仓交易的盈亏。
// 盈利重置全局与该标的的连亏计数并解除风险削减；亏损同时累加两者。
// 标的连亏达到阈值时开启冷却（时长为零则关闭该机制）；
// 全局连亏达到阈值时激活粘性风险削减，直到下一笔盈利为止。
func (s *StreakState) RecordOutcome(symbol string, pnl float64, now time.Time) {
	if pnl > 0 {
		s.global = 0
		s.riskCut = false
		delete(s.perSymbol, symbol)
		return
	}

	s.global++
	s.perSymbol[symbol]++

	if s.cfg.SymbolCooldown > 0 && s.perSymbol[symbol] >= s.cfg.SymbolLossStreak {
		s.cooldownUntil[symbol] = now.Add(s.cfg.SymbolCooldown)
		delete(s.perSymbol, symbol)
	}

	if s.global >= s.cfg.GlobalLossStreak {
		s.riskCut = true
	}
}

// RiskCutActive 返回全局风险削减是否生效。
func (s *StreakState) RiskCutActive() bool {
	return s.riskCut
}

// InCooldown 返回标的是否处于冷却期。
func (s *StreakState) InCooldown(symbol string, now time.Time) bool {
	until, ok := s.cooldownUntil[symbol]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(s.cooldownUntil, symbol)
	return false
}

// Snapshot 返回当前状态的副本，供测试与监控使用。
func (s *StreakState) Snapshot() StreakSnapshot {
	snap := StreakSnapshot{
		GlobalLossStreak:  s.global,
		RiskCutActive:     s.riskCut,
		SymbolLossStreaks: make(map[string]int, len(s.perSymbol)),
		CooldownUntil:     make(map[string]time.Time, len(s.cooldownUntil)),
	}
	for k, v := range s.perSymbol {
		snap.SymbolLossStreaks[k] = v
	}
	for k, v := range s.cooldownUntil {
		snap.CooldownUntil[k] = v
	}
	return snap
}
