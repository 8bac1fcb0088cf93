package domain

import (
	"time"
)

// PositionTag 单腿仓位状态标签（对账引擎的唯一输出，见 classify）
type PositionTag string

const (
	TagReadyForEntry PositionTag = "Ready for Entry"  // 无仓位、无挂单
	TagEntering      PositionTag = "Entering"         // 入场单已挂、零成交
	TagPartialEntry  PositionTag = "Partial Entry"    // 部分成交、入场单仍在
	TagOpenFull      PositionTag = "Open - Full"      // 全部成交，bracket 止损仍挂着，无独立止损
	TagOpenScalping  PositionTag = "Open - Scalping"  // 全部成交，两个独立止损（scalp + runner）
	TagOpenTrailing  PositionTag = "Open - Trailing"  // 全部成交，一个独立止损（仅 runner）
	TagOrphanSL      PositionTag = "Orphan_SL"        // 无净仓位但仍有保护单残留
	TagTrueOrphan    PositionTag = "True_Orphan"      // 有净仓位但无任何保护单（危险）
	TagUnknown       PositionTag = "Unknown"          // 无规则命中，按错误记录
	TagExiting       PositionTag = "Exiting"          // 出场触发后，抑制重复触发
	TagNoData        PositionTag = "No data available" // 经纪商数据获取失败，本轮放弃分类
)

// IsOpen 是否属于「已开仓」标签（出场监控只对这些标签生效）
func (t PositionTag) IsOpen() bool {
	switch t {
	case TagOpenFull, TagOpenScalping, TagOpenTrailing:
		return true
	}
	return false
}

// StopRole 独立止损单的角色
type StopRole string

const (
	StopRoleScalp  StopRole = "scalp"  // 先出场的小份
	StopRoleRunner StopRole = "runner" // 跟趋势的大份
)

// StopOrder 单个保护性止损单的明细（bracket 附属腿或独立止损单）
type StopOrder struct {
	OrderID      string
	Status       string
	RemainingQty int64
	Price        float64
	TriggerPrice float64
}

// LegState 单腿（CE 或 PE）的权威仓位记录。
// 只允许 TradingState 在持有仓位锁的情况下修改。
type LegState struct {
	Leg OptionType // CE / PE

	// 身份
	SecurityID    string // 当前持有/挂单的合约
	SuperOrderID  string // bracket（super）订单 ID
	EntryAvgPrice float64

	// 数量（全部为合约单位，可经 LotSize 换算为手数）
	OrderedQty        int64 // 下单数量
	EnteredQty        int64 // 净成交数量
	RemainingEntryQty int64 // 入场腿剩余数量
	ScalperQty        int64 // 成交后拆分：先出场部分
	RunnerQty         int64 // 成交后拆分：持有部分
	BracketStopQty    int64 // bracket 止损腿剩余数量
	PlainStopQty      int64 // 独立止损单剩余数量合计（至多两张）

	// 保护单明细；nil 表示不存在
	ScalpStop  *StopOrder
	RunnerStop *StopOrder

	// 生命周期 / 元信息
	Position             PositionTag
	ExitLogicActive      bool      // SSMA 出场监控是否已激活
	EntryTimestamp       time.Time // 入场时间（零值表示未知）
	EntryUnderlyingPrice float64   // 入场时标的 LTP（0 表示未知）
	LastUpdated          time.Time
	Note                 string
}

// NewLegState 创建中性初始状态；进程启动和完全平仓后都用它重置
func NewLegState(leg OptionType) *LegState {
	return &LegState{
		Leg:      leg,
		Position: TagReadyForEntry,
	}
}

// Reset 原地硬重置为 Ready（腿记录从不删除，只重置）
func (s *LegState) Reset(now time.Time, note string) {
	leg := s.Leg
	*s = LegState{
		Leg:         leg,
		Position:    TagReadyForEntry,
		LastUpdated: now,
		Note:        note,
	}
}

// Clone 返回状态副本，供监控循环在锁外读取
func (s *LegState) Clone() LegState {
	c := *s
	if s.ScalpStop != nil {
		cp := *s.ScalpStop
		c.ScalpStop = &cp
	}
	if s.RunnerStop != nil {
		cp := *s.RunnerStop
		c.RunnerStop = &cp
	}
	return c
}

// StopOrderIDs 返回当前记录的独立止损单 ID（用于跨周期的 scalp/runner 归属匹配）
func (s *LegState) StopOrderIDs() (scalp, runner string) {
	if s.ScalpStop != nil {
		scalp = s.ScalpStop.OrderID
	}
	if s.RunnerStop != nil {
		runner = s.RunnerStop.OrderID
	}
	return
}
