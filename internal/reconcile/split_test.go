package reconcile

import (
	"testing"

	"github.com/scalpbot/goscalp/internal/dhan"
)

func TestSplitQuantities(t *testing.T) {
	cases := []struct {
		entered, lotSize              int64
		scalp, runner, remainder      int64
	}{
		{150, 75, 75, 75, 0},    // 2 手 → 1+1
		{225, 75, 75, 150, 0},   // 3 手 → 1+2（runner 拿大头）
		{75, 75, 0, 75, 0},      // 1 手 → 全给 runner
		{300, 75, 150, 150, 0},  // 4 手 → 2+2
		{160, 75, 75, 75, 10},   // 余量 10 丢出拆分
		{50, 75, 0, 0, 50},      // 不足一手
		{0, 75, 0, 0, 0},
		{100, 0, 0, 0, 100},     // 手数未知时不拆
	}
	for _, tc := range cases {
		scalp, runner, rem := SplitQuantities(tc.entered, tc.lotSize)
		if scalp != tc.scalp || runner != tc.runner || rem != tc.remainder {
			t.Fatalf("SplitQuantities(%d,%d) = (%d,%d,%d)，期望 (%d,%d,%d)",
				tc.entered, tc.lotSize, scalp, runner, rem, tc.scalp, tc.runner, tc.remainder)
		}
	}
}

// 拆分不变量：scalp+runner 不超过成交量，且都是整手
func TestSplitInvariant(t *testing.T) {
	for entered := int64(0); entered <= 500; entered += 7 {
		for _, lot := range []int64{1, 10, 25, 75} {
			scalp, runner, rem := SplitQuantities(entered, lot)
			if scalp+runner > entered {
				t.Fatalf("拆分超量: entered=%d lot=%d scalp=%d runner=%d", entered, lot, scalp, runner)
			}
			if scalp%lot != 0 || runner%lot != 0 {
				t.Fatalf("拆分非整手: entered=%d lot=%d scalp=%d runner=%d", entered, lot, scalp, runner)
			}
			if scalp+runner+rem != entered {
				t.Fatalf("数量不守恒: entered=%d lot=%d", entered, lot)
			}
			if scalp > runner {
				t.Fatalf("scalp 不应大于 runner: entered=%d lot=%d", entered, lot)
			}
		}
	}
}

func TestAssignStopsPrefersRecordedIDs(t *testing.T) {
	orders := []dhan.Order{
		{OrderID: "A", RemainingQty: 150}, // 量大
		{OrderID: "B", RemainingQty: 75},
	}
	// 没有历史记录：量小的是 scalp
	scalp, runner := AssignStops(orders, "", "")
	if scalp.OrderID != "B" || runner.OrderID != "A" {
		t.Fatalf("按剩余量归属错误: scalp=%s runner=%s", scalp.OrderID, runner.OrderID)
	}
	// 历史记录说 A 是 scalp：以记录为准，哪怕它量大
	scalp, runner = AssignStops(orders, "A", "B")
	if scalp.OrderID != "A" || runner.OrderID != "B" {
		t.Fatalf("按历史归属错误: scalp=%s runner=%s", scalp.OrderID, runner.OrderID)
	}
}

func TestAssignStopsSingleOrder(t *testing.T) {
	orders := []dhan.Order{{OrderID: "R", RemainingQty: 75}}
	// 单笔默认是 runner（scalp 已先离场）
	scalp, runner := AssignStops(orders, "", "")
	if scalp != nil || runner == nil || runner.OrderID != "R" {
		t.Fatalf("单笔归属错误: scalp=%v runner=%v", scalp, runner)
	}
	// 但记录里它就是 scalp 时尊重记录
	scalp, runner = AssignStops(orders, "R", "")
	if scalp == nil || scalp.OrderID != "R" || runner != nil {
		t.Fatalf("单笔按记录归属错误")
	}
}

func TestAssignStopsEmpty(t *testing.T) {
	scalp, runner := AssignStops(nil, "x", "y")
	if scalp != nil || runner != nil {
		t.Fatal("空列表应返回两个 nil")
	}
}
