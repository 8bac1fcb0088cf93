package reconcile

import (
	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// SplitQuantities 把已成交数量按手拆成 scalper / runner 两份。
// 不是整手的余量只记日志并丢出拆分，绝不悄悄凑进某个止损单。
func SplitQuantities(entered, lotSize int64) (scalpQty, runnerQty, remainder int64) {
	if lotSize <= 0 || entered <= 0 {
		return 0, 0, entered
	}
	lots := entered / lotSize
	remainder = entered % lotSize
	if remainder != 0 {
		logger.WithField("component", "reconcile").Warnf(
			"⚠️ 成交量 %d 不是整手（lotSize=%d），余量 %d 不参与拆分", entered, lotSize, remainder)
	}
	scalpLots := lots / 2
	runnerLots := lots - scalpLots
	return scalpLots * lotSize, runnerLots * lotSize, remainder
}

// AssignStops 判定两笔独立止损单里谁是 scalp 谁是 runner。
// 优先按上一周期记录的订单号对号入座；对不上时，剩余量小的
// 是 scalp（先离场），大的是 runner。
func AssignStops(orders []dhan.Order, prevScalpID, prevRunnerID string) (scalp, runner *dhan.Order) {
	switch len(orders) {
	case 0:
		return nil, nil
	case 1:
		if orders[0].OrderID == prevScalpID {
			return &orders[0], nil
		}
		// 单笔默认当 runner（scalp 先走，剩下的是 runner）
		return nil, &orders[0]
	}

	a, b := &orders[0], &orders[1]
	if a.OrderID == prevScalpID || b.OrderID == prevRunnerID {
		return a, b
	}
	if b.OrderID == prevScalpID || a.OrderID == prevRunnerID {
		return b, a
	}
	if a.RemainingQty <= b.RemainingQty {
		return a, b
	}
	return b, a
}
