package reconcile

import "github.com/scalpbot/goscalp/internal/domain"

// Inputs 单腿分类的五个数值输入，全部来自同一次经纪端快照：
//
//	Net          净持仓数量
//	RemEntry     入场腿未成交数量
//	RemBracket   超级订单止损腿剩余数量
//	RemPlain     独立止损单剩余数量之和
//	PlainCount   独立止损单笔数
type Inputs struct {
	Net        int64
	RemEntry   int64
	RemBracket int64
	RemPlain   int64
	PlainCount int
}

// Result 分类结果
type Result struct {
	Tag domain.PositionTag
	// InconsistentBracket 表示超级订单止损腿和独立止损单同时在保护
	// 同一腿，需要撤掉超级订单的止损腿（保留独立止损）。
	InconsistentBracket bool
}

// Classify 按优先级规则给一条腿打标签，先命中先生效。
// 对任何输入组合都恰好返回九个标签之一，绝不抛异常。
func Classify(in Inputs) Result {
	// 负数输入说明上游数据已经不可信，直接判 Unknown
	if in.Net < 0 || in.RemEntry < 0 || in.RemBracket < 0 || in.RemPlain < 0 || in.PlainCount < 0 {
		return Result{Tag: domain.TagUnknown}
	}
	stops := in.RemBracket + in.RemPlain

	switch {
	case in.Net == 0 && in.RemEntry == 0 && stops == 0 && in.PlainCount == 0:
		return Result{Tag: domain.TagReadyForEntry}

	case in.Net == 0 && in.RemEntry > 0:
		return Result{Tag: domain.TagEntering}

	case in.Net > 0 && in.RemEntry > 0:
		return Result{Tag: domain.TagPartialEntry}

	case in.Net > 0 && in.RemEntry == 0 && stops > 0:
		inconsistent := in.RemBracket > 0 && in.PlainCount > 0
		switch in.PlainCount {
		case 2:
			return Result{Tag: domain.TagOpenScalping, InconsistentBracket: inconsistent}
		case 1:
			return Result{Tag: domain.TagOpenTrailing, InconsistentBracket: inconsistent}
		case 0:
			return Result{Tag: domain.TagOpenFull}
		default:
			// 三笔以上独立止损不在任何已知形态里
			return Result{Tag: domain.TagUnknown, InconsistentBracket: inconsistent}
		}

	case in.Net == 0 && stops > 0:
		return Result{Tag: domain.TagOrphanSL}

	case in.Net > 0 && in.RemEntry == 0 && stops == 0:
		return Result{Tag: domain.TagTrueOrphan}
	}
	return Result{Tag: domain.TagUnknown}
}
