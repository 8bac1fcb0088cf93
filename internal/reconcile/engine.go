package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/state"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// Mode 对账触发来源
type Mode string

const (
	ModeStartup Mode = "startup" // 进程启动时一次
	ModeMid     Mode = "mid"     // K 线半周期
	ModeEnd     Mode = "end"     // K 线收盘
)

// Gateway 对账引擎依赖的经纪端能力
type Gateway interface {
	GetPositions(ctx context.Context) ([]dhan.Position, error)
	GetSuperOrders(ctx context.Context) ([]dhan.SuperOrder, error)
	GetOrders(ctx context.Context) ([]dhan.Order, error)
	CancelSuperOrderLeg(ctx context.Context, orderID, legName string) error
	CancelOrder(ctx context.Context, orderID string) error
	PlaceOrder(ctx context.Context, req dhan.PlaceOrderRequest) (*dhan.OrderResponse, error)
}

// Resolver 按合约 ID 反查合约元信息（目录提供）
type Resolver func(securityID string) (domain.Instrument, bool)

// Recorder 审计落库；nil 表示关闭
type Recorder interface {
	RecordReconciliation(cycleID string, mode, leg, tag string, in Inputs, note string)
	RecordOrderAction(cycleID, action, orderID, result string)
}

// Config 对账参数
type Config struct {
	Interval         time.Duration // K 线周期
	StaleCandles     float64       // 入场单按创建时间计的过期阈值（K 线倍数）
	StaleUpdateAge   time.Duration // 入场单按最后更新时间计的过期阈值
	CancelRetries    int           // 撤单重试次数
	RetryBase        time.Duration // 退避基数，指数加倍
	Reprotect        bool          // True_Orphan 自动补挂止损
	ReprotectLossPct float64       // 补挂止损距现价的比例
	ExchangeSegment  string
	ProductType      string
}

// Engine 仓位对账引擎。
// 一轮 Reconcile 自始至终持有 cycleMu，保证各触发源互斥；
// 经纪端网络调用都在仓位锁之外完成，只在写回时短暂持锁。
type Engine struct {
	gw      Gateway
	st      *state.TradingState
	resolve Resolver
	cfg     Config
	rec     Recorder

	cycleMu sync.Mutex
	// 已确认撤销成功的订单号；同一快照重放时不再重复撤单
	cancelled map[string]bool

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewEngine 创建对账引擎
func NewEngine(gw Gateway, st *state.TradingState, resolve Resolver, cfg Config, rec Recorder) *Engine {
	if cfg.StaleCandles == 0 {
		cfg.StaleCandles = 2.5
	}
	if cfg.StaleUpdateAge == 0 {
		cfg.StaleUpdateAge = 60 * time.Second
	}
	if cfg.CancelRetries == 0 {
		cfg.CancelRetries = 2
	}
	if cfg.RetryBase == 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.ReprotectLossPct == 0 {
		cfg.ReprotectLossPct = 0.20
	}
	return &Engine{
		gw:        gw,
		st:        st,
		resolve:   resolve,
		cfg:       cfg,
		rec:       rec,
		cancelled: make(map[string]bool),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// legFacts 单腿在一次快照里的全部事实
type legFacts struct {
	inputs     Inputs
	securityID string
	lotSize    int64

	entry      *dhan.SuperOrder // 入场腿仍挂着的超级订单
	openSuper  *dhan.SuperOrder // 止损腿仍挂着的超级订单
	plainStops []dhan.Order     // 独立止损单（挂单中）
	avgPrice   float64
	filledQty  int64
	orderedQty int64
}

// Reconcile 执行一轮对账。任何一路快照拉取失败都放弃整轮，
// 把两条腿标成 No data available，绝不拿残缺事实做决策。
func (e *Engine) Reconcile(ctx context.Context, mode Mode) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cycleID := uuid.New().String()
	log := logger.WithFields(logrus.Fields{
		"component": "reconcile",
		"cycle":     cycleID[:8],
		"mode":      mode,
	})
	log.Info("🔄 对账开始")

	positions, err := e.gw.GetPositions(ctx)
	if err != nil {
		e.markNoData(fmt.Sprintf("持仓拉取失败: %v", err))
		log.Errorf("❌ 持仓拉取失败，整轮放弃: %v", err)
		return err
	}
	supers, err := e.gw.GetSuperOrders(ctx)
	if err != nil {
		e.markNoData(fmt.Sprintf("超级订单拉取失败: %v", err))
		log.Errorf("❌ 超级订单拉取失败，整轮放弃: %v", err)
		return err
	}
	orders, err := e.gw.GetOrders(ctx)
	if err != nil {
		e.markNoData(fmt.Sprintf("普通订单拉取失败: %v", err))
		log.Errorf("❌ 普通订单拉取失败，整轮放弃: %v", err)
		return err
	}

	for _, ot := range []domain.OptionType{domain.OptionCE, domain.OptionPE} {
		e.reconcileLeg(ctx, log, cycleID, mode, ot, positions, supers, orders)
	}
	log.Info("✅ 对账完成")
	return nil
}

func (e *Engine) reconcileLeg(ctx context.Context, log *logrus.Entry, cycleID string, mode Mode,
	ot domain.OptionType, positions []dhan.Position, supers []dhan.SuperOrder, orders []dhan.Order) {

	facts := e.gather(ot, positions, supers, orders)
	now := e.now()
	var notes []string

	// 过期入场单清理（仅 mid / end）
	if mode != ModeStartup && facts.entry != nil {
		cutoff := time.Duration(float64(e.cfg.Interval) * e.cfg.StaleCandles)
		createAge := now.Sub(facts.entry.CreateTime)
		updateAge := now.Sub(facts.entry.UpdateTime)
		if !facts.entry.CreateTime.IsZero() && createAge > cutoff && updateAge > e.cfg.StaleUpdateAge {
			log.Warnf("⏰ %s 入场单过期（创建 %v 前，最后更新 %v 前），撤单", ot, createAge.Round(time.Second), updateAge.Round(time.Second))
			if err := e.cancelSuperLeg(ctx, cycleID, facts.entry.OrderID, dhan.LegEntry); err != nil {
				notes = append(notes, fmt.Sprintf("过期入场单撤销失败: %v", err))
			} else {
				notes = append(notes, "过期入场单已撤销")
			}
		}
	}

	res := Classify(facts.inputs)

	// bracket 止损腿与独立止损并存：撤 bracket 腿，独立止损保留
	if res.InconsistentBracket && facts.openSuper != nil {
		log.Warnf("⚠️ %s bracket 止损与独立止损并存，撤销 bracket 止损腿", ot)
		if err := e.cancelSuperLeg(ctx, cycleID, facts.openSuper.OrderID, dhan.LegStopLoss); err != nil {
			notes = append(notes, fmt.Sprintf("bracket 止损腿撤销失败: %v", err))
		} else {
			notes = append(notes, "冗余 bracket 止损腿已撤销")
		}
	}

	hardReset := false
	switch res.Tag {
	case domain.TagOrphanSL:
		// 无仓位但保护单残留：全部撤掉，成功则硬重置为 Ready
		allOK := true
		if facts.openSuper != nil {
			if err := e.cancelSuperLeg(ctx, cycleID, facts.openSuper.OrderID, dhan.LegStopLoss); err != nil {
				allOK = false
				notes = append(notes, fmt.Sprintf("孤儿 bracket 止损撤销失败: %v", err))
			}
		}
		for i := range facts.plainStops {
			if err := e.cancelPlain(ctx, cycleID, facts.plainStops[i].OrderID); err != nil {
				allOK = false
				notes = append(notes, fmt.Sprintf("孤儿止损 %s 撤销失败: %v", facts.plainStops[i].OrderID, err))
			}
		}
		if allOK {
			res.Tag = domain.TagReadyForEntry
			hardReset = true
			notes = append(notes, "孤儿保护单已清理")
			log.Infof("🧹 %s 孤儿保护单清理完成，重置为 Ready", ot)
		} else {
			log.Errorf("❌ %s 孤儿保护单清理未完全成功，保持 Orphan_SL", ot)
		}

	case domain.TagTrueOrphan:
		log.Errorf("🚨 %s 有净仓位 %d 却没有任何保护单", ot, facts.inputs.Net)
		if e.cfg.Reprotect {
			if err := e.reprotect(ctx, cycleID, facts); err != nil {
				notes = append(notes, fmt.Sprintf("补挂保护单失败: %v", err))
			} else {
				notes = append(notes, "已自动补挂保护性止损")
			}
		} else {
			notes = append(notes, "裸仓位，等待人工处理")
		}

	case domain.TagUnknown:
		log.Errorf("❓ %s 无法分类: net=%d re=%d rs=%d ns=%d ln=%d",
			ot, facts.inputs.Net, facts.inputs.RemEntry, facts.inputs.RemBracket,
			facts.inputs.RemPlain, facts.inputs.PlainCount)
		notes = append(notes, fmt.Sprintf("无规则命中: net=%d re=%d rs=%d ns=%d ln=%d",
			facts.inputs.Net, facts.inputs.RemEntry, facts.inputs.RemBracket,
			facts.inputs.RemPlain, facts.inputs.PlainCount))
	}

	note := strings.Join(notes, "; ")
	e.writeBack(ot, mode, res.Tag, facts, hardReset, note, now)
	if e.rec != nil {
		e.rec.RecordReconciliation(cycleID, string(mode), string(ot), string(res.Tag), facts.inputs, note)
	}
	log.Infof("🏷️ %s → %s", ot, res.Tag)
}

// gather 把三路快照按期权方向聚合成单腿事实
func (e *Engine) gather(ot domain.OptionType, positions []dhan.Position, supers []dhan.SuperOrder, orders []dhan.Order) legFacts {
	facts := legFacts{}
	mine := func(securityID string) bool {
		inst, ok := e.resolve(securityID)
		if !ok {
			return false
		}
		if inst.OptionType == ot {
			facts.securityID = securityID
			if inst.LotSize > 0 {
				facts.lotSize = inst.LotSize
			}
			return true
		}
		return false
	}

	for i := range positions {
		p := &positions[i]
		if !mine(p.SecurityID) {
			continue
		}
		if strings.EqualFold(p.PositionType, "LONG") && p.NetQty > 0 {
			facts.inputs.Net += p.NetQty
			facts.avgPrice = p.BuyAvg
		}
	}
	for i := range supers {
		o := &supers[i]
		if !mine(o.SecurityID) {
			continue
		}
		if o.EntryPending() {
			facts.entry = o
			facts.inputs.RemEntry += o.RemainingQty
			facts.orderedQty = o.Quantity
			facts.filledQty = o.FilledQty
		}
		if o.StopLegPending() {
			facts.openSuper = o
			facts.inputs.RemBracket += o.Leg(dhan.LegStopLoss).RemainingQty
		}
	}
	for i := range orders {
		o := &orders[i]
		if !mine(o.SecurityID) {
			continue
		}
		if o.IsStopOrder() && strings.EqualFold(o.TransactionType, "SELL") && dhan.IsPendingStatus(o.OrderStatus) {
			facts.plainStops = append(facts.plainStops, *o)
			facts.inputs.RemPlain += o.RemainingQty
			facts.inputs.PlainCount++
		}
	}
	return facts
}

// writeBack 把分类结果写回共享状态。
// exitLogicActive / entryTimestamp / entryUnderlyingPrice 跨周期保留，
// 除非这条腿被硬重置为 Ready。
func (e *Engine) writeBack(ot domain.OptionType, mode Mode, tag domain.PositionTag, facts legFacts, hardReset bool, note string, now time.Time) {
	prev := e.st.Leg(ot)
	prevScalpID, prevRunnerID := "", ""
	if prev != nil {
		prevScalpID, prevRunnerID = prev.StopOrderIDs()
	}

	e.st.UpdateLeg(ot, func(leg *domain.LegState) {
		if hardReset || (tag == domain.TagReadyForEntry && leg.Position != domain.TagReadyForEntry) {
			leg.Reset(now, note)
			return
		}
		leg.Position = tag
		leg.Note = note
		if facts.securityID != "" {
			leg.SecurityID = facts.securityID
		}
		leg.EnteredQty = facts.inputs.Net
		leg.RemainingEntryQty = facts.inputs.RemEntry
		leg.BracketStopQty = facts.inputs.RemBracket
		leg.PlainStopQty = facts.inputs.RemPlain
		if facts.avgPrice > 0 {
			leg.EntryAvgPrice = facts.avgPrice
		}
		if facts.orderedQty > 0 {
			leg.OrderedQty = facts.orderedQty
		}
		if facts.entry != nil {
			leg.SuperOrderID = facts.entry.OrderID
		} else if facts.openSuper != nil {
			leg.SuperOrderID = facts.openSuper.OrderID
		}

		if tag.IsOpen() {
			scalpQty, runnerQty, _ := SplitQuantities(facts.inputs.Net, facts.lotSize)
			leg.ScalperQty = scalpQty
			leg.RunnerQty = runnerQty

			scalp, runner := AssignStops(facts.plainStops, prevScalpID, prevRunnerID)
			leg.ScalpStop = toStopOrder(scalp)
			leg.RunnerStop = toStopOrder(runner)
			if leg.ScalpStop == nil && leg.RunnerStop == nil && facts.openSuper != nil {
				if sl := facts.openSuper.Leg(dhan.LegStopLoss); sl != nil {
					leg.RunnerStop = &domain.StopOrder{
						OrderID:      facts.openSuper.OrderID,
						Status:       sl.OrderStatus,
						RemainingQty: sl.RemainingQty,
						Price:        sl.Price,
						TriggerPrice: sl.TriggerPrice,
					}
				}
			}
			if leg.EntryTimestamp.IsZero() {
				leg.EntryTimestamp = now
			}
			// 进程重启接管已有仓位时，跳过激活门槛直接盯趋势
			if mode == ModeStartup {
				leg.ExitLogicActive = true
			}
		} else {
			leg.ScalpStop = nil
			leg.RunnerStop = nil
			leg.ScalperQty = 0
			leg.RunnerQty = 0
		}
	})
}

func toStopOrder(o *dhan.Order) *domain.StopOrder {
	if o == nil {
		return nil
	}
	return &domain.StopOrder{
		OrderID:      o.OrderID,
		Status:       o.OrderStatus,
		RemainingQty: o.RemainingQty,
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
	}
}

// markNoData 快照拉取失败时整轮放弃，两条腿都标 No data available
func (e *Engine) markNoData(reason string) {
	e.st.UpdateLegs(func(ce, pe *domain.LegState) {
		for _, leg := range []*domain.LegState{ce, pe} {
			leg.Position = domain.TagNoData
			leg.Note = reason
		}
	})
}

// cancelSuperLeg 有限重试撤超级订单腿
func (e *Engine) cancelSuperLeg(ctx context.Context, cycleID, orderID, legName string) error {
	key := orderID + "/" + legName
	return e.withRetry(ctx, cycleID, "cancel_super_leg", key, func() error {
		return e.gw.CancelSuperOrderLeg(ctx, orderID, legName)
	})
}

// cancelPlain 有限重试撤普通订单
func (e *Engine) cancelPlain(ctx context.Context, cycleID, orderID string) error {
	return e.withRetry(ctx, cycleID, "cancel_order", orderID, func() error {
		return e.gw.CancelOrder(ctx, orderID)
	})
}

// withRetry 有限重试 + 指数退避。已确认撤销成功的订单直接跳过，
// 同一快照连跑两轮不会对同一单重复撤销。
func (e *Engine) withRetry(ctx context.Context, cycleID, action, key string, fn func() error) error {
	if e.cancelled[key] {
		return nil
	}
	var lastErr error
	backoff := e.cfg.RetryBase
	for attempt := 0; attempt <= e.cfg.CancelRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			e.cancelled[key] = true
			if e.rec != nil {
				e.rec.RecordOrderAction(cycleID, action, key, "ok")
			}
			return nil
		}
		logger.WithField("component", "reconcile").Warnf("⚠️ %s %s 第 %d 次失败: %v", action, key, attempt+1, lastErr)
	}
	if e.rec != nil {
		e.rec.RecordOrderAction(cycleID, action, key, fmt.Sprintf("failed: %v", lastErr))
	}
	return lastErr
}

// reprotect 给裸仓位补挂一张保护性止损市价单
func (e *Engine) reprotect(ctx context.Context, cycleID string, facts legFacts) error {
	ltp, _, ok := e.st.Price(facts.securityID)
	if !ok && facts.avgPrice > 0 {
		ltp = facts.avgPrice
	}
	if ltp <= 0 {
		return fmt.Errorf("无可用价格，无法补挂止损")
	}
	trigger := ltp * (1 - e.cfg.ReprotectLossPct)
	resp, err := e.gw.PlaceOrder(ctx, dhan.PlaceOrderRequest{
		TransactionType: "SELL",
		ExchangeSegment: e.cfg.ExchangeSegment,
		ProductType:     e.cfg.ProductType,
		OrderType:       "STOP_LOSS_MARKET",
		Validity:        "DAY",
		SecurityID:      facts.securityID,
		Quantity:        facts.inputs.Net,
		TriggerPrice:    decimal.NewFromFloat(trigger).Round(2),
	})
	if err != nil {
		return err
	}
	if e.rec != nil {
		e.rec.RecordOrderAction(cycleID, "reprotect", resp.OrderID, "ok")
	}
	logger.WithField("component", "reconcile").Infof("🛡️ 已为裸仓位补挂止损: id=%s trigger=%.2f", resp.OrderID, trigger)
	return nil
}
