package monitor

import (
	"context"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/state"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// EntryBroker 入场路径需要的经纪端能力
type EntryBroker interface {
	PlaceSuperOrder(ctx context.Context, req dhan.PlaceSuperOrderRequest) (*dhan.OrderResponse, error)
}

// InstrumentPicker 按标的现价选出某一侧的可交易合约
type InstrumentPicker func(spot float64, ot domain.OptionType) (domain.Instrument, bool)

// TimeWindow 交易所本地时间的入场窗口（含起点，不含终点）
type TimeWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
	Location               *time.Location
}

// Contains 判断时刻是否在窗口内
func (w TimeWindow) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	minutes := lt.Hour()*60 + lt.Minute()
	return minutes >= w.StartHour*60+w.StartMinute && minutes < w.EndHour*60+w.EndMinute
}

// EntryConfig 入场评估配置
type EntryConfig struct {
	BasePct     float64 // 接近度带基准百分比
	StepPct     float64 // 每个价格块递减
	MinPct      float64 // 带宽下限
	BlockSize   float64 // 价格块宽度
	DeadbandPct float64 // SSMA/LSMA 方向判定死区

	QuantityLots int
	TargetPoints float64 // bracket 止盈距离（期权价位）
	MaxLossPct   float64 // bracket 止损比例
	MinStopPrice float64

	Window      TimeWindow
	PriceMaxAge time.Duration // 期权报价最大可用年龄

	ExchangeSegment string
	ProductType     string
}

// BandPct 入场接近度带宽（百分比）。价格越高带越窄，有下限。
// 第一个价格块从 BlockSize 起算：price >= BlockSize 即收窄一档。
func (c EntryConfig) BandPct(price float64) float64 {
	band := c.BasePct
	if c.BlockSize > 0 && price >= c.BlockSize {
		blocks := math.Floor((price-c.BlockSize)/c.BlockSize) + 1
		band = c.BasePct - c.StepPct*blocks
	}
	if band < c.MinPct {
		band = c.MinPct
	}
	return band
}

// EntryEvaluator 入场评估器。每根 K 线收盘跑一次。
type EntryEvaluator struct {
	broker EntryBroker
	st     *state.TradingState
	pick   InstrumentPicker
	cfg    EntryConfig
	log    *logrus.Entry
	now    func() time.Time
}

// NewEntryEvaluator 创建入场评估器
func NewEntryEvaluator(broker EntryBroker, st *state.TradingState, pick InstrumentPicker, cfg EntryConfig) *EntryEvaluator {
	if cfg.PriceMaxAge <= 0 {
		cfg.PriceMaxAge = 2 * time.Minute
	}
	return &EntryEvaluator{
		broker: broker,
		st:     st,
		pick:   pick,
		cfg:    cfg,
		log:    logger.WithField("component", "entry"),
		now:    time.Now,
	}
}

// Decide 纯判定：给定 SSMA/LSMA/收盘价，返回要入场的方向。
// 返回空串表示不入场。
func (e *EntryEvaluator) Decide(ssma, lsma, close float64) domain.OptionType {
	if close <= 0 {
		return ""
	}
	band := e.cfg.BandPct(close)
	if math.Abs(ssma-close) > band*close {
		return "" // 均线离收盘价太远，趋势已走开
	}
	switch {
	case ssma > lsma*(1+e.cfg.DeadbandPct):
		return domain.OptionCE
	case ssma < lsma*(1-e.cfg.DeadbandPct):
		return domain.OptionPE
	}
	return "" // 死区内方向不明
}

// EvaluateOnClose K 线收盘后评估一次入场机会
func (e *EntryEvaluator) EvaluateOnClose(ctx context.Context, close float64) {
	now := e.now()
	if !e.cfg.Window.Contains(now) {
		return
	}
	ce, pe := e.st.Legs()
	if ce.Position != domain.TagReadyForEntry || pe.Position != domain.TagReadyForEntry {
		return
	}
	ssma, lsma := e.st.SMAs()
	if ssma == nil || lsma == nil || close <= 0 {
		return
	}

	dir := e.Decide(*ssma, *lsma, close)
	if dir == "" {
		return
	}
	inst, ok := e.pick(close, dir)
	if !ok {
		e.log.Warnf("⚠️ %s 方向成立但选不出合约", dir)
		return
	}
	optLTP, _, ok := e.st.Price(inst.SecurityID)
	if !ok || !e.st.PriceFresh(inst.SecurityID, e.cfg.PriceMaxAge, now) || optLTP <= 0 {
		e.log.Warnf("⚠️ %s %s 无新鲜报价，放弃本轮入场", dir, inst.DisplayName)
		return
	}

	qty := int64(e.cfg.QuantityLots) * inst.LotSize
	stopPrice := optLTP * (1 - e.cfg.MaxLossPct)
	if stopPrice < e.cfg.MinStopPrice {
		stopPrice = e.cfg.MinStopPrice
	}
	req := dhan.PlaceSuperOrderRequest{
		TransactionType: "BUY",
		ExchangeSegment: e.cfg.ExchangeSegment,
		ProductType:     e.cfg.ProductType,
		OrderType:       "LIMIT",
		SecurityID:      inst.SecurityID,
		Quantity:        qty,
		Price:           decimal.NewFromFloat(optLTP).Round(2),
		TargetPrice:     decimal.NewFromFloat(optLTP + e.cfg.TargetPoints).Round(2),
		StopLossPrice:   decimal.NewFromFloat(stopPrice).Round(2),
	}
	resp, err := e.broker.PlaceSuperOrder(ctx, req)
	if err != nil {
		e.log.Errorf("❌ %s 入场下单失败: %v", dir, err)
		return
	}

	e.st.Subscribe(inst.SecurityID)
	e.st.UpdateLeg(dir, func(leg *domain.LegState) {
		leg.Position = domain.TagEntering
		leg.SecurityID = inst.SecurityID
		leg.SuperOrderID = resp.OrderID
		leg.OrderedQty = qty
		leg.EntryTimestamp = now
		leg.EntryUnderlyingPrice = close
		leg.ExitLogicActive = false
		leg.Note = ""
	})
	e.log.Infof("🎯 %s 入场: %s qty=%d price=%.2f ssma=%.2f lsma=%.2f close=%.2f",
		dir, inst.DisplayName, qty, optLTP, *ssma, *lsma, close)
}
