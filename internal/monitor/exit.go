package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/indicator"
	"github.com/scalpbot/goscalp/internal/state"
	"github.com/scalpbot/goscalp/pkg/logger"
)

// ExitBroker 出场路径需要的经纪端能力
type ExitBroker interface {
	ModifySuperOrderStopLoss(ctx context.Context, orderID string, stopPrice float64) error
	ModifyStopOrder(ctx context.Context, orderID string, quantity int64, triggerPrice float64) error
}

// ExitConfig 出场监控配置
type ExitConfig struct {
	UnderlyingID string // 只处理这个标的的 tick
	SSMAWindow   int
	MinPeriod    int
	StopBuffer   float64       // 止损改到 LTP - buffer
	Cooldown     time.Duration // 每次处理后的冷却
	Activation   ActivationParams
	Hysteresis   HysteresisParams
}

// ExitMonitor 趋势出场监控。事件驱动：每个标的 tick 唤醒一次，
// 激活门槛通过后按滞回带判定反转，触发时把保护性止损改到
// 现价下方并把腿标记为 Exiting，抑制重复触发。
type ExitMonitor struct {
	broker ExitBroker
	st     *state.TradingState
	sub    *state.TickSubscription
	cfg    ExitConfig
	log    *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExitMonitor 创建出场监控
func NewExitMonitor(broker ExitBroker, st *state.TradingState, sub *state.TickSubscription, cfg ExitConfig) *ExitMonitor {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 250 * time.Millisecond
	}
	return &ExitMonitor{
		broker: broker,
		st:     st,
		sub:    sub,
		cfg:    cfg,
		log:    logger.WithField("component", "exit-monitor"),
		now:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Run 阻塞运行直到 ctx 取消。单次处理出错只记日志不退出。
func (m *ExitMonitor) Run(ctx context.Context) error {
	m.log.Info("👁️ 出场监控启动")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-m.sub.Wait():
			if !ok {
				return nil
			}
		}
		snap := m.sub.Latest()
		if snap == nil || snap.SecurityID != m.cfg.UnderlyingID {
			continue
		}
		m.ProcessTick(ctx, snap)
		if err := m.sleep(ctx, m.cfg.Cooldown); err != nil {
			return err
		}
	}
}

// ProcessTick 处理一个标的 tick
func (m *ExitMonitor) ProcessTick(ctx context.Context, snap *domain.TickSnapshot) {
	ce, pe := m.st.Legs()
	for _, leg := range []*domain.LegState{ce, pe} {
		if !leg.Position.IsOpen() {
			continue
		}
		m.processLeg(ctx, leg, snap)
	}
}

func (m *ExitMonitor) processLeg(ctx context.Context, leg *domain.LegState, snap *domain.TickSnapshot) {
	now := m.now()

	// 激活门槛：未激活前不做任何趋势出场判定
	if !leg.ExitLogicActive {
		if m.cfg.Activation.ShouldActivate(leg.Leg, leg.EntryUnderlyingPrice, snap.LTP, leg.EntryTimestamp, now) {
			m.st.UpdateLeg(leg.Leg, func(l *domain.LegState) {
				l.ExitLogicActive = true
			})
			m.log.Infof("🔓 %s 出场监控已激活: 入场价=%.2f 现价=%.2f", leg.Leg, leg.EntryUnderlyingPrice, snap.LTP)
		}
		return
	}

	// 实时 SSMA：tick 价拼进收盘历史重算；LSMA 与区制判定用的
	// SSMA 保持 K 线口径
	var liveSSMA, lsma, storedSSMA *float64
	m.st.WithMALock(func(history []float64, ss, ls *float64) {
		liveSSMA = indicator.LiveSMA(history, snap.LTP, m.cfg.SSMAWindow, m.cfg.MinPeriod)
		storedSSMA = ss
		lsma = ls
	})
	if liveSSMA == nil || lsma == nil || storedSSMA == nil {
		return
	}
	if !m.cfg.Hysteresis.ShouldExit(leg.Leg, *liveSSMA, *lsma, *storedSSMA) {
		return
	}

	shift := m.cfg.Hysteresis.Shift(*lsma, *storedSSMA)
	m.log.Warnf("📉 %s 趋势反转: liveSSMA=%.2f lsma=%.2f shift=%.2f，准备出场", leg.Leg, *liveSSMA, *lsma, shift)
	if err := m.triggerExit(ctx, leg); err != nil {
		m.log.Errorf("❌ %s 出场执行失败: %v", leg.Leg, err)
		return
	}
	m.st.UpdateLeg(leg.Leg, func(l *domain.LegState) {
		l.Position = domain.TagExiting
		l.Note = "趋势反转，止损已上移"
	})
	m.log.Infof("🚪 %s 已进入 Exiting", leg.Leg)
}

// triggerExit 把这条腿所有保护性止损改到期权现价下方
func (m *ExitMonitor) triggerExit(ctx context.Context, leg *domain.LegState) error {
	optLTP, _, ok := m.st.Price(leg.SecurityID)
	if !ok || optLTP <= 0 {
		return errNoOptionPrice
	}
	newStop := optLTP - m.cfg.StopBuffer
	if newStop <= 0 {
		newStop = 0.05
	}

	// Open - Full：保护在超级订单的止损腿上
	if leg.Position == domain.TagOpenFull && leg.SuperOrderID != "" {
		return m.broker.ModifySuperOrderStopLoss(ctx, leg.SuperOrderID, newStop)
	}
	// Scalping / Trailing：逐张改独立止损
	var lastErr error
	for _, stop := range []*domain.StopOrder{leg.ScalpStop, leg.RunnerStop} {
		if stop == nil {
			continue
		}
		if err := m.broker.ModifyStopOrder(ctx, stop.OrderID, stop.RemainingQty, newStop); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

type exitError string

func (e exitError) Error() string { return string(e) }

const errNoOptionPrice = exitError("期权无实时价格，无法改止损")
