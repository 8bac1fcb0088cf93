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

// CloseHandler K 线收盘回调（收到的是刚收盘那根的收盘价）
type CloseHandler func(ctx context.Context, close float64)

// candleBucket 一根 K 线的身份：小时 + 周期序号
type candleBucket struct {
	hour   int
	slot   int
	inited bool
}

// CandleDetector 用 tick 时间戳推断 K 线边界。
// tick 落进新桶时，上一个 tick 就是上一根 K 线的最后一笔，
// 其 LTP 记为收盘价。
type CandleDetector struct {
	st  *state.TradingState
	sub *state.TickSubscription
	cfg CandleConfig
	log *logrus.Entry

	prevBucket candleBucket
	prevLTP    float64

	onClose []CloseHandler
}

// CandleConfig K 线检测配置
type CandleConfig struct {
	UnderlyingID    string
	IntervalMinutes int
	SSMAWindow      int
	LSMAWindow      int
	MinPeriod       int
	Location        *time.Location
}

// NewCandleDetector 创建 K 线边界检测器
func NewCandleDetector(st *state.TradingState, sub *state.TickSubscription, cfg CandleConfig) *CandleDetector {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &CandleDetector{
		st:  st,
		sub: sub,
		cfg: cfg,
		log: logger.WithField("component", "candle"),
	}
}

// OnClose 注册收盘回调（入场评估、收盘对账都挂在这里）
func (d *CandleDetector) OnClose(h CloseHandler) {
	d.onClose = append(d.onClose, h)
}

func (d *CandleDetector) bucketOf(t time.Time) candleBucket {
	lt := t.In(d.cfg.Location)
	return candleBucket{hour: lt.Hour(), slot: lt.Minute() / d.cfg.IntervalMinutes, inited: true}
}

// Run 阻塞运行直到 ctx 取消
func (d *CandleDetector) Run(ctx context.Context) error {
	d.log.Infof("🕯️ K 线边界检测启动（%d 分钟）", d.cfg.IntervalMinutes)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-d.sub.Wait():
			if !ok {
				return nil
			}
		}
		snap := d.sub.Latest()
		if snap == nil || snap.SecurityID != d.cfg.UnderlyingID {
			continue
		}
		d.Feed(ctx, snap)
	}
}

// Feed 喂入一个标的 tick，必要时触发收盘
func (d *CandleDetector) Feed(ctx context.Context, snap *domain.TickSnapshot) {
	bucket := d.bucketOf(snap.Time)
	if !d.prevBucket.inited {
		// 第一笔 tick 只建立基准，不产生收盘
		d.prevBucket = bucket
		d.prevLTP = snap.LTP
		return
	}
	if bucket != d.prevBucket {
		close := d.prevLTP
		d.log.Infof("🕯️ K 线收盘: close=%.2f", close)
		d.st.AppendClose(close)
		d.recompute()
		for _, h := range d.onClose {
			h(ctx, close)
		}
	}
	d.prevBucket = bucket
	d.prevLTP = snap.LTP
}

// recompute 收盘后全量重算两条均线
func (d *CandleDetector) recompute() {
	history := d.st.CloseHistory()
	ssma := indicator.SMA(history, d.cfg.SSMAWindow, d.cfg.MinPeriod)
	lsma := indicator.SMA(history, d.cfg.LSMAWindow, d.cfg.MinPeriod)
	d.st.SetSMAs(ssma, lsma)
	if ssma != nil && lsma != nil {
		d.log.Infof("📊 均线更新: ssma=%.2f lsma=%.2f（%d 根）", *ssma, *lsma, len(history))
	}
}
