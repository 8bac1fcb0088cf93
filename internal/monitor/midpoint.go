package monitor

import (
	"context"
	"time"

	"github.com/scalpbot/goscalp/pkg/logger"
)

// MidpointHandler 半周期回调
type MidpointHandler func(ctx context.Context)

// MidpointScheduler 对齐到 K 线半周期的定时器：
// 每根 K 线的中点（边界 + interval/2）触发一次对账。
type MidpointScheduler struct {
	interval time.Duration
	handler  MidpointHandler
	now      func() time.Time
}

// NewMidpointScheduler 创建半周期调度器
func NewMidpointScheduler(interval time.Duration, handler MidpointHandler) *MidpointScheduler {
	return &MidpointScheduler{interval: interval, handler: handler, now: time.Now}
}

// nextFire 下一个半周期时刻（严格在 now 之后）
func (s *MidpointScheduler) nextFire(now time.Time) time.Time {
	boundary := now.Truncate(s.interval)
	mid := boundary.Add(s.interval / 2)
	if !mid.After(now) {
		mid = mid.Add(s.interval)
	}
	return mid
}

// Run 阻塞运行直到 ctx 取消
func (s *MidpointScheduler) Run(ctx context.Context) error {
	log := logger.WithField("component", "midpoint")
	log.Infof("⏱️ 半周期调度启动（周期 %v）", s.interval)
	for {
		wait := time.Until(s.nextFire(s.now()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		s.handler(ctx)
	}
}
