package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/state"
)

type mockExitBroker struct {
	superMods []struct {
		OrderID string
		Price   float64
	}
	orderMods []struct {
		OrderID string
		Trigger float64
	}
	err error
}

func (m *mockExitBroker) ModifySuperOrderStopLoss(_ context.Context, orderID string, price float64) error {
	if m.err != nil {
		return m.err
	}
	m.superMods = append(m.superMods, struct {
		OrderID string
		Price   float64
	}{orderID, price})
	return nil
}

func (m *mockExitBroker) ModifyStopOrder(_ context.Context, orderID string, _ int64, trigger float64) error {
	if m.err != nil {
		return m.err
	}
	m.orderMods = append(m.orderMods, struct {
		OrderID string
		Trigger float64
	}{orderID, trigger})
	return nil
}

func exitConfig() ExitConfig {
	return ExitConfig{
		UnderlyingID: "13",
		SSMAWindow:   5,
		MinPeriod:    2,
		StopBuffer:   0.50,
		Cooldown:     time.Millisecond,
		Activation:   defaultActivation(),
		Hysteresis:   defaultHysteresis(),
	}
}

// 建一个持仓中的 CE 腿，均线历史使 liveSSMA 可控
func setupOpenCE(t *testing.T, active bool) (*state.TradingState, *mockExitBroker, *ExitMonitor) {
	t.Helper()
	st := state.New(10)
	// 历史收盘都在 16000 附近，LSMA = 16000
	for i := 0; i < 10; i++ {
		st.AppendClose(16000)
	}
	lsma := 16000.0
	ssma := 16000.0
	st.SetSMAs(&ssma, &lsma)
	st.SetPrice("100", 150.0, time.Now())
	st.UpdateLeg(domain.OptionCE, func(l *domain.LegState) {
		l.Position = domain.TagOpenFull
		l.SecurityID = "100"
		l.SuperOrderID = "SO-1"
		l.ExitLogicActive = active
		l.EntryTimestamp = time.Now().Add(-time.Minute)
		l.EntryUnderlyingPrice = 16000
	})
	broker := &mockExitBroker{}
	sub := state.NewTickBroadcaster().Subscribe()
	m := NewExitMonitor(broker, st, sub, exitConfig())
	return st, broker, m
}

func TestExitNotEvaluatedBeforeActivation(t *testing.T) {
	st, broker, m := setupOpenCE(t, false)
	// 暴跌 tick：若已激活必然触发出场，但门槛未过、也未超时
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15000, Time: time.Now()})

	if len(broker.superMods)+len(broker.orderMods) != 0 {
		t.Fatal("未激活前不得有任何出场动作")
	}
	if st.Leg(domain.OptionCE).Position != domain.TagOpenFull {
		t.Fatal("未激活前标签不应变化")
	}
}

func TestActivationByFavorableMove(t *testing.T) {
	st, broker, m := setupOpenCE(t, false)
	// 桶 3（16000/5000）→ 门槛 0.0040×0.72² ≈ 0.0020736；涨 0.3% 足够
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 16048, Time: time.Now()})

	if !st.Leg(domain.OptionCE).ExitLogicActive {
		t.Fatal("有利波动超门槛应激活")
	}
	// 激活本身不触发出场
	if len(broker.superMods) != 0 {
		t.Fatal("激活的那个 tick 不应顺带出场")
	}
}

func TestExitTriggerMovesStopAndMarksExiting(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	// lsma=ssma=16000，spread 0 → 压缩区，桶 3 → shift 3.0；
	// liveSSMA 用 tick 15000 拼最后 5 根 16000×4:
	// (16000×4+15000)/5 = 15800 → 跌破 16000-3.0 → 出场
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15000, Time: time.Now()})

	if len(broker.superMods) != 1 {
		t.Fatalf("应改一次超级订单止损: %d", len(broker.superMods))
	}
	mod := broker.superMods[0]
	if mod.OrderID != "SO-1" {
		t.Fatalf("订单号错误: %s", mod.OrderID)
	}
	// 期权价 150 - 0.50
	if mod.Price != 149.5 {
		t.Fatalf("止损价错误: %v", mod.Price)
	}
	leg := st.Leg(domain.OptionCE)
	if leg.Position != domain.TagExiting {
		t.Fatalf("应转 Exiting: %s", leg.Position)
	}
}

func TestExitingSuppressesReTrigger(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	snap := &domain.TickSnapshot{SecurityID: "13", LTP: 15000, Time: time.Now()}
	m.ProcessTick(context.Background(), snap)
	m.ProcessTick(context.Background(), snap)

	if len(broker.superMods) != 1 {
		t.Fatalf("Exiting 后不应重复出场: %d 次", len(broker.superMods))
	}
	_ = st
}

func TestExitModifiesPlainStopsForScalping(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	st.UpdateLeg(domain.OptionCE, func(l *domain.LegState) {
		l.Position = domain.TagOpenScalping
		l.ScalpStop = &domain.StopOrder{OrderID: "S1", RemainingQty: 75}
		l.RunnerStop = &domain.StopOrder{OrderID: "S2", RemainingQty: 75}
	})
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15000, Time: time.Now()})

	if len(broker.superMods) != 0 {
		t.Fatal("独立止损保护的腿不应动超级订单")
	}
	if len(broker.orderMods) != 2 {
		t.Fatalf("应逐张改两笔独立止损: %d", len(broker.orderMods))
	}
	for _, mod := range broker.orderMods {
		if mod.Trigger != 149.5 {
			t.Fatalf("触发价错误: %v", mod.Trigger)
		}
	}
}

func TestExitKeepsTagOnBrokerFailure(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	broker.err = errNoOptionPrice // 任意错误
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15000, Time: time.Now()})

	// 改单失败时保持原标签，下个 tick 还有机会重试
	if got := st.Leg(domain.OptionCE).Position; got != domain.TagOpenFull {
		t.Fatalf("失败后标签不应变: %s", got)
	}
}

// 区制由存储的收盘均线决定：实时 SSMA 跌进正常区带宽（1.5）但
// 没跌破压缩区带宽（3.0）时必须拿住，带宽不随 tick 缩窄。
func TestCompressedRegimeHoldsThroughNormalBand(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	// liveSSMA = (16000×4+15990)/5 = 15998，偏离 2.0
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15990, Time: time.Now()})

	if len(broker.superMods)+len(broker.orderMods) != 0 {
		t.Fatal("压缩区带内不应出场")
	}
	if got := st.Leg(domain.OptionCE).Position; got != domain.TagOpenFull {
		t.Fatalf("压缩区带内标签不应变: %s", got)
	}
}

func TestExitIgnoresBandInterior(t *testing.T) {
	st, broker, m := setupOpenCE(t, true)
	// liveSSMA = (16000×4+15999)/5 = 15999.8，偏离 0.2 < 带宽
	m.ProcessTick(context.Background(), &domain.TickSnapshot{SecurityID: "13", LTP: 15999, Time: time.Now()})
	if len(broker.superMods) != 0 {
		t.Fatal("带内波动不应出场")
	}
	_ = st
}
