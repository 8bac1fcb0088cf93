package monitor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/state"
)

type mockEntryBroker struct {
	placed []dhan.PlaceSuperOrderRequest
	err    error
}

func (m *mockEntryBroker) PlaceSuperOrder(_ context.Context, req dhan.PlaceSuperOrderRequest) (*dhan.OrderResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.placed = append(m.placed, req)
	return &dhan.OrderResponse{OrderID: "SO-NEW", OrderStatus: "TRANSIT"}, nil
}

func entryConfig() EntryConfig {
	return EntryConfig{
		BasePct:         0.00070,
		StepPct:         0.00005,
		MinPct:          0.00035,
		BlockSize:       5000,
		DeadbandPct:     0.0001,
		QuantityLots:    2,
		TargetPoints:    120,
		MaxLossPct:      0.20,
		MinStopPrice:    5,
		Window:          TimeWindow{StartHour: 0, EndHour: 23, EndMinute: 59, Location: time.UTC},
		ExchangeSegment: "NSE_FNO",
		ProductType:     "INTRADAY",
	}
}

func testPicker(_ float64, ot domain.OptionType) (domain.Instrument, bool) {
	if ot == domain.OptionCE {
		return domain.Instrument{SecurityID: "100", DisplayName: "TEST CALL", OptionType: domain.OptionCE, LotSize: 75}, true
	}
	return domain.Instrument{SecurityID: "200", DisplayName: "TEST PUT", OptionType: domain.OptionPE, LotSize: 75}, true
}

func TestBandPctShrinksWithPrice(t *testing.T) {
	cfg := entryConfig()
	approx := func(got, want float64) bool { return math.Abs(got-want) < 1e-12 }
	// 低于第一个价格块：完整基准
	if got := cfg.BandPct(4000); !approx(got, 0.00070) {
		t.Fatalf("低价带宽错误: %v", got)
	}
	// 7000 → 1 块 → 0.00070 - 1×0.00005 = 0.00065
	if got := cfg.BandPct(7000); !approx(got, 0.00065) {
		t.Fatalf("7000 带宽错误: %v", got)
	}
	// 25000 → 5 块 → 0.00070 - 5×0.00005 = 0.00045
	if got := cfg.BandPct(25000); !approx(got, 0.00045) {
		t.Fatalf("25000 带宽错误: %v", got)
	}
	// 足够高的价格触到下限
	if got := cfg.BandPct(200000); !approx(got, 0.00035) {
		t.Fatalf("下限未生效: %v", got)
	}
}

func TestDecideDirection(t *testing.T) {
	e := NewEntryEvaluator(&mockEntryBroker{}, state.New(10), testPicker, entryConfig())
	close := 25000.0
	// SSMA 在收盘价带内且明显高于 LSMA → CE
	if got := e.Decide(25005, 24990, close); got != domain.OptionCE {
		t.Fatalf("应判 CE，实际 %q", got)
	}
	// SSMA 明显低于 LSMA → PE
	if got := e.Decide(24995, 25010, close); got != domain.OptionPE {
		t.Fatalf("应判 PE，实际 %q", got)
	}
	// 死区内（±0.01%）方向不明
	if got := e.Decide(25000.5, 25000, close); got != "" {
		t.Fatalf("死区内不应给方向，实际 %q", got)
	}
	// SSMA 离收盘价超出带宽 → 不入场
	if got := e.Decide(25100, 24990, close); got != "" {
		t.Fatalf("带外不应入场，实际 %q", got)
	}
}

func setupReadyState(t *testing.T) *state.TradingState {
	t.Helper()
	st := state.New(10)
	ssma, lsma := 25005.0, 24990.0
	st.SetSMAs(&ssma, &lsma)
	st.SetPrice("100", 150.0, time.Now())
	st.SetPrice("200", 140.0, time.Now())
	return st
}

func TestEvaluateOnClosePlacesSuperOrder(t *testing.T) {
	broker := &mockEntryBroker{}
	st := setupReadyState(t)
	e := NewEntryEvaluator(broker, st, testPicker, entryConfig())

	e.EvaluateOnClose(context.Background(), 25000)

	if len(broker.placed) != 1 {
		t.Fatalf("应下一张超级订单: %d", len(broker.placed))
	}
	req := broker.placed[0]
	if req.SecurityID != "100" || req.TransactionType != "BUY" {
		t.Fatalf("下单参数错误: %+v", req)
	}
	if req.Quantity != 150 { // 2 手 × 75
		t.Fatalf("数量错误: %d", req.Quantity)
	}
	if got := req.StopLossPrice.String(); got != "120" { // 150 × 0.8
		t.Fatalf("止损价错误: %s", got)
	}
	if got := req.TargetPrice.String(); got != "270" { // 150 + 120
		t.Fatalf("止盈价错误: %s", got)
	}

	leg := st.Leg(domain.OptionCE)
	if leg.Position != domain.TagEntering {
		t.Fatalf("下单后应转 Entering: %s", leg.Position)
	}
	if leg.SuperOrderID != "SO-NEW" || leg.EntryUnderlyingPrice != 25000 {
		t.Fatalf("腿状态未记录: %+v", leg)
	}
	if leg.ExitLogicActive {
		t.Fatal("新入场不应预先激活出场监控")
	}
}

func TestEvaluateSkipsWhenNotReady(t *testing.T) {
	broker := &mockEntryBroker{}
	st := setupReadyState(t)
	st.UpdateLeg(domain.OptionPE, func(l *domain.LegState) { l.Position = domain.TagOpenFull })
	e := NewEntryEvaluator(broker, st, testPicker, entryConfig())

	e.EvaluateOnClose(context.Background(), 25000)
	if len(broker.placed) != 0 {
		t.Fatal("任一腿非 Ready 时不应入场")
	}
}

func TestEvaluateSkipsOutsideWindow(t *testing.T) {
	broker := &mockEntryBroker{}
	st := setupReadyState(t)
	cfg := entryConfig()
	cfg.Window = TimeWindow{StartHour: 3, EndHour: 4, Location: time.UTC}
	e := NewEntryEvaluator(broker, st, testPicker, cfg)
	e.now = func() time.Time { return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC) }

	e.EvaluateOnClose(context.Background(), 25000)
	if len(broker.placed) != 0 {
		t.Fatal("窗口外不应入场")
	}
}

func TestEvaluateSkipsWithoutFreshPrice(t *testing.T) {
	broker := &mockEntryBroker{}
	st := state.New(10)
	ssma, lsma := 25005.0, 24990.0
	st.SetSMAs(&ssma, &lsma)
	// 报价太老
	st.SetPrice("100", 150.0, time.Now().Add(-10*time.Minute))
	e := NewEntryEvaluator(broker, st, testPicker, entryConfig())

	e.EvaluateOnClose(context.Background(), 25000)
	if len(broker.placed) != 0 {
		t.Fatal("无新鲜期权报价不应入场")
	}
}

func TestEvaluateSkipsWithoutSMAs(t *testing.T) {
	broker := &mockEntryBroker{}
	st := state.New(10)
	st.SetPrice("100", 150.0, time.Now())
	e := NewEntryEvaluator(broker, st, testPicker, entryConfig())

	e.EvaluateOnClose(context.Background(), 25000)
	if len(broker.placed) != 0 {
		t.Fatal("均线缺失不应入场")
	}
}

func TestTimeWindowContains(t *testing.T) {
	w := TimeWindow{StartHour: 9, StartMinute: 30, EndHour: 14, EndMinute: 45, Location: time.UTC}
	in := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	if !w.Contains(in) {
		t.Fatal("10:00 应在窗口内")
	}
	if w.Contains(time.Date(2026, 8, 31, 9, 29, 0, 0, time.UTC)) {
		t.Fatal("9:29 不应在窗口内")
	}
	if w.Contains(time.Date(2026, 8, 31, 14, 45, 0, 0, time.UTC)) {
		t.Fatal("窗口终点不含")
	}
}
