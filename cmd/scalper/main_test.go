package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/scalpbot/goscalp/internal/catalog"
	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/feed"
	"github.com/scalpbot/goscalp/internal/state"
	"github.com/scalpbot/goscalp/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Market.Exchange = "NSE"
	cfg.Defaults()
	return cfg
}

// 刷新历史 K 线后必须同时算好两条均线：启动时就接手的持仓
// 不能等第一根实盘 K 线收盘才有出场判定的依据。
func TestRefreshCloseHistoryComputesSMAs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/charts/intraday" {
			t.Fatalf("路径错误: %s", r.URL.Path)
		}
		w.Write([]byte(`{"close":[100,101,102,103,104],"timestamp":[1,2,3,4,5]}`))
	}))
	defer srv.Close()

	broker := dhan.NewClient(dhan.Options{BaseURL: srv.URL, ClientID: "c", AccessToken: "t"})
	cfg := testConfig()
	st := state.New(cfg.Candle.LSMAWindow)

	refreshCloseHistory(context.Background(), broker, st, cfg, time.UTC, "13")

	if got := st.CloseHistory(); len(got) != 5 {
		t.Fatalf("收盘历史应为 5 根: %d", len(got))
	}
	ssma, lsma := st.SMAs()
	if ssma == nil || lsma == nil {
		t.Fatal("刷新后两条均线都应就绪")
	}
	// SSMA 取最后 5 根均值，LSMA 不足窗口取部分均值，都是 102
	if *ssma != 102 || *lsma != 102 {
		t.Fatalf("均线数值错误: ssma=%v lsma=%v", *ssma, *lsma)
	}
}

func TestRefreshCloseHistoryToleratesBrokerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	broker := dhan.NewClient(dhan.Options{BaseURL: srv.URL, ClientID: "c", AccessToken: "t"})
	cfg := testConfig()
	st := state.New(cfg.Candle.LSMAWindow)
	st.AppendClose(200)

	refreshCloseHistory(context.Background(), broker, st, cfg, time.UTC, "13")

	// 拉取失败时保留已有历史，不得清空
	if got := st.CloseHistory(); len(got) != 1 || got[0] != 200 {
		t.Fatalf("失败后历史不应被动: %v", got)
	}
}

func testChain() *catalog.Chain {
	ce := map[float64]domain.Instrument{
		24900: {SecurityID: "491", OptionType: domain.OptionCE, LotSize: 75},
		25000: {SecurityID: "500", OptionType: domain.OptionCE, LotSize: 75},
	}
	pe := map[float64]domain.Instrument{
		25000: {SecurityID: "501", OptionType: domain.OptionPE, LotSize: 75},
		25100: {SecurityID: "511", OptionType: domain.OptionPE, LotSize: 75},
	}
	return &catalog.Chain{Underlying: "NIFTY", CE: ce, PE: pe}
}

// 期权订阅在拿到现价后才能定 ATM，且重复刷新不应重发已订合约
func TestSubscribeOptionsIdempotent(t *testing.T) {
	cfg := testConfig()
	st := state.New(10)
	fc := feed.NewClient(feed.Options{URL: "wss://example/feed"}, func(feed.Tick) {})

	subscribeOptions(st, fc, cfg, testChain(), 25010)
	first := len(st.Subscriptions())
	if first == 0 {
		t.Fatal("应订上 ATM 附近的期权")
	}

	subscribeOptions(st, fc, cfg, testChain(), 25010)
	if got := len(st.Subscriptions()); got != first {
		t.Fatalf("重复刷新不应新增订阅: %d -> %d", first, got)
	}
}

func TestPastMarketClose(t *testing.T) {
	loc := time.UTC
	if pastMarketClose(time.Date(2026, 8, 31, 15, 29, 59, 0, loc), 15, 30) {
		t.Fatal("收盘前不应停")
	}
	if !pastMarketClose(time.Date(2026, 8, 31, 15, 30, 0, 0, loc), 15, 30) {
		t.Fatal("收盘那一分钟起应停")
	}
	if !pastMarketClose(time.Date(2026, 8, 31, 16, 0, 0, 0, loc), 15, 30) {
		t.Fatal("收盘后应停")
	}
}
