package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scalpbot/goscalp/internal/catalog"
	"github.com/scalpbot/goscalp/internal/dhan"
	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/internal/feed"
	"github.com/scalpbot/goscalp/internal/indicator"
	"github.com/scalpbot/goscalp/internal/monitor"
	"github.com/scalpbot/goscalp/internal/reconcile"
	"github.com/scalpbot/goscalp/internal/recorder"
	"github.com/scalpbot/goscalp/internal/state"
	"github.com/scalpbot/goscalp/pkg/config"
	"github.com/scalpbot/goscalp/pkg/logger"
	"github.com/scalpbot/goscalp/pkg/secretstore"
	"github.com/scalpbot/goscalp/pkg/shutdown"
	"github.com/scalpbot/goscalp/pkg/syncgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scalper 启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	flag.Parse()
	config.SetConfigPath(*configPath)

	cfg, err := config.LoadFromFile(config.GetConfigPath())
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		return fmt.Errorf("加载时区失败: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		Location:   loc,
	}); err != nil {
		return err
	}
	logger.Info("🚀 goscalp 启动")

	// 凭证：优先 secretstore，退回环境变量/配置
	clientID, accessToken := cfg.Broker.ClientID, cfg.Broker.AccessToken
	if cfg.Secrets.Path != "" {
		store, err := secretstore.Open(secretstore.OpenOptions{
			Path:          cfg.Secrets.Path,
			EncryptionKey: []byte(os.Getenv("SCALPER_SECRET_KEY")),
			ReadOnly:      true,
		})
		if err != nil {
			return fmt.Errorf("打开凭证库失败: %w", err)
		}
		id, token, err := store.BrokerCredentials()
		_ = store.Close()
		if err == nil {
			clientID, accessToken = id, token
			logger.Info("🔐 凭证已从 secretstore 加载")
		} else {
			logger.Warnf("⚠️ secretstore 读取失败（%v），退回环境变量", err)
		}
	}
	if clientID == "" || accessToken == "" {
		return fmt.Errorf("缺少经纪商凭证（DHAN_CLIENT_ID / DHAN_ACCESS_TOKEN）")
	}

	broker := dhan.NewClient(dhan.Options{
		BaseURL:     cfg.Broker.BaseURL,
		ClientID:    clientID,
		AccessToken: accessToken,
		Timeout:     time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
		RateLimit:   cfg.Broker.RateLimit,
		Location:    loc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 合约目录与期权链
	cat := catalog.New(catalog.Options{
		MasterURL: cfg.Catalog.MasterURL,
		DataDir:   cfg.Catalog.DataDir,
		Location:  loc,
	})
	chain, err := cat.LoadChain(ctx, cfg.Market.Exchange, cfg.Market.Underlying)
	if err != nil {
		return err
	}
	underlyingID := underlyingSecurityID(chain)
	if underlyingID == "" {
		return fmt.Errorf("期权链里找不到标的合约 ID")
	}

	st := state.New(cfg.Candle.LSMAWindow)
	broadcaster := state.NewTickBroadcaster()

	// 审计库（可选）
	var rec reconcile.Recorder
	var auditStore *recorder.Store
	if cfg.Recorder.Path != "" {
		auditStore, err = recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return err
		}
		rec = auditStore
		defer auditStore.Close()
	}

	// 行情：tick 进状态表并广播不可变快照
	var feedClient *feed.Client
	var optionsOnce sync.Once
	feedClient = feed.NewClient(feed.Options{
		URL:                  cfg.Feed.URL,
		ClientID:             clientID,
		AccessToken:          accessToken,
		SubscribeRequestCode: cfg.Feed.SubscribeRequestCode,
		ReconnectMax:         time.Duration(cfg.Feed.ReconnectMaxSeconds) * time.Second,
	}, func(t feed.Tick) {
		prevLTP, prevTime, _ := st.Price(t.SecurityID)
		st.SetPrice(t.SecurityID, t.LTP, t.Time)
		broadcaster.Publish(&domain.TickSnapshot{
			SecurityID: t.SecurityID,
			PrevLTP:    prevLTP,
			LTP:        t.LTP,
			PrevTime:   prevTime,
			Time:       t.Time,
		})
		// 首个标的 tick 给出现价，才能定 ATM，补订期权行情
		if t.SecurityID == underlyingID {
			optionsOnce.Do(func() {
				subscribeOptions(st, feedClient, cfg, chain, t.LTP)
			})
		}
	})

	// 启动前用官方 K 线喂满收盘历史和均线，开盘重启也能马上出信号
	refreshCloseHistory(ctx, broker, st, cfg, loc, underlyingID)

	interval := time.Duration(cfg.Candle.IntervalMinutes) * time.Minute
	engine := reconcile.NewEngine(broker, st, chainResolver(chain), reconcile.Config{
		Interval:         interval,
		StaleCandles:     cfg.Reconcile.StaleCandles,
		StaleUpdateAge:   time.Duration(cfg.Reconcile.StaleUpdateSec) * time.Second,
		CancelRetries:    cfg.Reconcile.CancelRetries,
		RetryBase:        time.Duration(cfg.Reconcile.RetryBaseSeconds) * time.Second,
		Reprotect:        cfg.Reconcile.Reprotect,
		ReprotectLossPct: cfg.Exit.MaxLossPct,
		ExchangeSegment:  cfg.Market.OptionSegment,
		ProductType:      cfg.Market.ProductType,
	}, rec)

	// 启动对账：接管经纪端已有仓位后再开行情
	if err := engine.Reconcile(ctx, reconcile.ModeStartup); err != nil {
		logger.Warnf("⚠️ 启动对账失败（%v），带着 No data available 继续", err)
	}

	// 先订标的；期权要等首个标的 tick 给出现价才定得了 ATM
	subscribeUnderlying(st, feedClient, cfg, underlyingID)

	entryStartH, entryStartM, _ := config.ParseHM(cfg.Market.EntryStart)
	entryEndH, entryEndM, _ := config.ParseHM(cfg.Market.EntryEnd)

	entry := monitor.NewEntryEvaluator(broker, st, chainPicker(st, feedClient, cfg, chain), monitor.EntryConfig{
		BasePct:         cfg.Entry.BasePct,
		StepPct:         cfg.Entry.StepPct,
		MinPct:          cfg.Entry.MinPct,
		BlockSize:       cfg.Entry.BlockSize,
		DeadbandPct:     cfg.Entry.DeadbandPct,
		QuantityLots:    cfg.Entry.QuantityLots,
		TargetPoints:    cfg.Exit.TargetPoints,
		MaxLossPct:      cfg.Exit.MaxLossPct,
		MinStopPrice:    cfg.Exit.MinStopPrice,
		Window:          monitor.TimeWindow{StartHour: entryStartH, StartMinute: entryStartM, EndHour: entryEndH, EndMinute: entryEndM, Location: loc},
		ExchangeSegment: cfg.Market.OptionSegment,
		ProductType:     cfg.Market.ProductType,
	})

	exitMon := monitor.NewExitMonitor(broker, st, broadcaster.Subscribe(), monitor.ExitConfig{
		UnderlyingID: underlyingID,
		SSMAWindow:   cfg.Candle.SSMAWindow,
		MinPeriod:    cfg.Candle.MinPeriod,
		StopBuffer:   cfg.Exit.StopBuffer,
		Cooldown:     time.Duration(cfg.Exit.CooldownMillis) * time.Millisecond,
		Activation: monitor.ActivationParams{
			BasePct:     cfg.Activation.BasePct,
			DecayFactor: cfg.Activation.DecayFactor,
			BucketSize:  cfg.Activation.BucketSize,
			MinBuckets:  cfg.Activation.MinBuckets,
			Timeout:     time.Duration(cfg.Activation.TimeoutMinutes) * time.Minute,
		},
		Hysteresis: monitor.HysteresisParams{
			BucketSize:       cfg.Hysteresis.BucketSize,
			CompressedSpread: cfg.Hysteresis.CompressedSpread,
			CompressedShift:  cfg.Hysteresis.CompressedShift,
			NormalShift:      cfg.Hysteresis.NormalShift,
		},
	})

	candles := monitor.NewCandleDetector(st, broadcaster.Subscribe(), monitor.CandleConfig{
		UnderlyingID:    underlyingID,
		IntervalMinutes: cfg.Candle.IntervalMinutes,
		SSMAWindow:      cfg.Candle.SSMAWindow,
		LSMAWindow:      cfg.Candle.LSMAWindow,
		MinPeriod:       cfg.Candle.MinPeriod,
		Location:        loc,
	})
	candles.OnClose(func(ctx context.Context, close float64) {
		_ = logger.CheckAndRotate()
		if auditStore != nil {
			ssma, lsma := st.SMAs()
			auditStore.RecordCandle(close, ssma, lsma)
		}
		if err := engine.Reconcile(ctx, reconcile.ModeEnd); err != nil {
			logger.Errorf("❌ 收盘对账失败: %v", err)
			return
		}
		entry.EvaluateOnClose(ctx, close)
	})

	closeH, closeM, _ := config.ParseHM(cfg.Market.Close)
	var closedLogged bool
	midpoint := monitor.NewMidpointScheduler(interval, func(ctx context.Context) {
		if pastMarketClose(time.Now().In(loc), closeH, closeM) {
			if !closedLogged {
				logger.Info("🔔 已过收盘时间，半周期任务停止")
				closedLogged = true
			}
			return
		}
		// 刷新官方 K 线口径的历史和均线，再补订 ATM 漂移后的期权
		refreshCloseHistory(ctx, broker, st, cfg, loc, underlyingID)
		if spot, _, ok := st.Price(underlyingID); ok {
			subscribeOptions(st, feedClient, cfg, chain, spot)
		}
		if err := engine.Reconcile(ctx, reconcile.ModeMid); err != nil {
			logger.Errorf("❌ 半周期对账失败: %v", err)
		}
	})

	// 各监控循环统一托管
	group := syncgroup.NewSyncGroup()
	group.Add(func() {
		if err := feedClient.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("❌ 行情客户端退出: %v", err)
		}
	})
	group.Add(func() { _ = exitMon.Run(ctx) })
	group.Add(func() { _ = candles.Run(ctx) })
	group.Add(func() { _ = midpoint.Run(ctx) })
	group.Run()

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(_ context.Context, wg *sync.WaitGroup) {
		defer wg.Done()
		cancel()
		broadcaster.Close()
	})

	// 等退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Infof("📴 收到信号 %v，开始退出", s)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	group.Wait()
	logger.Info("👋 goscalp 已退出")
	return nil
}

// underlyingSecurityID 从期权链任意合约取标的 ID
func underlyingSecurityID(chain *catalog.Chain) string {
	for _, inst := range chain.CE {
		if inst.UnderlyingID != "" {
			return inst.UnderlyingID
		}
	}
	for _, inst := range chain.PE {
		if inst.UnderlyingID != "" {
			return inst.UnderlyingID
		}
	}
	return ""
}

// pastMarketClose 判断是否已过收盘时刻（含收盘那一分钟）
func pastMarketClose(now time.Time, closeHour, closeMinute int) bool {
	return now.Hour()*60+now.Minute() >= closeHour*60+closeMinute
}

// subscribeUnderlying 订阅标的行情
func subscribeUnderlying(st *state.TradingState, fc *feed.Client, cfg *config.Config, underlyingID string) {
	st.Subscribe(underlyingID)
	if err := fc.Subscribe(cfg.Market.UnderlyingSegment, underlyingID); err != nil {
		logger.Errorf("❌ 标的订阅失败: %v", err)
	}
}

// subscribeOptions 按现价订 ATM + ITM 各档的期权。只订新增合约，
// 重复调用等于按最新现价补订。
func subscribeOptions(st *state.TradingState, fc *feed.Client, cfg *config.Config, chain *catalog.Chain, spot float64) {
	ce, pe, err := chain.Select(spot, cfg.Catalog.ITMDepth)
	if err != nil {
		logger.Warnf("⚠️ 期权订阅选择失败: %v", err)
		return
	}
	var ids []string
	for _, inst := range append(ce, pe...) {
		if st.Subscribe(inst.SecurityID) {
			ids = append(ids, inst.SecurityID)
		}
	}
	if len(ids) > 0 {
		if err := fc.Subscribe(cfg.Market.OptionSegment, ids...); err != nil {
			logger.Errorf("❌ 期权订阅失败: %v", err)
		}
	}
}

// chainResolver 对账引擎用的合约反查
func chainResolver(chain *catalog.Chain) reconcile.Resolver {
	return func(securityID string) (domain.Instrument, bool) {
		for _, side := range []map[float64]domain.Instrument{chain.CE, chain.PE} {
			for _, inst := range side {
				if inst.SecurityID == securityID {
					return inst, true
				}
			}
		}
		return domain.Instrument{}, false
	}
}

// chainPicker 入场评估用的 ATM 选择器；选中后顺手补订行情
func chainPicker(st *state.TradingState, fc *feed.Client, cfg *config.Config, chain *catalog.Chain) monitor.InstrumentPicker {
	return func(spot float64, ot domain.OptionType) (domain.Instrument, bool) {
		strike, ok := chain.ATMStrike(ot, spot)
		if !ok {
			return domain.Instrument{}, false
		}
		inst, ok := chain.At(ot, strike)
		if !ok {
			return domain.Instrument{}, false
		}
		if st.Subscribe(inst.SecurityID) {
			if err := fc.Subscribe(cfg.Market.OptionSegment, inst.SecurityID); err != nil {
				logger.Warnf("⚠️ 补订合约行情失败: %v", err)
			}
		}
		return inst, true
	}
}

// refreshCloseHistory 用官方日内 K 线刷新收盘历史并重算两条均线。
// 启动时喂满一次，之后每个半周期再校准一次，tick 口径的累计误差
// 不会越滚越大。
func refreshCloseHistory(ctx context.Context, broker *dhan.Client, st *state.TradingState, cfg *config.Config, loc *time.Location, underlyingID string) {
	now := time.Now().In(loc)
	from := now.Add(-time.Duration(cfg.Candle.LSMAWindow*cfg.Candle.IntervalMinutes*2) * time.Minute)
	instrument := "INDEX"
	if cfg.Market.Exchange == "MCX" {
		instrument = "FUTCOM"
	}
	series, err := broker.IntradayCandles(ctx, underlyingID, cfg.Market.UnderlyingSegment, instrument, cfg.Candle.IntervalMinutes, from, now)
	if err != nil {
		logger.Warnf("⚠️ 历史 K 线拉取失败（%v），等实盘 tick 积累", err)
		return
	}
	n := series.Len()
	if n == 0 {
		return
	}
	closes := series.Close[:n]
	st.SetCloseHistory(closes)
	ssma := indicator.SMA(closes, cfg.Candle.SSMAWindow, cfg.Candle.MinPeriod)
	lsma := indicator.SMA(closes, cfg.Candle.LSMAWindow, cfg.Candle.MinPeriod)
	st.SetSMAs(ssma, lsma)
	logger.Infof("📥 已载入 %d 根历史收盘价并重算均线", len(closes))
}
