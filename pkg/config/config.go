package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 配置文件路径（可被 SetConfigPath 覆盖）
var configPath = "yml/config.yaml"

// SetConfigPath 设置配置文件路径
func SetConfigPath(path string) {
	if strings.TrimSpace(path) != "" {
		configPath = path
	}
}

// GetConfigPath 返回当前配置文件路径
func GetConfigPath() string {
	return configPath
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// BrokerConfig 经纪商 REST 配置
type BrokerConfig struct {
	BaseURL        string `yaml:"baseURL"`
	ClientID       string `yaml:"clientID"`    // 建议放 secretstore / 环境变量
	AccessToken    string `yaml:"accessToken"` // 建议放 secretstore / 环境变量
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	RateLimit      int    `yaml:"rateLimit"` // 每秒请求上限
}

// FeedConfig 行情 WebSocket 配置
type FeedConfig struct {
	URL                  string `yaml:"url"`
	ReconnectMaxSeconds  int    `yaml:"reconnectMaxSeconds"`  // 重连退避上限
	SubscribeRequestCode int    `yaml:"subscribeRequestCode"` // 订阅请求码
}

// MarketConfig 交易时段（均为 "HH:MM"，按交易所时区解释）
type MarketConfig struct {
	Exchange          string `yaml:"exchange"`   // NSE / MCX
	Underlying        string `yaml:"underlying"` // NIFTY / CRUDEOILM 等
	Timezone          string `yaml:"timezone"`   // 默认 Asia/Kolkata
	Open              string `yaml:"open"`
	Close             string `yaml:"close"`
	EntryStart        string `yaml:"entryStart"`
	EntryEnd          string `yaml:"entryEnd"`
	UnderlyingSegment string `yaml:"underlyingSegment"` // 行情订阅分段，如 IDX_I
	OptionSegment     string `yaml:"optionSegment"`     // 期权下单分段，如 NSE_FNO
	ProductType       string `yaml:"productType"`       // 默认 INTRADAY
}

// CandleConfig K 线与均线窗口
type CandleConfig struct {
	IntervalMinutes int `yaml:"intervalMinutes"` // 默认 5
	SSMAWindow      int `yaml:"ssmaWindow"`      // 默认 5
	LSMAWindow      int `yaml:"lsmaWindow"`      // 默认 10
	MinPeriod       int `yaml:"minPeriod"`       // 默认 2
}

// EntryConfig 入场评估参数
type EntryConfig struct {
	BasePct      float64 `yaml:"basePct"`      // 0.00070
	StepPct      float64 `yaml:"stepPct"`      // 每 blockSize 递减 0.00005
	MinPct       float64 `yaml:"minPct"`       // 下限 0.00035
	BlockSize    float64 `yaml:"blockSize"`    // 5000
	DeadbandPct  float64 `yaml:"deadbandPct"`  // SSMA/LSMA 死区 ±0.0001（经验值，保留为配置）
	QuantityLots int     `yaml:"quantityLots"` // 每次入场手数
}

// ActivationConfig 出场监控激活参数
type ActivationConfig struct {
	BasePct        float64 `yaml:"basePct"`        // 0.0040
	DecayFactor    float64 `yaml:"decayFactor"`    // 0.72
	BucketSize     float64 `yaml:"bucketSize"`     // 5000
	MinBuckets     int     `yaml:"minBuckets"`     // 1
	TimeoutMinutes int     `yaml:"timeoutMinutes"` // 15
}

// HysteresisConfig 出场滞回带参数（经验阈值，保留为配置不做「修正」）
type HysteresisConfig struct {
	BucketSize       float64 `yaml:"bucketSize"`       // 5000
	CompressedSpread float64 `yaml:"compressedSpread"` // spread < 1.0 视为压缩区
	CompressedShift  float64 `yaml:"compressedShift"`  // 压缩区每桶位移 1.0
	NormalShift      float64 `yaml:"normalShift"`      // 正常区每桶位移 0.5
}

// ExitConfig 出场执行参数
type ExitConfig struct {
	StopBuffer      float64 `yaml:"stopBuffer"`      // 止损改价 = LTP - buffer
	CooldownMillis  int     `yaml:"cooldownMillis"`  // 每次处理后的冷却
	TargetPoints    float64 `yaml:"targetPoints"`    // bracket 止盈距离
	MaxLossPct      float64 `yaml:"maxLossPct"`      // bracket 止损比例
	MinStopPrice    float64 `yaml:"minStopPrice"`    // 止损价下限
}

// ReconcileConfig 对账引擎参数
type ReconcileConfig struct {
	StaleCandles     float64 `yaml:"staleCandles"`     // 入场单过期阈值（K 线倍数，默认 2.5）
	StaleUpdateSec   int     `yaml:"staleUpdateSec"`   // 最后更新时间阈值（默认 60）
	CancelRetries    int     `yaml:"cancelRetries"`    // 撤单重试次数（默认 2）
	RetryBaseSeconds int     `yaml:"retryBaseSeconds"` // 退避基数（默认 1，指数加倍）
	Reprotect        bool    `yaml:"reprotect"`        // True_Orphan 是否自动补挂保护单
}

// CatalogConfig 合约目录配置
type CatalogConfig struct {
	MasterURL string `yaml:"masterURL"` // instrument master CSV 下载地址
	DataDir   string `yaml:"dataDir"`   // 当日缓存目录
	ITMDepth  int    `yaml:"itmDepth"`  // 每侧 ITM 档位数（默认 5）
}

// RecorderConfig 审计存储配置
type RecorderConfig struct {
	Path string `yaml:"path"` // SQLite 文件路径；为空则关闭记录
}

// SecretsConfig 凭证存储配置
type SecretsConfig struct {
	Path string `yaml:"path"` // Badger 目录；为空则从环境变量读取凭证
}

// Config 全量配置
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Broker     BrokerConfig     `yaml:"broker"`
	Feed       FeedConfig       `yaml:"feed"`
	Market     MarketConfig     `yaml:"market"`
	Candle     CandleConfig     `yaml:"candle"`
	Entry      EntryConfig      `yaml:"entry"`
	Activation ActivationConfig `yaml:"activation"`
	Hysteresis HysteresisConfig `yaml:"hysteresis"`
	Exit       ExitConfig       `yaml:"exit"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Secrets    SecretsConfig    `yaml:"secrets"`
}

// Defaults 填充默认值（原系统的经验常数都集中在这里）
func (c *Config) Defaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 10
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://api.dhan.co/v2"
	}
	if c.Broker.TimeoutSeconds == 0 {
		c.Broker.TimeoutSeconds = 10
	}
	if c.Broker.RateLimit == 0 {
		c.Broker.RateLimit = 10
	}
	if c.Feed.URL == "" {
		c.Feed.URL = "wss://api-feed.dhan.co"
	}
	if c.Feed.ReconnectMaxSeconds == 0 {
		c.Feed.ReconnectMaxSeconds = 60
	}
	if c.Feed.SubscribeRequestCode == 0 {
		c.Feed.SubscribeRequestCode = 15
	}
	if c.Market.Exchange == "" {
		c.Market.Exchange = "MCX"
	}
	if c.Market.Underlying == "" {
		c.Market.Underlying = "CRUDEOILM"
	}
	if c.Market.Timezone == "" {
		c.Market.Timezone = "Asia/Kolkata"
	}
	if c.Market.Open == "" || c.Market.Close == "" {
		// 按交易所给默认时段（NSE 日盘 / MCX 晚盘）
		if strings.EqualFold(c.Market.Exchange, "NSE") {
			c.Market.Open, c.Market.Close = "09:15", "15:30"
			if c.Market.EntryEnd == "" {
				c.Market.EntryEnd = "14:45"
			}
		} else {
			c.Market.Open, c.Market.Close = "09:00", "23:30"
			if c.Market.EntryEnd == "" {
				c.Market.EntryEnd = "23:15"
			}
		}
	}
	if c.Market.EntryStart == "" {
		c.Market.EntryStart = "09:30"
	}
	if c.Market.UnderlyingSegment == "" {
		if strings.EqualFold(c.Market.Exchange, "MCX") {
			c.Market.UnderlyingSegment = "MCX_COMM"
		} else {
			c.Market.UnderlyingSegment = "IDX_I"
		}
	}
	if c.Market.OptionSegment == "" {
		if strings.EqualFold(c.Market.Exchange, "MCX") {
			c.Market.OptionSegment = "MCX_COMM"
		} else {
			c.Market.OptionSegment = "NSE_FNO"
		}
	}
	if c.Market.ProductType == "" {
		c.Market.ProductType = "INTRADAY"
	}
	if c.Market.EntryEnd == "" {
		c.Market.EntryEnd = c.Market.Close
	}
	if c.Candle.IntervalMinutes == 0 {
		c.Candle.IntervalMinutes = 5
	}
	if c.Candle.SSMAWindow == 0 {
		c.Candle.SSMAWindow = 5
	}
	if c.Candle.LSMAWindow == 0 {
		c.Candle.LSMAWindow = 10
	}
	if c.Candle.MinPeriod == 0 {
		c.Candle.MinPeriod = 2
	}
	if c.Entry.BasePct == 0 {
		c.Entry.BasePct = 0.00070
	}
	if c.Entry.StepPct == 0 {
		c.Entry.StepPct = 0.00005
	}
	if c.Entry.MinPct == 0 {
		c.Entry.MinPct = 0.00035
	}
	if c.Entry.BlockSize == 0 {
		c.Entry.BlockSize = 5000
	}
	if c.Entry.DeadbandPct == 0 {
		c.Entry.DeadbandPct = 0.0001
	}
	if c.Entry.QuantityLots == 0 {
		c.Entry.QuantityLots = 1
	}
	if c.Activation.BasePct == 0 {
		c.Activation.BasePct = 0.0040
	}
	if c.Activation.DecayFactor == 0 {
		c.Activation.DecayFactor = 0.72
	}
	if c.Activation.BucketSize == 0 {
		c.Activation.BucketSize = 5000
	}
	if c.Activation.MinBuckets == 0 {
		c.Activation.MinBuckets = 1
	}
	if c.Activation.TimeoutMinutes == 0 {
		c.Activation.TimeoutMinutes = 15
	}
	if c.Hysteresis.BucketSize == 0 {
		c.Hysteresis.BucketSize = 5000
	}
	if c.Hysteresis.CompressedSpread == 0 {
		c.Hysteresis.CompressedSpread = 1.0
	}
	if c.Hysteresis.CompressedShift == 0 {
		c.Hysteresis.CompressedShift = 1.0
	}
	if c.Hysteresis.NormalShift == 0 {
		c.Hysteresis.NormalShift = 0.5
	}
	if c.Exit.StopBuffer == 0 {
		c.Exit.StopBuffer = 0.50
	}
	if c.Exit.CooldownMillis == 0 {
		c.Exit.CooldownMillis = 250
	}
	if c.Exit.TargetPoints == 0 {
		c.Exit.TargetPoints = 120
	}
	if c.Exit.MaxLossPct == 0 {
		c.Exit.MaxLossPct = 0.20
	}
	if c.Exit.MinStopPrice == 0 {
		c.Exit.MinStopPrice = 5
	}
	if c.Reconcile.StaleCandles == 0 {
		c.Reconcile.StaleCandles = 2.5
	}
	if c.Reconcile.StaleUpdateSec == 0 {
		c.Reconcile.StaleUpdateSec = 60
	}
	if c.Reconcile.CancelRetries == 0 {
		c.Reconcile.CancelRetries = 2
	}
	if c.Reconcile.RetryBaseSeconds == 0 {
		c.Reconcile.RetryBaseSeconds = 1
	}
	if c.Catalog.MasterURL == "" {
		c.Catalog.MasterURL = "https://images.dhan.co/api-data/api-scrip-master-detailed.csv"
	}
	if c.Catalog.DataDir == "" {
		c.Catalog.DataDir = "data"
	}
	if c.Catalog.ITMDepth == 0 {
		c.Catalog.ITMDepth = 5
	}
}

// Validate 做基本合法性检查
func (c *Config) Validate() error {
	if c.Candle.SSMAWindow >= c.Candle.LSMAWindow {
		return fmt.Errorf("ssmaWindow(%d) 必须小于 lsmaWindow(%d)", c.Candle.SSMAWindow, c.Candle.LSMAWindow)
	}
	if c.Candle.MinPeriod < 2 {
		return fmt.Errorf("minPeriod 不能小于 2")
	}
	if c.Activation.DecayFactor <= 0 || c.Activation.DecayFactor > 1 {
		return fmt.Errorf("activation.decayFactor 必须在 (0,1] 内")
	}
	if c.Entry.MinPct > c.Entry.BasePct {
		return fmt.Errorf("entry.minPct 不能大于 entry.basePct")
	}
	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("非法时区 %q: %w", c.Market.Timezone, err)
	}
	for _, hm := range []string{c.Market.Open, c.Market.Close, c.Market.EntryStart, c.Market.EntryEnd} {
		if _, _, err := ParseHM(hm); err != nil {
			return err
		}
	}
	return nil
}

// ParseHM 解析 "HH:MM"
func ParseHM(s string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("非法时间 %q（需要 HH:MM）", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("非法小时 %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("非法分钟 %q", s)
	}
	return hour, minute, nil
}

// LoadFromFile 从 YAML 文件加载配置并套用环境变量覆盖与默认值
func LoadFromFile(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 环境变量覆盖（凭证类优先环境变量，避免写进 YAML）
func (c *Config) applyEnv() {
	if v := os.Getenv("DHAN_CLIENT_ID"); v != "" {
		c.Broker.ClientID = v
	}
	if v := os.Getenv("DHAN_ACCESS_TOKEN"); v != "" {
		c.Broker.AccessToken = v
	}
	if v := os.Getenv("SCALPER_UNDERLYING"); v != "" {
		c.Market.Underlying = v
	}
	if v := os.Getenv("SCALPER_EXCHANGE"); v != "" {
		c.Market.Exchange = v
	}
	if v := os.Getenv("SCALPER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}
