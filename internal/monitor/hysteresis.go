package monitor

import (
	"math"
	"time"

	"github.com/scalpbot/goscalp/internal/domain"
)

// ActivationParams 出场监控激活门槛参数
type ActivationParams struct {
	BasePct     float64       // 基准激活百分比
	DecayFactor float64       // 每升一个价格桶衰减一次
	BucketSize  float64       // 价格桶宽度
	MinBuckets  int           // 桶号下限
	Timeout     time.Duration // 时间兜底
}

// PriceBucket 价格落在第几个桶（从 1 起）
func PriceBucket(price, bucketSize float64, minBuckets int) int {
	if bucketSize <= 0 {
		return minBuckets
	}
	b := int(math.Floor(price / bucketSize))
	if b < minBuckets {
		b = minBuckets
	}
	return b
}

// RequiredMovePct 激活所需的有利波动百分比。
// 价格越高（桶号越大）要求越低：高价标的同样的趋势确认对应
// 更小的相对波动。
func (p ActivationParams) RequiredMovePct(entryUnderlying float64) float64 {
	bucket := PriceBucket(entryUnderlying, p.BucketSize, p.MinBuckets)
	return p.BasePct * math.Pow(p.DecayFactor, float64(bucket-1))
}

// ShouldActivate 判断出场监控是否应当激活：
// 有利波动超过按桶衰减的门槛，或入场后超时。
func (p ActivationParams) ShouldActivate(ot domain.OptionType, entryUnderlying, currentUnderlying float64, entryAt, now time.Time) bool {
	if !entryAt.IsZero() && p.Timeout > 0 && now.Sub(entryAt) >= p.Timeout {
		return true
	}
	if entryUnderlying <= 0 {
		return false
	}
	var favorable float64
	if ot == domain.OptionCE {
		favorable = (currentUnderlying - entryUnderlying) / entryUnderlying
	} else {
		favorable = (entryUnderlying - currentUnderlying) / entryUnderlying
	}
	return favorable >= p.RequiredMovePct(entryUnderlying)
}

// HysteresisParams 出场滞回带参数
type HysteresisParams struct {
	BucketSize       float64
	CompressedSpread float64 // spread 小于此值视为压缩区
	CompressedShift  float64 // 压缩区每桶位移
	NormalShift      float64 // 正常区每桶位移
}

// Shift 滞回带半宽。LSMA 桶号越大带越宽；K 线口径的 SSMA/LSMA
// 价差压缩时用双倍位移，低波动里更紧的反转信号只会是噪声。
// 区制判定看的是存储的收盘均线价差，不随 tick 抖动。
func (p HysteresisParams) Shift(lsma, storedSSMA float64) float64 {
	bucket := PriceBucket(lsma, p.BucketSize, 1)
	perBucket := p.NormalShift
	if math.Abs(storedSSMA-lsma) < p.CompressedSpread {
		perBucket = p.CompressedShift
	}
	return float64(bucket) * perBucket
}

// ShouldExit 趋势反转判定：CE 在实时 SSMA 跌破 LSMA-shift 时离场，
// PE 在实时 SSMA 突破 LSMA+shift 时离场。
func (p HysteresisParams) ShouldExit(ot domain.OptionType, liveSSMA, lsma, storedSSMA float64) bool {
	shift := p.Shift(lsma, storedSSMA)
	if ot == domain.OptionCE {
		return liveSSMA < lsma-shift
	}
	return liveSSMA > lsma+shift
}
