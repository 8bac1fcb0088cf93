package domain

import "time"

// TickSnapshot 每个 tick 产生的瞬态快照（仅限被跟踪的标的）。
// 发布后不可变：广播给所有等待者，读一次即弃，不保留所有权。
type TickSnapshot struct {
	SecurityID string
	PrevLTP    float64 // 上一笔 LTP（0 表示尚无）
	LTP        float64
	PrevTime   time.Time // 上一笔时间（零值表示尚无）
	Time       time.Time
}

// Candle 一根已收盘的 K 线
type Candle struct {
	Time  time.Time
	Open  float64
	High  float64
	Low   float64
	Close float64
}
