package indicator

// SMA 计算简单移动平均：
//   - 数据量 >= window 时取最后 window 个的均值；
//   - 不足 window 但 >= minPeriod 时取全部数据的均值（部分均值，
//     开盘初期就能出信号）；
//   - 连 minPeriod 都不够时返回 nil。
func SMA(values []float64, window, minPeriod int) *float64 {
	n := len(values)
	if minPeriod < 1 {
		minPeriod = 1
	}
	if n < minPeriod {
		return nil
	}
	if n > window {
		values = values[n-window:]
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	return &mean
}

// LiveSMA 把最新成交价拼到收盘价历史末尾后再算均值，用于 K 线
// 未收盘时的实时重算。history 不会被修改。
func LiveSMA(history []float64, ltp float64, window, minPeriod int) *float64 {
	merged := make([]float64, 0, len(history)+1)
	merged = append(merged, history...)
	merged = append(merged, ltp)
	return SMA(merged, window, minPeriod)
}
