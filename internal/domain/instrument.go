package domain

// OptionType 期权类型（CE=看涨腿，PE=看跌腿）
type OptionType string

const (
	OptionCE OptionType = "CE"
	OptionPE OptionType = "PE"
)

// Valid 检查期权类型是否有效
func (t OptionType) Valid() bool {
	return t == OptionCE || t == OptionPE
}

// Instrument 可交易合约领域模型（来自 instrument master）
type Instrument struct {
	SecurityID   string     // 合约 ID（经纪商主键）
	DisplayName  string     // 展示名称
	StrikePrice  float64    // 行权价
	OptionType   OptionType // CE / PE
	UnderlyingID string     // 标的合约 ID
	LotSize      int64      // 每手数量（数量拆分必须按整手）
}

// Lots 把数量（单位）换算为整手数，向下取整；lotSize<=0 时返回 0
func (i Instrument) Lots(quantity int64) int64 {
	if i.LotSize <= 0 {
		return 0
	}
	return quantity / i.LotSize
}
