package dhan

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// 订单状态（Dhan 返回的原始字符串）
const (
	StatusTransit        = "TRANSIT"
	StatusPending        = "PENDING"
	StatusConfirmed      = "CONFIRM"
	StatusPartTraded     = "PART_TRADED"
	StatusTraded         = "TRADED"
	StatusRejected       = "REJECTED"
	StatusCancelled      = "CANCELLED"
	StatusTriggerPending = "TRGR_PENDING" // 止损触发价挂起
)

// 超级订单腿名
const (
	LegEntry    = "ENTRY_LEG"
	LegTarget   = "TARGET_LEG"
	LegStopLoss = "STOP_LOSS_LEG"
)

// IsPendingStatus 判断状态是否属于「还挂在交易所」的一类
func IsPendingStatus(status string) bool {
	switch strings.ToUpper(status) {
	case StatusTransit, StatusPending, StatusConfirmed, StatusPartTraded, StatusTriggerPending:
		return true
	}
	return false
}

// IsTerminalStatus 判断状态是否终态（成交/拒绝/撤销）
func IsTerminalStatus(status string) bool {
	switch strings.ToUpper(status) {
	case StatusTraded, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Position 净持仓（已按合约归一化）
type Position struct {
	SecurityID      string  `json:"securityId"`
	TradingSymbol   string  `json:"tradingSymbol"`
	ExchangeSegment string  `json:"exchangeSegment"`
	PositionType    string  `json:"positionType"` // LONG / SHORT / CLOSED
	NetQty          int64   `json:"netQty"`
	BuyAvg          float64 `json:"buyAvg"`
	SellAvg         float64 `json:"sellAvg"`
	RealizedProfit  float64 `json:"realizedProfit"`
}

// SuperOrderLeg 超级订单的一条腿（展平后的视图）
type SuperOrderLeg struct {
	LegName      string  `json:"legName"`
	OrderStatus  string  `json:"orderStatus"`
	Price        float64 `json:"price"`
	TriggerPrice float64 `json:"triggerPrice"`
	RemainingQty int64   `json:"remainingQuantity"`
}

// SuperOrder 超级订单（入场 + 止盈 + 止损三腿）
type SuperOrder struct {
	OrderID         string          `json:"orderId"`
	SecurityID      string          `json:"securityId"`
	ExchangeSegment string          `json:"exchangeSegment"`
	TransactionType string          `json:"transactionType"` // BUY / SELL
	OrderStatus     string          `json:"orderStatus"`     // 入场腿状态
	Quantity        int64           `json:"quantity"`
	FilledQty       int64           `json:"filledQty"`
	RemainingQty    int64           `json:"remainingQuantity"`
	AveragePrice    float64         `json:"averageTradedPrice"`
	CreateTime      time.Time       `json:"-"`
	UpdateTime      time.Time       `json:"-"`
	Legs            []SuperOrderLeg `json:"legDetails"`
}

// Leg 按腿名取腿；没有时返回 nil
func (o *SuperOrder) Leg(name string) *SuperOrderLeg {
	for i := range o.Legs {
		if strings.EqualFold(o.Legs[i].LegName, name) {
			return &o.Legs[i]
		}
	}
	return nil
}

// StopLegPending 止损腿是否仍然有效挂单
func (o *SuperOrder) StopLegPending() bool {
	leg := o.Leg(LegStopLoss)
	return leg != nil && IsPendingStatus(leg.OrderStatus)
}

// EntryPending 入场腿是否仍在等待成交
func (o *SuperOrder) EntryPending() bool {
	return IsPendingStatus(o.OrderStatus) && o.RemainingQty > 0
}

// Order 普通订单（独立止损单也走这里）
type Order struct {
	OrderID         string    `json:"orderId"`
	SecurityID      string    `json:"securityId"`
	ExchangeSegment string    `json:"exchangeSegment"`
	TransactionType string    `json:"transactionType"`
	OrderType       string    `json:"orderType"` // LIMIT / MARKET / STOP_LOSS / STOP_LOSS_MARKET
	OrderStatus     string    `json:"orderStatus"`
	Quantity        int64     `json:"quantity"`
	RemainingQty    int64     `json:"remainingQuantity"`
	Price           float64   `json:"price"`
	TriggerPrice    float64   `json:"triggerPrice"`
	CreateTime      time.Time `json:"-"`
	UpdateTime      time.Time `json:"-"`
}

// IsStopOrder 是否止损类订单
func (o *Order) IsStopOrder() bool {
	switch strings.ToUpper(o.OrderType) {
	case "STOP_LOSS", "STOP_LOSS_MARKET":
		return true
	}
	return false
}

// PlaceSuperOrderRequest 下超级订单请求。价格字段用 decimal
// 序列化，避免 float64 在报文里出现 104.99999999999 这类噪声。
type PlaceSuperOrderRequest struct {
	DhanClientID    string          `json:"dhanClientId"`
	CorrelationID   string          `json:"correlationId,omitempty"`
	TransactionType string          `json:"transactionType"`
	ExchangeSegment string          `json:"exchangeSegment"`
	ProductType     string          `json:"productType"`
	OrderType       string          `json:"orderType"`
	SecurityID      string          `json:"securityId"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TargetPrice     decimal.Decimal `json:"targetPrice"`
	StopLossPrice   decimal.Decimal `json:"stopLossPrice"`
	TrailingJump    decimal.Decimal `json:"trailingJump"`
}

// PlaceOrderRequest 下普通订单请求
type PlaceOrderRequest struct {
	DhanClientID    string          `json:"dhanClientId"`
	CorrelationID   string          `json:"correlationId,omitempty"`
	TransactionType string          `json:"transactionType"`
	ExchangeSegment string          `json:"exchangeSegment"`
	ProductType     string          `json:"productType"`
	OrderType       string          `json:"orderType"`
	Validity        string          `json:"validity"`
	SecurityID      string          `json:"securityId"`
	Quantity        int64           `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	TriggerPrice    decimal.Decimal `json:"triggerPrice"`
}

// ModifySuperOrderRequest 改超级订单（按腿）
type ModifySuperOrderRequest struct {
	DhanClientID  string          `json:"dhanClientId"`
	OrderID       string          `json:"orderId"`
	LegName       string          `json:"legName"`
	TargetPrice   decimal.Decimal `json:"targetPrice,omitempty"`
	StopLossPrice decimal.Decimal `json:"stopLossPrice,omitempty"`
	TrailingJump  decimal.Decimal `json:"trailingJump,omitempty"`
}

// OrderResponse 下单/改单/撤单的标准应答
type OrderResponse struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
}

// CandleSeries 日内 K 线应答（列式数组，与 /charts/intraday 对齐）
type CandleSeries struct {
	Open      []float64 `json:"open"`
	High      []float64 `json:"high"`
	Low       []float64 `json:"low"`
	Close     []float64 `json:"close"`
	Volume    []float64 `json:"volume"`
	Timestamp []int64   `json:"timestamp"`
}

// Len K 线根数（以最短的一列为准）
func (c *CandleSeries) Len() int {
	n := len(c.Close)
	if len(c.Timestamp) < n {
		n = len(c.Timestamp)
	}
	return n
}
