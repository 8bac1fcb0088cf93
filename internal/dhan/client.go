package dhan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/scalpbot/goscalp/pkg/logger"
	"github.com/scalpbot/goscalp/pkg/ratelimit"
)

// 经纪端时间戳格式（交易所本地时间，无时区后缀）
const brokerTimeLayout = "2006-01-02 15:04:05"

// APIError 经纪端返回的非 2xx 应答
type APIError struct {
	StatusCode int
	ErrorType  string `json:"errorType"`
	ErrorCode  string `json:"errorCode"`
	Message    string `json:"errorMessage"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dhan api 错误: http=%d type=%s code=%s msg=%s",
		e.StatusCode, e.ErrorType, e.ErrorCode, e.Message)
}

// Options 客户端配置
type Options struct {
	BaseURL     string
	ClientID    string
	AccessToken string
	Timeout     time.Duration
	RateLimit   int            // 每秒请求上限，<=0 表示不限
	Location    *time.Location // 解析经纪端时间戳用，nil 则取本地时区
}

// Client Dhan REST 客户端。所有方法在持有任何业务锁时都不得调用。
type Client struct {
	http     *resty.Client
	clientID string
	limiter  ratelimit.RateLimiter
	loc      *time.Location
}

// NewClient 创建客户端
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	http := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("access-token", opts.AccessToken).
		SetHeader("client-id", opts.ClientID)

	var limiter ratelimit.RateLimiter
	if opts.RateLimit > 0 {
		limiter = ratelimit.NewTokenBucket(opts.RateLimit, opts.RateLimit)
	}
	return &Client{http: http, clientID: opts.ClientID, limiter: limiter, loc: loc}
}

// do 统一出口：限速 + 发请求 + 错误归一化
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, "等待限速令牌失败")
		}
	}
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return errors.Wrapf(err, "请求 %s %s 失败", method, path)
	}
	if resp.IsError() {
		apiErr := &APIError{StatusCode: resp.StatusCode()}
		_ = json.Unmarshal(resp.Body(), apiErr) // 解析失败也带上状态码
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "解析 %s %s 应答失败", method, path)
		}
	}
	return nil
}

func (c *Client) parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(brokerTimeLayout, s, c.loc)
	if err != nil {
		logger.WithField("component", "dhan").Warnf("⚠️ 无法解析经纪端时间戳: %q", s)
		return time.Time{}
	}
	return t
}

// GetPositions 拉取当前净持仓
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.do(ctx, resty.MethodGet, "/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// rawSuperOrder 原始应答（时间戳是字符串）
type rawSuperOrder struct {
	SuperOrder
	CreateTimeStr string `json:"createTime"`
	UpdateTimeStr string `json:"updateTime"`
}

// GetSuperOrders 拉取全部超级订单（含三腿明细）
func (c *Client) GetSuperOrders(ctx context.Context) ([]SuperOrder, error) {
	var raw []rawSuperOrder
	if err := c.do(ctx, resty.MethodGet, "/super/orders", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]SuperOrder, 0, len(raw))
	for _, r := range raw {
		o := r.SuperOrder
		o.CreateTime = c.parseTime(r.CreateTimeStr)
		o.UpdateTime = c.parseTime(r.UpdateTimeStr)
		out = append(out, o)
	}
	return out, nil
}

type rawOrder struct {
	Order
	CreateTimeStr string `json:"createTime"`
	UpdateTimeStr string `json:"updateTime"`
}

// GetOrders 拉取全部普通订单
func (c *Client) GetOrders(ctx context.Context) ([]Order, error) {
	var raw []rawOrder
	if err := c.do(ctx, resty.MethodGet, "/orders", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(raw))
	for _, r := range raw {
		o := r.Order
		o.CreateTime = c.parseTime(r.CreateTimeStr)
		o.UpdateTime = c.parseTime(r.UpdateTimeStr)
		out = append(out, o)
	}
	return out, nil
}

// PlaceSuperOrder 下超级订单
func (c *Client) PlaceSuperOrder(ctx context.Context, req PlaceSuperOrderRequest) (*OrderResponse, error) {
	req.DhanClientID = c.clientID
	var out OrderResponse
	if err := c.do(ctx, resty.MethodPost, "/super/orders", req, &out); err != nil {
		return nil, err
	}
	logger.WithField("component", "dhan").Infof("📤 超级订单已提交: id=%s status=%s", out.OrderID, out.OrderStatus)
	return &out, nil
}

// ModifySuperOrderStopLoss 修改超级订单的止损腿触发价
func (c *Client) ModifySuperOrderStopLoss(ctx context.Context, orderID string, stopPrice float64) error {
	req := ModifySuperOrderRequest{
		DhanClientID:  c.clientID,
		OrderID:       orderID,
		LegName:       LegStopLoss,
		StopLossPrice: decimal.NewFromFloat(stopPrice).Round(2),
	}
	if err := c.do(ctx, resty.MethodPut, "/super/orders/"+orderID, req, nil); err != nil {
		return err
	}
	logger.WithField("component", "dhan").Infof("✏️ 止损腿已改价: id=%s stop=%.2f", orderID, stopPrice)
	return nil
}

// CancelSuperOrderLeg 撤销超级订单的指定腿。撤入场腿会连带撤掉整单。
func (c *Client) CancelSuperOrderLeg(ctx context.Context, orderID, legName string) error {
	if err := c.do(ctx, resty.MethodDelete, "/super/orders/"+orderID+"/"+legName, nil, nil); err != nil {
		return err
	}
	logger.WithField("component", "dhan").Infof("🗑️ 超级订单腿已撤销: id=%s leg=%s", orderID, legName)
	return nil
}

// ModifyStopOrder 修改普通止损单的触发价
func (c *Client) ModifyStopOrder(ctx context.Context, orderID string, quantity int64, triggerPrice float64) error {
	req := map[string]interface{}{
		"dhanClientId": c.clientID,
		"orderId":      orderID,
		"orderType":    "STOP_LOSS_MARKET",
		"legName":      "",
		"quantity":     quantity,
		"triggerPrice": decimal.NewFromFloat(triggerPrice).Round(2),
		"validity":     "DAY",
	}
	if err := c.do(ctx, resty.MethodPut, "/orders/"+orderID, req, nil); err != nil {
		return err
	}
	logger.WithField("component", "dhan").Infof("✏️ 止损单已改触发价: id=%s trigger=%.2f", orderID, triggerPrice)
	return nil
}

// PlaceOrder 下普通订单（独立止损单走这里）
func (c *Client) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResponse, error) {
	req.DhanClientID = c.clientID
	var out OrderResponse
	if err := c.do(ctx, resty.MethodPost, "/orders", req, &out); err != nil {
		return nil, err
	}
	logger.WithField("component", "dhan").Infof("📤 普通订单已提交: id=%s status=%s", out.OrderID, out.OrderStatus)
	return &out, nil
}

// CancelOrder 撤销普通订单
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.do(ctx, resty.MethodDelete, "/orders/"+orderID, nil, nil); err != nil {
		return err
	}
	logger.WithField("component", "dhan").Infof("🗑️ 普通订单已撤销: id=%s", orderID)
	return nil
}

// intradayRequest /charts/intraday 请求体
type intradayRequest struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	Instrument      string `json:"instrument"`
	Interval        string `json:"interval"`
	FromDate        string `json:"fromDate"`
	ToDate          string `json:"toDate"`
}

// IntradayCandles 拉取日内 K 线（interval 单位分钟）
func (c *Client) IntradayCandles(ctx context.Context, securityID, segment, instrument string, intervalMinutes int, from, to time.Time) (*CandleSeries, error) {
	req := intradayRequest{
		SecurityID:      securityID,
		ExchangeSegment: segment,
		Instrument:      instrument,
		Interval:        fmt.Sprintf("%d", intervalMinutes),
		FromDate:        from.In(c.loc).Format("2006-01-02 15:04:05"),
		ToDate:          to.In(c.loc).Format("2006-01-02 15:04:05"),
	}
	var out CandleSeries
	if err := c.do(ctx, resty.MethodPost, "/charts/intraday", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
