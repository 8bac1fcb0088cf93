package feed

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scalpbot/goscalp/pkg/logger"
)

// TickHandler 行情回调。在读循环 goroutine 里同步执行，必须快进快出。
type TickHandler func(tick Tick)

// Options 行情连接配置
type Options struct {
	URL                  string
	ClientID             string
	AccessToken          string
	SubscribeRequestCode int           // 默认 15（ticker 订阅）
	ReconnectMax         time.Duration // 重连退避上限，默认 60s
}

// subscribeInstrument 订阅请求中的单个合约
type subscribeInstrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// subscribeRequest 订阅请求体
type subscribeRequest struct {
	RequestCode     int                   `json:"RequestCode"`
	InstrumentCount int                   `json:"InstrumentCount"`
	InstrumentList  []subscribeInstrument `json:"InstrumentList"`
}

// Client 行情 WebSocket 客户端：断线自动重连，重连后自动补订阅。
type Client struct {
	opts    Options
	handler TickHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    []subscribeInstrument
	started bool
}

// NewClient 创建行情客户端
func NewClient(opts Options, handler TickHandler) *Client {
	if opts.SubscribeRequestCode == 0 {
		opts.SubscribeRequestCode = 15
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 60 * time.Second
	}
	return &Client{opts: opts, handler: handler}
}

// Subscribe 订阅一批合约。尚未连接时只登记，连上后统一补发。
func (c *Client) Subscribe(segment string, securityIDs ...string) error {
	c.mu.Lock()
	added := make([]subscribeInstrument, 0, len(securityIDs))
	for _, id := range securityIDs {
		inst := subscribeInstrument{ExchangeSegment: segment, SecurityID: id}
		if c.hasSubLocked(inst) {
			continue
		}
		c.subs = append(c.subs, inst)
		added = append(added, inst)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	return c.sendSubscribe(conn, added)
}

func (c *Client) hasSubLocked(inst subscribeInstrument) bool {
	for _, s := range c.subs {
		if s == inst {
			return true
		}
	}
	return false
}

func (c *Client) sendSubscribe(conn *websocket.Conn, insts []subscribeInstrument) error {
	// 每批最多 100 个合约
	const batch = 100
	for i := 0; i < len(insts); i += batch {
		end := i + batch
		if end > len(insts) {
			end = len(insts)
		}
		req := subscribeRequest{
			RequestCode:     c.opts.SubscribeRequestCode,
			InstrumentCount: end - i,
			InstrumentList:  insts[i:end],
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("发送订阅请求失败: %w", err)
		}
	}
	logger.WithField("component", "feed").Infof("📡 已订阅 %d 个合约", len(insts))
	return nil
}

func (c *Client) dialURL() string {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return c.opts.URL
	}
	q := u.Query()
	q.Set("version", "2")
	q.Set("token", c.opts.AccessToken)
	q.Set("clientId", c.opts.ClientID)
	q.Set("authType", "2")
	u.RawQuery = q.Encode()
	return u.String()
}

// Run 阻塞运行：连接、读取、断线重连，直到 ctx 取消。
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("行情客户端已在运行")
	}
	c.started = true
	c.mu.Unlock()

	log := logger.WithField("component", "feed")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.dialURL(), nil)
		if err != nil {
			log.Errorf("❌ 行情连接失败: %v，%v 后重试", err, backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.opts.ReconnectMax {
				backoff = c.opts.ReconnectMax
			}
			continue
		}
		backoff = time.Second
		log.Info("✅ 行情连接已建立")

		c.mu.Lock()
		c.conn = conn
		pending := make([]subscribeInstrument, len(c.subs))
		copy(pending, c.subs)
		c.mu.Unlock()

		// 重连后补订阅
		if len(pending) > 0 {
			if err := c.sendSubscribe(conn, pending); err != nil {
				log.Errorf("❌ 补订阅失败: %v", err)
			}
		}

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("⚠️ 行情连接断开，准备重连")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	log := logger.WithField("component", "feed")

	// ctx 取消时强制断开读阻塞
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Errorf("❌ 读取行情失败: %v", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if IsDisconnect(data) {
			log.Warn("⚠️ 服务端下发断开报文")
			return
		}
		tick, err := DecodeTicker(data)
		if err != nil {
			log.Warnf("⚠️ 丢弃畸形报文: %v", err)
			continue
		}
		if tick == nil {
			continue // 非 ticker 报文
		}
		if c.handler != nil {
			c.handler(*tick)
		}
	}
}
