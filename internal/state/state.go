package state

import (
	"sync"
	"time"

	"github.com/scalpbot/goscalp/internal/domain"
)

// priceEntry 某合约的最近成交价
type priceEntry struct {
	ltp  float64
	when time.Time
}

// TradingState 全局交易状态。
//
// 两把锁各管一摊：
//   - posMu 保护腿状态、实时价格表和订阅列表；
//   - maMu  保护收盘价历史与两条均线。
//
// 出场监控读均线时不需要等对账引擎改腿状态，反之亦然。
// 任何持锁期间都不允许发起网络调用。
type TradingState struct {
	posMu         sync.Mutex
	legs          map[domain.OptionType]*domain.LegState
	prices        map[string]priceEntry
	subscriptions map[string]struct{}

	maMu         sync.Mutex
	closeHistory []float64
	ssma         *float64
	lsma         *float64

	lsmaWindow int
}

// New 创建交易状态，两条腿初始为 Ready for Entry
func New(lsmaWindow int) *TradingState {
	s := &TradingState{
		legs:          make(map[domain.OptionType]*domain.LegState),
		prices:        make(map[string]priceEntry),
		subscriptions: make(map[string]struct{}),
		lsmaWindow:    lsmaWindow,
	}
	s.legs[domain.OptionCE] = domain.NewLegState(domain.OptionCE)
	s.legs[domain.OptionPE] = domain.NewLegState(domain.OptionPE)
	return s
}

// Leg 返回指定腿的深拷贝快照
func (s *TradingState) Leg(ot domain.OptionType) *domain.LegState {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	if leg, ok := s.legs[ot]; ok {
		c := leg.Clone()
		return &c
	}
	return nil
}

// Legs 返回两条腿的深拷贝快照
func (s *TradingState) Legs() (ce, pe *domain.LegState) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	c, p := s.legs[domain.OptionCE].Clone(), s.legs[domain.OptionPE].Clone()
	return &c, &p
}

// UpdateLeg 在持锁状态下原子地修改一条腿。
// fn 内禁止再调 TradingState 的其他方法，防止自死锁。
func (s *TradingState) UpdateLeg(ot domain.OptionType, fn func(*domain.LegState)) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	if leg, ok := s.legs[ot]; ok {
		fn(leg)
		leg.LastUpdated = time.Now()
	}
}

// UpdateLegs 同时持锁修改两条腿（对账写回用，保证周期内一致可见）
func (s *TradingState) UpdateLegs(fn func(ce, pe *domain.LegState)) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	fn(s.legs[domain.OptionCE], s.legs[domain.OptionPE])
	now := time.Now()
	s.legs[domain.OptionCE].LastUpdated = now
	s.legs[domain.OptionPE].LastUpdated = now
}

// ReplaceLeg 整腿替换（对账周期结束时写回新状态）
func (s *TradingState) ReplaceLeg(ot domain.OptionType, leg *domain.LegState) {
	if leg == nil {
		return
	}
	s.posMu.Lock()
	defer s.posMu.Unlock()
	c := leg.Clone()
	s.legs[ot] = &c
}

// SetPrice 更新某合约最近成交价
func (s *TradingState) SetPrice(securityID string, ltp float64, when time.Time) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	s.prices[securityID] = priceEntry{ltp: ltp, when: when}
}

// Price 读取某合约最近成交价；没有数据时 ok=false
func (s *TradingState) Price(securityID string) (ltp float64, when time.Time, ok bool) {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	e, ok := s.prices[securityID]
	return e.ltp, e.when, ok
}

// PriceFresh 判断某合约是否在 maxAge 内有报价
func (s *TradingState) PriceFresh(securityID string, maxAge time.Duration, now time.Time) bool {
	_, when, ok := s.Price(securityID)
	return ok && now.Sub(when) <= maxAge
}

// Subscribe 记录一个已订阅的合约 ID，返回是否为新增
func (s *TradingState) Subscribe(securityID string) bool {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	if _, ok := s.subscriptions[securityID]; ok {
		return false
	}
	s.subscriptions[securityID] = struct{}{}
	return true
}

// Subscriptions 返回当前订阅列表的副本
func (s *TradingState) Subscriptions() []string {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	out := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		out = append(out, id)
	}
	return out
}

// AppendClose 追加一根 K 线收盘价，历史长度不超过 LSMA 窗口
func (s *TradingState) AppendClose(close float64) {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	s.closeHistory = append(s.closeHistory, close)
	if len(s.closeHistory) > s.lsmaWindow {
		s.closeHistory = s.closeHistory[len(s.closeHistory)-s.lsmaWindow:]
	}
}

// SetCloseHistory 整体替换收盘价历史（官方 K 线重算时使用），
// 仍只保留最后 LSMA 窗口长度
func (s *TradingState) SetCloseHistory(closes []float64) {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	if len(closes) > s.lsmaWindow {
		closes = closes[len(closes)-s.lsmaWindow:]
	}
	s.closeHistory = append(s.closeHistory[:0], closes...)
}

// CloseHistory 返回收盘价历史的副本
func (s *TradingState) CloseHistory() []float64 {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	out := make([]float64, len(s.closeHistory))
	copy(out, s.closeHistory)
	return out
}

// SetSMAs 同时写入两条均线（K 线收盘后一次性更新）
func (s *TradingState) SetSMAs(ssma, lsma *float64) {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	s.ssma = copyFloat(ssma)
	s.lsma = copyFloat(lsma)
}

// SMAs 返回两条均线；任一为 nil 表示数据还不够
func (s *TradingState) SMAs() (ssma, lsma *float64) {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	return copyFloat(s.ssma), copyFloat(s.lsma)
}

// WithMALock 在均线锁内执行 fn，供「历史+实时价」混合重算使用，
// 保证读历史和读均线看到同一版本。
func (s *TradingState) WithMALock(fn func(history []float64, ssma, lsma *float64)) {
	s.maMu.Lock()
	defer s.maMu.Unlock()
	fn(s.closeHistory, s.ssma, s.lsma)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
