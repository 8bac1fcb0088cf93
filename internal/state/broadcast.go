package state

import (
	"sync"
	"sync/atomic"

	"github.com/scalpbot/goscalp/internal/domain"
	"github.com/scalpbot/goscalp/pkg/sigchan"
)

// TickSubscription 单个订阅者的行情槽位。
// 发布端只覆盖最新快照，订阅者慢了就丢中间值，永不阻塞发布端。
type TickSubscription struct {
	latest atomic.Pointer[domain.TickSnapshot]
	signal *sigchan.Chan
}

// Wait 返回信号通道；收到信号后用 Latest 取最新快照
func (ts *TickSubscription) Wait() <-chan struct{} {
	return ts.signal.C()
}

// Latest 取走最新快照；没有新数据时返回 nil
func (ts *TickSubscription) Latest() *domain.TickSnapshot {
	return ts.latest.Swap(nil)
}

// TickBroadcaster 把行情快照扇出给所有订阅者
type TickBroadcaster struct {
	mu     sync.Mutex
	subs   []*TickSubscription
	closed bool
}

// NewTickBroadcaster 创建广播器
func NewTickBroadcaster() *TickBroadcaster {
	return &TickBroadcaster{}
}

// Subscribe 新增一个订阅者
func (b *TickBroadcaster) Subscribe() *TickSubscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &TickSubscription{signal: sigchan.New(1)}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish 发布一个不可变快照。快照发布后不得再被修改。
func (b *TickBroadcaster) Publish(snap *domain.TickSnapshot) {
	if snap == nil {
		return
	}
	b.mu.Lock()
	subs := b.subs
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	for _, sub := range subs {
		sub.latest.Store(snap)
		sub.signal.Emit()
	}
}

// Close 关闭广播器，唤醒所有等待者
func (b *TickBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		sub.signal.Close()
	}
}
