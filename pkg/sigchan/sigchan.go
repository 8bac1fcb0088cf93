package sigchan

import "sync"

// Chan 是一个非阻塞的信号 channel：只通知「有事发生」，不携带数据。
// 配合一个原子的「最新值」槽位即可实现广播式唤醒（见 internal/state 的 tick 广播）。
type Chan struct {
	c      chan struct{}
	mu     sync.Mutex
	closed bool
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号；channel 已满或已关闭时直接丢弃（非阻塞）
func (c *Chan) Emit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部 channel（用于 select / 等待）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Close 关闭信号 channel，唤醒所有等待者；重复关闭安全
func (c *Chan) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.c)
}
