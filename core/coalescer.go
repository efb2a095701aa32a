package core

import (
	"strings"
	"sync"
	"time"

	"pkt.systems/coxswain/schema"
)

// coalesceKey scopes a pending buffer to one user's process key.
type coalesceKey struct {
	user schema.UserID
	key  schema.ProcessKey
}

type pendingBuffer struct {
	text  strings.Builder
	timer *time.Timer
}

// coalescer batches filtered output per key and flushes on a short
// timer, so the data path emits a handful of events per burst instead
// of one per PTY read. Buffers and timers are independent per key;
// flushing one key never touches another.
type coalescer struct {
	mu      sync.Mutex
	delay   time.Duration
	emit    func(userID schema.UserID, key schema.ProcessKey, text string)
	pending map[coalesceKey]*pendingBuffer
}

func newCoalescer(delay time.Duration, emit func(schema.UserID, schema.ProcessKey, string)) *coalescer {
	if delay <= 0 {
		delay = schema.DefaultFlushInterval
	}
	return &coalescer{
		delay:   delay,
		emit:    emit,
		pending: make(map[coalesceKey]*pendingBuffer),
	}
}

// Add appends text to the key's pending buffer and schedules a flush
// if none is pending. Empty text is dropped.
func (c *coalescer) Add(userID schema.UserID, key schema.ProcessKey, text string) {
	if text == "" {
		return
	}
	ck := coalesceKey{user: userID, key: key}
	c.mu.Lock()
	buf := c.pending[ck]
	if buf == nil {
		buf = &pendingBuffer{}
		c.pending[ck] = buf
	}
	buf.text.WriteString(text)
	if buf.timer == nil {
		buf.timer = time.AfterFunc(c.delay, func() {
			c.Flush(userID, key)
		})
	}
	c.mu.Unlock()
}

// Flush synchronously emits and clears any pending content for the
// key, stopping its timer. Safe to call for keys with nothing pending.
func (c *coalescer) Flush(userID schema.UserID, key schema.ProcessKey) {
	ck := coalesceKey{user: userID, key: key}
	c.mu.Lock()
	buf := c.pending[ck]
	if buf == nil {
		c.mu.Unlock()
		return
	}
	delete(c.pending, ck)
	if buf.timer != nil {
		buf.timer.Stop()
	}
	text := buf.text.String()
	c.mu.Unlock()
	if text != "" && c.emit != nil {
		c.emit(userID, key, text)
	}
}

// FlushAll drains every pending buffer; used at teardown.
func (c *coalescer) FlushAll() {
	c.mu.Lock()
	keys := make([]coalesceKey, 0, len(c.pending))
	for ck := range c.pending {
		keys = append(keys, ck)
	}
	c.mu.Unlock()
	for _, ck := range keys {
		c.Flush(ck.user, ck.key)
	}
}
