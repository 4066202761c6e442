// internal/transport/channel.go
package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// SendResult reports what happened to an outbound message.
type SendResult int

const (
	// Delivered means the message was handed to the channel writer.
	Delivered SendResult = iota
	// Queued means the channel is saturated and the message waits for a flush.
	Queued
	// Failed means there is no live channel.
	Failed
)

func (r SendResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Queued:
		return "queued"
	}
	return "failed"
}

// channel is one participant's outbound side. Messages handed to the writer
// count as buffered until written; past the threshold they wait in a bounded
// FIFO that the flush loop drains.
type channel struct {
	id            string
	participantID string
	conn          Conn
	cfg           Config
	logger        logrus.FieldLogger

	out      chan []byte
	buffered atomic.Int64
	done     chan struct{}
	closed   atomic.Bool

	mu      sync.Mutex
	queue   [][]byte
	dropped uint64

	latency Estimator
	pinging atomic.Bool
	missed  int
}

func newChannel(id, pid string, conn Conn, cfg Config, logger logrus.FieldLogger) *channel {
	return &channel{
		id:            id,
		participantID: pid,
		conn:          conn,
		cfg:           cfg,
		logger:        logger.WithFields(logrus.Fields{"participant": pid, "channel": id}),
		out:           make(chan []byte, cfg.WriterBacklog),
		done:          make(chan struct{}),
	}
}

// enqueue hands data to the writer, or queues it when the writer is saturated.
func (c *channel) enqueue(data []byte) SendResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return Failed
	}
	if len(c.queue) == 0 && c.buffered.Load() <= int64(c.cfg.BufferThreshold) && c.handoff(data) {
		return Delivered
	}
	c.push(data)
	return Queued
}

// handoff must be called with mu held.
func (c *channel) handoff(data []byte) bool {
	n := int64(len(data))
	c.buffered.Add(n)
	select {
	case c.out <- data:
		return true
	default:
		c.buffered.Add(-n)
		return false
	}
}

// push must be called with mu held.
func (c *channel) push(data []byte) {
	if len(c.queue) >= c.cfg.QueueCapacity {
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.dropped++
		c.logger.Warnf("Outbound queue full (%d), dropped oldest message (%d dropped so far)", c.cfg.QueueCapacity, c.dropped)
	}
	c.queue = append(c.queue, data)
}

// flush drains queued messages while buffered bytes are at or under the threshold.
func (c *channel) flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0
	}
	n := 0
	for len(c.queue) > 0 && c.buffered.Load() <= int64(c.cfg.BufferThreshold) {
		if !c.handoff(c.queue[0]) {
			break
		}
		c.queue[0] = nil
		c.queue = c.queue[1:]
		n++
	}
	return n
}

func (c *channel) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// writeLoop owns conn writes. onError runs once if a write fails.
func (c *channel) writeLoop(onError func(error)) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.out:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.WriteTimeout)
			err := c.conn.Write(ctx, data)
			cancel()
			c.buffered.Add(-int64(len(data)))
			if err != nil {
				if !c.closed.Load() {
					onError(err)
				}
				return
			}
		}
	}
}

// ping sends one heartbeat and reports whether the channel is now dead.
func (c *channel) ping(ctx context.Context) (dead bool) {
	if !c.pinging.CompareAndSwap(false, true) {
		return false
	}
	defer c.pinging.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PongTimeout)
	defer cancel()
	start := time.Now()
	err := c.conn.Ping(ctx)
	if c.closed.Load() {
		return false
	}
	if err != nil {
		c.mu.Lock()
		c.missed++
		missed := c.missed
		c.mu.Unlock()
		c.logger.Warnf("Missed pong %d/%d: %v", missed, c.cfg.MaxMissedPongs, err)
		return missed >= c.cfg.MaxMissedPongs
	}
	c.mu.Lock()
	c.missed = 0
	c.mu.Unlock()
	c.latency.Observe(time.Since(start))
	return false
}

// close is idempotent. Queued messages are discarded.
func (c *channel) close(reason string) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	close(c.done)
	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()
	if err := c.conn.Close(reason); err != nil {
		c.logger.Debugf("Close (%s): %v", reason, err)
	}
	return true
}
