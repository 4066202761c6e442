// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list (queue) name for audit records.
const DefaultQueueName = "tablesync_actions"

// PublishTimeout bounds one asynchronous push.
const PublishTimeout = 2 * time.Second

// PublishBacklog is how many records may wait for the worker.
const PublishBacklog = 1024

// Pusher is the part of a Redis client the publisher needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Connect opens a Redis client and checks it with a ping.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes audit records onto a Redis list for the historian. One
// worker drains a buffered backlog, so records reach Redis in the order they
// were recorded.
type Publisher struct {
	client Pusher
	queue  string
	logger *logrus.Logger

	records chan models.AuditRecord
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewPublisher(client Pusher, queue string, logger *logrus.Logger) *Publisher {
	return newPublisher(client, queue, logger, PublishBacklog)
}

func newPublisher(client Pusher, queue string, logger *logrus.Logger, backlog int) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	p := &Publisher{
		client:  client,
		queue:   queue,
		logger:  logger,
		records: make(chan models.AuditRecord, backlog),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish serializes rec to JSON and pushes it onto the queue.
func (p *Publisher) Publish(ctx context.Context, rec models.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal AuditRecord: %w", err)
	}
	if err := p.client.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Record hands rec to the worker without blocking, so the server loop never
// waits on Redis. When the backlog is full, or the publisher is closed, the
// record is logged and lost.
func (p *Publisher) Record(rec models.AuditRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warnf("Publisher closed, dropping %s for game %s", rec.ActionType, rec.GameID)
		return
	}
	select {
	case p.records <- rec:
	default:
		p.logger.Warnf("Audit backlog full, dropping %s for game %s", rec.ActionType, rec.GameID)
	}
}

// Close stops accepting records and waits until the backlog is pushed.
func (p *Publisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.records)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for rec := range p.records {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		if err := p.Publish(ctx, rec); err != nil {
			p.logger.Warnf("Failed to publish %s for game %s: %v", rec.ActionType, rec.GameID, err)
		}
		cancel()
	}
}
