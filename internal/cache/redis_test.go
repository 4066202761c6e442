// internal/cache/redis_test.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jason-s-yu/tablesync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	mu     sync.Mutex
	pushed map[string][][]byte
	err    error
}

func (f *fakePusher) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	if f.pushed == nil {
		f.pushed = make(map[string][][]byte)
	}
	for _, v := range values {
		f.pushed[key] = append(f.pushed[key], v.([]byte))
	}
	return redis.NewIntResult(int64(len(f.pushed[key])), nil)
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublishPushesJSON(t *testing.T) {
	f := &fakePusher{}
	p := NewPublisher(f, "", quiet())
	defer p.Close()

	rec := models.AuditRecord{
		GameID:      "g1",
		LobbyID:     "l1",
		ActionIndex: 3,
		ActorID:     "alice",
		ActionType:  "play_card",
		Payload:     json.RawMessage(`{"cardId":"red-5-a"}`),
		Timestamp:   1700000000000,
	}
	require.NoError(t, p.Publish(context.Background(), rec))

	require.Len(t, f.pushed[DefaultQueueName], 1)
	var got models.AuditRecord
	require.NoError(t, json.Unmarshal(f.pushed[DefaultQueueName][0], &got))
	assert.Equal(t, rec.GameID, got.GameID)
	assert.Equal(t, rec.ActionIndex, got.ActionIndex)
	assert.JSONEq(t, `{"cardId":"red-5-a"}`, string(got.Payload))
}

func TestRecordKeepsOrder(t *testing.T) {
	f := &fakePusher{}
	p := NewPublisher(f, "custom", quiet())
	for i := 0; i < 50; i++ {
		p.Record(models.AuditRecord{GameID: "g", ActionIndex: i, ActionType: "play_card"})
	}
	p.Record(models.AuditRecord{GameID: "g", ActionIndex: 50, ActionType: models.AuditGameEnd})
	p.Close()

	require.Len(t, f.pushed["custom"], 51)
	for i, raw := range f.pushed["custom"] {
		var got models.AuditRecord
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, i, got.ActionIndex)
	}
}

// blockingPusher holds every push until release is closed.
type blockingPusher struct {
	fakePusher
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingPusher) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakePusher.RPush(ctx, key, values...)
}

func TestRecordNeverBlocks(t *testing.T) {
	b := &blockingPusher{started: make(chan struct{}), release: make(chan struct{})}
	p := newPublisher(b, "q", quiet(), 1)

	p.Record(models.AuditRecord{GameID: "g", ActionIndex: 0})
	<-b.started
	p.Record(models.AuditRecord{GameID: "g", ActionIndex: 1})
	p.Record(models.AuditRecord{GameID: "g", ActionIndex: 2}) // backlog full

	close(b.release)
	p.Close()
	assert.Len(t, b.pushed["q"], 2)

	// late records after Close are dropped, not a panic
	p.Record(models.AuditRecord{GameID: "g", ActionIndex: 3})
	assert.Len(t, b.pushed["q"], 2)
}

func TestPublishWrapsRedisError(t *testing.T) {
	boom := errors.New("connection reset")
	p := NewPublisher(&fakePusher{err: boom}, "q", quiet())
	err := p.Publish(context.Background(), models.AuditRecord{})
	assert.ErrorIs(t, err, boom)

	// a failing background push is only logged
	p.Record(models.AuditRecord{})
	p.Close()
}
