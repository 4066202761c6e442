// internal/transport/manager.go
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Config tunes heartbeats and backpressure.
type Config struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	// MaxMissedPongs consecutive failed pings mark a channel dead.
	MaxMissedPongs int

	// BufferThreshold is the number of in-flight bytes past which sends queue.
	BufferThreshold int
	// QueueCapacity bounds the per-channel overflow queue.
	QueueCapacity int
	// WriterBacklog is how many messages the writer goroutine may hold.
	WriterBacklog int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		PongTimeout:       10 * time.Second,
		MaxMissedPongs:    1,
		BufferThreshold:   1 << 20,
		QueueCapacity:     1024,
		WriterBacklog:     256,
		FlushInterval:     time.Second / 60,
		WriteTimeout:      10 * time.Second,
	}
}

// Manager owns one channel per connected participant plus lobby fan-out
// subscriptions. It is safe for concurrent use: the server loop sends while
// the edge connects and the heartbeat loop pings.
type Manager struct {
	cfg    Config
	logger *logrus.Logger

	mu       sync.RWMutex
	channels map[string]*channel
	lobbies  map[string]map[string]struct{}

	// OnDead is called (outside any lock) when a channel dies on its own:
	// missed heartbeats or a failed write. Evictions and explicit
	// disconnects do not trigger it.
	OnDead func(participantID, channelID, reason string)
}

func NewManager(cfg Config, logger *logrus.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]*channel),
		lobbies:  make(map[string]map[string]struct{}),
	}
}

// Connect binds conn to pid and starts its writer. A previous channel for the
// same participant is closed with ReasonReplaced.
func (m *Manager) Connect(pid string, conn Conn) string {
	ch := newChannel(uuid.NewString(), pid, conn, m.cfg, m.logger)

	m.mu.Lock()
	prev := m.channels[pid]
	m.channels[pid] = ch
	m.mu.Unlock()

	if prev != nil {
		m.logger.Infof("Participant %s reconnected, evicting channel %s", pid, prev.id)
		prev.close(ReasonReplaced)
	}
	go ch.writeLoop(func(err error) {
		m.logger.Warnf("Write to participant %s failed: %v", pid, err)
		m.kill(ch, ReasonWriteError)
	})
	return ch.id
}

// Disconnect closes pid's channel. It is a no-op when there is none.
func (m *Manager) Disconnect(pid, reason string) {
	m.mu.Lock()
	ch := m.channels[pid]
	delete(m.channels, pid)
	m.mu.Unlock()
	if ch != nil {
		ch.close(reason)
	}
}

// DisconnectChannel closes channelID only if it is still pid's live channel.
func (m *Manager) DisconnectChannel(pid, channelID, reason string) {
	m.mu.Lock()
	ch := m.channels[pid]
	if ch == nil || ch.id != channelID {
		m.mu.Unlock()
		return
	}
	delete(m.channels, pid)
	m.mu.Unlock()
	ch.close(reason)
}

func (m *Manager) kill(ch *channel, reason string) {
	m.mu.Lock()
	if m.channels[ch.participantID] == ch {
		delete(m.channels, ch.participantID)
	}
	m.mu.Unlock()
	if ch.close(reason) && m.OnDead != nil {
		m.OnDead(ch.participantID, ch.id, reason)
	}
}

func (m *Manager) channel(pid string) *channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[pid]
}

// Send encodes env and hands it to pid's channel.
func (m *Manager) Send(pid string, env protocol.Envelope) SendResult {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Errorf("Failed to encode %s for %s: %v", env.Type, pid, err)
		return Failed
	}
	return m.SendRaw(pid, data)
}

// SendRaw hands pre-encoded bytes to pid's channel.
func (m *Manager) SendRaw(pid string, data []byte) SendResult {
	ch := m.channel(pid)
	if ch == nil {
		return Failed
	}
	return ch.enqueue(data)
}

// Broadcast sends env to every subscriber of lobbyID except the excluded ids.
// The envelope is encoded once.
func (m *Manager) Broadcast(lobbyID string, env protocol.Envelope, exclude ...string) map[string]SendResult {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Errorf("Failed to encode %s broadcast for lobby %s: %v", env.Type, lobbyID, err)
		return nil
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	m.mu.RLock()
	targets := make([]string, 0, len(m.lobbies[lobbyID]))
	for pid := range m.lobbies[lobbyID] {
		if !skip[pid] {
			targets = append(targets, pid)
		}
	}
	m.mu.RUnlock()

	results := make(map[string]SendResult, len(targets))
	for _, pid := range targets {
		results[pid] = m.SendRaw(pid, data)
	}
	return results
}

// Subscribe adds pid to lobbyID's fan-out set.
func (m *Manager) Subscribe(lobbyID, pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.lobbies[lobbyID]
	if !ok {
		set = make(map[string]struct{})
		m.lobbies[lobbyID] = set
	}
	set[pid] = struct{}{}
}

func (m *Manager) Unsubscribe(lobbyID, pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies[lobbyID], pid)
	if len(m.lobbies[lobbyID]) == 0 {
		delete(m.lobbies, lobbyID)
	}
}

// DropLobby forgets every subscription of lobbyID.
func (m *Manager) DropLobby(lobbyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies, lobbyID)
}

func (m *Manager) IsConnected(pid string) bool {
	ch := m.channel(pid)
	return ch != nil && !ch.closed.Load()
}

// Latency is pid's smoothed heartbeat round trip.
func (m *Manager) Latency(pid string) time.Duration {
	if ch := m.channel(pid); ch != nil {
		return ch.latency.Latency()
	}
	return 0
}

// Jitter is the smoothed deviation of pid's round trip.
func (m *Manager) Jitter(pid string) time.Duration {
	if ch := m.channel(pid); ch != nil {
		return ch.latency.Jitter()
	}
	return 0
}

func (m *Manager) Quality(pid string) Quality {
	if ch := m.channel(pid); ch != nil {
		return ch.latency.Quality()
	}
	return QualityUnknown
}

// Buffered is the number of bytes handed to pid's writer but not yet written.
func (m *Manager) Buffered(pid string) int64 {
	if ch := m.channel(pid); ch != nil {
		return ch.buffered.Load()
	}
	return 0
}

// Queued is the length of pid's overflow queue.
func (m *Manager) Queued(pid string) int {
	if ch := m.channel(pid); ch != nil {
		return ch.queued()
	}
	return 0
}

func (m *Manager) snapshot() []*channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// Flush drains every overflow queue as far as buffer space allows.
func (m *Manager) Flush() int {
	n := 0
	for _, ch := range m.snapshot() {
		n += ch.flush()
	}
	return n
}

// Heartbeat pings every channel concurrently and waits for the answers.
// Channels that reach MaxMissedPongs are killed.
func (m *Manager) Heartbeat(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ch := range m.snapshot() {
		wg.Add(1)
		go func(ch *channel) {
			defer wg.Done()
			if ch.ping(ctx) {
				m.logger.Warnf("Participant %s missed %d heartbeat(s), marking channel dead", ch.participantID, m.cfg.MaxMissedPongs)
				m.kill(ch, ReasonDead)
			}
		}(ch)
	}
	wg.Wait()
}

// Run drives the flush and heartbeat loops until ctx is done, then closes
// every channel.
func (m *Manager) Run(ctx context.Context) error {
	flush := time.NewTicker(m.cfg.FlushInterval)
	defer flush.Stop()
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, ch := range m.snapshot() {
				m.Disconnect(ch.participantID, ReasonShutdown)
			}
			return nil
		case <-flush.C:
			m.Flush()
		case <-heartbeat.C:
			// pings can take up to PongTimeout; don't stall flushing
			go m.Heartbeat(ctx)
		}
	}
}
