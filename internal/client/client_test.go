// internal/client/client_test.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/tablesync/internal/game/uno"
	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

// Read hands out everything pushed before reporting the close.
func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-p.in:
		return raw, nil
	default:
	}
	select {
	case raw := <-p.in:
		return raw, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	p.out <- data
	return nil
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

// push delivers a server envelope to the client.
func (p *pipeConn) push(t *testing.T, typ protocol.MessageType, data interface{}) {
	t.Helper()
	raw, err := protocol.Encode(protocol.MustNew(typ, "", data))
	require.NoError(t, err)
	p.in <- raw
}

// next returns the next envelope the client wrote, skipping heartbeats.
func (p *pipeConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	for {
		select {
		case raw := <-p.out:
			env, err := protocol.Decode(raw)
			require.NoError(t, err)
			if env.Type == protocol.MsgHeartbeat {
				continue
			}
			return env
		case <-time.After(time.Second):
			t.Fatal("client wrote nothing")
		}
	}
}

type scriptDialer struct {
	mu    sync.Mutex
	conns []Conn
	err   error
	dials int
}

func (d *scriptDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, d.err
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *scriptDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// dialFunc lets a test decide what every dial returns.
type dialFunc struct {
	mu    sync.Mutex
	dials int
	fn    func(n int) (Conn, error)
}

func (d *dialFunc) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	n := d.dials
	d.mu.Unlock()
	return d.fn(n)
}

func (d *dialFunc) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// closedConn is a channel the server accepted and dropped at once.
func closedConn() Conn {
	conn := newPipeConn()
	conn.Close()
	return conn
}

type onlineSignal chan struct{}

func (o onlineSignal) Online() <-chan struct{} { return o }

type stateLog struct {
	mu     sync.Mutex
	states []ConnState
}

func (s *stateLog) record(st ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *stateLog) get() []ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ConnState(nil), s.states...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func decodeStrings(raw json.RawMessage) ([]string, error) {
	var v []string
	err := json.Unmarshal(raw, &v)
	return v, err
}

func testClient(d Dialer, obs ConnectivityObserver, mutate func(*Config)) *Client[[]string] {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 4 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, d, obs, decodeStrings, appendPredict, quietLogger())
}

func syncEnv(t *testing.T, seq, ack uint64, state []string) protocol.Envelope {
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	return protocol.MustNew(protocol.MsgStateSync, "lobby", protocol.StateSyncData{
		Seq:        seq,
		Ack:        ack,
		GameID:     "game-1",
		LobbyState: "playing",
		State:      raw,
	})
}

func TestBackoffDoublesToCap(t *testing.T) {
	cfg := DefaultConfig()
	var got []time.Duration
	for n := 1; n <= 7; n++ {
		got = append(got, cfg.Backoff(n))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}

func TestRunGivesUpAfterMaxAttempts(t *testing.T) {
	d := &scriptDialer{err: errors.New("connection refused")}
	c := testClient(d, nil, func(cfg *Config) { cfg.MaxAttempts = 3 })
	states := &stateLog{}
	c.OnState = states.record

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 3, d.count())
	assert.Equal(t, StateDisconnected, c.State())
	got := states.get()
	assert.Equal(t, StateDisconnected, got[len(got)-1])
}

func TestDroppedSessionsCountTowardsMaxAttempts(t *testing.T) {
	d := &dialFunc{fn: func(int) (Conn, error) { return closedConn(), nil }}
	c := testClient(d, nil, func(cfg *Config) {
		cfg.InitialBackoff = 40 * time.Millisecond
		cfg.MaxBackoff = 40 * time.Millisecond
		cfg.MaxAttempts = 3
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	err := c.Run(ctx)

	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 3, d.count())
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "each redial waits out the backoff")
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnectAckResetsAttempts(t *testing.T) {
	d := &dialFunc{fn: func(n int) (Conn, error) {
		if n > 2 {
			return nil, errors.New("connection refused")
		}
		conn := newPipeConn()
		raw, err := protocol.Encode(protocol.MustNew(protocol.MsgConnect, "", protocol.ConnectData{ParticipantID: "alice"}))
		if err != nil {
			return nil, err
		}
		conn.in <- raw
		conn.Close()
		return conn, nil
	}}
	c := testClient(d, nil, func(cfg *Config) { cfg.MaxAttempts = 2 })

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
	// each acknowledged session starts the count over, so only the refused
	// third dial reaches the limit
	assert.Equal(t, 3, d.count())
}

func TestRunStopsOnAuthError(t *testing.T) {
	d := &scriptDialer{err: protocol.Errorf(protocol.CodeAuth, "bad token")}
	c := testClient(d, nil, nil)
	err := c.Run(context.Background())
	assert.ErrorIs(t, err, protocol.ErrAuth)
	assert.Equal(t, 1, d.count())
}

func TestOnlineSignalSkipsBackoff(t *testing.T) {
	d := &scriptDialer{err: errors.New("offline")}
	online := make(onlineSignal, 1)
	c := testClient(d, online, func(cfg *Config) {
		cfg.InitialBackoff = time.Hour
		cfg.MaxBackoff = time.Hour
		cfg.MaxAttempts = 2
	})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, time.Millisecond)
	online <- struct{}{}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrGaveUp)
		assert.Equal(t, 2, d.count())
	case <-time.After(time.Second):
		t.Fatal("backoff was not skipped")
	}
}

func TestOfflineQueueIsBounded(t *testing.T) {
	c := testClient(&scriptDialer{}, nil, func(cfg *Config) { cfg.OfflineQueueSize = 3 })
	c.handle(syncEnv(t, 1, 0, []string{}))

	ctx := context.Background()
	require.NoError(t, c.SetReady(ctx, true))
	_, err := c.Act(ctx, act("a"))
	require.NoError(t, err)
	_, err = c.Act(ctx, act("b"))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Offline())

	_, err = c.Act(ctx, act("c"))
	assert.ErrorIs(t, err, ErrOfflineQueueFull)
	assert.ErrorIs(t, c.StartGame(ctx), ErrOfflineQueueFull)

	view, ok := c.View()
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, view, "a refused send applies nothing")
	assert.Len(t, c.Pending(), 2)
}

func TestOfflineQueueFlushesInOrderOnConnect(t *testing.T) {
	conn := newPipeConn()
	d := &scriptDialer{conns: []Conn{conn}, err: errors.New("no more")}
	c := testClient(d, nil, nil)
	ctx := context.Background()
	require.NoError(t, c.JoinLobby(ctx, protocol.JoinLobbyData{GameType: "uno"}))
	require.NoError(t, c.SetReady(ctx, true))
	require.NoError(t, c.StartGame(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.Run(runCtx)

	assert.Equal(t, protocol.MsgJoinLobby, conn.next(t).Type)
	assert.Equal(t, protocol.MsgSetReady, conn.next(t).Type)
	assert.Equal(t, protocol.MsgStartGame, conn.next(t).Type)
	assert.Zero(t, c.Offline())
}

func TestActReconcilesAgainstServer(t *testing.T) {
	conn := newPipeConn()
	d := &scriptDialer{conns: []Conn{conn}, err: errors.New("no more")}
	c := testClient(d, nil, nil)

	var mu sync.Mutex
	var views [][]string
	c.OnView = func(v []string) {
		mu.Lock()
		defer mu.Unlock()
		views = append(views, v)
	}
	lastView := func() []string {
		mu.Lock()
		defer mu.Unlock()
		if len(views) == 0 {
			return nil
		}
		return views[len(views)-1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn.push(t, protocol.MsgConnect, protocol.ConnectData{ParticipantID: "alice"})
	raw, _ := json.Marshal([]string{"deal"})
	conn.push(t, protocol.MsgStateSync, protocol.StateSyncData{Seq: 1, GameID: "g", LobbyState: "playing", State: raw})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"deal"}, lastView()) }, time.Second, time.Millisecond)
	assert.Equal(t, StateInGame, c.State())

	entry, err := c.Act(ctx, act("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Seq)
	assert.Equal(t, []string{"deal", "a"}, lastView())

	sent := conn.next(t)
	assert.Equal(t, protocol.MsgGameAction, sent.Type)
	assert.Equal(t, uint64(1), sent.SequenceNumber)
	assert.Equal(t, "alice", sent.ParticipantID)

	// the server refuses it
	conn.push(t, protocol.MsgError, protocol.ErrorData{Code: protocol.CodeRuleViolation, SequenceNumber: 1})
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"deal"}, lastView()) }, time.Second, time.Millisecond)
	assert.Empty(t, c.Pending())

	_, err = c.Act(ctx, act("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), conn.next(t).SequenceNumber)

	raw, _ = json.Marshal([]string{"deal", "b"})
	conn.push(t, protocol.MsgStateSync, protocol.StateSyncData{Seq: 2, Ack: 2, GameID: "g", LobbyState: "playing", State: raw})
	require.Eventually(t, func() bool { return len(c.Pending()) == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return assert.ObjectsAreEqual([]string{"deal", "b"}, lastView()) }, time.Second, time.Millisecond)
}

func TestConnectionStates(t *testing.T) {
	c := testClient(&scriptDialer{}, nil, nil)
	states := &stateLog{}
	c.OnState = states.record

	c.handle(protocol.MustNew(protocol.MsgConnect, "", protocol.ConnectData{ParticipantID: "alice"}))
	c.handle(protocol.MustNew(protocol.MsgLobbyUpdate, "l1", protocol.LobbyUpdateData{LobbyID: "l1", State: "waiting"}))
	assert.Equal(t, StateInLobby, c.State())

	c.handle(syncEnv(t, 1, 0, []string{}))
	assert.Equal(t, StateInGame, c.State())

	c.handle(protocol.MustNew(protocol.MsgLobbyClosed, "l1", protocol.LobbyClosedData{LobbyID: "l1", Reason: "host_left"}))
	assert.Equal(t, StateConnected, c.State())
	_, ok := c.View()
	assert.False(t, ok)

	assert.Equal(t, []ConnState{StateInLobby, StateInGame, StateConnected}, states.get())
}

func TestFreshSessionResetsSyncNumbering(t *testing.T) {
	c := testClient(&scriptDialer{}, nil, nil)
	c.handle(syncEnv(t, 9, 0, []string{"old"}))

	c.handle(protocol.MustNew(protocol.MsgConnect, "", protocol.ConnectData{ParticipantID: "alice", Resumed: true}))
	c.handle(syncEnv(t, 1, 0, []string{"resumed"}))
	view, ok := c.View()
	require.True(t, ok)
	assert.Equal(t, []string{"resumed"}, view)
}

func TestHeartbeatEchoMeasuresRTT(t *testing.T) {
	c := testClient(&scriptDialer{}, nil, nil)
	now := time.UnixMilli(1_000_000)
	c.now = func() time.Time { return now }

	c.handle(protocol.MustNew(protocol.MsgHeartbeat, "", protocol.HeartbeatData{SentAt: now.Add(-80 * time.Millisecond).UnixMilli()}))
	assert.Equal(t, 80*time.Millisecond, c.RTT())
}

func TestPredictUnoUsesOwnID(t *testing.T) {
	v := uno.View{
		ParticipantID: "alice",
		CurrentPlayer: "bob",
		Phase:         uno.PhasePlaying,
	}
	_, err := PredictUno(v, protocol.ActionData{Action: string(uno.DrawCard)})
	assert.ErrorIs(t, err, protocol.ErrTurn)
}
