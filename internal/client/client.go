// internal/client/client.go
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/tablesync/internal/protocol"
	"github.com/jason-s-yu/tablesync/internal/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrGaveUp is returned by Run after MaxAttempts failed attempts in a row.
	ErrGaveUp = errors.New("gave up reconnecting")
	// ErrOfflineQueueFull is returned by sends made while the offline queue
	// is at capacity. Nothing is applied locally.
	ErrOfflineQueueFull = errors.New("offline queue is full")
)

// ConnState is where the client stands with the server.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateInLobby      ConnState = "in_lobby"
	StateInGame       ConnState = "in_game"
)

type Config struct {
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	MaxAttempts       int
	OfflineQueueSize  int
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		MaxAttempts:       10,
		OfflineQueueSize:  64,
		HeartbeatInterval: 10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// Backoff is the wait before reconnect attempt n (1-based): the initial
// delay doubled per attempt, capped at MaxBackoff.
func (c Config) Backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Client keeps one participant's channel open, plays actions optimistically
// and reconciles them against the server's state_sync.
//
// Callbacks run on the client's goroutines without its lock held, so they may
// call back into the Client.
type Client[S any] struct {
	cfg      Config
	dialer   Dialer
	observer ConnectivityObserver
	logger   *logrus.Logger
	decode   func(json.RawMessage) (S, error)
	predict  Predictor[S]

	OnState func(ConnState)
	OnView  func(S)
	OnLobby func(protocol.LobbyUpdateData)
	OnError func(protocol.ErrorData)
	// OnMessage sees every envelope after the client has handled it.
	OnMessage func(protocol.Envelope)

	rtt transport.Estimator
	now func() time.Time

	mu            sync.Mutex
	state         ConnState
	conn          Conn
	offline       [][]byte
	participantID string
	lobbyID       string
	gameID        string
	log           *Log[S]
	// lastSeq survives game changes; the server's replay guard is per
	// participant, not per game.
	lastSeq uint64
	// acked is set when the current channel got its connect ack.
	acked bool
}

// New builds a client. observer may be nil.
func New[S any](cfg Config, dialer Dialer, observer ConnectivityObserver, decode func(json.RawMessage) (S, error), predict Predictor[S], logger *logrus.Logger) *Client[S] {
	return &Client[S]{
		cfg:      cfg,
		dialer:   dialer,
		observer: observer,
		logger:   logger,
		decode:   decode,
		predict:  predict,
		now:      time.Now,
		state:    StateDisconnected,
	}
}

func (c *Client[S]) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns the current predicted view, if a game is running.
func (c *Client[S]) View() (S, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log == nil {
		var zero S
		return zero, false
	}
	return c.log.Predicted(), true
}

// Pending lists the actions still waiting for the server.
func (c *Client[S]) Pending() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log == nil {
		return nil
	}
	return c.log.Pending()
}

// Offline is the number of messages waiting for a channel.
func (c *Client[S]) Offline() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offline)
}

// RTT is the smoothed round trip measured by heartbeats.
func (c *Client[S]) RTT() time.Duration {
	return c.rtt.Latency()
}

// Run connects and keeps reconnecting until ctx ends, the server refuses the
// credentials, or MaxAttempts attempts in a row fail. An attempt only counts
// as a success once the server acknowledged it with connect; a channel that
// drops before that is a failure like a refused dial. Every redial waits out
// the backoff.
func (c *Client[S]) Run(ctx context.Context) error {
	var online <-chan struct{}
	if c.observer != nil {
		online = c.observer.Online()
	}

	failures := 0
	for {
		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx)
		if err == nil {
			var acked bool
			acked, err = c.session(ctx, conn)
			if acked {
				failures = 0
			}
		}
		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		if errors.Is(err, protocol.ErrAuth) {
			c.logger.Errorf("Server refused credentials: %v", err)
			c.setState(StateDisconnected)
			return err
		}
		if conn != nil {
			c.logger.Warnf("Connection lost: %v", err)
		}

		failures++
		if failures >= c.cfg.MaxAttempts {
			c.logger.Errorf("Giving up after %d failed attempts: %v", failures, err)
			c.setState(StateDisconnected)
			return ErrGaveUp
		}
		wait := c.cfg.Backoff(failures)
		c.logger.Infof("Reconnect attempt %d failed (%v), retrying in %v", failures, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-online:
			timer.Stop()
			c.logger.Info("Network is back, reconnecting now")
		case <-timer.C:
		}
	}
}

// session runs one open channel until it fails. acked reports whether the
// server's connect ack arrived on it.
func (c *Client[S]) session(ctx context.Context, conn Conn) (acked bool, err error) {
	defer conn.Close()

	c.mu.Lock()
	c.acked = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		acked = c.acked
		c.mu.Unlock()
	}()

	c.setState(StateConnected)

	// Sends keep queueing until the backlog is drained, so nothing overtakes
	// an older sequence number.
	for {
		c.mu.Lock()
		queued := c.offline
		c.offline = nil
		if len(queued) == 0 {
			c.conn = conn
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()
		for i, raw := range queued {
			if err := c.write(ctx, conn, raw); err != nil {
				c.requeue(queued[i:])
				return false, err
			}
		}
	}

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			raw, err := conn.Read(gctx)
			if err != nil {
				return err
			}
			env, err := protocol.Decode(raw)
			if err != nil {
				c.logger.Warnf("Dropping undecodable message: %v", err)
				continue
			}
			c.handle(env)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				env := protocol.MustNew(protocol.MsgHeartbeat, "", protocol.HeartbeatData{SentAt: c.now().UnixMilli()})
				raw, err := protocol.Encode(env)
				if err != nil {
					return err
				}
				if err := c.write(gctx, conn, raw); err != nil {
					return err
				}
			}
		}
	})
	return false, g.Wait()
}

func (c *Client[S]) write(ctx context.Context, conn Conn, raw []byte) error {
	wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, raw)
}

// requeue puts unsent messages back at the front of the offline queue.
func (c *Client[S]) requeue(raws [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := append(append([][]byte(nil), raws...), c.offline...)
	if over := len(merged) - c.cfg.OfflineQueueSize; over > 0 {
		c.logger.Warnf("Offline queue over capacity, dropping %d newest messages", over)
		merged = merged[:c.cfg.OfflineQueueSize]
	}
	c.offline = merged
}

// Act issues a game action: it is numbered, applied to the local view and
// sent (or queued while offline).
func (c *Client[S]) Act(ctx context.Context, in protocol.ActionData) (Entry, error) {
	c.mu.Lock()
	if c.log == nil {
		c.mu.Unlock()
		return Entry{}, protocol.Errorf(protocol.CodeTurn, "no game in progress")
	}
	if c.conn == nil && len(c.offline) >= c.cfg.OfflineQueueSize {
		c.mu.Unlock()
		return Entry{}, ErrOfflineQueueFull
	}
	entry, view, err := c.log.Issue(in)
	if err != nil {
		c.mu.Unlock()
		return Entry{}, err
	}
	c.lastSeq = entry.Seq
	env, err := protocol.New(protocol.MsgGameAction, c.lobbyID, in)
	if err != nil {
		c.log.Reject(entry.Seq)
		c.mu.Unlock()
		return Entry{}, err
	}
	env.ParticipantID = c.participantID
	env.SequenceNumber = entry.Seq
	c.mu.Unlock()

	if c.OnView != nil {
		c.OnView(view)
	}
	return entry, c.deliver(ctx, env)
}

// JoinLobby asks to join lobbyID, or to be matched when lobbyID is empty.
func (c *Client[S]) JoinLobby(ctx context.Context, data protocol.JoinLobbyData) error {
	return c.sendControl(ctx, protocol.MsgJoinLobby, data)
}

func (c *Client[S]) LeaveLobby(ctx context.Context) error {
	return c.sendControl(ctx, protocol.MsgLeaveLobby, nil)
}

func (c *Client[S]) SetReady(ctx context.Context, ready bool) error {
	return c.sendControl(ctx, protocol.MsgSetReady, protocol.ReadyData{Ready: ready})
}

func (c *Client[S]) StartGame(ctx context.Context) error {
	return c.sendControl(ctx, protocol.MsgStartGame, nil)
}

// Disconnect tells the server to forget this participant.
func (c *Client[S]) Disconnect(ctx context.Context) error {
	return c.sendControl(ctx, protocol.MsgDisconnect, nil)
}

func (c *Client[S]) sendControl(ctx context.Context, typ protocol.MessageType, data interface{}) error {
	c.mu.Lock()
	if c.conn == nil && len(c.offline) >= c.cfg.OfflineQueueSize {
		c.mu.Unlock()
		return ErrOfflineQueueFull
	}
	env, err := protocol.New(typ, c.lobbyID, data)
	env.ParticipantID = c.participantID
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.deliver(ctx, env)
}

// deliver writes env on the live channel, or queues it. A failed write is
// queued too; the read side notices the broken channel and reconnects.
func (c *Client[S]) deliver(ctx context.Context, env protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", env.Type, err)
	}
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		defer c.mu.Unlock()
		if len(c.offline) >= c.cfg.OfflineQueueSize {
			return ErrOfflineQueueFull
		}
		c.offline = append(c.offline, raw)
		return nil
	}
	c.mu.Unlock()

	if err := c.write(ctx, conn, raw); err != nil {
		c.logger.Warnf("Write failed, queueing %s: %v", env.Type, err)
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.offline) >= c.cfg.OfflineQueueSize {
			return ErrOfflineQueueFull
		}
		c.offline = append(c.offline, raw)
	}
	return nil
}

// handle applies one server message. Notifications are collected under the
// lock and fired after it is released.
func (c *Client[S]) handle(env protocol.Envelope) {
	var notes []func()

	c.mu.Lock()
	switch env.Type {
	case protocol.MsgConnect:
		var data protocol.ConnectData
		if err := env.DecodeData(&data); err == nil {
			c.acked = true
			c.participantID = data.ParticipantID
			if !data.Resumed {
				// a new server session numbers its syncs from one again
				c.lobbyID, c.gameID, c.log = "", "", nil
			} else if c.log != nil {
				c.log.ResetSync()
			}
			if data.LobbyID != "" {
				c.lobbyID = data.LobbyID
				notes = append(notes, c.transition(StateInLobby))
			}
		}
	case protocol.MsgLobbyUpdate:
		var data protocol.LobbyUpdateData
		if err := env.DecodeData(&data); err == nil {
			c.lobbyID = data.LobbyID
			next := StateInLobby
			if data.State == "starting" || data.State == "playing" {
				next = StateInGame
			}
			notes = append(notes, c.transition(next))
			if c.OnLobby != nil {
				notes = append(notes, func() { c.OnLobby(data) })
			}
		}
	case protocol.MsgLobbyClosed:
		c.lobbyID, c.gameID, c.log = "", "", nil
		notes = append(notes, c.transition(StateConnected))
	case protocol.MsgStateSync:
		notes = append(notes, c.handleSync(env)...)
	case protocol.MsgError:
		var data protocol.ErrorData
		if err := env.DecodeData(&data); err == nil {
			if data.SequenceNumber > 0 && c.log != nil && c.log.Reject(data.SequenceNumber) && c.OnView != nil {
				view := c.log.Predicted()
				notes = append(notes, func() { c.OnView(view) })
			}
			if c.OnError != nil {
				notes = append(notes, func() { c.OnError(data) })
			}
		}
	case protocol.MsgHeartbeat:
		var data protocol.HeartbeatData
		if err := env.DecodeData(&data); err == nil && data.SentAt > 0 {
			c.rtt.Observe(c.now().Sub(time.UnixMilli(data.SentAt)))
		}
	}
	c.mu.Unlock()

	for _, n := range notes {
		if n != nil {
			n()
		}
	}
	if c.OnMessage != nil {
		c.OnMessage(env)
	}
}

func (c *Client[S]) handleSync(env protocol.Envelope) []func() {
	var data protocol.StateSyncData
	if err := env.DecodeData(&data); err != nil {
		c.logger.Warnf("Dropping malformed state_sync: %v", err)
		return nil
	}
	view, err := c.decode(data.State)
	if err != nil {
		c.logger.Warnf("Dropping state_sync with undecodable state: %v", err)
		return nil
	}
	if c.log == nil || c.gameID != data.GameID {
		c.gameID = data.GameID
		c.log = NewLog(view, c.predict, c.lastSeq)
	}
	if !c.log.Reconcile(data.Seq, data.Ack, view) {
		c.logger.Debugf("Ignoring stale state_sync %d", data.Seq)
		return nil
	}

	var notes []func()
	if data.LobbyState == "ended" {
		notes = append(notes, c.transition(StateInLobby))
	} else {
		notes = append(notes, c.transition(StateInGame))
	}
	if c.OnView != nil {
		predicted := c.log.Predicted()
		notes = append(notes, func() { c.OnView(predicted) })
	}
	return notes
}

// transition moves to next under the lock and returns the notification.
func (c *Client[S]) transition(next ConnState) func() {
	if c.state == next {
		return nil
	}
	c.state = next
	return func() { c.notifyState(next) }
}

func (c *Client[S]) setState(next ConnState) {
	c.mu.Lock()
	n := c.transition(next)
	c.mu.Unlock()
	if n != nil {
		n()
	}
}

func (c *Client[S]) notifyState(s ConnState) {
	if c.OnState != nil {
		c.OnState(s)
	}
}
