// Package livefeed streams game progress to a websocket endpoint so running
// batches can be watched live.
package livefeed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/llm-chess-arena/internal/game"
)

var ErrClosed = errors.New("livefeed publisher closed")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

const (
	EventPly      = "ply"
	EventGameOver = "game_over"
)

// Event is one JSON message on the feed.
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	GameID  string    `json:"game_id"`
	Ply     int       `json:"ply,omitempty"`
	Label   string    `json:"label,omitempty"`
	SAN     string    `json:"san,omitempty"`
	UCI     string    `json:"uci,omitempty"`
	Mover   string    `json:"mover,omitempty"`
	FEN     string    `json:"fen,omitempty"`
	Result  string    `json:"result,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Method  string    `json:"method,omitempty"`
	PGN     string    `json:"pgn,omitempty"`
	At      time.Time `json:"at"`
}

type Option func(*Publisher)

func WithLogger(zl *zap.Logger) Option {
	return func(p *Publisher) {
		if zl != nil {
			p.zl = zl
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.queue = make(chan Event, n)
		}
	}
}

func WithReconnect(maxAttempts int) Option {
	return func(p *Publisher) { p.maxReconnectAttempts = maxAttempts }
}

// Publisher sends events over one websocket connection. Publishing never
// blocks a game: when the queue is full or the connection is down the event
// is dropped and counted.
type Publisher struct {
	wsURL string
	runID string
	zl    *zap.Logger
	now   func() time.Time

	queue chan Event

	conn  *websocket.Conn
	connM sync.Mutex

	state  State
	stateM sync.RWMutex

	maxReconnectAttempts int
	pingInterval         time.Duration
	writeTimeout         time.Duration

	dropped atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func New(wsURL, runID string, opts ...Option) *Publisher {
	p := &Publisher{
		wsURL:                wsURL,
		runID:                runID,
		zl:                   zap.NewNop(),
		now:                  time.Now,
		queue:                make(chan Event, 256),
		state:                StateDisconnected,
		maxReconnectAttempts: 5,
		pingInterval:         30 * time.Second,
		writeTimeout:         5 * time.Second,
		stopCh:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.rootCtx, p.rootCancel = context.WithCancel(context.Background())
	return p
}

func (p *Publisher) State() State {
	p.stateM.RLock()
	defer p.stateM.RUnlock()
	return p.state
}

// Dropped counts events that were never sent.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Connect dials the endpoint and starts the writer and ping loops.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.isStopping() {
		return ErrClosed
	}
	p.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, err := p.dial(dialCtx)
	if err != nil {
		p.setState(StateFailed)
		return err
	}
	p.setConn(conn)
	p.setState(StateConnected)

	p.wg.Add(2)
	go p.writeLoop()
	go p.pingLoop()
	return nil
}

func (p *Publisher) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, p.wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	// control frames (pongs, close) are handled by the background reader
	conn.CloseRead(p.rootCtx)
	return conn, nil
}

// Publish queues ev, reporting whether it was accepted.
func (p *Publisher) Publish(ev Event) bool {
	if p.isStopping() {
		p.dropped.Add(1)
		return false
	}
	if ev.RunID == "" {
		ev.RunID = p.runID
	}
	if ev.At.IsZero() {
		ev.At = p.now().UTC()
	}
	select {
	case p.queue <- ev:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

func (p *Publisher) PlyApplied(_ context.Context, ev game.PlyEvent) {
	p.Publish(Event{
		Type:   EventPly,
		GameID: ev.GameID,
		Ply:    ev.Index,
		Label:  ev.Ply.Label,
		SAN:    ev.Ply.SAN,
		UCI:    ev.Ply.UCI,
		Mover:  string(ev.Ply.Mover),
		FEN:    ev.FEN,
	})
}

func (p *Publisher) GameFinished(_ context.Context, res game.Result) {
	p.Publish(Event{
		Type:    EventGameOver,
		GameID:  res.GameID,
		Ply:     len(res.Plies),
		FEN:     res.FEN,
		Result:  res.Outcome.Result(),
		Outcome: res.Outcome.Kind.String(),
		Method:  res.Outcome.Method.String(),
		PGN:     res.PGN,
	})
}

func (p *Publisher) writeLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			p.flush()
			return
		case ev := <-p.queue:
			p.send(ev)
		}
	}
}

// flush sends what is still queued at shutdown.
func (p *Publisher) flush() {
	for {
		select {
		case ev := <-p.queue:
			p.send(ev)
		default:
			return
		}
	}
}

func (p *Publisher) send(ev Event) {
	conn := p.currentConn()
	if conn == nil {
		p.dropped.Add(1)
		return
	}
	ctx, cancel := context.WithTimeout(p.rootCtx, p.writeTimeout)
	err := wsjson.Write(ctx, conn, ev)
	cancel()
	if err == nil {
		return
	}
	p.dropped.Add(1)
	p.zl.Warn("livefeed_write_failed", zap.String("game_id", ev.GameID), zap.Error(err))
	if p.isStopping() {
		return
	}
	p.setState(StateDisconnected)
	_ = p.closeConn(websocket.StatusGoingAway, "reconnect")
	p.reconnect()
}

// reconnect runs on the writer goroutine, so events queue up meanwhile.
func (p *Publisher) reconnect() {
	if p.maxReconnectAttempts <= 0 {
		p.setState(StateFailed)
		return
	}
	p.setState(StateReconnecting)
	for attempt := 1; attempt <= p.maxReconnectAttempts; attempt++ {
		select {
		case <-p.stopCh:
			return
		case <-time.After(backoffDuration(attempt)):
		}
		dialCtx, cancel := context.WithTimeout(p.rootCtx, 10*time.Second)
		conn, err := p.dial(dialCtx)
		cancel()
		if err != nil {
			p.zl.Debug("livefeed_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		p.setConn(conn)
		p.setState(StateConnected)
		return
	}
	p.setState(StateFailed)
}

func (p *Publisher) pingLoop() {
	defer p.wg.Done()
	t := time.NewTicker(p.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-p.stopCh:
			return
		case <-t.C:
			conn := p.currentConn()
			if conn == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(p.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err != nil {
				failures++
				if failures >= 2 {
					p.zl.Warn("livefeed_ping_failed", zap.Error(err))
					p.setState(StateDisconnected)
					failures = 0
				}
				continue
			}
			failures = 0
		}
	}
}

// Close stops the loops after sending what is queued, then closes the connection.
func (p *Publisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		p.rootCancel()
		return ctx.Err()
	case <-done:
	}
	err := p.closeConn(websocket.StatusNormalClosure, "close")
	p.rootCancel()
	p.setState(StateDisconnected)
	return err
}

func (p *Publisher) setState(s State) {
	p.stateM.Lock()
	p.state = s
	p.stateM.Unlock()
}

func (p *Publisher) setConn(c *websocket.Conn) {
	p.connM.Lock()
	p.conn = c
	p.connM.Unlock()
}

func (p *Publisher) currentConn() *websocket.Conn {
	p.connM.Lock()
	defer p.connM.Unlock()
	return p.conn
}

func (p *Publisher) closeConn(code websocket.StatusCode, reason string) error {
	p.connM.Lock()
	conn := p.conn
	p.conn = nil
	p.connM.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(code, reason)
}

func (p *Publisher) isStopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

// IsWebsocketURL reports whether raw looks like a ws:// or wss:// endpoint.
func IsWebsocketURL(raw string) bool {
	raw = strings.ToLower(strings.TrimSpace(raw))
	return strings.HasPrefix(raw, "ws://") || strings.HasPrefix(raw, "wss://")
}
