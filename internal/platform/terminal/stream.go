package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Listener receives position and connection events from a Stream. Callbacks
// for one stream are delivered sequentially from its read goroutine.
type Listener interface {
	OnConnected(ctx context.Context)
	OnDisconnected(ctx context.Context)
	OnSynchronized(ctx context.Context)
	OnPositionsUpdated(ctx context.Context, positions []domain.Position, removedIDs []string)
	OnPositionUpdated(ctx context.Context, position domain.Position)
	OnPositionRemoved(ctx context.Context, positionID string)
}

// Stream is a live position subscription for one account.
type Stream interface {
	AddListener(l Listener)
	Connect(ctx context.Context) error
	// WaitSynchronized blocks until the terminal has sent its initial state.
	WaitSynchronized(ctx context.Context) error
	// Positions returns the terminal's current open positions.
	Positions() []domain.Position
	// Healthy reports whether the socket is open, the broker is connected and
	// the initial synchronization has completed.
	Healthy() bool
	Close() error
}

// StreamConfig configures a StreamClient.
type StreamConfig struct {
	URL       string
	Token     string
	AccountID string
}

// StreamClient is the websocket implementation of Stream.
type StreamClient struct {
	cfg    StreamConfig
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	closed    bool
	connected bool
	synced    bool
	positions map[string]domain.Position

	listeners []Listener
	listenMu  sync.RWMutex

	ctx      context.Context
	cancel   context.CancelFunc
	syncedCh chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
	done     chan struct{}
}

// NewStreamClient creates an unconnected stream client.
func NewStreamClient(cfg StreamConfig, logger *slog.Logger) *StreamClient {
	return &StreamClient{
		cfg:       cfg,
		logger:    logger.With(slog.String("account_id", cfg.AccountID)),
		positions: make(map[string]domain.Position),
		syncedCh:  make(chan struct{}),
		lost:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// AddListener registers a listener. Listeners added after Connect only see
// subsequent events.
func (s *StreamClient) AddListener(l Listener) {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Connect dials the stream endpoint and subscribes to the account. A
// StreamClient connects once; reconnecting means opening a new stream.
func (s *StreamClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("terminal/stream: %w", domain.ErrWSDisconnect)
	}
	if s.conn != nil {
		return nil
	}
	select {
	case <-s.lost:
		return fmt.Errorf("terminal/stream: %w", domain.ErrWSDisconnect)
	default:
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	header := http.Header{}
	header.Set("auth-token", s.cfg.Token)

	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("terminal/stream: connect: %w", err)
	}
	s.conn = conn

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := s.send(command{Type: "subscribe", AccountID: s.cfg.AccountID}); err != nil {
		_ = s.conn.Close()
		s.conn = nil
		return fmt.Errorf("terminal/stream: subscribe: %w", err)
	}

	// Callbacks outlive the dial context and stop on Close.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	go s.readLoop(conn)
	go s.pingLoop(conn)
	return nil
}

// WaitSynchronized blocks until the initial synchronization completes, the
// connection is lost, or ctx is done. A ctx deadline maps to
// domain.ErrSyncTimeout.
func (s *StreamClient) WaitSynchronized(ctx context.Context) error {
	select {
	case <-s.syncedCh:
		return nil
	case <-s.lost:
		return fmt.Errorf("terminal/stream: lost before sync: %w", domain.ErrWSDisconnect)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("terminal/stream: %w", domain.ErrSyncTimeout)
		}
		return ctx.Err()
	}
}

// Positions returns the current terminal state ordered by position id.
func (s *StreamClient) Positions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Healthy implements Stream.
func (s *StreamClient) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed && s.conn != nil && s.connected && s.synced
}

// Close shuts down the connection. No listener callbacks are delivered
// after Close returns from the read goroutine.
func (s *StreamClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}

	if s.conn != nil {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

type command struct {
	Type      string `json:"type"`
	AccountID string `json:"accountId,omitempty"`
}

type message struct {
	Type               string        `json:"type"`
	Positions          []RawPosition `json:"positions"`
	Position           *RawPosition  `json:"position"`
	PositionID         flexID        `json:"positionId"`
	RemovedPositionIDs []flexID      `json:"removedPositionIds"`
	Error              string        `json:"error"`
	Message            string        `json:"message"`
}

// send writes a JSON command. Caller must hold s.mu.
func (s *StreamClient) send(cmd command) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *StreamClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("stream read failed", slog.String("error", err.Error()))
			s.markLost()
			return
		}
		s.handleMessage(raw)
	}
}

func (s *StreamClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.lost:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// markLost records an unexpected connection loss and notifies listeners.
func (s *StreamClient) markLost() {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		s.connected = false
		s.conn = nil
		s.mu.Unlock()
		close(s.lost)
		for _, l := range s.snapshotListeners() {
			l.OnDisconnected(s.ctx)
		}
	})
}

func (s *StreamClient) snapshotListeners() []Listener {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	return append([]Listener(nil), s.listeners...)
}

func (s *StreamClient) handleMessage(raw []byte) {
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn("dropping malformed stream message", slog.String("error", err.Error()))
		return
	}

	switch msg.Type {
	case "connected":
		s.setConnected(true)
		for _, l := range s.snapshotListeners() {
			l.OnConnected(s.ctx)
		}

	case "disconnected":
		s.setConnected(false)
		for _, l := range s.snapshotListeners() {
			l.OnDisconnected(s.ctx)
		}

	case "positions":
		// Full snapshot sent during synchronization; replaces terminal state
		// without notifying listeners.
		positions := s.normalize(msg.Positions)
		s.mu.Lock()
		s.positions = make(map[string]domain.Position, len(positions))
		for _, p := range positions {
			s.positions[p.ID] = p
		}
		s.mu.Unlock()

	case "synchronized":
		s.mu.Lock()
		first := !s.synced
		s.synced = true
		s.connected = true
		s.mu.Unlock()
		if first {
			close(s.syncedCh)
		}
		for _, l := range s.snapshotListeners() {
			l.OnSynchronized(s.ctx)
		}

	case "update":
		positions := s.normalize(msg.Positions)
		removed := RemovedIDs(msg.RemovedPositionIDs)
		s.apply(positions, removed)
		for _, l := range s.snapshotListeners() {
			l.OnPositionsUpdated(s.ctx, positions, removed)
		}

	case "positionUpdated":
		if msg.Position == nil {
			return
		}
		p, err := NormalizePosition(*msg.Position)
		if err != nil {
			s.logger.Warn("skipping position", slog.String("error", err.Error()))
			return
		}
		s.apply([]domain.Position{p}, nil)
		for _, l := range s.snapshotListeners() {
			l.OnPositionUpdated(s.ctx, p)
		}

	case "positionRemoved":
		id := string(msg.PositionID)
		if id == "" {
			return
		}
		s.apply(nil, []string{id})
		for _, l := range s.snapshotListeners() {
			l.OnPositionRemoved(s.ctx, id)
		}

	case "error":
		s.logger.Error("terminal stream error",
			slog.String("error", msg.Error),
			slog.String("message", msg.Message),
		)

	default:
		s.logger.Debug("ignoring stream message", slog.String("type", msg.Type))
	}
}

func (s *StreamClient) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

func (s *StreamClient) apply(updated []domain.Position, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range updated {
		s.positions[p.ID] = p
	}
	for _, id := range removed {
		delete(s.positions, id)
	}
}

func (s *StreamClient) normalize(raws []RawPosition) []domain.Position {
	positions, errs := NormalizePositions(raws)
	for _, err := range errs {
		s.logger.Warn("skipping position", slog.String("error", err.Error()))
	}
	return positions
}
