// Package streaming is the position streaming and reconciliation engine: a
// per-account Session owns the broker subscription, a Router turns position
// events into signal, Telegram and archive side effects, and a
// HealthTracker decides when to reconnect.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/platform/terminal"
)

// Alert event raised when Start fails.
const alertSessionFailed = "session_failed"

// Transports.
const (
	TransportStream = "stream"
	TransportREST   = "rest"
)

// Gateway is the terminal API surface a Session needs. *terminal.Client
// satisfies it.
type Gateway interface {
	FindAccount(ctx context.Context, accountID string) terminal.Lookup
	Deploy(ctx context.Context, accountID string) error
	WaitConnected(ctx context.Context, accountID string, timeout time.Duration) (terminal.AccountInfo, error)
	OpenStream(acct terminal.AccountInfo) terminal.Stream
	GetPositions(ctx context.Context, acct terminal.AccountInfo) ([]domain.Position, error)
	GetDealsByPosition(ctx context.Context, acct terminal.AccountInfo, positionID string) ([]domain.Deal, error)
}

// Registry enforces one live Session per account within a process.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

var defaultRegistry = NewRegistry()

func (r *Registry) claim(accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[accountID]; ok {
		return fmt.Errorf("streaming: account %s: %w", accountID, domain.ErrSessionExists)
	}
	r.active[accountID] = struct{}{}
	return nil
}

func (r *Registry) release(accountID string) {
	r.mu.Lock()
	delete(r.active, accountID)
	r.mu.Unlock()
}

// SessionConfig holds the session parameters.
type SessionConfig struct {
	AccountID        string
	Token            string
	Transport        string
	ConnectTimeout   time.Duration
	DeployTimeout    time.Duration
	SyncTimeout      time.Duration
	PollInterval     time.Duration
	LogCleanupChance float64
	Health           HealthConfig
	Router           RouterConfig
}

// SessionDeps are the collaborators of a Session. Everything but Gateway,
// Signals and Mappings is optional.
type SessionDeps struct {
	Gateway      Gateway
	Registry     *Registry
	Status       domain.StatusStore
	LogStore     domain.StreamingLogStore
	Signals      domain.SignalStore
	Mappings     domain.SignalMappingStore
	ArchiveLocks domain.ArchiveLockStore
	Telegram     TelegramChannel
	Archiver     TradeArchiver
	Events       domain.EventBus
	Alerts       Alerter
}

// Session owns the streaming subscription of one account.
//
// State machine: Uninitialized -> Connecting -> Synchronizing -> Active ->
// (Disconnected | Stopped). Disconnected re-enters Connecting through the
// health tracker's backoff unless the circuit is open. Stopped lasts until
// the next Start.
type Session struct {
	cfg      SessionConfig
	gw       Gateway
	registry *Registry
	status   domain.StatusStore
	alerts   Alerter
	tracker  *HealthTracker
	state    *StateStore
	logs     *LogSink
	router   *Router
	logger   *slog.Logger

	// mu serializes Start, Stop and reconnects.
	mu     sync.Mutex
	closed bool

	viewMu  sync.RWMutex
	baseCtx context.Context
	phase   domain.SessionState
	stream  terminal.Stream
	account terminal.AccountInfo
}

// NewSession creates the session for cfg.AccountID. It fails with
// domain.ErrSessionExists while another Session for the account is open.
func NewSession(cfg SessionConfig, deps SessionDeps, logger *slog.Logger) (*Session, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("streaming: %w: gateway is required", domain.ErrConfig)
	}
	if cfg.Router.SignalsEnabled && (deps.Signals == nil || deps.Mappings == nil) {
		return nil, fmt.Errorf("streaming: %w: signal and mapping stores are required", domain.ErrConfig)
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportStream
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 300 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Minute
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}

	registry := deps.Registry
	if registry == nil {
		registry = defaultRegistry
	}
	if err := registry.claim(cfg.AccountID); err != nil {
		return nil, err
	}

	logger = logger.With(slog.String("account_id", cfg.AccountID))
	tracker := NewHealthTracker(cfg.Health, deps.Alerts, logger)
	logs := NewLogSink(deps.LogStore, cfg.LogCleanupChance, logger)
	logs.SetQuotaGate(tracker.InQuotaStreak)
	state := NewStateStore()

	s := &Session{
		cfg:      cfg,
		gw:       deps.Gateway,
		registry: registry,
		status:   deps.Status,
		alerts:   deps.Alerts,
		tracker:  tracker,
		state:    state,
		logs:     logs,
		logger:   logger.With(slog.String("component", "session")),
		baseCtx:  context.Background(),
		phase:    domain.SessionUninitialized,
	}
	s.router = NewRouter(cfg.Router, RouterDeps{
		State:        state,
		Tracker:      tracker,
		Logs:         logs,
		Signals:      deps.Signals,
		Mappings:     deps.Mappings,
		ArchiveLocks: deps.ArchiveLocks,
		Telegram:     deps.Telegram,
		Archiver:     deps.Archiver,
		Deals:        s,
		Events:       deps.Events,
		Alerts:       deps.Alerts,
	}, logger)
	s.router.SetAccount(cfg.AccountID)
	return s, nil
}

// Tracker returns the session's connection health tracker.
func (s *Session) Tracker() *HealthTracker { return s.tracker }

// Router returns the session's event router.
func (s *Session) Router() *Router { return s.router }

// Logs returns the session's audit log sink.
func (s *Session) Logs() *LogSink { return s.logs }

// Start establishes the subscription. It is a no-op when the current
// connection is healthy. On failure the partial connection is torn down,
// the failure is reported to the health tracker (which schedules a
// reconnect unless the error is a configuration error or the circuit is
// open), and the error is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("streaming: start: %w", domain.ErrSessionStopped)
	}
	s.viewMu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.viewMu.Unlock()

	if s.liveLocked() {
		s.logger.DebugContext(ctx, "session already live")
		return nil
	}

	if err := s.connect(ctx); err != nil {
		s.fail(ctx, err)
		if s.alerts != nil {
			if aerr := s.alerts.Notify(ctx, alertSessionFailed, "Streaming session failed to start", err.Error()); aerr != nil {
				s.logger.WarnContext(ctx, "alert failed", slog.String("error", aerr.Error()))
			}
		}
		if !errors.Is(err, domain.ErrConfig) {
			if !s.tracker.OnFailure(ctx, err) {
				s.tracker.ScheduleReconnect(s.reconnectContext(), s.reconnect)
			}
		}
		return err
	}
	s.tracker.OnSuccess()
	return nil
}

// reconnect is the health tracker's reconnect callback.
func (s *Session) reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.Phase() == domain.SessionStopped {
		return domain.ErrSessionStopped
	}
	s.logs.Append(ctx, domain.StreamingLog{
		Type:      domain.LogReconnectAttempt,
		Message:   "reconnecting",
		Success:   true,
		AccountID: s.cfg.AccountID,
	})
	if err := s.connect(ctx); err != nil {
		s.fail(ctx, err)
		return err
	}
	return nil
}

// connect runs the full connection sequence. Caller must hold s.mu.
func (s *Session) connect(ctx context.Context) error {
	s.teardownLocked(ctx)

	if s.cfg.AccountID == "" || s.cfg.Token == "" {
		return fmt.Errorf("streaming: %w: terminal account id and token are required", domain.ErrConfig)
	}

	s.setPhase(domain.SessionConnecting)
	s.logger.InfoContext(ctx, "connecting", slog.String("transport", s.cfg.Transport))

	lookup := s.gw.FindAccount(ctx, s.cfg.AccountID)
	switch lookup.Status {
	case terminal.LookupNotFound:
		return fmt.Errorf("streaming: %w: account %s not found in any region", domain.ErrConfig, s.cfg.AccountID)
	case terminal.LookupError:
		return fmt.Errorf("streaming: find account: %w", lookup.Err)
	}
	acct := lookup.Account

	wait := s.cfg.ConnectTimeout
	if !acct.Deployed() {
		if err := s.gw.Deploy(ctx, acct.ID); err != nil {
			return fmt.Errorf("streaming: deploy: %w", err)
		}
		wait = s.cfg.DeployTimeout
	}
	connected, err := s.gw.WaitConnected(ctx, acct.ID, wait)
	if err != nil {
		return fmt.Errorf("streaming: wait connected: %w", err)
	}
	if connected.Region == "" {
		connected.Region = acct.Region
	}
	acct = connected

	s.viewMu.Lock()
	s.account = acct
	s.viewMu.Unlock()
	s.router.SetAccount(acct.ID)

	stream := s.openStream(acct)
	stream.AddListener(s.router)
	stream.AddListener(lifecycleListener{s: s})

	s.setPhase(domain.SessionSynchronizing)
	if err := stream.Connect(ctx); err != nil {
		_ = stream.Close()
		return fmt.Errorf("streaming: connect stream: %w", err)
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	err = stream.WaitSynchronized(syncCtx)
	cancel()
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("streaming: initial sync: %w", err)
	}

	// Positions already open at the broker are tracked, never announced.
	snapshot := stream.Positions()
	vanished := s.state.Seed(snapshot)

	s.viewMu.Lock()
	s.stream = stream
	s.phase = domain.SessionActive
	s.viewMu.Unlock()
	s.router.SetActive(true)

	if len(vanished) > 0 {
		s.logger.InfoContext(ctx, "positions closed while disconnected", slog.Any("position_ids", vanished))
	}
	// The router dropped events between the snapshot and activation; replay a
	// fresh snapshot so that window is not lost. Vanished ids close here too.
	current := stream.Positions()
	s.router.OnPositionsUpdated(ctx, current, missingFrom(s.state.IDs(), current))

	s.persistStatus(ctx, domain.StreamingStatus{
		Connected: true,
		AccountID: acct.ID,
		State:     string(domain.SessionActive),
		LastEvent: s.tracker.Health().LastSuccessfulEvent,
	})
	s.logger.InfoContext(ctx, "session active",
		slog.String("region", acct.Region),
		slog.Int("tracked_positions", len(snapshot)),
	)
	s.logs.Append(ctx, domain.StreamingLog{
		Type:      domain.LogSessionStarted,
		Message:   "streaming session started",
		Success:   true,
		AccountID: acct.ID,
		Details:   map[string]any{"region": acct.Region, "positions": len(snapshot), "transport": s.cfg.Transport},
	})
	return nil
}

// missingFrom returns the tracked ids absent from positions.
func missingFrom(tracked []string, positions []domain.Position) []string {
	present := make(map[string]bool, len(positions))
	for _, p := range positions {
		present[p.ID] = true
	}
	var missing []string
	for _, id := range tracked {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *Session) openStream(acct terminal.AccountInfo) terminal.Stream {
	if s.cfg.Transport == TransportREST {
		return newPollingStream(s.gw, acct, s.cfg.PollInterval, s.logger)
	}
	return s.gw.OpenStream(acct)
}

// fail records a failed connection attempt. Caller must hold s.mu.
func (s *Session) fail(ctx context.Context, err error) {
	s.teardownLocked(ctx)
	s.setPhase(domain.SessionDisconnected)
	s.logger.ErrorContext(ctx, "session start failed", slog.String("error", err.Error()))
	s.persistStatus(ctx, domain.StreamingStatus{
		Connected: false,
		AccountID: s.cfg.AccountID,
		State:     string(domain.SessionDisconnected),
		Error:     err.Error(),
	})
	s.logs.Append(ctx, domain.StreamingLog{
		Type:      domain.LogSessionFailed,
		Message:   "streaming session failed",
		Success:   false,
		Error:     err.Error(),
		AccountID: s.cfg.AccountID,
	})
}

// Stop tears the session down. It never fails: teardown errors are logged.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Session) stopLocked(ctx context.Context) {
	s.router.SetActive(false)
	s.setPhase(domain.SessionStopped)
	s.tracker.Reset()
	s.teardownLocked(ctx)
	s.state.Clear()
	s.router.Reset()

	if s.status != nil {
		if err := s.status.Delete(ctx); err != nil {
			s.logger.WarnContext(ctx, "delete status", slog.String("error", err.Error()))
		}
	}
	s.logger.InfoContext(ctx, "session stopped")
	s.logs.Append(ctx, domain.StreamingLog{
		Type:      domain.LogSessionStopped,
		Message:   "streaming session stopped",
		Success:   true,
		AccountID: s.cfg.AccountID,
	})
}

// Close stops the session and frees its account for a new Session.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked(ctx)
	s.closed = true
	s.registry.release(s.cfg.AccountID)
}

// Status reports in-process state only; it never calls the broker.
func (s *Session) Status() domain.SessionStatus {
	health := s.tracker.Health()
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	accountID := s.account.ID
	if accountID == "" {
		accountID = s.cfg.AccountID
	}
	return domain.SessionStatus{
		Connected: s.phase == domain.SessionActive && s.stream != nil && s.stream.Healthy(),
		AccountID: accountID,
		State:     s.phase,
		LastEvent: health.LastSuccessfulEvent,
		Tracked:   s.state.Len(),
		Health:    health,
	}
}

// Phase returns the current state machine state.
func (s *Session) Phase() domain.SessionState {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.phase
}

// DealsByPosition implements DealSource for the connected account.
func (s *Session) DealsByPosition(ctx context.Context, positionID string) ([]domain.Deal, error) {
	s.viewMu.RLock()
	acct := s.account
	s.viewMu.RUnlock()
	if acct.ID == "" {
		return nil, fmt.Errorf("streaming: deals: %w", domain.ErrWSDisconnect)
	}
	return s.gw.GetDealsByPosition(ctx, acct, positionID)
}

// liveLocked reports whether the current connection passes the liveness
// check. Caller must hold s.mu.
func (s *Session) liveLocked() bool {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.phase == domain.SessionActive && s.stream != nil && s.stream.Healthy()
}

// teardownLocked closes the current stream. Caller must hold s.mu.
func (s *Session) teardownLocked(ctx context.Context) {
	s.router.SetActive(false)
	s.viewMu.Lock()
	stream := s.stream
	s.stream = nil
	s.viewMu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.logger.WarnContext(ctx, "close stream", slog.String("error", err.Error()))
	}
}

func (s *Session) setPhase(p domain.SessionState) {
	s.viewMu.Lock()
	s.phase = p
	s.viewMu.Unlock()
}

func (s *Session) persistStatus(ctx context.Context, st domain.StreamingStatus) {
	if s.status == nil {
		return
	}
	st.UpdatedAt = time.Now().UTC()
	if err := s.status.Set(ctx, st); err != nil {
		s.logger.WarnContext(ctx, "persist status", slog.String("error", err.Error()))
	}
}

// handleDisconnect reacts to the broker or socket dropping an active
// session.
func (s *Session) handleDisconnect(ctx context.Context) {
	s.viewMu.Lock()
	if s.phase != domain.SessionActive {
		s.viewMu.Unlock()
		return
	}
	s.phase = domain.SessionDisconnected
	s.viewMu.Unlock()
	s.router.SetActive(false)

	s.logger.WarnContext(ctx, "session disconnected")
	s.persistStatus(ctx, domain.StreamingStatus{
		Connected: false,
		AccountID: s.cfg.AccountID,
		State:     string(domain.SessionDisconnected),
		Error:     "disconnected",
		LastEvent: s.tracker.Health().LastSuccessfulEvent,
	})
	if s.tracker.OnFailure(ctx, domain.ErrWSDisconnect) {
		s.logs.Append(ctx, domain.StreamingLog{
			Type:      domain.LogCircuitOpened,
			Message:   "circuit breaker opened; reconnects halted",
			Success:   false,
			AccountID: s.cfg.AccountID,
		})
		return
	}
	s.tracker.ScheduleReconnect(s.reconnectContext(), s.reconnect)
}

// ResetCircuit closes the circuit breaker and, unless the session was
// stopped, schedules a reconnect.
func (s *Session) ResetCircuit(ctx context.Context) {
	s.tracker.ResetCircuit()
	if s.Phase() == domain.SessionDisconnected {
		s.tracker.ScheduleReconnect(s.reconnectContext(), s.reconnect)
	}
}

// reconnectContext is the context reconnects run under: the last Start
// context without its cancellation. handleDisconnect runs on the stream's
// goroutine and must not wait on s.mu.
func (s *Session) reconnectContext() context.Context {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.baseCtx
}

// lifecycleListener forwards connection loss to the session.
type lifecycleListener struct {
	s *Session
}

func (l lifecycleListener) OnConnected(context.Context)    {}
func (l lifecycleListener) OnSynchronized(context.Context) {}
func (l lifecycleListener) OnDisconnected(ctx context.Context) {
	l.s.handleDisconnect(ctx)
}
func (l lifecycleListener) OnPositionsUpdated(context.Context, []domain.Position, []string) {}
func (l lifecycleListener) OnPositionUpdated(context.Context, domain.Position)               {}
func (l lifecycleListener) OnPositionRemoved(context.Context, string)                        {}

var (
	_ terminal.Listener = (*Router)(nil)
	_ terminal.Listener = lifecycleListener{}
	_ DealSource        = (*Session)(nil)
)
