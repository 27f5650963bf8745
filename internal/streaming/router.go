package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
)

// Event bus channel and stream for position lifecycle events.
const (
	PositionsChannel = "positions"
	PositionsStream  = "positions:stream"
)

// Alert event raised on data integrity failures.
const alertIntegrityError = "integrity_error"

// TelegramChannel publishes position lifecycle messages to the signal
// channel. Implementations own the position-to-message mapping.
type TelegramChannel interface {
	PublishOpen(ctx context.Context, p domain.Position, sig domain.Signal) error
	// PublishUpdate edits the open message in place. A position without a
	// message is not an error.
	PublishUpdate(ctx context.Context, positionID string, st domain.PositionState, changes []Change) error
	PublishClose(ctx context.Context, positionID string, sig *domain.Signal, cd domain.CloseData, pips float64) error
}

// TradeArchiver writes closed trades to history.
type TradeArchiver interface {
	ArchiveClosedTrade(ctx context.Context, t domain.ClosedTrade) error
}

// DealSource looks up broker history deals of a position.
type DealSource interface {
	DealsByPosition(ctx context.Context, positionID string) ([]domain.Deal, error)
}

// RouterConfig holds the event router policy.
type RouterConfig struct {
	SignalsEnabled      bool
	Levels              forex.LevelPolicy
	HistoryRetries      int
	HistoryRetryDelay   time.Duration
	PendingRecheckDelay time.Duration
}

// DefaultRouterConfig returns the production router policy.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SignalsEnabled:      true,
		Levels:              forex.DefaultLevelPolicy(),
		HistoryRetries:      3,
		HistoryRetryDelay:   2 * time.Second,
		PendingRecheckDelay: time.Second,
	}
}

// RouterDeps are the collaborators of a Router. Telegram, Archiver, Events,
// Alerts and Deals are optional; a nil value turns the capability off.
type RouterDeps struct {
	State        *StateStore
	Tracker      *HealthTracker
	Logs         *LogSink
	Signals      domain.SignalStore
	Mappings     domain.SignalMappingStore
	ArchiveLocks domain.ArchiveLockStore
	Telegram     TelegramChannel
	Archiver     TradeArchiver
	Deals        DealSource
	Events       domain.EventBus
	Alerts       Alerter
}

// Router turns broker stream callbacks into exactly-once side effects:
// signal creation for new positions, Telegram edits for SL/TP changes, and
// close reconciliation with archival.
type Router struct {
	cfg    RouterConfig
	deps   RouterDeps
	holder string
	logger *slog.Logger

	active  atomic.Bool
	account atomic.Value // string
	flight  singleflight.Group
	keys    sync.Map // in-flight singleflight keys

	now func() time.Time
}

// NewRouter creates a Router. It starts inactive.
func NewRouter(cfg RouterConfig, deps RouterDeps, logger *slog.Logger) *Router {
	r := &Router{
		cfg:    cfg,
		deps:   deps,
		holder: uuid.NewString(),
		logger: logger.With(slog.String("component", "router")),
		now:    func() time.Time { return time.Now().UTC() },
	}
	r.account.Store("")
	return r
}

// SetActive switches event processing on or off.
func (r *Router) SetActive(v bool) { r.active.Store(v) }

// Active reports whether events are processed.
func (r *Router) Active() bool { return r.active.Load() }

// SetAccount sets the account id recorded on logs and archived trades.
func (r *Router) SetAccount(id string) { r.account.Store(id) }

func (r *Router) accountID() string { return r.account.Load().(string) }

// OnConnected implements terminal.Listener.
func (r *Router) OnConnected(ctx context.Context) {
	r.logger.InfoContext(ctx, "broker connected", slog.String("account_id", r.accountID()))
	r.deps.Tracker.OnEvent()
}

// OnDisconnected implements terminal.Listener.
func (r *Router) OnDisconnected(ctx context.Context) {
	r.logger.WarnContext(ctx, "broker disconnected", slog.String("account_id", r.accountID()))
}

// OnSynchronized implements terminal.Listener.
func (r *Router) OnSynchronized(ctx context.Context) {
	r.logger.InfoContext(ctx, "terminal synchronized", slog.String("account_id", r.accountID()))
	r.deps.Tracker.OnEvent()
}

// OnPositionUpdated implements terminal.Listener.
func (r *Router) OnPositionUpdated(ctx context.Context, p domain.Position) {
	r.OnPositionsUpdated(ctx, []domain.Position{p}, nil)
}

// OnPositionRemoved implements terminal.Listener.
func (r *Router) OnPositionRemoved(ctx context.Context, positionID string) {
	r.OnPositionsUpdated(ctx, nil, []string{positionID})
}

// OnPositionsUpdated implements terminal.Listener. Each position is handled
// independently; one failure never blocks the rest of the batch.
func (r *Router) OnPositionsUpdated(ctx context.Context, positions []domain.Position, removedIDs []string) {
	if !r.Active() {
		return
	}
	if len(positions) > 0 || len(removedIDs) > 0 {
		r.deps.Tracker.OnEvent()
	}
	for _, p := range positions {
		r.guard(ctx, p.ID, "upsert", func() error { return r.upsert(ctx, p) })
	}
	for _, id := range removedIDs {
		r.guard(ctx, id, "close", func() error { return r.close(ctx, id) })
	}
}

// guard is the per-position error boundary.
func (r *Router) guard(ctx context.Context, positionID, op string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "position handler panicked",
				slog.String("position_id", positionID),
				slog.String("op", op),
				slog.Any("panic", rec),
			)
		}
	}()
	if err := fn(); err != nil {
		r.logger.ErrorContext(ctx, "position handling failed",
			slog.String("position_id", positionID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		r.deps.Logs.Append(ctx, domain.StreamingLog{
			Type:       domain.LogError,
			Message:    op + " failed",
			Error:      err.Error(),
			PositionID: positionID,
			AccountID:  r.accountID(),
		})
	}
}

func (r *Router) upsert(ctx context.Context, p domain.Position) error {
	if r.deps.State.Has(p.ID) {
		return r.update(ctx, p)
	}
	// Overlapping deliveries of the same new position in this process share
	// one handler run.
	shared, err := r.do("new:"+p.ID, func() error {
		if r.deps.State.Has(p.ID) {
			return r.update(ctx, p)
		}
		return r.open(ctx, p)
	})
	if shared {
		r.logger.DebugContext(ctx, "collapsed concurrent new position delivery", slog.String("position_id", p.ID))
	}
	return err
}

func (r *Router) do(key string, fn func() error) (bool, error) {
	r.keys.Store(key, struct{}{})
	defer r.keys.Delete(key)
	_, err, shared := r.flight.Do(key, func() (any, error) {
		return nil, fn()
	})
	return shared, err
}

// Reset forgets in-flight per-position guards so a restarted session does
// not join a call left over from the previous one.
func (r *Router) Reset() {
	r.keys.Range(func(k, _ any) bool {
		r.flight.Forget(k.(string))
		r.keys.Delete(k)
		return true
	})
}

// ---------------------------------------------------------------------------
// NEW
// ---------------------------------------------------------------------------

func (r *Router) open(ctx context.Context, p domain.Position) error {
	log := r.logger.With(slog.String("position_id", p.ID), slog.String("symbol", p.Symbol))

	if !r.cfg.SignalsEnabled {
		r.deps.State.Track(p)
		log.InfoContext(ctx, "new position tracked (signals disabled)")
		r.deps.Logs.Append(ctx, r.entry(domain.LogPositionOpened, "position opened", p.ID, ""))
		return nil
	}

	res, err := r.deps.Mappings.Acquire(ctx, p.ID, p.Symbol)
	if err != nil {
		return fmt.Errorf("acquire signal mapping: %w", err)
	}
	if !res.Acquired {
		r.handleDuplicate(ctx, p.ID, res.Existing)
		r.deps.State.Track(p)
		return nil
	}

	sig := SynthesizeSignal(p, r.cfg.Levels, r.now())
	created, err := r.deps.Signals.Create(ctx, sig)
	if err != nil {
		if rerr := r.deps.Mappings.Release(ctx, p.ID, err.Error()); rerr != nil {
			log.ErrorContext(ctx, "release signal mapping", slog.String("error", rerr.Error()))
		}
		return fmt.Errorf("create signal: %w", err)
	}
	log = log.With(slog.String("signal_id", created.ID))

	if err := r.finalize(ctx, p.ID, created.ID); err != nil {
		log.ErrorContext(ctx, "signal created but mapping not finalized", slog.String("error", err.Error()))
		r.raise(ctx, fmt.Sprintf("position %s: signal %s created but mapping not finalized: %v", p.ID, created.ID, err))
	}

	log.InfoContext(ctx, "signal created",
		slog.String("direction", string(created.Direction)),
		slog.Float64("entry", created.EntryPrice),
		slog.Float64("stop_loss", created.StopLoss),
		slog.Float64("take_profit", created.TakeProfit),
	)
	e := r.entry(domain.LogSignalCreated, "signal created for new position", p.ID, created.ID)
	e.Details = map[string]any{
		"pair":        created.Pair,
		"direction":   string(created.Direction),
		"entry":       created.EntryPrice,
		"stop_loss":   created.StopLoss,
		"take_profit": created.TakeProfit,
	}
	r.deps.Logs.Append(ctx, e)
	r.publish(ctx, positionEvent{Type: "opened", PositionID: p.ID, SignalID: created.ID, Symbol: p.Symbol, Direction: p.Type, Price: p.OpenPrice})

	if r.deps.Telegram != nil {
		if err := r.deps.Telegram.PublishOpen(ctx, p, created); err != nil {
			log.WarnContext(ctx, "telegram open notification failed", slog.String("error", err.Error()))
		} else {
			r.deps.Logs.Append(ctx, r.entry(domain.LogTelegramSent, "open notification sent", p.ID, created.ID))
		}
	}

	r.deps.State.Track(p)
	return nil
}

// handleDuplicate deals with a mapping that already exists. A resolved
// mapping means the position was handled; a pending one is re-read once
// after a short wait and otherwise dropped.
func (r *Router) handleDuplicate(ctx context.Context, positionID string, existing domain.PositionSignalMapping) {
	if existing.Resolved() {
		r.logger.DebugContext(ctx, "duplicate new position; already handled",
			slog.String("position_id", positionID),
			slog.String("signal_id", existing.SignalID),
		)
		return
	}

	if r.cfg.PendingRecheckDelay > 0 {
		t := time.NewTimer(r.cfg.PendingRecheckDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	m, err := r.deps.Mappings.Get(ctx, positionID)
	if err == nil && m.Resolved() {
		r.logger.DebugContext(ctx, "duplicate new position; resolved by another worker",
			slog.String("position_id", positionID),
			slog.String("signal_id", m.SignalID),
		)
		return
	}
	r.logger.DebugContext(ctx, "signal creation in flight elsewhere; dropping event",
		slog.String("position_id", positionID),
		slog.String("status", string(existing.Status)),
	)
}

func (r *Router) finalize(ctx context.Context, positionID, signalID string) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, r.deps.Mappings.Finalize(ctx, positionID, signalID)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(100*time.Millisecond)),
		backoff.WithMaxTries(3),
	)
	return err
}

// ---------------------------------------------------------------------------
// UPDATE
// ---------------------------------------------------------------------------

func (r *Router) update(ctx context.Context, p domain.Position) error {
	prev, next, existed := r.deps.State.Merge(p)
	if !existed {
		// Closed between the lookup and the merge; do not resurrect it.
		r.deps.State.Take(p.ID)
		return nil
	}

	if r.cfg.SignalsEnabled && prev.Profit != next.Profit {
		if err := r.deps.Mappings.UpdateProfit(ctx, p.ID, next.Profit); err != nil && !errors.Is(err, domain.ErrNotFound) {
			r.logger.DebugContext(ctx, "update last known profit", slog.String("position_id", p.ID), slog.String("error", err.Error()))
		}
	}

	changes := ClassifyChanges(prev, next)
	if len(changes) == 0 {
		return nil
	}

	kinds := make([]string, 0, len(changes))
	for _, c := range changes {
		kinds = append(kinds, string(c.Kind))
	}
	r.logger.InfoContext(ctx, "position levels changed",
		slog.String("position_id", p.ID),
		slog.Any("changes", kinds),
	)

	var signalID string
	if r.cfg.SignalsEnabled {
		signalID = r.syncSignalLevels(ctx, p.ID, next)
	}

	if r.deps.Telegram != nil {
		if err := r.deps.Telegram.PublishUpdate(ctx, p.ID, next, changes); err != nil {
			r.logger.WarnContext(ctx, "telegram update failed", slog.String("position_id", p.ID), slog.String("error", err.Error()))
		}
	}

	e := r.entry(domain.LogPositionUpdated, "position levels changed", p.ID, signalID)
	e.Details = map[string]any{"changes": kinds}
	for _, c := range changes {
		if c.Kind == ChangeTrailing || c.ProfitLocked > 0 {
			e.Details["profit_locked_pips"] = c.ProfitLocked
		}
		if c.PastPrice {
			e.Details["stop_through_price"] = true
		}
	}
	r.deps.Logs.Append(ctx, e)
	r.publish(ctx, positionEvent{Type: "updated", PositionID: p.ID, SignalID: signalID, Symbol: next.Symbol, Direction: next.Type, Price: next.CurrentPrice, Changes: kinds})
	return nil
}

// syncSignalLevels copies the new levels onto the position's signal and
// returns the signal id, or "" when the position has no resolved signal.
func (r *Router) syncSignalLevels(ctx context.Context, positionID string, st domain.PositionState) string {
	m, err := r.deps.Mappings.Get(ctx, positionID)
	if err != nil || !m.Resolved() {
		return ""
	}
	upd := domain.SignalUpdate{
		StopLoss:   levelOrZero(st.StopLoss),
		TakeProfit: levelOrZero(st.TakeProfit),
	}
	if st.CurrentPrice != 0 {
		upd.CurrentPrice = domain.FloatPtr(st.CurrentPrice)
	}
	if err := r.deps.Signals.Update(ctx, m.SignalID, upd); err != nil {
		r.logger.WarnContext(ctx, "update signal levels",
			slog.String("position_id", positionID),
			slog.String("signal_id", m.SignalID),
			slog.String("error", err.Error()),
		)
	}
	return m.SignalID
}

func levelOrZero(v *float64) *float64 {
	if v == nil {
		return domain.FloatPtr(0)
	}
	return domain.FloatPtr(*v)
}

// ---------------------------------------------------------------------------
// CLOSE
// ---------------------------------------------------------------------------

func (r *Router) close(ctx context.Context, positionID string) error {
	_, err := r.do("close:"+positionID, func() error {
		return r.reconcileClose(ctx, positionID)
	})
	return err
}

func (r *Router) reconcileClose(ctx context.Context, positionID string) error {
	last, ok := r.deps.State.Take(positionID)
	if !ok {
		r.logger.DebugContext(ctx, "close already processed", slog.String("position_id", positionID))
		return nil
	}
	log := r.logger.With(slog.String("position_id", positionID), slog.String("symbol", last.Symbol))

	cd := r.closeData(ctx, positionID, last)

	var sig *domain.Signal
	if r.cfg.SignalsEnabled {
		sig = r.lookupSignal(ctx, positionID)
	}

	entry := cd.OpenPrice
	if sig != nil && sig.EntryPrice > 0 {
		entry = sig.EntryPrice
	}
	pips := forex.ResultPips(cd.Symbol, cd.Type, entry, cd.ClosePrice, cd.Profit)

	log.InfoContext(ctx, "position closed",
		slog.Float64("profit", cd.Profit),
		slog.Float64("close_price", cd.ClosePrice),
		slog.Float64("pips", pips),
		slog.Bool("from_history", cd.FromHistory),
	)

	if r.deps.Telegram != nil {
		if err := r.deps.Telegram.PublishClose(ctx, positionID, sig, cd, pips); err != nil {
			log.WarnContext(ctx, "telegram close notification failed", slog.String("error", err.Error()))
		}
	}

	r.archive(ctx, positionID, sig, cd)

	signalID := ""
	if sig != nil {
		signalID = sig.ID
		var closePrice *float64
		if cd.ClosePrice > 0 {
			closePrice = domain.FloatPtr(cd.ClosePrice)
		}
		if err := r.deps.Signals.UpdateStatus(ctx, sig.ID, domain.SignalStatusClosed, domain.FloatPtr(pips), closePrice); err != nil {
			log.ErrorContext(ctx, "close signal", slog.String("signal_id", sig.ID), slog.String("error", err.Error()))
		}
		if err := r.deps.Mappings.MarkClosed(ctx, positionID, cd.CloseTime); err != nil {
			log.WarnContext(ctx, "mark mapping closed", slog.String("error", err.Error()))
		}
	}

	e := r.entry(domain.LogPositionClosed, "position closed", positionID, signalID)
	e.Details = map[string]any{
		"profit":       cd.Profit,
		"close_price":  cd.ClosePrice,
		"pips":         pips,
		"from_history": cd.FromHistory,
	}
	r.deps.Logs.Append(ctx, e)
	r.publish(ctx, positionEvent{Type: "closed", PositionID: positionID, SignalID: signalID, Symbol: cd.Symbol, Direction: cd.Type, Price: cd.ClosePrice, Profit: cd.Profit, Pips: pips})
	return nil
}

// errNoCloseDeal marks a history response that does not yet contain the
// closing deal.
var errNoCloseDeal = errors.New("close deal not in history yet")

// closeData prefers the broker's closing deal and falls back to the last
// live snapshot when history is unavailable.
func (r *Router) closeData(ctx context.Context, positionID string, last domain.PositionState) domain.CloseData {
	cd := domain.CloseData{
		PositionID: positionID,
		Symbol:     last.Symbol,
		Type:       last.Type,
		Volume:     last.Volume,
		OpenPrice:  last.OpenPrice,
		ClosePrice: last.CurrentPrice,
		StopLoss:   last.StopLoss,
		TakeProfit: last.TakeProfit,
		Profit:     last.Profit,
		OpenTime:   last.OpenTime,
		CloseTime:  r.now(),
	}
	if r.deps.Deals == nil || r.cfg.HistoryRetries <= 0 {
		return cd
	}

	deals, err := backoff.Retry(ctx, func() ([]domain.Deal, error) {
		deals, err := r.deps.Deals.DealsByPosition(ctx, positionID)
		if err != nil {
			return nil, err
		}
		for _, d := range deals {
			if d.IsClose() {
				return deals, nil
			}
		}
		return nil, errNoCloseDeal
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(r.cfg.HistoryRetryDelay)),
		backoff.WithMaxTries(uint(r.cfg.HistoryRetries)),
	)
	if err != nil {
		r.logger.WarnContext(ctx, "close deal unavailable; using last snapshot",
			slog.String("position_id", positionID),
			slog.Int("attempts", r.cfg.HistoryRetries),
			slog.String("error", err.Error()),
		)
		return cd
	}

	var profit, commission, swap float64
	for _, d := range deals {
		commission += d.Commission
		swap += d.Swap
		if d.IsClose() {
			profit += d.Profit
			cd.ClosePrice = d.Price
			if !d.Time.IsZero() {
				cd.CloseTime = d.Time
			}
		}
	}
	cd.Profit = profit
	cd.Commission = commission
	cd.Swap = swap
	cd.FromHistory = true
	return cd
}

// lookupSignal returns the signal created for a position, or nil. Missing
// links are integrity failures: they are logged but never abort the close.
func (r *Router) lookupSignal(ctx context.Context, positionID string) *domain.Signal {
	m, err := r.deps.Mappings.Get(ctx, positionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "closed position has no signal mapping", slog.String("position_id", positionID))
		} else {
			r.logger.ErrorContext(ctx, "load signal mapping", slog.String("position_id", positionID), slog.String("error", err.Error()))
		}
		return nil
	}
	if !m.Resolved() {
		r.logger.ErrorContext(ctx, "closed position has unresolved signal mapping",
			slog.String("position_id", positionID),
			slog.String("status", string(m.Status)),
		)
		return nil
	}
	sig, err := r.deps.Signals.GetByID(ctx, m.SignalID)
	if err != nil {
		r.logger.ErrorContext(ctx, "signal referenced by mapping is missing",
			slog.String("position_id", positionID),
			slog.String("signal_id", m.SignalID),
			slog.String("error", err.Error()),
		)
		r.raise(ctx, fmt.Sprintf("position %s: mapped signal %s not found: %v", positionID, m.SignalID, err))
		return nil
	}
	return &sig
}

// archive writes the trade history record under the archive lock. A lock
// held by another worker means the trade is being or has been archived.
func (r *Router) archive(ctx context.Context, positionID string, sig *domain.Signal, cd domain.CloseData) {
	if r.deps.Archiver == nil || r.deps.ArchiveLocks == nil {
		return
	}
	lock, err := r.deps.ArchiveLocks.Acquire(ctx, positionID, r.holder)
	if err != nil {
		r.logger.ErrorContext(ctx, "acquire archive lock", slog.String("position_id", positionID), slog.String("error", err.Error()))
		return
	}
	if !lock.Acquired {
		r.logger.DebugContext(ctx, "archive lock held elsewhere; skipping",
			slog.String("position_id", positionID),
			slog.String("holder", lock.Existing.Holder),
		)
		return
	}

	if sig == nil {
		r.logger.ErrorContext(ctx, "cannot archive position without a signal", slog.String("position_id", positionID))
		r.releaseArchive(ctx, positionID)
		return
	}

	trade := domain.ClosedTrade{
		PositionID: positionID,
		AccountID:  r.accountID(),
		Signal:     *sig,
		Close:      cd,
	}
	if err := r.deps.Archiver.ArchiveClosedTrade(ctx, trade); err != nil {
		r.logger.ErrorContext(ctx, "archive closed trade", slog.String("position_id", positionID), slog.String("error", err.Error()))
		r.releaseArchive(ctx, positionID)
		return
	}
	r.deps.Logs.Append(ctx, r.entry(domain.LogTradeArchived, "closed trade archived", positionID, sig.ID))
}

func (r *Router) releaseArchive(ctx context.Context, positionID string) {
	if err := r.deps.ArchiveLocks.Release(ctx, positionID, r.holder); err != nil {
		r.logger.WarnContext(ctx, "release archive lock", slog.String("position_id", positionID), slog.String("error", err.Error()))
	}
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func (r *Router) entry(typ domain.StreamingLogType, msg, positionID, signalID string) domain.StreamingLog {
	return domain.StreamingLog{
		Type:       typ,
		Message:    msg,
		Success:    true,
		PositionID: positionID,
		SignalID:   signalID,
		AccountID:  r.accountID(),
	}
}

func (r *Router) raise(ctx context.Context, msg string) {
	if r.deps.Alerts == nil {
		return
	}
	if err := r.deps.Alerts.Notify(ctx, alertIntegrityError, "Streaming integrity error", msg); err != nil {
		r.logger.WarnContext(ctx, "integrity alert failed", slog.String("error", err.Error()))
	}
}

// positionEvent is the payload published on the event bus.
type positionEvent struct {
	Type       string              `json:"type"`
	AccountID  string              `json:"account_id"`
	PositionID string              `json:"position_id"`
	SignalID   string              `json:"signal_id,omitempty"`
	Symbol     string              `json:"symbol"`
	Direction  domain.PositionType `json:"direction"`
	Price      float64             `json:"price,omitempty"`
	Profit     float64             `json:"profit,omitempty"`
	Pips       float64             `json:"pips,omitempty"`
	Changes    []string            `json:"changes,omitempty"`
	At         time.Time           `json:"at"`
}

func (r *Router) publish(ctx context.Context, ev positionEvent) {
	if r.deps.Events == nil {
		return
	}
	ev.AccountID = r.accountID()
	ev.At = r.now()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.deps.Events.Publish(ctx, PositionsChannel, payload); err != nil {
		r.logger.DebugContext(ctx, "publish position event", slog.String("error", err.Error()))
	}
	if err := r.deps.Events.StreamAppend(ctx, PositionsStream, payload); err != nil {
		r.logger.DebugContext(ctx, "append position event", slog.String("error", err.Error()))
	}
}
