package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/platform/terminal"
)

// maxPollFailures is the number of consecutive failed polls after which the
// polling stream reports a disconnect.
const maxPollFailures = 3

// positionFetcher is the slice of Gateway the polling stream needs.
type positionFetcher interface {
	GetPositions(ctx context.Context, acct terminal.AccountInfo) ([]domain.Position, error)
}

// pollingStream implements terminal.Stream over the REST positions endpoint.
// The first successful poll is the initial synchronization; later polls are
// diffed against the previous snapshot.
type pollingStream struct {
	api      positionFetcher
	acct     terminal.AccountInfo
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	listeners []terminal.Listener
	snapshot  map[string]domain.Position
	connected bool
	closed    bool
	cancel    context.CancelFunc

	syncedCh chan struct{}
	lostCh   chan struct{}
	lostOnce sync.Once
	done     chan struct{}
}

func newPollingStream(api positionFetcher, acct terminal.AccountInfo, interval time.Duration, logger *slog.Logger) *pollingStream {
	return &pollingStream{
		api:      api,
		acct:     acct,
		interval: interval,
		logger:   logger.With(slog.String("component", "poller")),
		snapshot: make(map[string]domain.Position),
		syncedCh: make(chan struct{}),
		lostCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (p *pollingStream) AddListener(l terminal.Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Connect starts the poll loop. The loop outlives ctx's cancellation and
// runs until Close or too many failed polls.
func (p *pollingStream) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("poller: connect: %w", domain.ErrSessionStopped)
	}
	if p.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	go p.run(loopCtx)
	return nil
}

func (p *pollingStream) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := p.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			p.logger.WarnContext(ctx, "poll failed",
				slog.Int("consecutive_failures", failures),
				slog.String("error", err.Error()),
			)
			if failures >= maxPollFailures {
				p.markLost(ctx)
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *pollingStream) poll(ctx context.Context) error {
	positions, err := p.api.GetPositions(ctx, p.acct)
	if err != nil {
		return err
	}

	p.mu.Lock()
	first := !p.connected
	var changed []domain.Position
	current := make(map[string]domain.Position, len(positions))
	for _, pos := range positions {
		current[pos.ID] = pos
		if prev, ok := p.snapshot[pos.ID]; !ok || positionChanged(prev, pos) {
			changed = append(changed, pos)
		}
	}
	var removed []string
	for id := range p.snapshot {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	p.snapshot = current
	p.connected = true
	listeners := append([]terminal.Listener(nil), p.listeners...)
	p.mu.Unlock()

	if first {
		close(p.syncedCh)
		for _, l := range listeners {
			l.OnConnected(ctx)
			l.OnSynchronized(ctx)
		}
		return nil
	}
	if len(changed) == 0 && len(removed) == 0 {
		return nil
	}
	for _, l := range listeners {
		l.OnPositionsUpdated(ctx, changed, removed)
	}
	return nil
}

func positionChanged(a, b domain.Position) bool {
	return !domain.FloatEqual(a.StopLoss, b.StopLoss) ||
		!domain.FloatEqual(a.TakeProfit, b.TakeProfit) ||
		a.Profit != b.Profit ||
		a.CurrentPrice != b.CurrentPrice ||
		a.Volume != b.Volume
}

func (p *pollingStream) markLost(ctx context.Context) {
	p.lostOnce.Do(func() {
		p.mu.Lock()
		p.connected = false
		listeners := append([]terminal.Listener(nil), p.listeners...)
		p.mu.Unlock()
		close(p.lostCh)
		for _, l := range listeners {
			l.OnDisconnected(ctx)
		}
	})
}

func (p *pollingStream) WaitSynchronized(ctx context.Context) error {
	select {
	case <-p.syncedCh:
		return nil
	case <-p.lostCh:
		return fmt.Errorf("poller: %w", domain.ErrWSDisconnect)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("poller: %w", domain.ErrSyncTimeout)
		}
		return ctx.Err()
	}
}

func (p *pollingStream) Positions() []domain.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Position, 0, len(p.snapshot))
	for _, pos := range p.snapshot {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *pollingStream) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.connected
}

func (p *pollingStream) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-p.done
	}
	return nil
}

var _ terminal.Stream = (*pollingStream)(nil)
