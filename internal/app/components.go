package app

import (
	"log/slog"

	"github.com/alanyoungcy/fxsignalbot/internal/forex"
	"github.com/alanyoungcy/fxsignalbot/internal/maintenance"
	"github.com/alanyoungcy/fxsignalbot/internal/server"
	"github.com/alanyoungcy/fxsignalbot/internal/server/handler"
	"github.com/alanyoungcy/fxsignalbot/internal/service"
	"github.com/alanyoungcy/fxsignalbot/internal/streaming"
)

// components are the long-running parts built from the dependencies.
type components struct {
	session   *streaming.Session
	archive   *service.TradeArchiveService
	scheduler *maintenance.Scheduler // nil when maintenance is disabled
	server    *server.Server         // nil when the HTTP server is disabled
}

func (a *App) build(deps *Dependencies) (*components, error) {
	cfg := a.cfg
	sc := cfg.Streaming
	c := &components{}

	var blobs service.TradeBlobArchiver
	if deps.Archiver != nil {
		blobs = deps.Archiver
	}
	c.archive = service.NewTradeArchiveService(deps.TradeHistory, blobs, deps.Events, a.logger)

	sessionDeps := streaming.SessionDeps{
		Gateway:      deps.Terminal,
		Status:       deps.Status,
		LogStore:     deps.StreamingLogs,
		Signals:      deps.Signals,
		Mappings:     deps.Mappings,
		ArchiveLocks: deps.ArchiveLocks,
		Events:       deps.Events,
		Alerts:       deps.Notifier,
	}
	if sc.ArchiveEnabled {
		sessionDeps.Archiver = c.archive
	}
	if sc.TelegramEnabled && deps.Bot != nil && cfg.Telegram.ChatID != "" {
		sessionDeps.Telegram = service.NewSignalChannelService(deps.Bot, deps.TelegramMappings, service.SignalChannelConfig{
			ChatID:     cfg.Telegram.ChatID,
			UpdateMode: cfg.Telegram.UpdateMode,
			Celebrate:  cfg.Telegram.Celebrate,
			WinGIF:     cfg.Telegram.WinGIF,
			LossGIF:    cfg.Telegram.LossGIF,
		}, a.logger)
	} else if sc.TelegramEnabled {
		a.logger.Warn("telegram channel disabled: telegram.token or telegram.chat_id missing")
	}

	session, err := streaming.NewSession(streaming.SessionConfig{
		AccountID:        cfg.Terminal.AccountID,
		Token:            deps.Token,
		Transport:        sc.Transport,
		ConnectTimeout:   cfg.Terminal.ConnectTimeout.Duration,
		DeployTimeout:    cfg.Terminal.DeployTimeout.Duration,
		SyncTimeout:      sc.SyncTimeout.Duration,
		PollInterval:     sc.PollInterval.Duration,
		LogCleanupChance: sc.LogCleanupChance,
		Health: streaming.HealthConfig{
			BaseDelay:        sc.ReconnectBase.Duration,
			MaxDelay:         sc.ReconnectMax.Duration,
			MaxJitter:        sc.ReconnectJitter.Duration,
			CircuitThreshold: sc.CircuitThreshold,
			StaleAfter:       sc.StaleEventAfter.Duration,
		},
		Router: streaming.RouterConfig{
			SignalsEnabled: sc.SignalsEnabled,
			Levels: forex.LevelPolicy{
				Enabled:      sc.SynthesizeSLTP,
				StopLossPips: sc.DefaultSLPips,
				RewardRatio:  sc.RewardRatio,
			},
			HistoryRetries:      sc.HistoryRetries,
			HistoryRetryDelay:   sc.HistoryRetryDelay.Duration,
			PendingRecheckDelay: sc.PendingRecheckDelay.Duration,
		},
	}, sessionDeps, a.logger)
	if err != nil {
		return nil, err
	}
	c.session = session

	if cfg.Maintenance.Enabled {
		c.scheduler = maintenance.NewScheduler(deps.LockManager, a.logger)
		jobs := maintenance.Jobs{
			ArchiveLocks:   deps.ArchiveLocks,
			Mappings:       deps.Mappings,
			Logs:           deps.StreamingLogs,
			ArchiveLockTTL: cfg.Maintenance.ArchiveLockTTL.Duration,
			MappingLockTTL: cfg.Maintenance.MappingLockTTL.Duration,
			Logger:         a.logger.With(slog.String("component", "maintenance")),
		}
		if deps.Archiver != nil {
			jobs.Exporter = deps.Archiver
		}
		err := maintenance.Register(c.scheduler, maintenance.Schedules{
			ArchiveLockSweep: cfg.Maintenance.ArchiveLockSweep,
			MappingSweep:     cfg.Maintenance.MappingSweep,
			LogTrim:          cfg.Maintenance.LogTrim,
			LogExport:        cfg.Maintenance.LogExport,
		}, jobs)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Server.Enabled {
		c.server = server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			Limiter:     deps.RateLimiter,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(),
			Status:    handler.NewStatusHandler(cfg.Mode, session, deps.Status, a.logger),
			Streaming: handler.NewStreamingHandler(session, deps.StreamingLogs, a.logger),
			Trades:    handler.NewTradeHandler(c.archive, a.logger),
		}, a.logger)
	}
	return c, nil
}
