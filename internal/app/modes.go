package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

const shutdownTimeout = 15 * time.Second

// StreamMode runs the streaming session and maintenance jobs without the
// operator API.
func (a *App) StreamMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting stream mode")
	return a.run(ctx, c, true, false)
}

// ServerMode runs the operator API and maintenance jobs. The session is
// started on demand through POST /api/streaming/start.
func (a *App) ServerMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.run(ctx, c, false, true)
}

// FullMode runs the streaming session, the operator API and maintenance.
func (a *App) FullMode(ctx context.Context, c *components) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.run(ctx, c, true, true)
}

func (a *App) run(ctx context.Context, c *components, stream, serve bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if c.scheduler != nil {
		c.scheduler.Start()
		g.Go(func() error {
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			c.scheduler.Stop(stopCtx)
			return nil
		})
	}

	if stream {
		g.Go(func() error {
			if a.cfg.Streaming.AutoStart {
				if err := c.session.Start(ctx); err != nil {
					if errors.Is(err, domain.ErrConfig) {
						return err
					}
					// The health tracker keeps retrying in the background.
					a.logger.WarnContext(ctx, "initial session start failed",
						slog.String("error", err.Error()),
					)
				}
			}
			<-ctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			c.session.Stop(stopCtx)
			return nil
		})
	}

	if serve && c.server != nil {
		g.Go(func() error {
			return c.server.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return c.server.Shutdown(shutCtx)
		})
	} else if serve {
		a.logger.WarnContext(ctx, "server mode selected but server.enabled is false")
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
