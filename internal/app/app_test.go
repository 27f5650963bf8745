package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/config"
	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func memoryConfig(accountID string) *config.Config {
	cfg := config.Defaults()
	cfg.Storage.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.S3.Enabled = false
	cfg.Terminal.AccountID = accountID
	cfg.Terminal.Token = "token"
	cfg.Terminal.StorageDir = ""
	return &cfg
}

func TestWireAndBuildInMemory(t *testing.T) {
	cfg := memoryConfig("acct-wire")
	cfg.Telegram.Token = "bot-token"
	cfg.Telegram.ChatID = "-100"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(cfg, logger)

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "token", deps.Token)
	assert.NotNil(t, deps.Bot)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)

	c, err := a.build(deps)
	require.NoError(t, err)
	defer c.session.Close(context.Background())

	assert.NotNil(t, c.scheduler)
	assert.NotNil(t, c.server)
	assert.Equal(t, domain.SessionUninitialized, c.session.Phase())
}

func TestBuildWithoutServerOrMaintenance(t *testing.T) {
	cfg := memoryConfig("acct-bare")
	cfg.Server.Enabled = false
	cfg.Maintenance.Enabled = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	c, err := New(cfg, logger).build(deps)
	require.NoError(t, err)
	defer c.session.Close(context.Background())

	assert.Nil(t, c.scheduler)
	assert.Nil(t, c.server)
}

func TestMissingTokenIsNotFatalAtWire(t *testing.T) {
	cfg := memoryConfig("acct-notoken")
	cfg.Terminal.Token = ""
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer cleanup()
	assert.Empty(t, deps.Token)
}
