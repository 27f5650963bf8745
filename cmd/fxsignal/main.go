// Command fxsignal is the entry point for the forex signal bot. It loads
// configuration, validates it, wires dependencies, sets up signal handling,
// and starts the application in the configured mode.
//
// Usage:
//
//	fxsignal [-config config.toml]
//	fxsignal encrypt-token -out token.json
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/fxsignalbot/internal/app"
	"github.com/alanyoungcy/fxsignalbot/internal/config"
	"github.com/alanyoungcy/fxsignalbot/internal/crypto"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "encrypt-token" {
		if err := encryptToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("fxsignal bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		application.Close()
		os.Exit(1)
	}

	logger.Info("fxsignal bot stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// encryptToken reads the terminal API token and a password from stdin and
// writes the encrypted token file.
func encryptToken(args []string) error {
	fs := flag.NewFlagSet("encrypt-token", flag.ContinueOnError)
	out := fs.String("out", "token.json", "path of the encrypted token file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	fmt.Fprint(os.Stderr, "API token: ")
	token, err := in.ReadString('\n')
	if err != nil && token == "" {
		return fmt.Errorf("read token: %w", err)
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := in.ReadString('\n')
	if err != nil && password == "" {
		return fmt.Errorf("read password: %w", err)
	}

	blob, err := crypto.EncryptToken(strings.TrimSpace(token), strings.TrimSpace(password))
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s\n", *out)
	return nil
}
