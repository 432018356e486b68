package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the serve entrypoint used by cmd/aguardia.
// It returns an error instead of calling os.Exit so defers still run.
func Run(configPath string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
