// Package daemon composes a long-running Pals client process with fx:
// configuration, logging, the client itself, and an event monitor that logs
// domain events as they arrive.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pals-labs/gopals"
	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/config"
	"github.com/pals-labs/gopals/gateway"
	"github.com/pals-labs/gopals/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideClient,
			NewMonitor,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("PALS_TOKEN")
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	logPath := cfg.LogPath
	if logPath == "" {
		logPath = filepath.Join(filepath.Dir(config.DefaultPath()), "palsd.log")
	}
	return logging.New(logPath, "palsd")
}

func provideClient(cfg *config.Config, logger *zap.Logger) (*gopals.Client, error) {
	intents, err := gateway.ResolveIntents(cfg.Intents)
	if err != nil {
		return nil, err
	}
	return gopals.New(gopals.Options{
		BaseURL:          cfg.BaseURL,
		GatewayURL:       cfg.GatewayURL,
		Credentials:      auth.Static{Token: cfg.Token, SessionID: cfg.SessionID},
		Intents:          intents,
		MessageCacheSize: cfg.MessageCacheSize,
		Logger:           logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, client *gopals.Client, monitor *Monitor, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			monitor.Start(context.Background())
			if err := client.Connect(ctx); err != nil {
				monitor.Stop()
				return err
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			err := client.Close()
			monitor.Stop()
			logger.Info("daemon stopped")
			return err
		},
	})
}
