// Package main provides the relay binary: the WebSocket room relay for
// ElastoClash multiplayer plus its optional gRPC health endpoint.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and environment")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	app, err := initApp(cfg)
	if err != nil {
		log.Fatalf("initializing relay: %v", err)
	}
	logger := app.Logger
	defer logger.Sync()

	logger.Info("starting relay",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("ws_path", cfg.Server.WSPath),
		zap.String("default_room", cfg.Relay.DefaultRoom),
	)

	lifecycle := buildLifecycle(app)

	logger.Info("relay initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// buildLifecycle registers the relay services. They stop in reverse order:
// health goes NOT_SERVING first, then sockets close, then the event loop ends.
func buildLifecycle(app *App) *server.Lifecycle {
	lifecycle := server.NewLifecycle(app.Logger, app.Config.Server.ShutdownTimeout)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	lifecycle.Add("relay", &server.FuncService{
		StartFn: func() error { return app.Relay.Run(loopCtx) },
		StopFn:  func(context.Context) { stopLoop() },
	})

	// Health reports SERVING only once the WebSocket port is actually bound.
	app.Acceptor.OnListening(func(string) { app.Admin.SetServing(true) })
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: app.Acceptor.ListenAndServe,
		StopFn: func(ctx context.Context) {
			app.Admin.SetServing(false)
			app.Acceptor.Stop(ctx)
		},
	})

	if app.Config.Admin.Enabled() {
		lifecycle.Add("admin", &server.FuncService{
			StartFn: app.Admin.ListenAndServe,
			StopFn:  app.Admin.Stop,
		})
	}
	return lifecycle
}
