package main

import (
	"go.uber.org/zap"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/admin"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/observability"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/session"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/transport/ws"
)

// App is the fully wired relay process.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	Relay    *relay.Relay
	Acceptor *ws.Acceptor
	Admin    *admin.Server
}

func provideLogger(cfg config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Logging)
}

func provideRegistry(cfg config.Config) *session.Registry {
	return session.NewRegistry(cfg.Relay.SendBuffer)
}

func provideRelay(cfg config.Config, sessions *session.Registry, rooms *room.Store, logger *zap.Logger) *relay.Relay {
	return relay.New(cfg.Relay, sessions, rooms, logger.Named("hub"))
}

func provideAcceptor(cfg config.Config, hub ws.Hub, logger *zap.Logger) *ws.Acceptor {
	return ws.NewAcceptor(cfg.Server, cfg.Relay, hub, logger.Named("ws"))
}

func provideAdmin(cfg config.Config, logger *zap.Logger) *admin.Server {
	return admin.NewServer(cfg.Admin, logger.Named("admin"))
}
