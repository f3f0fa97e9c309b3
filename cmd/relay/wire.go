//go:build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/relay/room"
	"github.com/AiWizardDK/elastoclash-mp-server/internal/transport/ws"
)

func initApp(cfg config.Config) (*App, error) {
	wire.Build(
		provideLogger,
		provideRegistry,
		room.NewStore,
		provideRelay,
		wire.Bind(new(ws.Hub), new(*relay.Relay)),
		provideAcceptor,
		provideAdmin,
		wire.Struct(new(App), "*"),
	)
	return nil, nil
}
