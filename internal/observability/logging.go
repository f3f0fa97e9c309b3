// Package observability provides structured logging for the relay.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/AiWizardDK/elastoclash-mp-server/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Named("relay"), nil
}

// Field keys shared by every relay component so log queries line up.
const (
	KeySession    = "session"
	KeyRoom       = "room"
	KeyType       = "type"
	KeyMembers    = "members"
	KeyRemoteAddr = "remote_addr"
)

// Session tags a log entry with a session identifier.
func Session(id string) zap.Field { return zap.String(KeySession, id) }

// Room tags a log entry with a room identifier.
func Room(id string) zap.Field { return zap.String(KeyRoom, id) }

// MessageType tags a log entry with a protocol message type.
func MessageType(t string) zap.Field { return zap.String(KeyType, t) }

// Members tags a log entry with a room's member count.
func Members(n int) zap.Field { return zap.Int(KeyMembers, n) }

// RemoteAddr tags a log entry with the peer network address.
func RemoteAddr(addr string) zap.Field { return zap.String(KeyRemoteAddr, addr) }
