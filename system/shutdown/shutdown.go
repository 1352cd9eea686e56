package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/bms-acquisition/internal/env"
	"github.com/thatsimonsguy/bms-acquisition/internal/gpio"
)

var exit = os.Exit

// Context is cancelled on SIGINT or SIGTERM.
func Context(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown leaves the heartbeat pin at its inactive level.
func Shutdown() {
	if env.Cfg.SafeMode {
		return
	}
	if err := gpio.Deactivate(env.Cfg.Heartbeat); err != nil {
		log.Warn().Err(err).Int("pin", env.Cfg.Heartbeat.Number).Msg("Failed to release heartbeat pin")
		return
	}
	log.Info().Int("pin", env.Cfg.Heartbeat.Number).Msg("Heartbeat pin released")
}

func ShutdownWithError(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown()
	exit(1)
}
