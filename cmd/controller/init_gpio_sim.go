//go:build !edge

package main

import (
	"log/slog"

	"doorman/internal/adapter/gpio"
)

// edgeBuild is false in simulation builds; no hardware is touched.
const edgeBuild = false

// newGPIOBackend returns the in-memory simulated chip, for development
// machines and CI where there are no GPIO lines to claim.
func newGPIOBackend(log *slog.Logger) (gpio.Backend, error) {
	log.Warn("gpio backend is simulated, no hardware will be driven (build with -tags edge for periph.io)")
	return gpio.NewSim(), nil
}
