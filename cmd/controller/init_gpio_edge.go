//go:build edge

package main

import (
	"log/slog"

	"doorman/internal/adapter/gpio"
)

// edgeBuild is true when the binary is built with the `edge` tag and
// drives real lines through periph.io.
const edgeBuild = true

// newGPIOBackend initializes the periph.io host for real hardware lines.
func newGPIOBackend(log *slog.Logger) (gpio.Backend, error) {
	backend, err := gpio.NewPeriph()
	if err != nil {
		return nil, err
	}
	log.Info("gpio backend ready (periph.io hardware)")
	return backend, nil
}
