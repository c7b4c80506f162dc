// Package backend provides pluggable trade execution strategies.
//
// The trading terminal is driven by an external automation bridge (GUI
// clicks, OCR confirmation); this package models it as an opaque capability
// interface with one variant per strategy, selected by configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// Backend executes one order against the trading terminal. Execute is
// treated as atomic by the executor: it is never retried and never
// cancelled mid-flight.
type Backend interface {
	Name() string
	Execute(ctx context.Context, order models.Order) (string, error)
}

// New selects a backend implementation by configured mode.
func New(cfg *config.BackendConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Mode {
	case "coordinate":
		return newBridgeBackend("coordinate", cfg, logger)
	case "image":
		return newBridgeBackend("image", cfg, logger)
	case "dryrun":
		return NewDryRunBackend(cfg.ConfirmDelay), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend mode %q", errs.ErrConfigInvalid, cfg.Mode)
	}
}
