package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// bridgeBackend shells out to the external automation bridge that drives
// the trading terminal. The coordinate strategy clicks calibrated screen
// positions; the image strategy locates controls by template matching. Both
// share the same command contract and differ only in the --strategy flag.
type bridgeBackend struct {
	mode         string
	command      string
	confirmDelay time.Duration
	logger       zerolog.Logger
}

func newBridgeBackend(mode string, cfg *config.BackendConfig, logger zerolog.Logger) (*bridgeBackend, error) {
	if cfg.BridgeCommand == "" {
		return nil, fmt.Errorf("%w: backend mode %q requires backend.bridge_command", errs.ErrConfigInvalid, mode)
	}
	return &bridgeBackend{
		mode:         mode,
		command:      cfg.BridgeCommand,
		confirmDelay: cfg.ConfirmDelay,
		logger:       logger.With().Str("component", "backend").Str("mode", mode).Logger(),
	}, nil
}

func (b *bridgeBackend) Name() string {
	return b.mode
}

// Execute invokes the bridge synchronously. The bridge's stdout is the
// result payload (typically the terminal's order confirmation text).
func (b *bridgeBackend) Execute(ctx context.Context, order models.Order) (string, error) {
	args := []string{
		string(order.Action),
		order.Code,
		strconv.Itoa(order.Quantity),
		"--strategy", b.mode,
		"--confirm-delay", b.confirmDelay.String(),
	}
	if order.Price > 0 {
		args = append(args, "--price", strconv.FormatFloat(order.Price, 'f', 2, 64))
	}

	b.logger.Debug().
		Str("code", order.Code).
		Str("action", string(order.Action)).
		Int("quantity", order.Quantity).
		Msg("invoking automation bridge")

	cmd := exec.CommandContext(ctx, b.command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", errs.NewBackendError(b.mode, "execute", "bridge call timed out", errs.ErrBackendTimeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", errs.NewBackendError(b.mode, "execute", detail, errs.ErrBackendFailure)
	}

	return strings.TrimSpace(stdout.String()), nil
}
