package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ths-trader/internal/models"
)

// DryRunBackend accepts orders and reports success without acting. Used by
// --dry-run and by tests.
type DryRunBackend struct {
	confirmDelay time.Duration

	mu       sync.Mutex
	executed []models.Order
}

// NewDryRunBackend creates a dry-run backend. confirmDelay simulates the
// terminal's confirmation latency; zero means immediate.
func NewDryRunBackend(confirmDelay time.Duration) *DryRunBackend {
	return &DryRunBackend{confirmDelay: confirmDelay}
}

func (d *DryRunBackend) Name() string {
	return "dryrun"
}

// Execute records the order and reports a simulated fill.
func (d *DryRunBackend) Execute(ctx context.Context, order models.Order) (string, error) {
	if d.confirmDelay > 0 {
		select {
		case <-time.After(d.confirmDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	d.mu.Lock()
	d.executed = append(d.executed, order)
	d.mu.Unlock()

	return fmt.Sprintf("dry-run: %s %d %s @ %.2f", order.Action, order.Quantity, order.Code, order.Price), nil
}

// Executed returns a copy of the orders seen so far.
func (d *DryRunBackend) Executed() []models.Order {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Order, len(d.executed))
	copy(out, d.executed)
	return out
}
