// Package target defines the downstream systems that mirror sale state.
// Each target receives idempotent sync calls and returns an opaque
// confirmation receipt.
package target

import (
	"context"

	"github.com/dkovar/sale-relay/internal/model"
)

// Receipt is the opaque confirmation identifier returned by a target.
type Receipt string

// Target receives state-sync calls derived from observed events.
type Target interface {
	// Name identifies the target in logs and the journal.
	Name() string

	// SetSaleWindow mirrors the sale window.
	SetSaleWindow(ctx context.Context, w model.SaleWindow) (Receipt, error)

	// SetBalance mirrors the remaining balance.
	SetBalance(ctx context.Context, balance string) (Receipt, error)

	// RecordPurchase forwards a one-shot purchase event.
	RecordPurchase(ctx context.Context, p model.Purchase) (Receipt, error)
}
