package source

import (
	"context"
	"fmt"

	"github.com/dkovar/sale-relay/internal/model"
)

// APISaleState is the wire format of the authoritative state endpoint.
type APISaleState struct {
	SaleStartsAt int64  `json:"sale_starts_at"`
	SaleEndsAt   int64  `json:"sale_ends_at"`
	Balance      string `json:"balance"`
}

// ToModel converts the wire format to the domain type.
func (s APISaleState) ToModel() model.SaleState {
	return model.SaleState{
		Window: model.SaleWindow{
			StartsAt: s.SaleStartsAt,
			EndsAt:   s.SaleEndsAt,
		},
		Balance: s.Balance,
	}
}

// GetSaleState fetches the current authoritative sale state.
func (c *Client) GetSaleState(ctx context.Context) (model.SaleState, error) {
	var resp APISaleState
	if err := c.get(ctx, "/v1/sale/state", &resp); err != nil {
		return model.SaleState{}, fmt.Errorf("get sale state: %w", err)
	}
	return resp.ToModel(), nil
}
