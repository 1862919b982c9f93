package router

import (
	"encoding/json"
	"fmt"

	"github.com/dkovar/sale-relay/internal/connection"
	"github.com/dkovar/sale-relay/internal/model"
)

// envelope is the outer wire format of every stream message.
type envelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type saleWindowMsg struct {
	StartsAt int64 `json:"starts_at"`
	EndsAt   int64 `json:"ends_at"`
}

type balanceMsg struct {
	Balance string `json:"balance"`
}

type purchaseMsg struct {
	Buyer   string `json:"buyer"`
	Amount  int64  `json:"amount"`
	Value   string `json:"value"`
	ChainID int64  `json:"chain_id"`
}

// Decode parses a raw stream message into a typed event.
func Decode(raw connection.RawMessage) (model.Event, error) {
	var env envelope
	if err := json.Unmarshal(raw.Data, &env); err != nil {
		return model.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	ev := model.Event{ReceivedAt: raw.ReceivedAt}

	switch model.EventType(env.Type) {
	case model.EventSaleWindowChanged:
		var msg saleWindowMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			return model.Event{}, fmt.Errorf("unmarshal sale window: %w", err)
		}
		ev.Type = model.EventSaleWindowChanged
		ev.Window = &model.SaleWindow{StartsAt: msg.StartsAt, EndsAt: msg.EndsAt}

	case model.EventBalanceChanged:
		var msg balanceMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			return model.Event{}, fmt.Errorf("unmarshal balance: %w", err)
		}
		ev.Type = model.EventBalanceChanged
		ev.Balance = msg.Balance

	case model.EventPurchase:
		var msg purchaseMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			return model.Event{}, fmt.Errorf("unmarshal purchase: %w", err)
		}
		ev.Type = model.EventPurchase
		ev.Purchase = &model.Purchase{
			Buyer:   msg.Buyer,
			Amount:  msg.Amount,
			Value:   msg.Value,
			ChainID: msg.ChainID,
		}

	default:
		return model.Event{}, errUnknownType
	}

	return ev, nil
}
