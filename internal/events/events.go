// Package events defines the notifications the engine emits after a
// transaction commits, and the publishers that deliver them. Delivery is
// fire-and-forget: a failed publish is logged and never rolls anything back.
package events

import (
	"context"

	"github.com/xtrntr/matchbook/internal/models"
	"github.com/xtrntr/matchbook/internal/money"
)

const (
	OrderPlacedName  = "order.placed"
	OrderMatchedName = "order.matched"
)

// Event is a named payload ready for any outbound channel
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data"`
}

// Publisher delivers committed events to an outbound channel
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// OrderPlacedPayload is broadcast on the shared feed when an order opens
type OrderPlacedPayload struct {
	Order *models.Order `json:"order"`
}

// OrderPlaced builds the event emitted after a placement commits.
func OrderPlaced(order *models.Order) Event {
	return Event{Name: OrderPlacedName, Payload: OrderPlacedPayload{Order: order}}
}

// OrderRef identifies one side of a settlement
type OrderRef struct {
	ID     int64              `json:"id"`
	UserID int64              `json:"user_id"`
	Status models.OrderStatus `json:"status"`
}

// OrderMatchedPayload carries the full settlement result
type OrderMatchedPayload struct {
	Symbol    string        `json:"symbol"`
	Price     money.Price   `json:"price"`
	Amount    money.Amount  `json:"amount"`
	Fee       money.Balance `json:"fee"`
	BuyOrder  OrderRef      `json:"buy_order"`
	SellOrder OrderRef      `json:"sell_order"`
}

// OrderMatched builds the event emitted after a settlement commits.
func OrderMatched(buy, sell *models.Order, price money.Price, amount money.Amount, fee money.Balance) Event {
	return Event{Name: OrderMatchedName, Payload: OrderMatchedPayload{
		Symbol:    sell.Symbol,
		Price:     price,
		Amount:    amount,
		Fee:       fee,
		BuyOrder:  OrderRef{ID: buy.ID, UserID: buy.UserID, Status: buy.Status},
		SellOrder: OrderRef{ID: sell.ID, UserID: sell.UserID, Status: sell.Status},
	}}
}

// Fanout publishes every event to each wrapped publisher in order
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) {
	for _, p := range f {
		p.Publish(ctx, evt)
	}
}
