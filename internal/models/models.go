package models

import (
	"time"

	"github.com/xtrntr/matchbook/internal/money"
)

// User represents a registered user and their cash ledger
type User struct {
	ID           int64         `json:"id"`
	Username     string        `json:"username"`
	PasswordHash string        `json:"-"`
	Balance      money.Balance `json:"balance"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Asset represents a user's holding of one symbol. Amount is freely usable,
// LockedAmount is reserved by open sell orders. Both are always >= 0.
type Asset struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	Symbol       string       `json:"symbol"`
	Amount       money.Amount `json:"amount"`
	LockedAmount money.Amount `json:"locked_amount"`
}

// OrderSide is "buy" or "sell"
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether the side is one of the two known values.
func (s OrderSide) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the counter side.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the order lifecycle state. Open is the only non-terminal
// state: an order transitions exactly once to filled or cancelled.
type OrderStatus string

const (
	StatusOpen      OrderStatus = "open"
	StatusFilled    OrderStatus = "filled"
	StatusCancelled OrderStatus = "cancelled"
)

// Order represents a buy or sell order
type Order struct {
	ID        int64        `json:"id"`
	UserID    int64        `json:"user_id"`
	Symbol    string       `json:"symbol"`
	Side      OrderSide    `json:"side"`
	Price     money.Price  `json:"price"`
	Amount    money.Amount `json:"amount"`
	Status    OrderStatus  `json:"status"`
	CreatedAt time.Time    `json:"created_at"` // Used for time priority
}

// IsOpen reports whether the order can still be matched or cancelled.
func (o *Order) IsOpen() bool { return o.Status == StatusOpen }
