package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	// OrderStatusOpen means the order is resting on the book.
	OrderStatusOpen OrderStatus = "open"
	// OrderStatusExecuted means the order filled.
	OrderStatusExecuted OrderStatus = "executed"
	// OrderStatusCanceled means the order was canceled before filling.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order is a single exchange order. Amount is denominated in the base asset
// for limit orders and instant sells, and in the quote asset for instant buys
// (the exchange converts at the execution price).
type Order struct {
	ID         int64
	Side       Side
	Amount     decimal.Decimal
	LimitPrice decimal.Decimal
	Status     OrderStatus
	CreatedAt  time.Time
}

// IsOpen reports whether the order is still resting.
func (o *Order) IsOpen() bool {
	return o != nil && o.Status == OrderStatusOpen
}
