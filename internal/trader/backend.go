package trader

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/aetherbot/gotrader/internal/domain"
	"github.com/aetherbot/gotrader/internal/exchange"
)

// OrderBackend is the order-side contract the state machine drives. Both the
// live exchange connection and the simulated wallet satisfy it, keeping the
// trading logic backend-agnostic.
type OrderBackend interface {
	// PlaceLimitOrder places a resting order; amount is in the base asset.
	PlaceLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal) (*domain.Order, error)
	// PlaceInstantOrder executes at market immediately; amount is in the
	// base asset for sells and the quote asset for buys.
	PlaceInstantOrder(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Order, error)
	CancelOrder(ctx context.Context, id int64) error
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)
	GetBalance(ctx context.Context) (domain.Balance, error)
}

// LiveBackend adapts the signed exchange client to the OrderBackend contract
// for a fixed pair.
type LiveBackend struct {
	client *exchange.Client
	pair   domain.Pair
}

// NewLiveBackend wraps client for trading on pair.
func NewLiveBackend(client *exchange.Client, pair domain.Pair) *LiveBackend {
	return &LiveBackend{client: client, pair: pair}
}

func (b *LiveBackend) PlaceLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal) (*domain.Order, error) {
	return b.client.PlaceLimitOrder(ctx, b.pair, side, amount, price)
}

func (b *LiveBackend) PlaceInstantOrder(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Order, error) {
	return b.client.PlaceInstantOrder(ctx, b.pair, side, amount)
}

func (b *LiveBackend) CancelOrder(ctx context.Context, id int64) error {
	return b.client.CancelOrder(ctx, id)
}

func (b *LiveBackend) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return b.client.GetOpenOrders(ctx)
}

func (b *LiveBackend) GetBalance(ctx context.Context) (domain.Balance, error) {
	return b.client.GetBalance(ctx, b.pair)
}
