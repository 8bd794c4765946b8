package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/aetherbot/gotrader/internal/common"
	"github.com/aetherbot/gotrader/internal/domain"
)

// ErrInsufficientFunds is returned when a placement would reserve or spend
// more than the available balance of the funding asset.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// ErrOrderNotFound is returned when cancelling an id with no pending order.
var ErrOrderNotFound = errors.New("wallet: no order with that id")

// ErrInvalidPrice is returned when the price source yields a price no order
// can execute at.
var ErrInvalidPrice = errors.New("wallet: non-positive market price")

// PriceSource returns the current market price used for instant execution
// and limit matching.
type PriceSource func(ctx context.Context) (decimal.Decimal, error)

// Simulated is an in-memory ledger plus pending-order book that satisfies
// the same order-backend contract a live exchange connection does, letting
// the trading logic run without risking funds.
//
// Limit placement reserves the funding asset by reducing its available
// amount only; balances move when the order later matches against the live
// price or an instant order executes.
type Simulated struct {
	mu     sync.Mutex
	base   domain.AssetBalance
	quote  domain.AssetBalance
	orders []*domain.Order
	nextID int64

	price PriceSource
	log   *logrus.Entry

	placed    int
	executed  int
	cancelled int

	loopOnce   sync.Once
	loopCancel context.CancelFunc
	done       chan struct{}
}

// NewSimulated creates a wallet seeded with the given base and quote
// holdings, all of it available.
func NewSimulated(base, quote decimal.Decimal, price PriceSource) *Simulated {
	return &Simulated{
		base:  domain.AssetBalance{Available: base, Balance: base},
		quote: domain.AssetBalance{Available: quote, Balance: quote},
		price: price,
		log:   logrus.WithField("component", "sim_wallet"),
		done:  make(chan struct{}),
	}
}

// PlaceLimitOrder records a pending order and reserves the funding asset:
// the base amount for sells, amount*price of quote for buys. Balances are
// untouched until the order matches.
func (s *Simulated) PlaceLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch side {
	case domain.SideSell:
		if amount.GreaterThan(s.base.Available) {
			return nil, ErrInsufficientFunds
		}
		s.base.Available = s.base.Available.Sub(amount)
	case domain.SideBuy:
		cost := amount.Mul(price)
		if cost.GreaterThan(s.quote.Available) {
			return nil, ErrInsufficientFunds
		}
		s.quote.Available = s.quote.Available.Sub(cost)
	default:
		return nil, errors.Errorf("wallet: unknown side %q", side)
	}

	order := &domain.Order{
		ID:         s.nextID,
		Side:       side,
		Amount:     amount,
		LimitPrice: price,
		Status:     domain.OrderStatusOpen,
		CreatedAt:  time.Now(),
	}
	s.nextID++
	s.orders = append(s.orders, order)
	s.placed++
	return order, nil
}

// CancelOrder removes a pending order and restores the exact reserved amount
// to the funding asset's available balance.
func (s *Simulated) CancelOrder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.orders {
		if o.ID != id {
			continue
		}
		switch o.Side {
		case domain.SideSell:
			s.base.Available = s.base.Available.Add(o.Amount)
		case domain.SideBuy:
			s.quote.Available = s.quote.Available.Add(o.Amount.Mul(o.LimitPrice))
		}
		o.Status = domain.OrderStatusCanceled
		s.orders = append(s.orders[:i], s.orders[i+1:]...)
		s.cancelled++
		return nil
	}
	return ErrOrderNotFound
}

// PlaceInstantOrder executes immediately at the current market price,
// mutating available and balance for both assets in one step. amount is in
// the base asset for sells and in the quote asset for buys.
func (s *Simulated) PlaceInstantOrder(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Order, error) {
	price, err := s.price(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "instant order price")
	}
	if price.Sign() <= 0 {
		// The buy branch divides by the price; a zero quote must come
		// back as a failure, not a panic.
		return nil, ErrInvalidPrice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch side {
	case domain.SideSell:
		if amount.GreaterThan(s.base.Available) {
			return nil, ErrInsufficientFunds
		}
		proceeds := amount.Mul(price)
		s.base.Available = s.base.Available.Sub(amount)
		s.base.Balance = s.base.Balance.Sub(amount)
		s.quote.Available = s.quote.Available.Add(proceeds)
		s.quote.Balance = s.quote.Balance.Add(proceeds)
	case domain.SideBuy:
		if amount.GreaterThan(s.quote.Available) {
			return nil, ErrInsufficientFunds
		}
		bought := amount.DivRound(price, 8)
		s.quote.Available = s.quote.Available.Sub(amount)
		s.quote.Balance = s.quote.Balance.Sub(amount)
		s.base.Available = s.base.Available.Add(bought)
		s.base.Balance = s.base.Balance.Add(bought)
	default:
		return nil, errors.Errorf("wallet: unknown side %q", side)
	}

	order := &domain.Order{
		ID:         s.nextID,
		Side:       side,
		Amount:     amount,
		LimitPrice: price,
		Status:     domain.OrderStatusExecuted,
		CreatedAt:  time.Now(),
	}
	s.nextID++
	s.placed++
	s.executed++
	return order, nil
}

// GetOpenOrders returns a snapshot of the pending book.
func (s *Simulated) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

// GetBalance returns a snapshot of the ledger.
func (s *Simulated) GetBalance(ctx context.Context) (domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Balance{Base: s.base, Quote: s.quote}, nil
}

// Match executes every pending limit order the given price crosses: buys
// fill when price <= limit, sells when price >= limit. Filled orders move
// balances (the reserved side's available was already debited at placement;
// the proceeds credit both fields) and leave the book.
func (s *Simulated) Match(price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.orders[:0]
	for _, o := range s.orders {
		filled := false
		switch o.Side {
		case domain.SideBuy:
			if price.LessThanOrEqual(o.LimitPrice) {
				cost := o.Amount.Mul(o.LimitPrice)
				s.quote.Balance = s.quote.Balance.Sub(cost)
				s.base.Balance = s.base.Balance.Add(o.Amount)
				s.base.Available = s.base.Available.Add(o.Amount)
				filled = true
			}
		case domain.SideSell:
			if price.GreaterThanOrEqual(o.LimitPrice) {
				proceeds := o.Amount.Mul(o.LimitPrice)
				s.base.Balance = s.base.Balance.Sub(o.Amount)
				s.quote.Balance = s.quote.Balance.Add(proceeds)
				s.quote.Available = s.quote.Available.Add(proceeds)
				filled = true
			}
		}
		if filled {
			o.Status = domain.OrderStatusExecuted
			s.executed++
			s.log.Infof("order %d executed at %s", o.ID, o.LimitPrice)
		} else {
			remaining = append(remaining, o)
		}
	}
	s.orders = remaining
}

// StartMatching runs the matching tick on its own cooperative schedule until
// Stop or context cancellation. Ticks never overlap.
func (s *Simulated) StartMatching(ctx context.Context, interval time.Duration) {
	common.StartLoopOnce(ctx, &s.loopOnce, func(c context.CancelFunc) {
		s.loopCancel = c
	}, interval, func(loopCtx context.Context, tickC <-chan time.Time) {
		defer close(s.done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-tickC:
				price, err := s.price(loopCtx)
				if err != nil {
					s.log.Warnf("matching tick: %v", err)
					continue
				}
				s.Match(price)
				s.log.Debugf("session %s", s)
			}
		}
	})
}

// Stop halts the matching loop and waits for an in-flight tick to finish.
// No tick starts after Stop returns.
func (s *Simulated) Stop() {
	if s.loopCancel != nil {
		s.loopCancel()
		<-s.done
	}
}

// String summarizes session activity: orders placed, executed, cancelled.
func (s *Simulated) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("{P:%2d, E:%2d, C:%2d}", s.placed, s.executed, s.cancelled)
}
