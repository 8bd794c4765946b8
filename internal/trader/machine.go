package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/aetherbot/gotrader/internal/domain"
	"github.com/aetherbot/gotrader/internal/exchange"
	"github.com/aetherbot/gotrader/internal/market"
	"github.com/aetherbot/gotrader/internal/wallet"
)

// State is the position the trader currently holds. Expected progression:
// HOLD_IN -> LONG -> HOLD_OUT -> SHORT -> repeat.
type State int

const (
	// StateUnknown marks an unclassifiable account split. It is an error
	// result only, never a valid resting state.
	StateUnknown State = iota
	// StateHoldIn: value in market, waiting for sell indications.
	StateHoldIn
	// StateLong: value in market, limit sell resting above entry.
	StateLong
	// StateHoldOut: value out of market, waiting for buy indications.
	StateHoldOut
	// StateShort: value out of market, limit buy resting below entry.
	StateShort
)

func (s State) String() string {
	switch s {
	case StateHoldIn:
		return "HOLD_IN"
	case StateLong:
		return "LONG"
	case StateHoldOut:
		return "HOLD_OUT"
	case StateShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// entrySentinel marks "no entry price recorded".
var entrySentinel = decimal.NewFromInt(-1)

// Machine converts a trend signal plus the live price into order actions
// through an OrderBackend. It owns the current position state exclusively;
// Step is only ever called from the trading tick.
type Machine struct {
	backend OrderBackend
	margin  decimal.Decimal

	state       State
	entryPrice  decimal.Decimal
	lastOrderID int64
	warning     string

	log *logrus.Entry
}

// NewMachine creates a machine starting in HOLD_IN with no recorded entry.
// margin is the fixed fractional offset used both for resting limit prices
// and stop-loss exits (e.g. 0.015).
func NewMachine(backend OrderBackend, margin decimal.Decimal) *Machine {
	return &Machine{
		backend:     backend,
		margin:      margin,
		state:       StateHoldIn,
		entryPrice:  entrySentinel,
		lastOrderID: -1,
		log:         logrus.WithField("component", "state_machine"),
	}
}

// State returns the current position state.
func (m *Machine) State() State { return m.state }

// EntryPrice returns the recorded entry price, or the negative sentinel when
// none is set.
func (m *Machine) EntryPrice() decimal.Decimal { return m.entryPrice }

// Warning returns the warning raised by the last Step, if any.
func (m *Machine) Warning() string { return m.warning }

// SetPosition forces the machine into a detected state, tracking an already
// resting order if one exists. Used at startup to resume a live position.
func (m *Machine) SetPosition(s State, orderID int64) {
	m.state = s
	m.lastOrderID = orderID
}

func (m *Machine) hasEntry() bool {
	return !m.entryPrice.IsNegative()
}

func (m *Machine) clearEntry() {
	m.entryPrice = entrySentinel
	m.lastOrderID = -1
}

// takeProfit returns entry*(1+margin).
func (m *Machine) takeProfit(entry decimal.Decimal) decimal.Decimal {
	return entry.Mul(decimal.NewFromInt(1).Add(m.margin))
}

// stopLoss returns entry*(1-margin).
func (m *Machine) stopLoss(entry decimal.Decimal) decimal.Decimal {
	return entry.Mul(decimal.NewFromInt(1).Sub(m.margin))
}

// Step advances the machine one tick given the predicted trend and the live
// price. Protocol-layer errors abort the step and leave the position state
// untouched; business-rule failures stay in the current state and raise a
// warning. Step mutates state only once the actions deciding it succeeded.
func (m *Machine) Step(ctx context.Context, trend market.Trend, price decimal.Decimal) error {
	m.warning = ""

	// On the very first step, take the current price as the position's
	// reference point.
	if !m.hasEntry() {
		m.entryPrice = price
	}

	switch m.state {
	case StateHoldIn:
		return m.stepHoldIn(ctx, trend, price)
	case StateLong:
		return m.stepLong(ctx, trend, price)
	case StateHoldOut:
		return m.stepHoldOut(ctx, trend, price)
	case StateShort:
		return m.stepShort(ctx, trend, price)
	default:
		m.warn("machine in unknown state; no action taken")
		return nil
	}
}

func (m *Machine) stepHoldIn(ctx context.Context, trend market.Trend, price decimal.Decimal) error {
	switch {
	case trend == market.TrendUp:
		// Rising trend: rest a limit sell one margin above and ride it.
		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		order, err := m.backend.PlaceLimitOrder(ctx, domain.SideSell, bal.Base.Available, m.takeProfit(price))
		if err != nil {
			if isBusinessError(err) {
				m.warn("limit sell rejected: %v", err)
				return nil
			}
			return err
		}
		m.entryPrice = price
		m.lastOrderID = order.ID
		m.state = StateLong
		m.log.Infof("LONG (limit sell placed at %s)", order.LimitPrice)

	case trend == market.TrendDown && price.LessThan(m.stopLoss(m.entryPrice)):
		// Falling trend and the price is already a margin below the
		// position: sell out at market.
		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		order, err := m.backend.PlaceInstantOrder(ctx, domain.SideSell, bal.Base.Available)
		if err != nil {
			if isBusinessError(err) {
				m.warn("instant sell rejected: %v", err)
				return nil
			}
			return err
		}
		m.state = StateHoldOut
		m.log.Infof("HOLD_OUT (instant sell placed at %s)", order.LimitPrice)
	}
	return nil
}

func (m *Machine) stepLong(ctx context.Context, trend market.Trend, price decimal.Decimal) error {
	orders, err := m.backend.GetOpenOrders(ctx)
	if err != nil {
		return err
	}

	if findOrder(orders, m.lastOrderID) == nil {
		// The resting sell is gone: it executed.
		m.state = StateHoldOut
		m.log.Info("HOLD_OUT (limit sell executed)")
		return nil
	}

	if trend == market.TrendDown || price.LessThan(m.stopLoss(m.entryPrice)) {
		// Close the position rather than ride the fall down.
		if err := m.backend.CancelOrder(ctx, m.lastOrderID); err != nil {
			if isBusinessError(err) {
				// The stuck order is never silently dropped: stay in
				// the risk-bearing state and say so.
				m.warn("unable to cancel limit sell order; market falling while in a LONG position: %v", err)
				return nil
			}
			return err
		}
		// The cancel is committed on the exchange at this point; the
		// state write records that even if the follow-up sell fails.
		m.clearEntry()
		m.state = StateHoldIn
		m.log.Info("HOLD_IN (order cancelled, LONG position closed)")

		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		if _, err := m.backend.PlaceInstantOrder(ctx, domain.SideSell, bal.Base.Available); err != nil {
			if isBusinessError(err) {
				m.warn("instant sell after cancel rejected: %v", err)
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *Machine) stepHoldOut(ctx context.Context, trend market.Trend, price decimal.Decimal) error {
	switch {
	case trend == market.TrendDown:
		// Falling trend: rest a limit buy one margin below and wait for
		// the dip.
		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		limit := m.stopLoss(price)
		amount := buyableAmount(bal.Quote.Available, limit)
		order, err := m.backend.PlaceLimitOrder(ctx, domain.SideBuy, amount, limit)
		if err != nil {
			if isBusinessError(err) {
				m.warn("limit buy rejected: %v", err)
				return nil
			}
			return err
		}
		m.entryPrice = price
		m.lastOrderID = order.ID
		m.state = StateShort
		m.log.Infof("SHORT (limit buy placed at %s)", order.LimitPrice)

	case trend == market.TrendUp && price.GreaterThan(m.takeProfit(m.entryPrice)):
		// Rising trend and the price has already run a margin above the
		// position: buy back in at market.
		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		order, err := m.backend.PlaceInstantOrder(ctx, domain.SideBuy, bal.Quote.Available)
		if err != nil {
			if isBusinessError(err) {
				m.warn("instant buy rejected: %v", err)
				return nil
			}
			return err
		}
		m.state = StateHoldIn
		m.log.Infof("HOLD_IN (instant buy placed at %s)", order.LimitPrice)
	}
	return nil
}

func (m *Machine) stepShort(ctx context.Context, trend market.Trend, price decimal.Decimal) error {
	orders, err := m.backend.GetOpenOrders(ctx)
	if err != nil {
		return err
	}

	if findOrder(orders, m.lastOrderID) == nil {
		// The resting buy is gone: it executed.
		m.state = StateHoldIn
		m.log.Info("HOLD_IN (limit buy executed)")
		return nil
	}

	if trend == market.TrendUp || price.GreaterThan(m.takeProfit(m.entryPrice)) {
		if err := m.backend.CancelOrder(ctx, m.lastOrderID); err != nil {
			if isBusinessError(err) {
				m.warn("unable to cancel limit buy order; market rising while in a SHORT position: %v", err)
				return nil
			}
			return err
		}
		// The cancel is committed on the exchange at this point; the
		// state write records that even if the follow-up buy fails.
		m.clearEntry()
		m.state = StateHoldOut
		m.log.Info("HOLD_OUT (order cancelled, SHORT position closed)")

		bal, err := m.backend.GetBalance(ctx)
		if err != nil {
			return err
		}
		if _, err := m.backend.PlaceInstantOrder(ctx, domain.SideBuy, bal.Quote.Available); err != nil {
			if isBusinessError(err) {
				m.warn("instant buy after cancel rejected: %v", err)
				return nil
			}
			return err
		}
	}
	return nil
}

func (m *Machine) warn(format string, args ...interface{}) {
	m.log.Warnf(format, args...)
	m.warning = fmt.Sprintf(format, args...)
}

// findOrder returns the open order with the given id, or nil.
func findOrder(orders []domain.Order, id int64) *domain.Order {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

// buyableAmount converts an available quote budget into a base amount at the
// given price.
func buyableAmount(quoteAvailable, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return quoteAvailable.DivRound(price, 8)
}

// isBusinessError reports whether err is a business-rule failure (rejected
// order, unknown id, insufficient funds) rather than a protocol-layer one.
func isBusinessError(err error) bool {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		return true
	}
	return errors.Is(err, wallet.ErrInsufficientFunds) ||
		errors.Is(err, wallet.ErrOrderNotFound)
}
