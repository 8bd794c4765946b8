package trader

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/aetherbot/gotrader/internal/domain"
	"github.com/aetherbot/gotrader/internal/exchange"
	"github.com/aetherbot/gotrader/internal/market"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// fakeBackend records every order action and lets tests inject failures per
// method.
type fakeBackend struct {
	balance domain.Balance
	open    []domain.Order
	nextID  int64

	limitCalls   []domain.Order
	instantCalls []domain.Order
	cancelCalls  []int64

	placeLimitErr   error
	placeInstantErr error
	cancelErr       error
	openOrdersErr   error
	balanceErr      error
}

func newFakeBackend(base, quote string) *fakeBackend {
	return &fakeBackend{
		balance: domain.Balance{
			Base:  domain.AssetBalance{Available: dec(base), Balance: dec(base)},
			Quote: domain.AssetBalance{Available: dec(quote), Balance: dec(quote)},
		},
		nextID: 100,
	}
}

func (f *fakeBackend) PlaceLimitOrder(ctx context.Context, side domain.Side, amount, price decimal.Decimal) (*domain.Order, error) {
	if f.placeLimitErr != nil {
		return nil, f.placeLimitErr
	}
	o := domain.Order{ID: f.nextID, Side: side, Amount: amount, LimitPrice: price, Status: domain.OrderStatusOpen}
	f.nextID++
	f.limitCalls = append(f.limitCalls, o)
	f.open = append(f.open, o)
	return &o, nil
}

func (f *fakeBackend) PlaceInstantOrder(ctx context.Context, side domain.Side, amount decimal.Decimal) (*domain.Order, error) {
	if f.placeInstantErr != nil {
		return nil, f.placeInstantErr
	}
	o := domain.Order{ID: f.nextID, Side: side, Amount: amount, Status: domain.OrderStatusExecuted}
	f.nextID++
	f.instantCalls = append(f.instantCalls, o)
	return &o, nil
}

func (f *fakeBackend) CancelOrder(ctx context.Context, id int64) error {
	f.cancelCalls = append(f.cancelCalls, id)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	for i := range f.open {
		if f.open[i].ID == id {
			f.open = append(f.open[:i], f.open[i+1:]...)
			return nil
		}
	}
	return &exchange.APIError{Reason: "order not found"}
}

func (f *fakeBackend) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	if f.openOrdersErr != nil {
		return nil, f.openOrdersErr
	}
	out := make([]domain.Order, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeBackend) GetBalance(ctx context.Context) (domain.Balance, error) {
	if f.balanceErr != nil {
		return domain.Balance{}, f.balanceErr
	}
	return f.balance, nil
}

func TestHoldInUpTrendOpensLong(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateLong {
		t.Fatalf("state = %v, want LONG", m.State())
	}
	if len(fb.limitCalls) != 1 {
		t.Fatalf("limit calls = %d, want 1", len(fb.limitCalls))
	}
	placed := fb.limitCalls[0]
	if placed.Side != domain.SideSell {
		t.Fatalf("side = %v, want sell", placed.Side)
	}
	if !placed.Amount.Equal(dec("0.05")) {
		t.Fatalf("amount = %s, want whole available base", placed.Amount)
	}
	if !placed.LimitPrice.Equal(dec("30450")) {
		t.Fatalf("limit = %s, want 30000*1.015", placed.LimitPrice)
	}
	if !m.EntryPrice().Equal(dec("30000")) {
		t.Fatalf("entry = %s, want the tick price", m.EntryPrice())
	}
}

func TestHoldInDownTrendNeedsStopBreach(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	// First step records 30000 as the entry. A dip that stays above
	// 30000*0.985 = 29550 must not trigger the exit.
	if err := m.Step(ctx, market.TrendDown, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := m.Step(ctx, market.TrendDown, dec("29600")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn || len(fb.instantCalls) != 0 {
		t.Fatalf("state = %v, instant calls = %d; want HOLD_IN and none", m.State(), len(fb.instantCalls))
	}

	if err := m.Step(ctx, market.TrendDown, dec("29000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldOut {
		t.Fatalf("state = %v, want HOLD_OUT", m.State())
	}
	if len(fb.instantCalls) != 1 || fb.instantCalls[0].Side != domain.SideSell {
		t.Fatalf("instant calls = %+v, want one sell", fb.instantCalls)
	}
}

func TestHoldInFlatDoesNothing(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))

	if err := m.Step(context.Background(), market.TrendFlat, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn || len(fb.limitCalls)+len(fb.instantCalls) != 0 {
		t.Fatal("flat trend must not act")
	}
}

func TestLongExecutedSellAdvancesToHoldOut(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// The resting sell disappears from the book: it filled.
	fb.open = nil
	if err := m.Step(ctx, market.TrendUp, dec("30500")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldOut {
		t.Fatalf("state = %v, want HOLD_OUT", m.State())
	}
}

func TestLongDownTrendCancelsAndSellsOut(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	orderID := fb.limitCalls[0].ID

	if err := m.Step(ctx, market.TrendDown, dec("29900")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn {
		t.Fatalf("state = %v, want HOLD_IN", m.State())
	}
	if len(fb.cancelCalls) != 1 || fb.cancelCalls[0] != orderID {
		t.Fatalf("cancel calls = %v, want [%d]", fb.cancelCalls, orderID)
	}
	if len(fb.instantCalls) != 1 || fb.instantCalls[0].Side != domain.SideSell {
		t.Fatalf("instant calls = %+v, want one sell after the cancel", fb.instantCalls)
	}
	if m.EntryPrice().Sign() >= 0 {
		t.Fatalf("entry = %s, want cleared", m.EntryPrice())
	}
}

func TestLongStopBreachExitsEvenOnUpTrend(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	// Price below 29550 trips the stop regardless of the trend signal.
	if err := m.Step(ctx, market.TrendUp, dec("29000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn {
		t.Fatalf("state = %v, want HOLD_IN", m.State())
	}
	if len(fb.cancelCalls) != 1 {
		t.Fatalf("cancel calls = %d, want 1", len(fb.cancelCalls))
	}
}

func TestLongCancelRejectionStaysWithWarning(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	fb.cancelErr = &exchange.APIError{Reason: "order already matched"}

	if err := m.Step(ctx, market.TrendDown, dec("29900")); err != nil {
		t.Fatalf("business failure must not surface as an error, got %v", err)
	}
	if m.State() != StateLong {
		t.Fatalf("state = %v, want to stay LONG", m.State())
	}
	if m.Warning() == "" {
		t.Fatal("want a warning about the stuck cancel")
	}
	if len(fb.instantCalls) != 0 {
		t.Fatal("no instant order may follow a failed cancel")
	}
}

func TestLongCancelCommitAdvancesDespiteFollowUpFailure(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	fb.balanceErr = errors.New("connection reset")

	// The cancel succeeds, so the position really is closed on the
	// exchange. The transport failure on the follow-up sell surfaces,
	// but the state must record the committed cancel: treating the
	// vanished order as executed next tick would be wrong.
	err := m.Step(ctx, market.TrendDown, dec("29900"))
	if err == nil {
		t.Fatal("want the transport error surfaced")
	}
	if len(fb.cancelCalls) != 1 {
		t.Fatalf("cancel calls = %d, want 1", len(fb.cancelCalls))
	}
	if m.State() != StateHoldIn {
		t.Fatalf("state = %v, want HOLD_IN after the committed cancel", m.State())
	}
}

func TestLongProtocolErrorAbortsStep(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	fb.openOrdersErr = errors.New("connection reset")

	if err := m.Step(ctx, market.TrendDown, dec("29900")); err == nil {
		t.Fatal("want the transport error surfaced")
	}
	if m.State() != StateLong {
		t.Fatalf("state = %v, want unchanged LONG", m.State())
	}
}

func TestHoldOutDownTrendOpensShort(t *testing.T) {
	fb := newFakeBackend("0", "1000")
	m := NewMachine(fb, dec("0.015"))
	m.SetPosition(StateHoldOut, -1)
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendDown, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateShort {
		t.Fatalf("state = %v, want SHORT", m.State())
	}
	placed := fb.limitCalls[0]
	if placed.Side != domain.SideBuy {
		t.Fatalf("side = %v, want buy", placed.Side)
	}
	if !placed.LimitPrice.Equal(dec("29550")) {
		t.Fatalf("limit = %s, want 30000*0.985", placed.LimitPrice)
	}
	// 1000 quote at 29550 buys 0.03384095 (8 decimals).
	if !placed.Amount.Equal(dec("0.03384095")) {
		t.Fatalf("amount = %s, want the whole quote budget converted", placed.Amount)
	}
}

func TestHoldOutUpTrendNeedsTakeProfitBreach(t *testing.T) {
	fb := newFakeBackend("0", "1000")
	m := NewMachine(fb, dec("0.015"))
	m.SetPosition(StateHoldOut, -1)
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldOut || len(fb.instantCalls) != 0 {
		t.Fatal("price at entry must not trigger the buy-back")
	}

	if err := m.Step(ctx, market.TrendUp, dec("30500")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn {
		t.Fatalf("state = %v, want HOLD_IN", m.State())
	}
	if len(fb.instantCalls) != 1 || fb.instantCalls[0].Side != domain.SideBuy {
		t.Fatalf("instant calls = %+v, want one buy", fb.instantCalls)
	}
	if !fb.instantCalls[0].Amount.Equal(dec("1000")) {
		t.Fatalf("amount = %s, want the whole quote budget", fb.instantCalls[0].Amount)
	}
}

func TestShortExecutedBuyAdvancesToHoldIn(t *testing.T) {
	fb := newFakeBackend("0", "1000")
	m := NewMachine(fb, dec("0.015"))
	m.SetPosition(StateHoldOut, -1)
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendDown, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	fb.open = nil
	if err := m.Step(ctx, market.TrendDown, dec("29500")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldIn {
		t.Fatalf("state = %v, want HOLD_IN", m.State())
	}
}

func TestShortUpTrendCancelsAndBuysBack(t *testing.T) {
	fb := newFakeBackend("0", "1000")
	m := NewMachine(fb, dec("0.015"))
	m.SetPosition(StateHoldOut, -1)
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendDown, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	orderID := fb.limitCalls[0].ID

	if err := m.Step(ctx, market.TrendUp, dec("30100")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.State() != StateHoldOut {
		t.Fatalf("state = %v, want HOLD_OUT", m.State())
	}
	if len(fb.cancelCalls) != 1 || fb.cancelCalls[0] != orderID {
		t.Fatalf("cancel calls = %v, want [%d]", fb.cancelCalls, orderID)
	}
	if len(fb.instantCalls) != 1 || fb.instantCalls[0].Side != domain.SideBuy {
		t.Fatalf("instant calls = %+v, want one buy after the cancel", fb.instantCalls)
	}
}

func TestStepResetsWarning(t *testing.T) {
	fb := newFakeBackend("0.05", "0")
	m := NewMachine(fb, dec("0.015"))
	ctx := context.Background()

	if err := m.Step(ctx, market.TrendUp, dec("30000")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	fb.cancelErr = &exchange.APIError{Reason: "nope"}
	if err := m.Step(ctx, market.TrendDown, dec("29900")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.Warning() == "" {
		t.Fatal("want warning set")
	}

	fb.cancelErr = nil
	if err := m.Step(ctx, market.TrendDown, dec("29900")); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.Warning() != "" {
		t.Fatalf("warning = %q, want cleared on the next step", m.Warning())
	}
}
