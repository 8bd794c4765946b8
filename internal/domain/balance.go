package domain

import "github.com/shopspring/decimal"

// AssetBalance is the ledger entry for one asset. Balance is the total held;
// Available is the portion not reserved by open orders, so
// Available <= Balance holds at all times.
type AssetBalance struct {
	Available decimal.Decimal
	Balance   decimal.Decimal
}

// Reserved returns the amount locked by open orders.
func (a AssetBalance) Reserved() decimal.Decimal {
	return a.Balance.Sub(a.Available)
}

// Balance is the account ledger for the traded pair.
type Balance struct {
	Base  AssetBalance // e.g. BTC
	Quote AssetBalance // e.g. EUR
	// Fee is the trading fee as a percentage of trade value.
	Fee decimal.Decimal
}

// Value returns the total account value in quote terms at the given price.
func (b Balance) Value(price decimal.Decimal) decimal.Decimal {
	return b.Quote.Balance.Add(b.Base.Balance.Mul(price))
}

// ValueBase returns the total account value in base terms at the given price.
func (b Balance) ValueBase(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return b.Base.Balance
	}
	return b.Base.Balance.Add(b.Quote.Balance.DivRound(price, 8))
}
