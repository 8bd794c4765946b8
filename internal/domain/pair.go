package domain

import "strings"

// Pair is a traded asset pair, e.g. {Base: "btc", Quote: "eur"}.
type Pair struct {
	Base  string
	Quote string
}

// Symbol returns the exchange symbol for the pair ("btceur").
func (p Pair) Symbol() string {
	return strings.ToLower(p.Base + p.Quote)
}

func (p Pair) String() string {
	return strings.ToUpper(p.Base) + "/" + strings.ToUpper(p.Quote)
}
