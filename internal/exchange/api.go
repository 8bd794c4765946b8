package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/aetherbot/gotrader/internal/domain"
)

// ohlcSteps is the set of candle widths the exchange accepts, in seconds.
var ohlcSteps = map[int]struct{}{
	60: {}, 180: {}, 300: {}, 900: {}, 1800: {}, 3600: {}, 7200: {},
	14400: {}, 21600: {}, 43200: {}, 86400: {}, 259200: {},
}

// Ticker is the instantaneous market summary for a pair.
type Ticker struct {
	Last      decimal.Decimal `json:"last"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Vwap      decimal.Decimal `json:"vwap"`
	Volume    decimal.Decimal `json:"volume"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Open      decimal.Decimal `json:"open"`
	Timestamp int64           `json:"timestamp,string"`
}

// Candle is one OHLC entry.
type Candle struct {
	Timestamp int64           `json:"timestamp,string"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// GetTicker fetches the current ticker for the pair.
func (c *Client) GetTicker(ctx context.Context, pair domain.Pair) (*Ticker, error) {
	body, err := c.SendPublic(ctx, "/api/v2/ticker/"+pair.Symbol()+"/", nil)
	if err != nil {
		return nil, err
	}
	var t Ticker
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, errors.Wrap(err, "decode ticker")
	}
	return &t, nil
}

// LastPrice returns the pair's last traded price.
func (c *Client) LastPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	t, err := c.GetTicker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	if t.Last.Sign() <= 0 {
		return decimal.Zero, errors.Errorf("ticker: non-positive last price %s", t.Last)
	}
	return t.Last, nil
}

// GetOHLC fetches OHLC candles. step must be one of the exchange's
// enumerated widths and limit must lie in [1,1000]; start is a unix second
// the window begins at (0 for the exchange default).
func (c *Client) GetOHLC(ctx context.Context, pair domain.Pair, step, limit int, start int64) ([]Candle, error) {
	if _, ok := ohlcSteps[step]; !ok {
		return nil, errors.Errorf("ohlc: unsupported step %d", step)
	}
	if limit < 1 || limit > 1000 {
		return nil, errors.Errorf("ohlc: limit %d out of range [1,1000]", limit)
	}

	params := url.Values{}
	params.Set("step", strconv.Itoa(step))
	params.Set("limit", strconv.Itoa(limit))
	if start > 0 {
		params.Set("start", strconv.FormatInt(start, 10))
	}

	body, err := c.SendPublic(ctx, "/api/v2/ohlc/"+pair.Symbol()+"/", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Code   string          `json:"code"`
		Errors json.RawMessage `json:"errors"`
		Data   struct {
			Pair string   `json:"pair"`
			OHLC []Candle `json:"ohlc"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, "decode ohlc")
	}
	if resp.Code != "" {
		return nil, &APIError{Reason: rawReason(resp.Errors)}
	}
	return resp.Data.OHLC, nil
}

// GetBalance fetches the account ledger for the pair's two assets.
func (c *Client) GetBalance(ctx context.Context, pair domain.Pair) (domain.Balance, error) {
	body, err := c.SendPrivate(ctx, "/api/v2/balance/", nil)
	if err != nil {
		return domain.Balance{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return domain.Balance{}, errors.Wrap(err, "decode balance")
	}
	if reason, ok := fields["reason"]; ok {
		return domain.Balance{}, &APIError{Reason: rawReason(reason)}
	}

	pick := func(key string) (decimal.Decimal, error) {
		raw, ok := fields[key]
		if !ok {
			return decimal.Zero, errors.Errorf("balance: missing field %q", key)
		}
		var d decimal.Decimal
		if err := json.Unmarshal(raw, &d); err != nil {
			return decimal.Zero, errors.Wrapf(err, "balance: field %q", key)
		}
		return d, nil
	}

	var bal domain.Balance
	var errs []error
	bal.Base.Available, err = pick(pair.Base + "_available")
	errs = append(errs, err)
	bal.Base.Balance, err = pick(pair.Base + "_balance")
	errs = append(errs, err)
	bal.Quote.Available, err = pick(pair.Quote + "_available")
	errs = append(errs, err)
	bal.Quote.Balance, err = pick(pair.Quote + "_balance")
	errs = append(errs, err)
	bal.Fee, err = pick(pair.Symbol() + "_fee")
	errs = append(errs, err)
	for _, e := range errs {
		if e != nil {
			return domain.Balance{}, e
		}
	}
	return bal, nil
}

// wireOrder is the order shape the exchange returns across the order
// endpoints. IDs and types arrive as either numbers or strings depending on
// the endpoint.
type wireOrder struct {
	ID     json.Number     `json:"id"`
	Type   json.Number     `json:"type"` // 0 buy, 1 sell
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
	Err    json.RawMessage `json:"error"`
}

func (w *wireOrder) toDomain() (*domain.Order, error) {
	id, err := w.ID.Int64()
	if err != nil {
		return nil, errors.Wrapf(err, "order id %q", w.ID)
	}
	side := domain.SideBuy
	if w.Type.String() == "1" {
		side = domain.SideSell
	}
	return &domain.Order{
		ID:         id,
		Side:       side,
		Amount:     w.Amount,
		LimitPrice: w.Price,
		Status:     domain.OrderStatusOpen,
	}, nil
}

// GetOpenOrders returns all open orders on the account.
func (c *Client) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	body, err := c.SendPrivate(ctx, "/api/v2/open_orders/all/", nil)
	if err != nil {
		return nil, err
	}

	// Success is a bare array; failures come back as an object.
	if len(body) == 0 || body[0] != '[' {
		var w wireOrder
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, errors.Wrap(err, "decode open orders")
		}
		return nil, &APIError{Reason: rawReason(w.Reason)}
	}

	var wire []wireOrder
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errors.Wrap(err, "decode open orders")
	}
	orders := make([]domain.Order, 0, len(wire))
	for i := range wire {
		o, err := wire[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, id int64) error {
	params := url.Values{}
	params.Set("id", strconv.FormatInt(id, 10))

	body, err := c.SendPrivate(ctx, "/api/v2/cancel_order/", params)
	if err != nil {
		return err
	}

	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return errors.Wrap(err, "decode cancel response")
	}
	if len(w.Err) > 0 {
		return &APIError{Reason: rawReason(w.Err)}
	}
	return nil
}

// PlaceLimitOrder places a resting limit order. amount is in the base asset.
func (c *Client) PlaceLimitOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount, price decimal.Decimal) (*domain.Order, error) {
	params := url.Values{}
	params.Set("amount", amount.String())
	params.Set("price", price.String())

	body, err := c.SendPrivate(ctx, fmt.Sprintf("/api/v2/%s/%s/", side, pair.Symbol()), params)
	if err != nil {
		return nil, err
	}
	return decodeOrderResponse(body)
}

// PlaceInstantOrder places an order that executes immediately at market.
// amount is in the base asset for sells and the quote asset for buys.
func (c *Client) PlaceInstantOrder(ctx context.Context, pair domain.Pair, side domain.Side, amount decimal.Decimal) (*domain.Order, error) {
	params := url.Values{}
	params.Set("amount", amount.String())

	body, err := c.SendPrivate(ctx, fmt.Sprintf("/api/v2/%s/instant/%s/", side, pair.Symbol()), params)
	if err != nil {
		return nil, err
	}
	order, err := decodeOrderResponse(body)
	if err != nil {
		return nil, err
	}
	order.Status = domain.OrderStatusExecuted
	return order, nil
}

func decodeOrderResponse(body []byte) (*domain.Order, error) {
	var w wireOrder
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, errors.Wrap(err, "decode order response")
	}
	if w.Status == "error" || len(w.Reason) > 0 {
		return nil, &APIError{Reason: rawReason(w.Reason)}
	}
	return w.toDomain()
}

// rawReason renders the exchange's failure detail, which may be a string, an
// object keyed by field, or absent.
func rawReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unspecified failure"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
