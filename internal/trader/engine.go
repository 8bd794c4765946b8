package trader

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/aetherbot/gotrader/internal/common"
	"github.com/aetherbot/gotrader/internal/domain"
	"github.com/aetherbot/gotrader/internal/exchange"
	"github.com/aetherbot/gotrader/internal/market"
	"github.com/aetherbot/gotrader/internal/risk"
)

// MarketData is the read-only market feed the engine samples. The exchange
// client satisfies it; tests substitute a stub.
type MarketData interface {
	LastPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	GetOHLC(ctx context.Context, pair domain.Pair, step, limit int, start int64) ([]exchange.Candle, error)
}

// Config holds the engine's sampling and trading parameters.
type Config struct {
	Pair domain.Pair
	// TickInterval is the period of the trading tick.
	TickInterval time.Duration
	// TimeStep is the OHLC candle width in seconds.
	TimeStep int
	// Steps is the number of candles per sample window, so each sample
	// spans TimeStep*Steps seconds.
	Steps int
	// HistoryLength is the capacity of the market history buffer.
	HistoryLength int
	// Margin is the fractional profit/stop offset, e.g. 0.015.
	Margin decimal.Decimal
	// MaxConsecutiveErrors opens the engine's breaker after that many
	// failed ticks in a row; <= 0 disables it.
	MaxConsecutiveErrors int64
}

// Engine owns the trading loop: each tick samples the market, classifies the
// movement, updates the history, derives a trend and drives the state
// machine. It is the single writer of the history and position state; any
// other reader goes through Snapshot.
type Engine struct {
	cfg       Config
	data      MarketData
	backend   OrderBackend
	machine   *Machine
	history   *market.History
	predictor *market.Predictor
	breaker   *risk.Breaker

	mu        sync.Mutex
	lastTrend market.Trend
	lastScore float64

	loopOnce   sync.Once
	loopCancel context.CancelFunc
	done       chan struct{}

	log *logrus.Entry
}

// NewEngine wires an engine from its collaborators.
func NewEngine(cfg Config, data MarketData, backend OrderBackend) *Engine {
	return &Engine{
		cfg:       cfg,
		data:      data,
		backend:   backend,
		machine:   NewMachine(backend, cfg.Margin),
		history:   market.NewHistory(cfg.HistoryLength),
		predictor: market.NewPredictor(),
		breaker:   risk.NewBreaker(cfg.MaxConsecutiveErrors),
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "engine"),
	}
}

// Start seeds the market history, resumes any detected live position and
// launches the trading tick. It returns an error without trading when the
// account split is ambiguous.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.resumePosition(ctx); err != nil {
		return err
	}
	e.warmUp(ctx)

	common.StartLoopOnce(ctx, &e.loopOnce, func(c context.CancelFunc) {
		e.loopCancel = c
	}, e.cfg.TickInterval, func(loopCtx context.Context, tickC <-chan time.Time) {
		defer close(e.done)
		// Ticks run inline on this goroutine, so they never overlap and
		// Stop can wait for the in-flight one.
		e.tick(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-tickC:
				e.tick(loopCtx)
			}
		}
	})
	return nil
}

// Stop halts the loop and waits for the in-flight tick to finish. No tick
// starts after Stop returns.
func (e *Engine) Stop() {
	if e.loopCancel != nil {
		e.loopCancel()
		<-e.done
	}
}

// tick runs one sampling/decision cycle. Ordering within the tick: sample,
// then predict, then decide, then act. All market reads happen before any
// state mutation so a protocol failure aborts the tick with history and
// position untouched.
func (e *Engine) tick(ctx context.Context) {
	if err := e.breaker.Check(); err != nil {
		e.log.Errorf("tick skipped: %v", err)
		return
	}

	pct, err := e.percentChange(ctx, 0)
	if err != nil {
		e.breaker.Failure()
		e.log.Errorf("tick aborted: sampling failed: %v", err)
		return
	}
	price, err := e.data.LastPrice(ctx, e.cfg.Pair)
	if err != nil {
		e.breaker.Failure()
		e.log.Errorf("tick aborted: price fetch failed: %v", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bucket := market.Classify(pct)
	e.history.Push(market.Sample{PercentChange: pct, Bucket: bucket})
	trend, score := e.predictor.Predict(e.history)
	e.lastTrend = trend
	e.lastScore = score

	prev := e.machine.State()
	if err := e.machine.Step(ctx, trend, price); err != nil {
		e.breaker.Failure()
		e.log.Errorf("tick aborted: %v", err)
		return
	}
	e.breaker.Success()

	e.log.WithFields(logrus.Fields{
		"bucket": bucket.String(),
		"pct":    pct,
		"trend":  trend.String(),
		"score":  score,
		"entry":  e.machine.EntryPrice(),
		"price":  price,
	}).Infof("%s -> %s", prev, e.machine.State())
}

// percentChange samples an OHLC window of Steps*TimeStep seconds ending
// offset seconds ago and returns the percent move across it, computed from
// the first candle's open to the last candle's close.
func (e *Engine) percentChange(ctx context.Context, offset int64) (float64, error) {
	window := int64(e.cfg.TimeStep * e.cfg.Steps)
	start := time.Now().Unix() - window - offset

	candles, err := e.data.GetOHLC(ctx, e.cfg.Pair, e.cfg.TimeStep, e.cfg.Steps, start)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, errors.New("sampling: empty ohlc window")
	}

	firstOpen := candles[0].Open
	lastClose := candles[len(candles)-1].Close
	if firstOpen.IsZero() {
		return 0, errors.New("sampling: zero open price")
	}

	pct, _ := lastClose.Sub(firstOpen).
		Div(firstOpen).
		Mul(decimal.NewFromInt(100)).
		Float64()
	return pct, nil
}

// warmUp seeds the history with samples at successive offsets back in time
// so the first real tick predicts from a full window. Failed samples enter
// as Unknown, which the predictor treats as poisoned.
func (e *Engine) warmUp(ctx context.Context) {
	maxOffset := int64(e.cfg.HistoryLength * e.cfg.TimeStep)
	for offset := maxOffset; offset >= 0; offset -= int64(e.cfg.TimeStep) {
		sample := market.Sample{Bucket: market.StateUnknown}
		if pct, err := e.percentChange(ctx, offset); err == nil {
			sample = market.Sample{PercentChange: pct, Bucket: market.Classify(pct)}
		} else {
			e.log.Warnf("warm-up sample at offset %ds failed: %v", offset, err)
		}
		e.history.Push(sample)
	}
}

// resumePosition derives the starting position from the account ledger and
// any resting order, refusing to trade on an ambiguous split.
func (e *Engine) resumePosition(ctx context.Context) error {
	bal, err := e.backend.GetBalance(ctx)
	if err != nil {
		return errors.Wrap(err, "resume position: balance")
	}
	price, err := e.data.LastPrice(ctx, e.cfg.Pair)
	if err != nil {
		return errors.Wrap(err, "resume position: price")
	}

	state := DetectPosition(bal, price)
	if state == StateUnknown {
		return errors.New("resume position: account value is ambiguously split between assets")
	}

	var orderID int64 = -1
	if state == StateLong || state == StateShort {
		orders, err := e.backend.GetOpenOrders(ctx)
		if err != nil {
			return errors.Wrap(err, "resume position: open orders")
		}
		want := domain.SideSell
		if state == StateShort {
			want = domain.SideBuy
		}
		for i := range orders {
			if orders[i].Side == want {
				orderID = orders[i].ID
				break
			}
		}
		if orderID < 0 {
			// Reserved funds without a matching visible order; fall
			// back to the resting-free state.
			if state == StateLong {
				state = StateHoldIn
			} else {
				state = StateHoldOut
			}
		}
	}

	e.machine.SetPosition(state, orderID)
	e.log.Infof("resuming as %s", state)
	return nil
}

// splitThreshold gates the mixed-position check in DetectPosition.
const splitThreshold = 0.9

// DetectPosition classifies an account ledger into a position state: the
// asset holding most of the account value decides in/out of market, and a
// gap between balance and available on that side implies a resting order.
// A near-even split, or an empty account, is Unknown.
func DetectPosition(bal domain.Balance, price decimal.Decimal) State {
	value := bal.Value(price)
	if value.IsZero() {
		return StateUnknown
	}

	baseFrac := bal.Base.Balance.Mul(price).DivRound(value, 8)
	quoteFrac := bal.Quote.Balance.DivRound(value, 8)
	if baseFrac.Sub(quoteFrac).Abs().LessThanOrEqual(decimal.NewFromFloat(splitThreshold)) {
		return StateUnknown
	}

	if baseFrac.GreaterThan(quoteFrac) {
		if bal.Base.Balance.GreaterThan(bal.Base.Available) {
			return StateLong
		}
		return StateHoldIn
	}
	if bal.Quote.Balance.GreaterThan(bal.Quote.Available) {
		return StateShort
	}
	return StateHoldOut
}

// Breaker exposes the engine's breaker for manual trip/reset.
func (e *Engine) Breaker() *risk.Breaker {
	return e.breaker
}

// Snapshot is an atomically consistent view of the engine for readers
// outside the tick.
type Snapshot struct {
	State      State
	EntryPrice decimal.Decimal
	Trend      market.Trend
	TrendScore float64
	Samples    []market.Sample
	Warning    string
}

// Snapshot returns the engine's current state without racing the tick.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:      e.machine.State(),
		EntryPrice: e.machine.EntryPrice(),
		Trend:      e.lastTrend,
		TrendScore: e.lastScore,
		Samples:    e.history.Samples(),
		Warning:    e.machine.Warning(),
	}
}
