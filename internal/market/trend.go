package market

// Trend is the directional signal derived from a window of classified
// samples.
type Trend int

const (
	TrendDown Trend = -1
	TrendFlat Trend = 0
	TrendUp   Trend = 1
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	default:
		return "FLAT"
	}
}

// Predictor reduces a history window to a Trend with a weighted running
// score. It is an intentionally simple heuristic, not a forecasting model.
type Predictor struct {
	// OverallWeight scales the accumulated running score.
	OverallWeight float64
	// MonotonicWeight is the bonus (penalty) applied when the window's
	// bucket weights are monotonically non-decreasing (non-increasing).
	MonotonicWeight float64
}

// NewPredictor returns a predictor with the stock weights.
func NewPredictor() *Predictor {
	return &Predictor{
		OverallWeight:   1.0,
		MonotonicWeight: 1.5,
	}
}

// Predict walks the history oldest-first and accumulates a score: UUp +2,
// Up +1, Dw -1, DDw -2; either volatile bucket amplifies the running score
// by 1.25 and Flat damps it by 0.75. A monotonic window adds
// ±MonotonicWeight. The returned score is the decider; its sign is the
// trend. Any Unknown sample in the window poisons the tick and forces
// TrendFlat regardless of the score.
func (p *Predictor) Predict(h *History) (Trend, float64) {
	score := 0.0
	allUp := true
	allDw := true

	var last State
	for i, s := range h.Samples() {
		if i > 0 {
			if allUp && s.Bucket.Weight() < last.Weight() {
				allUp = false
			} else if allDw && s.Bucket.Weight() > last.Weight() {
				allDw = false
			}
		}

		switch s.Bucket {
		case StateVolatileUp, StateVolatileDw:
			score *= 1.25
		case StateUUp:
			score += 2
		case StateUp:
			score++
		case StateFlat:
			score *= 0.75
		case StateDw:
			score--
		case StateDDw:
			score -= 2
		}
		last = s.Bucket
	}

	run := 0.0
	if allUp {
		run++
	}
	if allDw {
		run--
	}
	decider := score*p.OverallWeight + run*p.MonotonicWeight

	if h.Contains(StateUnknown) {
		return TrendFlat, decider
	}

	switch {
	case decider > 0:
		return TrendUp, decider
	case decider < 0:
		return TrendDown, decider
	default:
		return TrendFlat, decider
	}
}
