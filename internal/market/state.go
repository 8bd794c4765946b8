package market

// State is the discrete classification of one short-term percent price
// change. The eight values form a total, ordered partition of the
// percent-change axis, with Unknown reserved for samples that could not be
// measured.
type State int

const (
	StateUnknown State = iota
	StateVolatileUp
	StateUUp
	StateUp
	StateFlat
	StateDw
	StateDDw
	StateVolatileDw
)

// stateWeights maps each state to the weight used by the trend predictor's
// monotonicity check. Kept as an external table so State stays a pure value.
var stateWeights = map[State]float64{
	StateVolatileUp: 2,
	StateUUp:        1,
	StateUp:         0.5,
	StateFlat:       0,
	StateDw:         -0.5,
	StateDDw:        -1,
	StateVolatileDw: -2,
	StateUnknown:    0,
}

// Weight returns the predictor weight for s.
func (s State) Weight() float64 {
	return stateWeights[s]
}

func (s State) String() string {
	switch s {
	case StateVolatileUp:
		return "VOLATILE_UP"
	case StateUUp:
		return "UUP"
	case StateUp:
		return "UP"
	case StateFlat:
		return "FLAT"
	case StateDw:
		return "DW"
	case StateDDw:
		return "DDW"
	case StateVolatileDw:
		return "VOLATILE_DW"
	default:
		return "UNKNOWN"
	}
}

// Classify buckets a percent price change. Movements smaller than 0.20% in
// either direction are flat; 0.20-1.5% is Up/Dw, 1.5-5% is UUp/DDw, and
// anything beyond 5% is volatile. Lower bounds are inclusive.
func Classify(percent float64) State {
	if percent < 0.20 && percent > -0.20 {
		return StateFlat
	}
	if percent > 0 {
		switch {
		case percent < 1.5:
			return StateUp
		case percent < 5:
			return StateUUp
		default:
			return StateVolatileUp
		}
	}
	switch {
	case percent > -1.5:
		return StateDw
	case percent > -5:
		return StateDDw
	default:
		return StateVolatileDw
	}
}
