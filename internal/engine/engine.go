// Package engine decides whether a price movement is significant enough
// to announce, using per-instrument thresholds with a hysteresis margin
// against flip-flop around the raw threshold.
package engine

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Thresholds hold the announce margins for one instrument, in percent.
type Thresholds struct {
	UpperPct      decimal.Decimal
	LowerPct      decimal.Decimal
	HysteresisPct decimal.Decimal
}

// NewThresholds converts configured percentages into decimal margins.
func NewThresholds(upperPct, lowerPct, hysteresisPct float64) Thresholds {
	return Thresholds{
		UpperPct:      decimal.NewFromFloat(upperPct),
		LowerPct:      decimal.NewFromFloat(lowerPct),
		HysteresisPct: decimal.NewFromFloat(hysteresisPct),
	}
}

// Config maps instruments to their thresholds. Instruments without an
// entry are carried through snapshots but never announced.
type Config map[market.Instrument]Thresholds

// Engine is the threshold/hysteresis decision engine. It is stateless;
// breach state goes in and comes back out, persistence is the caller's
// concern.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

// New constructs an engine.
func New(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger.With().Str("component", "engine").Logger()}
}

// Evaluate runs every instrument of the snapshot through its state
// machine and returns the updated state plus zero or more breach events.
// The input state is not mutated.
//
// Per instrument, states are Idle, ArmedUp, ArmedDown:
//   - the plain threshold fires from Idle or from the opposite armed
//     direction, so reversals are reported promptly;
//   - a same-direction re-fire additionally requires the hysteresis
//     margin on top of the plain threshold;
//   - every fired announce moves last_announced to the new value, and
//     the re-arm margin compounds from that value.
//
// An instrument seen for the first time seeds its baseline silently.
func (e *Engine) Evaluate(prev market.BreachState, snap market.Snapshot) (market.BreachState, []market.BreachEvent) {
	next := prev.Clone()
	next.UpdatedAt = snap.AsOf

	instruments := make([]market.Instrument, 0, len(snap.Values))
	for inst := range snap.Values {
		instruments = append(instruments, inst)
	}
	sort.Slice(instruments, func(i, j int) bool { return instruments[i] < instruments[j] })

	var events []market.BreachEvent
	for _, inst := range instruments {
		th, tracked := e.cfg[inst]
		if !tracked {
			continue
		}
		value := snap.Values[inst]

		st, seen := next.Instruments[inst]
		if !seen || !st.LastAnnounced.IsPositive() {
			next.Instruments[inst] = market.InstrumentState{
				LastAnnounced: value,
				Armed:         market.DirectionNone,
			}
			e.logger.Info().Str("instrument", string(inst)).Str("value", value.String()).
				Msg("baseline seeded")
			continue
		}

		dir, fired := decide(st, value, th)
		if !fired {
			continue
		}

		events = append(events, market.BreachEvent{
			Instrument: inst,
			Direction:  dir,
			OldValue:   st.LastAnnounced,
			NewValue:   value,
			Providers:  snap.ProviderList(),
			AsOf:       snap.AsOf,
		})
		next.Instruments[inst] = market.InstrumentState{LastAnnounced: value, Armed: dir}

		e.logger.Info().Str("instrument", string(inst)).Str("direction", string(dir)).
			Str("old", st.LastAnnounced.String()).Str("new", value.String()).
			Msg("threshold breached")
	}

	return next, events
}

func decide(st market.InstrumentState, value decimal.Decimal, th Thresholds) (market.Direction, bool) {
	upPct := th.UpperPct
	if st.Armed == market.DirectionUp {
		upPct = upPct.Add(th.HysteresisPct)
	}
	downPct := th.LowerPct
	if st.Armed == market.DirectionDown {
		downPct = downPct.Add(th.HysteresisPct)
	}

	upper := st.LastAnnounced.Mul(decimal.NewFromInt(1).Add(upPct.Div(hundred)))
	lower := st.LastAnnounced.Mul(decimal.NewFromInt(1).Sub(downPct.Div(hundred)))

	switch {
	case value.GreaterThanOrEqual(upper):
		return market.DirectionUp, true
	case value.LessThanOrEqual(lower):
		return market.DirectionDown, true
	default:
		return market.DirectionNone, false
	}
}
