package market

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument identifies a tracked price series.
type Instrument string

const (
	InstrumentUSDToman    Instrument = "usd_toman"
	InstrumentEURToman    Instrument = "eur_toman"
	InstrumentGoldToman   Instrument = "gold_18k_toman"
	InstrumentEURUSD      Instrument = "eurusd"
	InstrumentTetherToman Instrument = "tether_toman"
)

// Category groups instruments that share a fallback chain.
type Category string

const (
	CategoryIranian Category = "iranian"
	CategoryFX      Category = "fx"
	CategoryTether  Category = "tether"
)

// RawQuote is the output of a single source fetch. Immutable once created.
type RawQuote struct {
	SourceID  string
	Values    map[Instrument]decimal.Decimal
	FetchedAt time.Time
	OK        bool
	Err       error
}

// Value returns the quoted value for an instrument, if present and positive.
func (q RawQuote) Value(inst Instrument) (decimal.Decimal, bool) {
	v, ok := q.Values[inst]
	if !ok || !v.IsPositive() {
		return decimal.Decimal{}, false
	}
	return v, true
}

// Snapshot is one consolidated view of all tracked instruments,
// built fresh each orchestration cycle.
type Snapshot struct {
	Values    map[Instrument]decimal.Decimal
	Origins   map[Instrument]string
	Providers map[string]struct{}
	AsOf      time.Time
}

// NewSnapshot allocates an empty snapshot stamped at asOf.
func NewSnapshot(asOf time.Time) Snapshot {
	return Snapshot{
		Values:    make(map[Instrument]decimal.Decimal),
		Origins:   make(map[Instrument]string),
		Providers: make(map[string]struct{}),
		AsOf:      asOf,
	}
}

// Merge copies the instrument values of a quote into the snapshot,
// recording provider attribution. Existing instruments are not overwritten:
// the first chain to supply a value wins.
func (s Snapshot) Merge(quote RawQuote, instruments []Instrument) {
	for _, inst := range instruments {
		if _, exists := s.Values[inst]; exists {
			continue
		}
		v, ok := quote.Value(inst)
		if !ok {
			continue
		}
		s.Values[inst] = v
		s.Origins[inst] = quote.SourceID
		s.Providers[quote.SourceID] = struct{}{}
	}
}

// Empty reports whether the snapshot carries no instrument values.
func (s Snapshot) Empty() bool { return len(s.Values) == 0 }

// ProviderList returns provider attribution as a sorted slice.
func (s Snapshot) ProviderList() []string {
	out := make([]string, 0, len(s.Providers))
	for p := range s.Providers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Direction of an armed or announced price movement.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// InstrumentState is the persisted per-instrument breach bookkeeping.
type InstrumentState struct {
	LastAnnounced decimal.Decimal
	Armed         Direction
}

// BreachState holds the last announced values and armed directions for
// every instrument. Only the threshold engine mutates it.
type BreachState struct {
	Instruments map[Instrument]InstrumentState
	UpdatedAt   time.Time
}

// NewBreachState returns an empty state (first-run semantics).
func NewBreachState() BreachState {
	return BreachState{Instruments: make(map[Instrument]InstrumentState)}
}

// Clone returns a deep copy so the engine can return updated state
// without mutating the caller's copy.
func (b BreachState) Clone() BreachState {
	out := BreachState{
		Instruments: make(map[Instrument]InstrumentState, len(b.Instruments)),
		UpdatedAt:   b.UpdatedAt,
	}
	for k, v := range b.Instruments {
		out.Instruments[k] = v
	}
	return out
}

// BreachEvent is the outbound decision event handed to the notifier.
type BreachEvent struct {
	Instrument Instrument
	Direction  Direction
	OldValue   decimal.Decimal
	NewValue   decimal.Decimal
	Providers  []string
	AsOf       time.Time
}
