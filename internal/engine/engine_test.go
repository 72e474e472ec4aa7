package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const inst = market.InstrumentUSDToman

func testEngine() *Engine {
	return New(Config{
		inst: NewThresholds(1.0, 2.0, 0.2),
	}, zerolog.Nop())
}

func snapWith(value float64) market.Snapshot {
	snap := market.NewSnapshot(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	snap.Values[inst] = decimal.NewFromFloat(value)
	snap.Origins[inst] = "bonbast"
	snap.Providers["bonbast"] = struct{}{}
	return snap
}

func stateWith(last float64, armed market.Direction) market.BreachState {
	st := market.NewBreachState()
	st.Instruments[inst] = market.InstrumentState{
		LastAnnounced: decimal.NewFromFloat(last),
		Armed:         armed,
	}
	return st
}

func TestEvaluateSeedsBaselineSilently(t *testing.T) {
	next, events := testEngine().Evaluate(market.NewBreachState(), snapWith(100))
	if len(events) != 0 {
		t.Fatalf("first observation must not announce, got %d events", len(events))
	}
	st := next.Instruments[inst]
	if st.LastAnnounced.String() != "100" || st.Armed != market.DirectionNone {
		t.Fatalf("baseline not seeded: %+v", st)
	}
}

func TestEvaluateUpperBreach(t *testing.T) {
	next, events := testEngine().Evaluate(stateWith(100, market.DirectionNone), snapWith(101))
	if len(events) != 1 {
		t.Fatalf("move to +1%% must fire, got %d events", len(events))
	}
	ev := events[0]
	if ev.Direction != market.DirectionUp {
		t.Fatalf("direction = %s", ev.Direction)
	}
	if ev.OldValue.String() != "100" || ev.NewValue.String() != "101" {
		t.Fatalf("event values = %s -> %s", ev.OldValue, ev.NewValue)
	}
	if next.Instruments[inst].Armed != market.DirectionUp {
		t.Fatal("state should arm up after an up announce")
	}
}

func TestEvaluateBelowThresholdIsSilent(t *testing.T) {
	next, events := testEngine().Evaluate(stateWith(100, market.DirectionNone), snapWith(100.9))
	if len(events) != 0 {
		t.Fatalf("+0.9%% must not fire, got %d events", len(events))
	}
	if next.Instruments[inst].LastAnnounced.String() != "100" {
		t.Fatal("last announced must not move without an announce")
	}
}

func TestEvaluateHysteresisSuppressesSameDirection(t *testing.T) {
	// Armed up from 100: a same-direction re-fire needs 1% + 0.2%.
	_, events := testEngine().Evaluate(stateWith(100, market.DirectionUp), snapWith(101))
	if len(events) != 0 {
		t.Fatalf("+1%% while armed up must be suppressed, got %d events", len(events))
	}

	_, events = testEngine().Evaluate(stateWith(100, market.DirectionUp), snapWith(101.2))
	if len(events) != 1 {
		t.Fatalf("+1.2%% while armed up must fire, got %d events", len(events))
	}
}

func TestEvaluateOppositeDirectionUsesPlainThreshold(t *testing.T) {
	// Armed up: the down side still fires at the plain 2% margin.
	_, events := testEngine().Evaluate(stateWith(100, market.DirectionUp), snapWith(98))
	if len(events) != 1 {
		t.Fatalf("-2%% reversal must fire, got %d events", len(events))
	}
	if events[0].Direction != market.DirectionDown {
		t.Fatalf("direction = %s", events[0].Direction)
	}
}

func TestEvaluateRearmCompoundsFromLastAnnounced(t *testing.T) {
	eng := testEngine()

	// 100 -> 101 fires and re-bases at 101.
	st, events := eng.Evaluate(stateWith(100, market.DirectionNone), snapWith(101))
	if len(events) != 1 {
		t.Fatalf("first breach should fire, got %d", len(events))
	}

	// From 101 armed up, the next up margin is 101 * 1.012 = 102.212;
	// 101.5 stays silent even though it is +1.5% over the original 100.
	st2, events := eng.Evaluate(st, snapWith(101.5))
	if len(events) != 0 {
		t.Fatalf("re-arm must compound from 101, got %d events", len(events))
	}
	if st2.Instruments[inst].LastAnnounced.String() != "101" {
		t.Fatal("last announced should remain 101 while silent")
	}

	// 102.3 crosses 102.212 and fires from the compounded base.
	_, events = eng.Evaluate(st2, snapWith(102.3))
	if len(events) != 1 {
		t.Fatalf("compounded margin crossing must fire, got %d", len(events))
	}
	if events[0].OldValue.String() != "101" {
		t.Fatalf("event old value = %s, want 101", events[0].OldValue)
	}
}

func TestEvaluateHysteresisWalkthrough(t *testing.T) {
	eng := testEngine()

	st := market.NewBreachState()
	st, events := eng.Evaluate(st, snapWith(100))
	if len(events) != 0 {
		t.Fatal("seed must be silent")
	}

	st, events = eng.Evaluate(st, snapWith(101))
	if len(events) != 1 || events[0].Direction != market.DirectionUp {
		t.Fatalf("step 2: want one up event, got %v", events)
	}

	st, events = eng.Evaluate(st, snapWith(101.5))
	if len(events) != 0 {
		t.Fatalf("step 3: +0.5%% over new base must be silent, got %v", events)
	}

	st, events = eng.Evaluate(st, snapWith(98))
	if len(events) != 1 || events[0].Direction != market.DirectionDown {
		t.Fatalf("step 4: want one down event, got %v", events)
	}
	if st.Instruments[inst].Armed != market.DirectionDown {
		t.Fatal("step 4: state should arm down")
	}
}

func TestEvaluateIdempotentOnRepeatedSnapshot(t *testing.T) {
	eng := testEngine()
	st, events := eng.Evaluate(stateWith(100, market.DirectionNone), snapWith(101))
	if len(events) != 1 {
		t.Fatalf("expected initial fire, got %d", len(events))
	}
	// Feeding the same value again must not re-announce.
	_, events = eng.Evaluate(st, snapWith(101))
	if len(events) != 0 {
		t.Fatalf("same value re-evaluated must be silent, got %d events", len(events))
	}
}

func TestEvaluateIgnoresUntrackedInstrument(t *testing.T) {
	snap := market.NewSnapshot(time.Now().UTC())
	snap.Values[market.InstrumentEURUSD] = decimal.NewFromFloat(1.08)

	next, events := testEngine().Evaluate(market.NewBreachState(), snap)
	if len(events) != 0 {
		t.Fatalf("untracked instrument produced events: %v", events)
	}
	if _, ok := next.Instruments[market.InstrumentEURUSD]; ok {
		t.Fatal("untracked instrument must not enter state")
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	prev := stateWith(100, market.DirectionNone)
	testEngine().Evaluate(prev, snapWith(105))
	if prev.Instruments[inst].LastAnnounced.String() != "100" {
		t.Fatal("input state was mutated")
	}
	if prev.Instruments[inst].Armed != market.DirectionNone {
		t.Fatal("input armed direction was mutated")
	}
}
