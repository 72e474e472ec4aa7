package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
	"github.com/mrsadri/xRate/internal/source"
)

type stubSource struct {
	id      string
	fetches int
	quote   market.RawQuote
	err     error
}

func (s *stubSource) ID() string         { return s.id }
func (s *stubSource) TTL() time.Duration { return time.Hour }
func (s *stubSource) Fetch(ctx context.Context) (market.RawQuote, error) {
	s.fetches++
	if s.err != nil {
		return market.RawQuote{}, s.err
	}
	return s.quote, nil
}

func quoteWith(id string, values map[market.Instrument]int64) market.RawQuote {
	out := market.RawQuote{
		SourceID:  id,
		Values:    make(map[market.Instrument]decimal.Decimal, len(values)),
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}
	for inst, v := range values {
		out.Values[inst] = decimal.NewFromInt(v)
	}
	return out
}

func newTestChain(t *testing.T, required []market.Instrument, allowPartial bool, sources ...source.Source) *Chain {
	t.Helper()
	cache := source.NewCache(source.CacheOptions{FetchTimeout: time.Second}, zerolog.Nop())
	return New(Options{
		Category:     market.CategoryIranian,
		Required:     required,
		Sources:      sources,
		AllowPartial: allowPartial,
	}, cache, zerolog.Nop())
}

var iranianBasket = []market.Instrument{
	market.InstrumentUSDToman,
	market.InstrumentEURToman,
	market.InstrumentGoldToman,
}

func TestChainFirstCompleteWins(t *testing.T) {
	first := &stubSource{id: "bonbast", quote: quoteWith("bonbast", map[market.Instrument]int64{
		market.InstrumentUSDToman:  98500,
		market.InstrumentEURToman:  107100,
		market.InstrumentGoldToman: 4250000,
	})}
	second := &stubSource{id: "alanchand", quote: quoteWith("alanchand", map[market.Instrument]int64{
		market.InstrumentUSDToman:  99999,
		market.InstrumentEURToman:  99999,
		market.InstrumentGoldToman: 99999,
	})}

	ch := newTestChain(t, iranianBasket, false, first, second)
	quote, err := ch.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if quote.SourceID != "bonbast" {
		t.Fatalf("expected first source to win, got %s", quote.SourceID)
	}
	if second.fetches != 0 {
		t.Fatal("later sources must not be touched when the first is complete")
	}
}

func TestChainAdvancesPastFailures(t *testing.T) {
	broken := &stubSource{id: "bonbast", err: market.NewFetchError("bonbast", market.ErrTimeout, errors.New("slow"))}
	empty := &stubSource{id: "alanchand", quote: market.RawQuote{SourceID: "alanchand", Err: errors.New("no rows")}}
	good := &stubSource{id: "navasan", quote: quoteWith("navasan", map[market.Instrument]int64{
		market.InstrumentUSDToman:  98500,
		market.InstrumentEURToman:  107100,
		market.InstrumentGoldToman: 4250000,
	})}

	ch := newTestChain(t, iranianBasket, false, broken, empty, good)
	quote, err := ch.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if quote.SourceID != "navasan" {
		t.Fatalf("expected fallback to navasan, got %s", quote.SourceID)
	}
}

func TestChainSkipsPartialForCompleteLater(t *testing.T) {
	partial := &stubSource{id: "navasan", quote: quoteWith("navasan", map[market.Instrument]int64{
		market.InstrumentUSDToman: 98500,
	})}
	complete := &stubSource{id: "brsapi", quote: quoteWith("brsapi", map[market.Instrument]int64{
		market.InstrumentUSDToman:  98600,
		market.InstrumentEURToman:  107100,
		market.InstrumentGoldToman: 4250000,
	})}

	ch := newTestChain(t, iranianBasket, false, partial, complete)
	quote, err := ch.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if quote.SourceID != "brsapi" {
		t.Fatalf("partial result must not satisfy the chain, got %s", quote.SourceID)
	}
}

func TestChainExhausted(t *testing.T) {
	a := &stubSource{id: "bonbast", err: market.NewFetchError("bonbast", market.ErrUnavailable, errors.New("down"))}
	b := &stubSource{id: "alanchand", quote: market.RawQuote{SourceID: "alanchand", Err: errors.New("empty")}}

	ch := newTestChain(t, iranianBasket, false, a, b)
	if _, err := ch.Fetch(context.Background()); !errors.Is(err, market.ErrChainExhausted) {
		t.Fatalf("expected ErrChainExhausted, got %v", err)
	}
}

func TestChainAllowPartialFallback(t *testing.T) {
	partial := &stubSource{id: "navasan", quote: quoteWith("navasan", map[market.Instrument]int64{
		market.InstrumentUSDToman: 98500,
	})}

	strict := newTestChain(t, iranianBasket, false, partial)
	if _, err := strict.Fetch(context.Background()); !errors.Is(err, market.ErrChainExhausted) {
		t.Fatalf("strict chain should exhaust on partial-only data, got %v", err)
	}

	partial.fetches = 0
	lenient := newTestChain(t, iranianBasket, true, partial)
	quote, err := lenient.Fetch(context.Background())
	if err != nil {
		t.Fatalf("partial-tolerant chain: %v", err)
	}
	if _, ok := quote.Value(market.InstrumentUSDToman); !ok {
		t.Fatal("expected the partial quote back")
	}
}

func TestAssemblerProviderAttribution(t *testing.T) {
	cache := source.NewCache(source.CacheOptions{FetchTimeout: time.Second}, zerolog.Nop())

	iranian := New(Options{
		Category: market.CategoryIranian,
		Required: iranianBasket,
		Sources: []source.Source{&stubSource{id: "bonbast", quote: quoteWith("bonbast", map[market.Instrument]int64{
			market.InstrumentUSDToman:  98500,
			market.InstrumentEURToman:  107100,
			market.InstrumentGoldToman: 4250000,
		})}},
	}, cache, zerolog.Nop())

	fx := New(Options{
		Category: market.CategoryFX,
		Required: []market.Instrument{market.InstrumentEURUSD},
		Sources: []source.Source{
			&stubSource{id: "fastforex", err: market.NewFetchError("fastforex", market.ErrUnavailable, errors.New("down"))},
			&stubSource{id: "chainlink", quote: quoteWith("chainlink", map[market.Instrument]int64{
				market.InstrumentEURUSD: 1,
			})},
		},
	}, cache, zerolog.Nop())

	asOf := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	snap, err := NewAssembler([]*Chain{iranian, fx}, zerolog.Nop()).Assemble(context.Background(), asOf)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	providers := snap.ProviderList()
	if len(providers) != 2 || providers[0] != "bonbast" || providers[1] != "chainlink" {
		t.Fatalf("providers must name only contributing sources, got %v", providers)
	}
	if snap.Origins[market.InstrumentEURUSD] != "chainlink" {
		t.Fatalf("eurusd origin = %s", snap.Origins[market.InstrumentEURUSD])
	}
	if !snap.AsOf.Equal(asOf) {
		t.Fatalf("snapshot stamped %v, want %v", snap.AsOf, asOf)
	}
}

func TestAssemblerAllExhausted(t *testing.T) {
	cache := source.NewCache(source.CacheOptions{FetchTimeout: time.Second}, zerolog.Nop())
	dead := New(Options{
		Category: market.CategoryTether,
		Required: []market.Instrument{market.InstrumentTetherToman},
		Sources:  []source.Source{&stubSource{id: "wallex", err: market.NewFetchError("wallex", market.ErrUnavailable, errors.New("down"))}},
	}, cache, zerolog.Nop())

	if _, err := NewAssembler([]*Chain{dead}, zerolog.Nop()).Assemble(context.Background(), time.Now()); !errors.Is(err, market.ErrChainExhausted) {
		t.Fatalf("expected ErrChainExhausted, got %v", err)
	}
}
