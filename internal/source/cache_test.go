package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

type scriptedSource struct {
	id      string
	ttl     time.Duration
	fetches int
	next    func() (market.RawQuote, error)
}

func (s *scriptedSource) ID() string         { return s.id }
func (s *scriptedSource) TTL() time.Duration { return s.ttl }
func (s *scriptedSource) Fetch(ctx context.Context) (market.RawQuote, error) {
	s.fetches++
	return s.next()
}

func okQuote(id string, value int64) market.RawQuote {
	return market.RawQuote{
		SourceID: id,
		Values: map[market.Instrument]decimal.Decimal{
			market.InstrumentUSDToman: decimal.NewFromInt(value),
		},
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}
}

func newTestCache(at *time.Time) *Cache {
	c := NewCache(CacheOptions{FetchTimeout: time.Second, FailureBackoff: 5 * time.Minute}, zerolog.Nop())
	c.now = func() time.Time { return *at }
	return c
}

func TestGetOrFetchHonoursTTL(t *testing.T) {
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	at := start
	cache := newTestCache(&at)

	src := &scriptedSource{id: "navasan", ttl: 28 * time.Minute}
	src.next = func() (market.RawQuote, error) { return okQuote(src.id, 98500), nil }

	for _, offset := range []time.Duration{0, 10 * time.Minute, 27 * time.Minute, 29 * time.Minute} {
		at = start.Add(offset)
		quote, err := cache.GetOrFetch(context.Background(), src)
		if err != nil {
			t.Fatalf("GetOrFetch at +%s: %v", offset, err)
		}
		if !quote.OK {
			t.Fatalf("expected OK quote at +%s", offset)
		}
	}

	if src.fetches != 2 {
		t.Fatalf("expected exactly 2 network fetches across the TTL window, got %d", src.fetches)
	}
}

func TestGetOrFetchFailureBackoff(t *testing.T) {
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	at := start
	cache := newTestCache(&at)

	src := &scriptedSource{id: "brsapi", ttl: 15 * time.Minute}
	src.next = func() (market.RawQuote, error) {
		return market.RawQuote{}, market.NewFetchError(src.id, market.ErrUnavailable, errors.New("boom"))
	}

	if _, err := cache.GetOrFetch(context.Background(), src); err == nil {
		t.Fatal("first failing fetch should return the error")
	}

	// Within the backoff window, no cached quote to serve.
	at = start.Add(time.Minute)
	_, err := cache.GetOrFetch(context.Background(), src)
	if err == nil {
		t.Fatal("ineligible source with empty cache should error")
	}
	if market.KindOf(err) != market.ErrUnavailable {
		t.Fatalf("expected unavailable kind, got %v", err)
	}
	if src.fetches != 1 {
		t.Fatalf("fetch should not be retried inside the backoff window, got %d", src.fetches)
	}

	// Past the backoff, the source is attempted again.
	at = start.Add(6 * time.Minute)
	src.next = func() (market.RawQuote, error) { return okQuote(src.id, 99000), nil }
	quote, err := cache.GetOrFetch(context.Background(), src)
	if err != nil {
		t.Fatalf("recovered fetch: %v", err)
	}
	if !quote.OK || src.fetches != 2 {
		t.Fatalf("expected a second fetch after backoff, got fetches=%d", src.fetches)
	}
}

func TestGetOrFetchServesStaleAfterFailure(t *testing.T) {
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	at := start
	cache := newTestCache(&at)

	src := &scriptedSource{id: "wallex", ttl: 15 * time.Minute}
	src.next = func() (market.RawQuote, error) { return okQuote(src.id, 100000), nil }

	if _, err := cache.GetOrFetch(context.Background(), src); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	// TTL elapses and the source starts failing. The failed attempt
	// surfaces the error so the chain can advance.
	at = start.Add(16 * time.Minute)
	src.next = func() (market.RawQuote, error) {
		return market.RawQuote{}, market.NewFetchError(src.id, market.ErrUnavailable, errors.New("down"))
	}
	if _, err := cache.GetOrFetch(context.Background(), src); err == nil {
		t.Fatal("failed refetch should return the error")
	}

	// Inside the failure backoff the stale quote keeps serving.
	at = start.Add(17 * time.Minute)
	quote, err := cache.GetOrFetch(context.Background(), src)
	if err != nil {
		t.Fatalf("stale serve: %v", err)
	}
	got, ok := quote.Value(market.InstrumentUSDToman)
	if !ok || got.String() != "100000" {
		t.Fatalf("expected stale cached value 100000, got %v (ok=%v)", got, ok)
	}
	if src.fetches != 2 {
		t.Fatalf("no extra fetch expected inside backoff, got %d", src.fetches)
	}
}

func TestGetOrFetchNoDataKeepsCache(t *testing.T) {
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	at := start
	cache := newTestCache(&at)

	src := &scriptedSource{id: "bonbast", ttl: 37 * time.Minute}
	src.next = func() (market.RawQuote, error) { return okQuote(src.id, 98000), nil }

	if _, err := cache.GetOrFetch(context.Background(), src); err != nil {
		t.Fatalf("seed fetch: %v", err)
	}

	// Reachable but empty payload: OK=false quote comes back, cache and
	// eligibility treat it like a failure.
	at = start.Add(38 * time.Minute)
	src.next = func() (market.RawQuote, error) {
		return market.RawQuote{SourceID: src.id, Err: errors.New("empty payload")}, nil
	}
	quote, err := cache.GetOrFetch(context.Background(), src)
	if err != nil {
		t.Fatalf("no-data fetch should not error: %v", err)
	}
	if quote.OK {
		t.Fatal("expected OK=false quote")
	}

	at = start.Add(39 * time.Minute)
	cached, err := cache.GetOrFetch(context.Background(), src)
	if err != nil {
		t.Fatalf("cached serve: %v", err)
	}
	if got, ok := cached.Value(market.InstrumentUSDToman); !ok || got.String() != "98000" {
		t.Fatal("previous successful quote should survive a no-data fetch")
	}
}
