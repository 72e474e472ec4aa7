package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsadri/xRate/internal/market"
)

// Source produces a raw quote for one or more instruments from one
// external origin (scraped page or REST endpoint).
type Source interface {
	ID() string
	TTL() time.Duration
	Fetch(ctx context.Context) (market.RawQuote, error)
}

var errNotEligible = errors.New("not eligible and no cached quote")

// CacheOptions tune the shared source cache.
type CacheOptions struct {
	// FetchTimeout bounds every real network fetch.
	FetchTimeout time.Duration
	// FailureBackoff is how long a failing source is left alone before the
	// next attempt. Shorter than any TTL so recovery is quick, long enough
	// to avoid hammering a broken origin.
	FailureBackoff time.Duration
}

// Cache is the process-wide, per-source TTL cache plus eligibility
// tracker. It is keyed by source identity, not category, so two chains
// sharing a source share one fetch. All call sites (scheduled polls and
// manual refreshes) must go through the same Cache instance.
type Cache struct {
	opts   CacheOptions
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// cacheEntry serializes access per source identity: the entry lock is
// held across the network fetch so two callers racing on one source can
// never both see "eligible" within a TTL window.
type cacheEntry struct {
	mu            sync.Mutex
	quote         market.RawQuote
	hasQuote      bool
	nextAllowedAt time.Time
}

// NewCache constructs the shared cache.
func NewCache(opts CacheOptions, logger zerolog.Logger) *Cache {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.FailureBackoff <= 0 {
		opts.FailureBackoff = 5 * time.Minute
	}
	return &Cache{
		opts:    opts,
		logger:  logger.With().Str("component", "source_cache").Logger(),
		now:     time.Now,
		entries: make(map[string]*cacheEntry),
	}
}

func (c *Cache) entry(id string) *cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		e = &cacheEntry{}
		c.entries[id] = e
	}
	return e
}

// GetOrFetch returns the source's quote, fetching over the network only
// when the source is eligible. Ineligible sources serve their cached
// quote unconditionally; an ineligible source with an empty cache is an
// unavailable error. A failed fetch advances eligibility by the failure
// backoff and leaves any previous successful quote intact, so stale data
// stays servable on subsequent calls.
func (c *Cache) GetOrFetch(ctx context.Context, src Source) (market.RawQuote, error) {
	e := c.entry(src.ID())
	e.mu.Lock()
	defer e.mu.Unlock()

	now := c.now()
	if now.Before(e.nextAllowedAt) {
		if e.hasQuote {
			c.logger.Debug().Str("source", src.ID()).Time("next_allowed", e.nextAllowedAt).Msg("serving cached quote")
			return e.quote, nil
		}
		return market.RawQuote{}, market.NewFetchError(src.ID(), market.ErrUnavailable, errNotEligible)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchTimeout)
	defer cancel()

	quote, err := src.Fetch(fetchCtx)
	if err != nil {
		e.nextAllowedAt = now.Add(c.opts.FailureBackoff)
		if errors.Is(err, context.DeadlineExceeded) {
			err = market.NewFetchError(src.ID(), market.ErrTimeout, err)
		}
		c.logger.Warn().Err(err).Str("source", src.ID()).
			Dur("backoff", c.opts.FailureBackoff).Msg("fetch failed")
		return market.RawQuote{}, err
	}
	if !quote.OK {
		// Source reachable but no usable data. Treated like a failure for
		// eligibility; previous successful quote stays cached.
		e.nextAllowedAt = now.Add(c.opts.FailureBackoff)
		c.logger.Warn().Err(quote.Err).Str("source", src.ID()).Msg("source returned no data")
		return quote, nil
	}

	e.quote = quote
	e.hasQuote = true
	e.nextAllowedAt = now.Add(src.TTL())
	c.logger.Debug().Str("source", src.ID()).Dur("ttl", src.TTL()).Msg("quote refreshed")
	return quote, nil
}
