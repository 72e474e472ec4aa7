// Package chain implements the ordered fallback across heterogeneous
// sources for one data category, and the assembly of per-category
// results into a single snapshot.
package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsadri/xRate/internal/market"
	"github.com/mrsadri/xRate/internal/source"
)

// Chain tries its sources in priority order and stops at the first one
// returning a complete set of required instrument values.
type Chain struct {
	category market.Category
	required []market.Instrument
	sources  []source.Source
	cache    *source.Cache
	logger   zerolog.Logger

	// allowPartial lets a chain return an incomplete value set when no
	// source produced a complete one. Only appropriate for standalone
	// categories documented to accept partial data.
	allowPartial bool
}

// Options configure a chain.
type Options struct {
	Category     market.Category
	Required     []market.Instrument
	Sources      []source.Source
	AllowPartial bool
}

// New constructs a chain backed by the shared source cache.
func New(opts Options, cache *source.Cache, logger zerolog.Logger) *Chain {
	return &Chain{
		category:     opts.Category,
		required:     opts.Required,
		sources:      opts.Sources,
		cache:        cache,
		allowPartial: opts.AllowPartial,
		logger: logger.With().Str("component", "chain").
			Str("category", string(opts.Category)).Logger(),
	}
}

// Category returns the chain's data category.
func (c *Chain) Category() market.Category { return c.category }

// Required returns the instruments this chain is responsible for.
func (c *Chain) Required() []market.Instrument { return c.required }

// Fetch walks the chain and returns the first complete quote. Sources
// that fail, return no data, or are ineligible with an empty cache are
// skipped. A partial quote is kept as a last resort and returned only
// when the chain allows partial results; otherwise every-source failure
// yields ErrChainExhausted.
func (c *Chain) Fetch(ctx context.Context) (market.RawQuote, error) {
	var partial market.RawQuote
	var hasPartial bool

	for _, src := range c.sources {
		quote, err := c.cache.GetOrFetch(ctx, src)
		if err != nil {
			c.logger.Warn().Err(err).Str("source", src.ID()).Msg("chain member failed, advancing")
			continue
		}
		if !quote.OK {
			c.logger.Warn().Err(quote.Err).Str("source", src.ID()).Msg("chain member returned no data, advancing")
			continue
		}

		if c.complete(quote) {
			return quote, nil
		}
		if !hasPartial && c.covers(quote) {
			partial, hasPartial = quote, true
		}
		c.logger.Debug().Str("source", src.ID()).Msg("incomplete result, advancing")
	}

	if c.allowPartial && hasPartial {
		return partial, nil
	}
	return market.RawQuote{}, fmt.Errorf("category %s: %w", c.category, market.ErrChainExhausted)
}

func (c *Chain) complete(quote market.RawQuote) bool {
	for _, inst := range c.required {
		if _, ok := quote.Value(inst); !ok {
			return false
		}
	}
	return true
}

func (c *Chain) covers(quote market.RawQuote) bool {
	for _, inst := range c.required {
		if _, ok := quote.Value(inst); ok {
			return true
		}
	}
	return false
}

// Assembler consolidates all chains into one snapshot per cycle.
type Assembler struct {
	chains []*Chain
	logger zerolog.Logger
}

// NewAssembler builds an assembler over the given chains.
func NewAssembler(chains []*Chain, logger zerolog.Logger) *Assembler {
	return &Assembler{
		chains: chains,
		logger: logger.With().Str("component", "assembler").Logger(),
	}
}

// Assemble fetches every category and merges the results. Exhausted
// categories are skipped for this cycle; if every category is exhausted
// the error is ErrChainExhausted and the cycle should be skipped.
func (a *Assembler) Assemble(ctx context.Context, asOf time.Time) (market.Snapshot, error) {
	snap := market.NewSnapshot(asOf)

	for _, ch := range a.chains {
		quote, err := ch.Fetch(ctx)
		if err != nil {
			a.logger.Warn().Err(err).Str("category", string(ch.Category())).
				Msg("category unavailable this cycle")
			continue
		}
		snap.Merge(quote, ch.Required())
	}

	if snap.Empty() {
		return market.Snapshot{}, market.ErrChainExhausted
	}
	return snap, nil
}
