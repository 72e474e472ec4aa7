package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const fastforexID = "fastforex"

// FastForexOptions parameterise the api.fastforex.io client.
type FastForexOptions struct {
	BaseURL   string
	APIKey    string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// FastForex serves the EUR/USD rate. The API quotes EUR per USD against
// a USD base; the value is inverted to USD per EUR.
type FastForex struct {
	opts   FastForexOptions
	logger zerolog.Logger
	client *http.Client
}

// NewFastForex constructs the fastforex source.
func NewFastForex(opts FastForexOptions, logger zerolog.Logger) *FastForex {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.fastforex.io/fetch-all"
	}
	return &FastForex{
		opts:   opts,
		logger: logger.With().Str("component", "source_fastforex").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (f *FastForex) ID() string         { return fastforexID }
func (f *FastForex) TTL() time.Duration { return f.opts.TTL }

// Fetch retrieves the EUR/USD rate.
func (f *FastForex) Fetch(ctx context.Context) (market.RawQuote, error) {
	if f.opts.APIKey == "" {
		return market.RawQuote{}, market.NewFetchError(fastforexID, market.ErrUnavailable,
			errors.New("api key not configured"))
	}

	body, err := httpGet(ctx, f.client, fastforexID,
		fmt.Sprintf("%s?api_key=%s", f.opts.BaseURL, f.opts.APIKey), f.opts.UserAgent)
	if err != nil {
		return market.RawQuote{}, err
	}

	var payload struct {
		Base    string             `json:"base"`
		Results map[string]float64 `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.RawQuote{}, market.NewFetchError(fastforexID, market.ErrParse, err)
	}

	eurPerUSD, ok := payload.Results["EUR"]
	if !ok || eurPerUSD <= 0 {
		return market.RawQuote{
			SourceID:  fastforexID,
			FetchedAt: time.Now().UTC(),
			Err:       fmt.Errorf("results.EUR missing or non-positive (%v)", eurPerUSD),
		}, nil
	}

	usdPerEUR := decimal.NewFromInt(1).DivRound(decimal.NewFromFloat(eurPerUSD), 6)

	return market.RawQuote{
		SourceID: fastforexID,
		Values: map[market.Instrument]decimal.Decimal{
			market.InstrumentEURUSD: usdPerEUR,
		},
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

var _ Source = (*FastForex)(nil)
