package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const wallexID = "wallex"

// WallexOptions parameterise the api.wallex.ir client.
type WallexOptions struct {
	BaseURL   string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Wallex serves the USDT-TMN spot price from the Wallex exchange. It is
// the only source for the tether category; there is no fallback.
type Wallex struct {
	opts   WallexOptions
	logger zerolog.Logger
	client *http.Client
}

// NewWallex constructs the wallex source.
func NewWallex(opts WallexOptions, logger zerolog.Logger) *Wallex {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.wallex.ir/v1/markets"
	}
	return &Wallex{
		opts:   opts,
		logger: logger.With().Str("component", "source_wallex").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (w *Wallex) ID() string         { return wallexID }
func (w *Wallex) TTL() time.Duration { return w.opts.TTL }

// Fetch retrieves the USDT last price in Toman.
func (w *Wallex) Fetch(ctx context.Context) (market.RawQuote, error) {
	body, err := httpGet(ctx, w.client, wallexID, w.opts.BaseURL, w.opts.UserAgent)
	if err != nil {
		return market.RawQuote{}, err
	}

	var payload struct {
		Result struct {
			Symbols map[string]struct {
				Stats struct {
					LastPrice string `json:"lastPrice"`
					Change24h string `json:"24h_ch"`
				} `json:"stats"`
			} `json:"symbols"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.RawQuote{}, market.NewFetchError(wallexID, market.ErrParse, err)
	}

	usdttmn, ok := payload.Result.Symbols["USDTTMN"]
	if !ok {
		return market.RawQuote{
			SourceID:  wallexID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("USDTTMN not present in wallex symbols"),
		}, nil
	}

	price, ok := parsePrice(usdttmn.Stats.LastPrice)
	if !ok {
		return market.RawQuote{
			SourceID:  wallexID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("USDTTMN lastPrice missing or non-positive"),
		}, nil
	}

	if ch, err := decimal.NewFromString(usdttmn.Stats.Change24h); err == nil {
		w.logger.Debug().Str("price", price.String()).Str("change_24h_pct", ch.String()).
			Msg("wallex USDT quote")
	}

	return market.RawQuote{
		SourceID: wallexID,
		Values: map[market.Instrument]decimal.Decimal{
			market.InstrumentTetherToman: price,
		},
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

var _ Source = (*Wallex)(nil)
