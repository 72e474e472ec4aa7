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

const brsapiID = "brsapi"

// BRSAPIOptions parameterise the brsapi.ir client.
type BRSAPIOptions struct {
	BaseURL   string
	APIKey    string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// BRSAPI fetches Iranian gold and currency quotes from brsapi.ir. One
// call serves both the Iranian basket and the derived EUR/USD rate, so
// this source appears in two chains behind the shared cache.
type BRSAPI struct {
	opts   BRSAPIOptions
	logger zerolog.Logger
	client *http.Client
}

type brsapiItem struct {
	Symbol string          `json:"symbol"`
	Price  json.RawMessage `json:"price"`
}

type brsapiResponse struct {
	Gold     []brsapiItem `json:"gold"`
	Currency []brsapiItem `json:"currency"`
}

// NewBRSAPI constructs the brsapi source.
func NewBRSAPI(opts BRSAPIOptions, logger zerolog.Logger) *BRSAPI {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://brsapi.ir/Api/Market/Gold_Currency.php"
	}
	return &BRSAPI{
		opts:   opts,
		logger: logger.With().Str("component", "source_brsapi").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (b *BRSAPI) ID() string         { return brsapiID }
func (b *BRSAPI) TTL() time.Duration { return b.opts.TTL }

// Fetch retrieves the gold/currency arrays and maps USD, EUR, 18k gold
// and the derived EUR/USD cross rate.
func (b *BRSAPI) Fetch(ctx context.Context) (market.RawQuote, error) {
	if b.opts.APIKey == "" {
		return market.RawQuote{}, market.NewFetchError(brsapiID, market.ErrUnavailable,
			errors.New("api key not configured"))
	}

	body, err := httpGet(ctx, b.client, brsapiID,
		fmt.Sprintf("%s?key=%s", b.opts.BaseURL, b.opts.APIKey), b.opts.UserAgent)
	if err != nil {
		return market.RawQuote{}, err
	}

	resp, err := decodeBRSAPI(body)
	if err != nil {
		return market.RawQuote{}, market.NewFetchError(brsapiID, market.ErrParse, err)
	}

	values := make(map[market.Instrument]decimal.Decimal)
	if usd, ok := brsapiPrice(resp.Currency, "USD"); ok {
		values[market.InstrumentUSDToman] = usd
	}
	if eur, ok := brsapiPrice(resp.Currency, "EUR"); ok {
		values[market.InstrumentEURToman] = eur
	}
	if gold, ok := brsapiPrice(resp.Gold, "IR_GOLD_18K"); ok {
		values[market.InstrumentGoldToman] = gold
	}
	// EUR/USD derived from the two toman quotes (USD per 1 EUR).
	if usd, okU := values[market.InstrumentUSDToman]; okU {
		if eur, okE := values[market.InstrumentEURToman]; okE {
			values[market.InstrumentEURUSD] = eur.DivRound(usd, 6)
		}
	}

	if len(values) == 0 {
		return market.RawQuote{
			SourceID:  brsapiID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("no recognised symbols in brsapi payload"),
		}, nil
	}

	return market.RawQuote{
		SourceID:  brsapiID,
		Values:    values,
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

// decodeBRSAPI accepts both the bare object and the single-element array
// wrapping the API is known to use.
func decodeBRSAPI(body []byte) (brsapiResponse, error) {
	var resp brsapiResponse
	if err := json.Unmarshal(body, &resp); err == nil && (len(resp.Gold) > 0 || len(resp.Currency) > 0) {
		return resp, nil
	}
	var wrapped []brsapiResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return brsapiResponse{}, err
	}
	if len(wrapped) == 0 {
		return brsapiResponse{}, errors.New("empty brsapi response array")
	}
	return wrapped[0], nil
}

func brsapiPrice(items []brsapiItem, symbol string) (decimal.Decimal, bool) {
	for _, item := range items {
		if item.Symbol != symbol {
			continue
		}
		var text string
		if err := json.Unmarshal(item.Price, &text); err != nil {
			var num float64
			if json.Unmarshal(item.Price, &num) != nil {
				return decimal.Decimal{}, false
			}
			text = decimal.NewFromFloat(num).String()
		}
		return parsePrice(text)
	}
	return decimal.Decimal{}, false
}

var _ Source = (*BRSAPI)(nil)
