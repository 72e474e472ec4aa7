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

const navasanID = "navasan"

// NavasanOptions parameterise the api.navasan.tech client.
type NavasanOptions struct {
	BaseURL   string
	APIKey    string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Navasan is the last REST fallback for the Iranian basket. The API
// returns a keyed map of {"value": "..."} objects.
type Navasan struct {
	opts   NavasanOptions
	logger zerolog.Logger
	client *http.Client
}

// NewNavasan constructs the navasan source.
func NewNavasan(opts NavasanOptions, logger zerolog.Logger) *Navasan {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://api.navasan.tech/latest/"
	}
	return &Navasan{
		opts:   opts,
		logger: logger.With().Str("component", "source_navasan").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (n *Navasan) ID() string         { return navasanID }
func (n *Navasan) TTL() time.Duration { return n.opts.TTL }

// Fetch retrieves usd, eur and 18ayar values in Toman.
func (n *Navasan) Fetch(ctx context.Context) (market.RawQuote, error) {
	if n.opts.APIKey == "" {
		return market.RawQuote{}, market.NewFetchError(navasanID, market.ErrUnavailable,
			errors.New("api key not configured"))
	}

	body, err := httpGet(ctx, n.client, navasanID,
		fmt.Sprintf("%s?api_key=%s", n.opts.BaseURL, n.opts.APIKey), n.opts.UserAgent)
	if err != nil {
		return market.RawQuote{}, err
	}

	var payload map[string]struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return market.RawQuote{}, market.NewFetchError(navasanID, market.ErrParse, err)
	}

	values := make(map[market.Instrument]decimal.Decimal)
	for inst, key := range map[market.Instrument]string{
		market.InstrumentUSDToman:  "usd",
		market.InstrumentEURToman:  "eur",
		market.InstrumentGoldToman: "18ayar",
	} {
		node, ok := payload[key]
		if !ok || node.Value == "" || node.Value == "NOT_FOUND" {
			continue
		}
		if v, ok := parsePrice(node.Value); ok {
			values[inst] = v
		}
	}

	if len(values) == 0 {
		return market.RawQuote{
			SourceID:  navasanID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("no usable keys in navasan payload"),
		}, nil
	}

	return market.RawQuote{
		SourceID:  navasanID,
		Values:    values,
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

var _ Source = (*Navasan)(nil)
