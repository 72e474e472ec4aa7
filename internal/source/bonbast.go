package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const bonbastID = "bonbast"

var bonbastParamPattern = regexp.MustCompile(`param\s*:\s*"([^"]+)"`)

// BonbastOptions parameterise the bonbast.com scraper.
type BonbastOptions struct {
	BaseURL   string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Bonbast scrapes bonbast.com through the site's own JSON endpoint:
// GET the homepage, extract the session param, POST it to /json.
type Bonbast struct {
	opts   BonbastOptions
	logger zerolog.Logger
	client *http.Client

	// The param survives several requests; cache it and refresh once on
	// rejection instead of loading the homepage every fetch.
	paramMu sync.Mutex
	param   string
}

// NewBonbast constructs the bonbast scraper source.
func NewBonbast(opts BonbastOptions, logger zerolog.Logger) *Bonbast {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://bonbast.com"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Bonbast{
		opts:   opts,
		logger: logger.With().Str("component", "source_bonbast").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (b *Bonbast) ID() string         { return bonbastID }
func (b *Bonbast) TTL() time.Duration { return b.opts.TTL }

// Fetch retrieves USD, EUR and 18k gold sell prices in Toman.
func (b *Bonbast) Fetch(ctx context.Context) (market.RawQuote, error) {
	body, err := b.postJSON(ctx, false)
	if err != nil {
		// Param may have expired; refresh once and retry.
		body, err = b.postJSON(ctx, true)
		if err != nil {
			return market.RawQuote{}, err
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return market.RawQuote{}, market.NewFetchError(bonbastID, market.ErrParse, err)
	}

	values := make(map[market.Instrument]decimal.Decimal)
	for inst, key := range map[market.Instrument]string{
		market.InstrumentUSDToman:  "usd1",
		market.InstrumentEURToman:  "eur1",
		market.InstrumentGoldToman: "gol18",
	} {
		node, ok := raw[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(node, &text); err != nil {
			// Some deployments return numbers instead of strings.
			var num float64
			if json.Unmarshal(node, &num) != nil {
				continue
			}
			text = decimal.NewFromFloat(num).String()
		}
		if v, ok := parsePrice(text); ok {
			values[inst] = v
		}
	}

	if len(values) == 0 {
		return market.RawQuote{
			SourceID:  bonbastID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("no prices in bonbast payload"),
		}, nil
	}

	return market.RawQuote{
		SourceID:  bonbastID,
		Values:    values,
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

func (b *Bonbast) postJSON(ctx context.Context, refresh bool) ([]byte, error) {
	param, err := b.getParam(ctx, refresh)
	if err != nil {
		return nil, err
	}
	return httpPostForm(ctx, b.client, bonbastID, b.opts.BaseURL+"/json",
		url.Values{"param": {param}}, b.opts.UserAgent)
}

func (b *Bonbast) getParam(ctx context.Context, refresh bool) (string, error) {
	b.paramMu.Lock()
	defer b.paramMu.Unlock()

	if b.param != "" && !refresh {
		return b.param, nil
	}

	html, err := httpGet(ctx, b.client, bonbastID, b.opts.BaseURL+"/", b.opts.UserAgent)
	if err != nil {
		return "", err
	}
	m := bonbastParamPattern.FindSubmatch(html)
	if m == nil {
		return "", market.NewFetchError(bonbastID, market.ErrParse,
			fmt.Errorf("param not found in homepage"))
	}
	b.param = string(m[1])
	return b.param, nil
}

var _ Source = (*Bonbast)(nil)
