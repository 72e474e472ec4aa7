package source

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

const alanchandID = "alanchand"

var (
	alanchandRowPattern = regexp.MustCompile(`(?s)<tr[^>]*>(.*?)</tr>`)
	alanchandTagPattern = regexp.MustCompile(`<[^>]+>`)

	alanchandUSDLabel  = regexp.MustCompile(`(?i)دلار آمریکا|US\s*DOLLAR|USD`)
	alanchandEURLabel  = regexp.MustCompile(`(?i)یورو|EURO|EUR`)
	alanchandGoldLabel = regexp.MustCompile(`(?i)گرم طلای?\s*18|طلای 18 عیار|GOLD\s*GRAM`)
)

// AlanchandOptions parameterise the alanchand.com scraper.
type AlanchandOptions struct {
	BaseURL   string
	TTL       time.Duration
	Timeout   time.Duration
	UserAgent string
}

// Alanchand scrapes price rows out of the alanchand.com HTML tables. It
// is the second crawler in the Iranian chain, with a TTL offset from
// bonbast so the two sites are never hit in lockstep.
type Alanchand struct {
	opts   AlanchandOptions
	logger zerolog.Logger
	client *http.Client
}

// NewAlanchand constructs the alanchand scraper source.
func NewAlanchand(opts AlanchandOptions, logger zerolog.Logger) *Alanchand {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://alanchand.com/"
	}
	return &Alanchand{
		opts:   opts,
		logger: logger.With().Str("component", "source_alanchand").Logger(),
		client: newHTTPClient(opts.Timeout),
	}
}

func (a *Alanchand) ID() string         { return alanchandID }
func (a *Alanchand) TTL() time.Duration { return a.opts.TTL }

// Fetch retrieves USD, EUR and 18k gold sell prices in Toman.
func (a *Alanchand) Fetch(ctx context.Context) (market.RawQuote, error) {
	html, err := httpGet(ctx, a.client, alanchandID, a.opts.BaseURL, a.opts.UserAgent)
	if err != nil {
		return market.RawQuote{}, err
	}

	values := make(map[market.Instrument]decimal.Decimal)
	for _, row := range alanchandRowPattern.FindAllString(string(html), -1) {
		text := alanchandTagPattern.ReplaceAllString(row, " ")
		switch {
		case alanchandUSDLabel.MatchString(text):
			setFirst(values, market.InstrumentUSDToman, text)
		case alanchandEURLabel.MatchString(text):
			setFirst(values, market.InstrumentEURToman, text)
		case alanchandGoldLabel.MatchString(text):
			setFirst(values, market.InstrumentGoldToman, text)
		}
	}

	if len(values) == 0 {
		return market.RawQuote{
			SourceID:  alanchandID,
			FetchedAt: time.Now().UTC(),
			Err:       errors.New("no price rows recognised in alanchand page"),
		}, nil
	}

	return market.RawQuote{
		SourceID:  alanchandID,
		Values:    values,
		FetchedAt: time.Now().UTC(),
		OK:        true,
	}, nil
}

// setFirst records the first parseable price for an instrument; later
// rows matching the same label (cross rates, history tables) are ignored.
func setFirst(values map[market.Instrument]decimal.Decimal, inst market.Instrument, text string) {
	if _, exists := values[inst]; exists {
		return
	}
	if v, ok := parsePrice(text); ok {
		values[inst] = v
	}
}

var _ Source = (*Alanchand)(nil)
