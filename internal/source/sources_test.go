package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrsadri/xRate/internal/market"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestBRSAPIFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			t.Fatalf("expected key query param, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"gold": [{"symbol": "IR_GOLD_18K", "price": "4,250,000"}],
			"currency": [
				{"symbol": "USD", "price": 98500},
				{"symbol": "EUR", "price": "107,100"}
			]
		}`)
	}))
	defer srv.Close()

	src := NewBRSAPI(BRSAPIOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !quote.OK {
		t.Fatalf("expected OK quote, err=%v", quote.Err)
	}

	if v, ok := quote.Value(market.InstrumentUSDToman); !ok || v.String() != "98500" {
		t.Fatalf("usd = %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentEURToman); !ok || v.String() != "107100" {
		t.Fatalf("eur = %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentGoldToman); !ok || v.String() != "4250000" {
		t.Fatalf("gold = %v (ok=%v)", v, ok)
	}
	// 107100 / 98500 rounded to 6 places.
	if v, ok := quote.Value(market.InstrumentEURUSD); !ok || v.String() != "1.087310" && v.String() != "1.08731" {
		t.Fatalf("eurusd = %v (ok=%v)", v, ok)
	}
}

func TestBRSAPIFetchArrayWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"currency": [{"symbol": "USD", "price": "98500"}]}]`)
	}))
	defer srv.Close()

	src := NewBRSAPI(BRSAPIOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, ok := quote.Value(market.InstrumentUSDToman); !ok || v.String() != "98500" {
		t.Fatalf("usd = %v (ok=%v)", v, ok)
	}
}

func TestBRSAPIFetchWithoutKey(t *testing.T) {
	src := NewBRSAPI(BRSAPIOptions{TTL: time.Minute}, noopLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("missing api key should error")
	}
}

func TestNavasanFetchSkipsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"usd": {"value": "98,500"},
			"eur": {"value": "NOT_FOUND"},
			"18ayar": {"value": "4250000"}
		}`)
	}))
	defer srv.Close()

	src := NewNavasan(NavasanOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !quote.OK {
		t.Fatalf("expected OK quote, err=%v", quote.Err)
	}
	if _, ok := quote.Value(market.InstrumentEURToman); ok {
		t.Fatal("NOT_FOUND entries must not produce a value")
	}
	if v, ok := quote.Value(market.InstrumentGoldToman); !ok || v.String() != "4250000" {
		t.Fatalf("gold = %v (ok=%v)", v, ok)
	}
}

func TestNavasanFetchAllMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"usd": {"value": "NOT_FOUND"}}`)
	}))
	defer srv.Close()

	src := NewNavasan(NavasanOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if quote.OK {
		t.Fatal("expected OK=false when no key is usable")
	}
}

func TestWallexFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {"symbols": {
			"USDTTMN": {"stats": {"lastPrice": "99,850", "24h_ch": "-0.42"}},
			"BTCTMN":  {"stats": {"lastPrice": "1", "24h_ch": "0"}}
		}}}`)
	}))
	defer srv.Close()

	src := NewWallex(WallexOptions{BaseURL: srv.URL, TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, ok := quote.Value(market.InstrumentTetherToman); !ok || v.String() != "99850" {
		t.Fatalf("tether = %v (ok=%v)", v, ok)
	}
}

func TestWallexFetchSymbolMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result": {"symbols": {}}}`)
	}))
	defer srv.Close()

	src := NewWallex(WallexOptions{BaseURL: srv.URL, TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if quote.OK {
		t.Fatal("missing USDTTMN should yield OK=false")
	}
}

func TestFastForexFetchInvertsRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base": "USD", "results": {"EUR": 0.92}}`)
	}))
	defer srv.Close()

	src := NewFastForex(FastForexOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	v, ok := quote.Value(market.InstrumentEURUSD)
	if !ok {
		t.Fatal("expected eurusd value")
	}
	// 1 / 0.92 rounded to 6 places.
	if v.String() != "1.086957" {
		t.Fatalf("eurusd = %s, want 1.086957", v.String())
	}
}

func TestFastForexFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := NewFastForex(FastForexOptions{BaseURL: srv.URL, APIKey: "k", TTL: time.Minute, Timeout: time.Second}, noopLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatal("HTTP 403 should return an error")
	} else if market.KindOf(err) != market.ErrUnavailable {
		t.Fatalf("expected unavailable kind, got %v", err)
	}
}

func TestAlanchandFetchParsesRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><table>
			<tr><td>دلار آمریکا</td><td>۹۸,۵۰۰</td></tr>
			<tr><td>یورو</td><td>107,100</td></tr>
			<tr><td>گرم طلای 18</td><td>4,250,000</td></tr>
			<tr><td>دلار آمریکا</td><td>1</td></tr>
		</table></html>`)
	}))
	defer srv.Close()

	src := NewAlanchand(AlanchandOptions{BaseURL: srv.URL, TTL: time.Minute, Timeout: time.Second}, noopLogger())
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, ok := quote.Value(market.InstrumentUSDToman); !ok || v.String() != "98500" {
		t.Fatalf("first USD row should win: %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentEURToman); !ok || v.String() != "107100" {
		t.Fatalf("eur = %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentGoldToman); !ok || v.String() != "4250000" {
		t.Fatalf("gold = %v (ok=%v)", v, ok)
	}
}

func TestBonbastFetchFullFlow(t *testing.T) {
	var homepageHits, jsonHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			homepageHits++
			fmt.Fprint(w, `<script>$.post('/json', { param: "secret-token" })</script>`)
		case r.Method == http.MethodPost && r.URL.Path == "/json":
			jsonHits++
			if err := r.ParseForm(); err != nil || r.PostForm.Get("param") != "secret-token" {
				t.Fatalf("expected scraped param in POST form, got %v", r.PostForm)
			}
			fmt.Fprint(w, `{"usd1": "98500", "eur1": 107100, "gol18": "4,250,000"}`)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	src := NewBonbast(BonbastOptions{BaseURL: srv.URL, TTL: time.Minute, Timeout: time.Second}, noopLogger())

	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if v, ok := quote.Value(market.InstrumentUSDToman); !ok || v.String() != "98500" {
		t.Fatalf("usd = %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentEURToman); !ok || v.String() != "107100" {
		t.Fatalf("numeric eur1 = %v (ok=%v)", v, ok)
	}
	if v, ok := quote.Value(market.InstrumentGoldToman); !ok || v.String() != "4250000" {
		t.Fatalf("gold = %v (ok=%v)", v, ok)
	}

	// Second fetch reuses the cached param: no extra homepage hit.
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if homepageHits != 1 {
		t.Fatalf("param should be cached across fetches, homepage hit %d times", homepageHits)
	}
	if jsonHits != 2 {
		t.Fatalf("expected 2 json posts, got %d", jsonHits)
	}
}
