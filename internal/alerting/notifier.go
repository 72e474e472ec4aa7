package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mrsadri/xRate/internal/market"
)

var hundred = decimal.NewFromInt(100)

// Notifier delivers breach announcements.
type Notifier interface {
	Notify(ctx context.Context, event market.BreachEvent) error
}

// TelegramNotifier pushes breach messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs the Telegram channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends one breach event via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, event market.BreachEvent) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(event),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("instrument", string(event.Instrument)).
		Str("direction", string(event.Direction)).
		Msg("breach alert sent (telegram)")
	return nil
}

func renderMessage(event market.BreachEvent) string {
	arrow := "▲"
	if event.Direction == market.DirectionDown {
		arrow = "▼"
	}

	change := decimal.Zero
	if event.OldValue.IsPositive() {
		change = event.NewValue.Sub(event.OldValue).Div(event.OldValue).Mul(hundred)
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%s %s\n", arrow, instrumentLabel(event.Instrument)))
	builder.WriteString(fmt.Sprintf("Now: %s (was %s)\n", event.NewValue.String(), event.OldValue.String()))
	builder.WriteString(fmt.Sprintf("Change: %s%%\n", change.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("As of: %s UTC\n", event.AsOf.UTC().Format(time.RFC3339)))
	if len(event.Providers) > 0 {
		builder.WriteString(fmt.Sprintf("Sources: %s\n", strings.Join(event.Providers, ", ")))
	}
	return builder.String()
}

func instrumentLabel(inst market.Instrument) string {
	switch inst {
	case market.InstrumentUSDToman:
		return "USD / Toman"
	case market.InstrumentEURToman:
		return "EUR / Toman"
	case market.InstrumentGoldToman:
		return "Gold 18k / Toman"
	case market.InstrumentEURUSD:
		return "EUR / USD"
	case market.InstrumentTetherToman:
		return "USDT / Toman"
	default:
		return string(inst)
	}
}

var _ Notifier = (*TelegramNotifier)(nil)
