package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealsignal/internal/pricing"
)

// Notification carries one deal alert.
type Notification struct {
	ProductID       string
	Name            string
	Signal          pricing.Signal
	CurrentPrice    decimal.Decimal
	OriginalPrice   decimal.Decimal
	DiscountPercent decimal.Decimal
	AllTimeLow      decimal.NullDecimal
	AffiliateURL    string
	CheckedAt       time.Time
	Channels        []string
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with the rendered alert.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("product_id", note.ProductID).
		Str("signal", note.Signal.String()).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("deal alert sent")
	return nil
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier for the "log" channel.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the alert.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().
		Str("product_id", note.ProductID).
		Str("name", note.Name).
		Str("signal", note.Signal.String()).
		Str("current_price", note.CurrentPrice.StringFixed(2)).
		Str("discount_percent", note.DiscountPercent.String()).
		Time("checked_at", note.CheckedAt).
		Msg("deal alert")
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers to all notifiers even when some fail.
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Deal: %s]\n", signalTitle(note.Signal)))
	builder.WriteString(note.Name + "\n")
	builder.WriteString(fmt.Sprintf("Now: $%s (was $%s, -%s%%)\n",
		note.CurrentPrice.StringFixed(2), note.OriginalPrice.StringFixed(2), note.DiscountPercent.String()))
	if note.AllTimeLow.Valid {
		builder.WriteString(fmt.Sprintf("All-time low: $%s\n", note.AllTimeLow.Decimal.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Checked: %s UTC\n", note.CheckedAt.UTC().Format(time.RFC3339)))
	if note.AffiliateURL != "" {
		builder.WriteString(note.AffiliateURL)
	}
	return builder.String()
}

func signalTitle(s pricing.Signal) string {
	switch s {
	case pricing.SignalHistoricalLow:
		return "historical low"
	case pricing.SignalLow90d:
		return "90-day low"
	case pricing.SignalLow30d:
		return "30-day low"
	case pricing.SignalRecentDrop:
		return "price drop"
	default:
		return "discount"
	}
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)
