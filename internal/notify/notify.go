// Package notify pushes short human-readable messages about ledger activity
// to an external channel. Delivery is best effort: failures are logged and
// never affect the operation that triggered them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"loyalty-ledger/internal/events"
)

const (
	defaultBotBaseURL = "https://api.telegram.org"
	defaultTimeout    = 5 * time.Second
)

// Notifier delivers a message somewhere.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// BotConfig configures the chat-bot notifier.
type BotConfig struct {
	BaseURL string
	Token   string
	ChatID  string
	Timeout time.Duration
}

// BotNotifier posts messages to a Telegram-style bot API.
type BotNotifier struct {
	cfg    BotConfig
	client *http.Client
}

// NewBotNotifier returns a notifier for cfg. Token and ChatID are required.
func NewBotNotifier(cfg BotConfig) (*BotNotifier, error) {
	if cfg.Token == "" || cfg.ChatID == "" {
		return nil, errors.New("bot notifier requires token and chat id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBotBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &BotNotifier{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Notify sends one message.
func (b *BotNotifier) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: b.cfg.ChatID, Text: message})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", strings.TrimSuffix(b.cfg.BaseURL, "/"), b.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notification rejected: status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes messages to a logger instead of an external channel.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the message at info level.
func (l *LogNotifier) Notify(ctx context.Context, message string) error {
	l.logger.InfoContext(ctx, "notification", "message", message)
	return nil
}

// Gate drops messages while enabled reports false.
func Gate(n Notifier, enabled func() bool) Notifier {
	return gated{next: n, enabled: enabled}
}

type gated struct {
	next    Notifier
	enabled func() bool
}

func (g gated) Notify(ctx context.Context, message string) error {
	if !g.enabled() {
		return nil
	}
	return g.next.Notify(ctx, message)
}

// Subscribe wires n to the sale and redemption events of bus.
func Subscribe(bus *events.Manager, n Notifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	deliver := func(ctx context.Context, message string) error {
		if err := n.Notify(ctx, message); err != nil {
			logger.Warn("notification not delivered", "error", err)
		}
		return nil
	}

	bus.Subscribe(events.EventSaleRecorded, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.SaleRecordedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		if err := deliver(ctx, SaleMessage(data)); err != nil {
			return err
		}
		if data.Referrer != nil && data.ReferralBonus != nil {
			return deliver(ctx, ReferralMessage(data))
		}
		return nil
	})

	bus.Subscribe(events.EventCashbackRedeemed, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.CashbackRedeemedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		return deliver(ctx, RedemptionMessage(data))
	})
}

// SaleMessage formats the customer-facing sale notice.
func SaleMessage(d events.SaleRecordedData) string {
	return fmt.Sprintf("Hi %s! Your purchase of R$ %s earned R$ %s cashback. Tier: %s. Balance: R$ %s. Purchases so far: %d.",
		displayName(d.Customer.Nickname, d.Customer.Name),
		d.Sale.Amount.StringFixed(2),
		d.Sale.CashbackDelta.StringFixed(2),
		d.Customer.CurrentTier,
		d.Customer.AvailableCashback.StringFixed(2),
		d.PurchaseCount,
	)
}

// ReferralMessage formats the notice sent to a referrer who earned a bonus.
func ReferralMessage(d events.SaleRecordedData) string {
	return fmt.Sprintf("Hi %s! %s made their first purchase and you earned R$ %s referral cashback. Balance: R$ %s.",
		displayName(d.Referrer.Nickname, d.Referrer.Name),
		d.Customer.Name,
		d.ReferralBonus.CashbackDelta.StringFixed(2),
		d.Referrer.AvailableCashback.StringFixed(2),
	)
}

// RedemptionMessage formats the redemption notice.
func RedemptionMessage(d events.CashbackRedeemedData) string {
	return fmt.Sprintf("Hi %s! You redeemed R$ %s cashback. Remaining balance: R$ %s.",
		displayName(d.Customer.Nickname, d.Customer.Name),
		d.Redemption.CashbackDelta.Neg().StringFixed(2),
		d.Customer.AvailableCashback.StringFixed(2),
	)
}

func displayName(nickname, name string) string {
	if nickname != "" {
		return nickname
	}
	return name
}
