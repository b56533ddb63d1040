package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"leveraged-backtest-engine/internal/logging"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotifySignal     NotificationType = "signal"
	NotifyTradeOpen  NotificationType = "trade_open"
	NotifyTradeClose NotificationType = "trade_close"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
	NotifyEarlyExit  NotificationType = "early_exit"
)

// Notification represents a notification message. The fields from
// ExecutionID through Suggestions carry the structured early-exit payload; they
// are empty for non-early-exit notification types.
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	PnL        float64
	PnLPercent float64
	Timestamp  time.Time
	Extra      map[string]interface{}

	ExecutionID     string
	Timeframe       string
	Strategy        string
	Stage           string
	Reason          string
	UserMessage     string
	DetailedMessage string
	Suggestions     []string
}

// Notifier interface for different notification providers.
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Deduplicator suppresses repeat early-exit notifications for the same
// (symbol, timeframe, strategy, reason) within a window. See dedup.go for
// the Redis-backed implementation; a nil Deduplicator disables suppression.
type Deduplicator interface {
	ShouldSend(key string) bool
}

// Manager manages multiple notification providers with bounded retry.
type Manager struct {
	notifiers  []Notifier
	enabled    bool
	dedup      Deduplicator
	maxRetries int
	baseDelay  time.Duration
	log        *logging.Logger
}

// NewManager creates a new notification manager. log may be nil.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		notifiers:  make([]Notifier, 0),
		enabled:    true,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		log:        log,
	}
}

// AddNotifier adds a notification provider.
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// SetDeduplicator installs a rate limiter for early-exit notifications.
func (m *Manager) SetDeduplicator(d Deduplicator) {
	m.dedup = d
}

// Send sends a notification to all enabled providers, retrying each
// delivery with exponential backoff. Transport failure is logged and
// dropped after the first attempt plus maxRetries retries; it never
// propagates to caller logic.
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		m.sendWithRetry(n, notification)
	}
	return nil
}

func (m *Manager) sendWithRetry(n Notifier, notification *Notification) {
	delay := m.baseDelay
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		if err := n.Send(notification); err != nil {
			lastErr = err
			continue
		}
		return
	}
	if m.log != nil {
		m.log.Error("notification delivery failed, dropping", "notifier", n.Name(), "error", lastErr)
	}
}

// SendEarlyExit delivers the structured early-exit payload.
// If a Deduplicator is installed and reports the key was recently sent,
// the notification is suppressed.
func (m *Manager) SendEarlyExit(symbol, timeframe, strategy, executionID, stage, reason, userMessage, detailedMessage string, suggestions []string) error {
	if m.dedup != nil {
		key := fmt.Sprintf("%s:%s:%s:%s", symbol, timeframe, strategy, reason)
		if !m.dedup.ShouldSend(key) {
			return nil
		}
	}

	return m.Send(&Notification{
		Type:            NotifyEarlyExit,
		Title:           fmt.Sprintf("Analysis stopped: %s", symbol),
		Message:         userMessage,
		Symbol:          symbol,
		Timestamp:       time.Now(),
		ExecutionID:     executionID,
		Timeframe:       timeframe,
		Strategy:        strategy,
		Stage:           stage,
		Reason:          reason,
		UserMessage:     userMessage,
		DetailedMessage: detailedMessage,
		Suggestions:     suggestions,
	})
}

// SendSignal sends a trading signal notification.
func (m *Manager) SendSignal(symbol, side, reason string, price, stopLoss, takeProfit float64) error {
	return m.Send(&Notification{
		Type:      NotifySignal,
		Title:     fmt.Sprintf("Signal: %s", symbol),
		Message:   fmt.Sprintf("%s %s @ %.4f\nSL: %.4f | TP: %.4f\nReason: %s", side, symbol, price, stopLoss, takeProfit, reason),
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"side":        side,
			"stop_loss":   stopLoss,
			"take_profit": takeProfit,
			"reason":      reason,
		},
	})
}

// SendTradeClose sends a trade closed notification.
func (m *Manager) SendTradeClose(symbol string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string) error {
	return m.Send(&Notification{
		Type:       NotifyTradeClose,
		Title:      fmt.Sprintf("Trade Closed: %s", symbol),
		Message:    fmt.Sprintf("Entry: %.4f -> Exit: %.4f\nP&L: %.4f (%.2f%%)\nReason: %s", entryPrice, exitPrice, pnl, pnlPercent, reason),
		Symbol:     symbol,
		Price:      exitPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Timestamp:  time.Now(),
	})
}

// SendError sends an error notification.
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram.
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier.
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) IsEnabled() bool { return t.enabled }

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)
	if notification.Type == NotifyEarlyExit {
		message += fmt.Sprintf("\n\nstage: %s\nreason: %s", notification.Stage, notification.Reason)
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("telegram API rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration.
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier.
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) IsEnabled() bool { return d.enabled }

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x2ECC71
	if notification.Type == NotifyError || notification.Type == NotifyEarlyExit {
		color = 0xE74C3C
	} else if notification.Type == NotifyTradeClose && notification.PnL < 0 {
		color = 0xE74C3C
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	var fields []map[string]interface{}
	if notification.Symbol != "" {
		fields = append(fields, map[string]interface{}{"name": "Symbol", "value": notification.Symbol, "inline": true})
	}
	if notification.Type == NotifyEarlyExit {
		fields = append(fields,
			map[string]interface{}{"name": "Stage", "value": notification.Stage, "inline": true},
			map[string]interface{}{"name": "Reason", "value": notification.Reason, "inline": true},
			map[string]interface{}{"name": "Execution", "value": notification.ExecutionID, "inline": false},
		)
		if notification.DetailedMessage != "" {
			fields = append(fields, map[string]interface{}{"name": "Detail", "value": notification.DetailedMessage, "inline": false})
		}
	} else {
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{"name": "Price", "value": fmt.Sprintf("%.4f", notification.Price), "inline": true})
		}
		if notification.PnL != 0 {
			fields = append(fields, map[string]interface{}{"name": "P&L", "value": fmt.Sprintf("%.4f (%.2f%%)", notification.PnL, notification.PnLPercent), "inline": true})
		}
	}
	if len(fields) > 0 {
		embed["fields"] = fields
	}

	payload := map[string]interface{}{"embeds": []map[string]interface{}{embed}}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("discord webhook rate limited (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}
	return nil
}
