package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/utils"
)

// NotificationService delivers operator notifications over the Telegram
// Bot API. When token or chat id are missing it silently disables
// itself.
type NotificationService struct {
	botToken   string
	chatID     string
	enabled    bool
	httpClient *http.Client
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// NewNotificationService creates a new Telegram notification service
func NewNotificationService(botToken, chatID string) *NotificationService {
	return &NotificationService{
		botToken: botToken,
		chatID:   chatID,
		enabled:  botToken != "" && chatID != "",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyManualReview reports a confirmation escalated to MANUAL_REVIEW
func (s *NotificationService) NotifyManualReview(confirmation *domain.ConfirmationState, execution *domain.Execution, reason string) error {
	if !s.enabled {
		return nil
	}

	message := fmt.Sprintf(
		"⚠️ *MANUAL REVIEW REQUIRED*\n\n"+
			"*%s %s %s*\n"+
			"━━━━━━━━━━━━━━━━━\n"+
			"📋 Order: `%s`\n"+
			"🔢 Quantity: `%d`\n"+
			"🔁 Attempts: `%d`\n"+
			"🕒 Time: `%s`\n\n"+
			"💡 Reason: %s",
		execution.Side,
		execution.Symbol,
		execution.Kind,
		confirmation.BrokerOrderID,
		execution.RequestedQuantity,
		confirmation.Attempts,
		utils.GetMarketTime().Format("2006-01-02 15:04:05"),
		reason,
	)

	return s.sendMessage(message)
}

// NotifyExternalExit reports a position reconciled as closed outside
// the engine
func (s *NotificationService) NotifyExternalExit(position *domain.Position, record *domain.ExternalExitRecord) error {
	if !s.enabled {
		return nil
	}

	message := fmt.Sprintf(
		"🔍 *POSITION CLOSED EXTERNALLY*\n\n"+
			"*%s %s*\n"+
			"━━━━━━━━━━━━━━━━━\n"+
			"🔢 Quantity: `%d`\n"+
			"💵 Exit Price: `%.2f`\n"+
			"📈 Realized PnL: `%.2f`\n"+
			"🕒 Detected: `%s`\n\n"+
			"The broker no longer reports this position; it was closed "+
			"outside the engine and has been reconciled.",
		position.Side,
		position.Symbol,
		record.ExitQuantity,
		record.ExitPrice,
		position.RealizedPnL,
		record.DetectedAt.In(utils.GetLocation()).Format("2006-01-02 15:04:05"),
	)

	return s.sendMessage(message)
}

// NotifyPositionClosed reports a position the engine closed itself
func (s *NotificationService) NotifyPositionClosed(position *domain.Position, execution *domain.Execution) error {
	if !s.enabled {
		return nil
	}

	resultEmoji := "🟢"
	if position.RealizedPnL < 0 {
		resultEmoji = "🔴"
	}

	reason := domain.ExitReasonSignal
	if execution.ExitReason != nil {
		reason = *execution.ExitReason
	}

	message := fmt.Sprintf(
		"%s *POSITION CLOSED*\n\n"+
			"*%s %s*\n"+
			"━━━━━━━━━━━━━━━━━\n"+
			"🔢 Quantity: `%d @ %.2f`\n"+
			"📈 Realized PnL: `%.2f`\n"+
			"🏷 Reason: `%s`\n"+
			"🕒 Time: `%s`",
		resultEmoji,
		position.Side,
		position.Symbol,
		execution.ExecutedQuantity,
		execution.ExecutedPrice,
		position.RealizedPnL,
		reason,
		utils.GetMarketTime().Format("2006-01-02 15:04:05"),
	)

	return s.sendMessage(message)
}

// sendMessage sends a message to the configured Telegram chat
func (s *NotificationService) sendMessage(text string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	payload := telegramMessage{
		ChatID:    s.chatID,
		Text:      text,
		ParseMode: "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	resp, err := s.httpClient.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	return nil
}

// Compile-time interface check.
var _ domain.Notifier = (*NotificationService)(nil)
