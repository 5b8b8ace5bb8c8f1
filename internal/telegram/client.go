// Package telegram provides a client for pushing move alerts via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/polyterminal/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and
// handles bot commands. It returns immediately; the goroutine stops when
// ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a scan error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendMoves sends the top moves of a cycle. Caller is expected to have
// ranked and truncated the batch already.
func (c *Client) SendMoves(trigger *models.SoundTrigger, moves []models.Move) error {
	return c.sendMarkdownV2(c.formatMessage(trigger, moves))
}

// formatMessage formats a move batch into a Telegram MarkdownV2 message.
func (c *Client) formatMessage(trigger *models.SoundTrigger, moves []models.Move) string {
	message := "🚨 *Notable Price Moves*\n\n"

	if trigger != nil {
		message += fmt.Sprintf("📊 Peak move: %s pts\n\n",
			escapeMarkdownV2(fmt.Sprintf("%.2f", trigger.Magnitude)))
	}

	for i, mv := range moves {
		var titleLink string
		if mv.EventURL != "" {
			titleLink = fmt.Sprintf("[%s](%s)", escapeMarkdownV2(mv.EventTitle), mv.EventURL)
		} else {
			titleLink = escapeMarkdownV2(mv.EventTitle)
		}

		message += fmt.Sprintf("%d\\. %s\n", i+1, titleLink)

		if mv.Question != "" && mv.Question != mv.EventTitle {
			message += fmt.Sprintf("   🎯 %s\n", escapeMarkdownV2(mv.Question))
		}

		directionEmoji := "📈"
		if mv.YesDir == models.DirectionDown {
			directionEmoji = "📉"
		}
		deltaStr := escapeMarkdownV2(fmt.Sprintf("%+.2f", mv.YesDelta))
		yesStr := escapeMarkdownV2(fmt.Sprintf("%.2f%%", mv.Yes))
		message += fmt.Sprintf("   %s YES *%s* \\(now %s\\)\n\n", directionEmoji, deltaStr, yesStr)
	}

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
