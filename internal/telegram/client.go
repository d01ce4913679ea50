// Package telegram provides a client for sending run notifications via the
// Telegram Bot API. It formats estimator run summaries and failures into
// MarkdownV2 messages and delivers them with retry logic.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/clickjudge/internal/models"
)

// sender is the subset of the bot API used by Client.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// RunSummary describes a finished estimator run.
type RunSummary struct {
	Dataset         string
	SetID           string
	Prior           models.PriorParams
	Events          int
	Pairs           int
	Judgments       int
	Rejected        int
	DroppedContexts int
	Elapsed         time.Duration
	Top             []models.Judgment
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
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

// SendRunSummary sends the summary of a successful run
func (c *Client) SendRunSummary(s RunSummary) error {
	return c.send(formatRunSummary(s))
}

// SendFailure sends a notification that the run of dataset failed
func (c *Client) SendFailure(dataset string, runErr error, elapsed time.Duration) error {
	message := fmt.Sprintf("❌ *Judgment run failed*\n\n📂 Dataset: %s\n⏱ After: %s\n\n`%s`\n",
		escapeMarkdownV2(dataset),
		escapeMarkdownV2(formatDuration(elapsed)),
		escapeCode(runErr.Error()))
	return c.send(message)
}

func (c *Client) send(message string) error {
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatRunSummary formats a run summary into a Telegram message
func formatRunSummary(s RunSummary) string {
	var b strings.Builder

	b.WriteString("✅ *Judgment run finished*\n\n")
	fmt.Fprintf(&b, "📂 Dataset: %s\n", escapeMarkdownV2(s.Dataset))
	if s.SetID != "" {
		fmt.Fprintf(&b, "🆔 Set: `%s`\n", escapeCode(s.SetID))
	}
	fmt.Fprintf(&b, "⏱ Took: %s\n\n", escapeMarkdownV2(formatDuration(s.Elapsed)))

	fmt.Fprintf(&b, "Events: %d, pairs: %d\n", s.Events, s.Pairs)
	fmt.Fprintf(&b, "Judgments: *%d*, rejected: %d, dropped contexts: %d\n", s.Judgments, s.Rejected, s.DroppedContexts)
	fmt.Fprintf(&b, "Prior: μ %s, σ² %s\n",
		escapeMarkdownV2(strconv.FormatFloat(s.Prior.Mu, 'f', 4, 64)),
		escapeMarkdownV2(strconv.FormatFloat(s.Prior.Sigma2, 'g', 4, 64)))

	if len(s.Top) > 0 {
		b.WriteString("\n*Top judgments*\n")
	}
	for i, j := range s.Top {
		directionEmoji := "📈"
		if j.LogJudgment < 0 {
			directionEmoji = "📉"
		}
		fmt.Fprintf(&b, "%d\\. %s → %s\n", i+1, escapeMarkdownV2(j.Query), escapeMarkdownV2(j.Document))
		fmt.Fprintf(&b, "   %s log judgment *%s* \\(%d/%d clicks\\)\n",
			directionEmoji,
			escapeMarkdownV2(strconv.FormatFloat(j.LogJudgment, 'f', 3, 64)),
			j.Clicks, j.Views)
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! \
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// escapeCode escapes text placed inside a MarkdownV2 code span
func escapeCode(text string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(text)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if hours := int(d.Hours()); hours >= 1 {
		return fmt.Sprintf("%dh", hours)
	}
	if mins := int(d.Minutes()); mins >= 1 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
