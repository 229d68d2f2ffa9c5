// Package notify posts one completion ping per finished request to the
// configured channels. Both channels are optional; send failures are
// logged and never surfaced to the request that triggered them.
package notify

import (
	"context"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/slack-go/slack"

	"github.com/officestack/docpatch/pkg/config"
	"github.com/officestack/docpatch/pkg/logger"
)

const component = "notify"

// Telegram caps messages at 4096 runes; chunks stay below that so a
// trimmed boundary never pushes a chunk over the limit.
const telegramChunkRunes = 3900

var (
	postSlackWebhook = slack.PostWebhookContext

	sendTelegram = func(ctx context.Context, bot *telego.Bot, params *telego.SendMessageParams) error {
		_, err := bot.SendMessage(ctx, params)
		return err
	}
)

// Notifier fans a terminal-result message out to a Slack incoming
// webhook and/or a Telegram chat. The zero value is a no-op.
type Notifier struct {
	webhookURL string
	bot        *telego.Bot
	chatID     int64
}

// New builds a notifier from config. A Telegram token that fails bot
// construction disables that channel instead of blocking startup.
func New(cfg config.NotifyConfig) *Notifier {
	n := &Notifier{
		webhookURL: strings.TrimSpace(cfg.SlackWebhookURL),
		chatID:     cfg.TelegramChatID,
	}

	token := strings.TrimSpace(cfg.TelegramToken)
	if token != "" && cfg.TelegramChatID != 0 {
		bot, err := telego.NewBot(token, telego.WithDiscardLogger())
		if err != nil {
			logger.WarnCF(component, "Telegram notifier disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			n.bot = bot
		}
	}

	return n
}

// Enabled reports whether at least one channel is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && (n.webhookURL != "" || n.bot != nil)
}

// Result sends text to every configured channel.
func (n *Notifier) Result(ctx context.Context, text string) {
	if !n.Enabled() || strings.TrimSpace(text) == "" {
		return
	}

	if n.webhookURL != "" {
		msg := &slack.WebhookMessage{Text: text}
		if err := postSlackWebhook(ctx, n.webhookURL, msg); err != nil {
			logger.WarnCF(component, "Slack notification failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if n.bot != nil {
		if err := n.sendTelegramChunks(ctx, text); err != nil {
			logger.WarnCF(component, "Telegram notification failed", map[string]interface{}{
				"chat_id": n.chatID,
				"error":   err.Error(),
			})
		}
	}
}

func (n *Notifier) sendTelegramChunks(ctx context.Context, text string) error {
	for _, chunk := range splitMessage(text, telegramChunkRunes) {
		if err := sendTelegram(ctx, n.bot, tu.Message(tu.ID(n.chatID), chunk)); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage breaks text into chunks of at most maxRunes runes,
// preferring a newline and then plain whitespace in the back half of
// the window so lines and words stay intact.
func splitMessage(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = telegramChunkRunes
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/maxRunes+1)

	for len(runes) > 0 {
		if len(runes) <= maxRunes {
			if chunk := strings.TrimSpace(string(runes)); chunk != "" {
				chunks = append(chunks, chunk)
			}
			break
		}

		split := bestSplitIndex(runes, maxRunes)
		if chunk := strings.TrimSpace(string(runes[:split])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[split:]
	}

	return chunks
}

func bestSplitIndex(runes []rune, maxRunes int) int {
	if len(runes) <= maxRunes {
		return len(runes)
	}

	minSearch := maxRunes / 2

	for i := maxRunes; i >= minSearch; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := maxRunes; i >= minSearch; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\t' {
			return i
		}
	}

	return maxRunes
}
