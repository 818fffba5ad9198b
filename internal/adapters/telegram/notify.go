package telegram

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
	"tg-event-linker/internal/infra/metrics"
	"tg-event-linker/internal/usecase/linker"
)

const messageLimit = 4096

// Sender абстрагирует Bot API для тестов.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier шлёт итоги прогонов администратору через Bot API.
type Notifier struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier создаёт уведомитель.
func NewNotifier(bot Sender, chatID int64, logger zerolog.Logger) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, log: logger}
}

// NotifySummary доставляет итог прогона одним или несколькими сообщениями.
func (n *Notifier) NotifySummary(ctx context.Context, summary domain.RunSummary) error {
	text := linker.FormatSummary(summary)
	for _, part := range SplitMessage(text) {
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			n.log.Error().Err(err).Int64("chat", n.chatID).Msg("notify: отправка итога не удалась")
			return err
		}
	}
	return nil
}

// SplitMessage режет текст на куски в пределах лимита Telegram,
// предпочитая границы строк.
func SplitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + messageLimit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}

		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
