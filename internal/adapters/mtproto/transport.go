package mtproto

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"tg-event-linker/internal/domain"
)

// ErrNotAuthorized возвращается, когда файл сессии не даёт авторизации.
var ErrNotAuthorized = errors.New("сессия MTProto не авторизована")

// ErrChannelNotConfigured возвращается для вида канала без алиаса в конфиге.
var ErrChannelNotConfigured = errors.New("канал не настроен")

var aliasRegex = regexp.MustCompile(`(?i)^(?:@|https?://t\.me/|t\.me/)?([a-z0-9_]{5,})$`)

const historyPageSize = 100

// Transport реализует domain.ChannelTransport через gotd.
type Transport struct {
	client   *telegram.Client
	log      zerolog.Logger
	channels map[domain.ChannelKind]string
}

var _ domain.ChannelTransport = (*Transport)(nil)

// NewTransport создаёт MTProto клиент с файловой сессией.
func NewTransport(apiID int, apiHash string, sessionPath, liveChannel, testChannel string, logger zerolog.Logger) (*Transport, error) {
	channels := make(map[domain.ChannelKind]string, 2)
	for kind, raw := range map[domain.ChannelKind]string{
		domain.ChannelLive: liveChannel,
		domain.ChannelTest: testChannel,
	} {
		if raw == "" {
			continue
		}
		alias, err := parseAlias(raw)
		if err != nil {
			return nil, fmt.Errorf("канал %s: %w", kind, err)
		}
		channels[kind] = alias
	}

	storage := NewFileSession(sessionPath, logger)
	client := telegram.NewClient(apiID, apiHash, telegram.Options{SessionStorage: storage})
	return &Transport{client: client, log: logger, channels: channels}, nil
}

// parseAlias приводит ввод к каноничному алиасу канала.
func parseAlias(input string) (string, error) {
	matches := aliasRegex.FindStringSubmatch(strings.TrimSpace(input))
	if len(matches) < 2 {
		return "", fmt.Errorf("некорректный алиас канала: %q", input)
	}
	return strings.ToLower(matches[1]), nil
}

// FetchMessages выгружает историю канала от новых к старым.
// limit <= 0 означает полную историю.
func (t *Transport) FetchMessages(ctx context.Context, kind domain.ChannelKind, limit int) ([]domain.Message, error) {
	alias, ok := t.channels[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotConfigured, kind)
	}

	var messages []domain.Message
	err := t.client.Run(ctx, func(ctx context.Context) error {
		status, err := t.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("статус авторизации: %w", err)
		}
		if !status.Authorized {
			return ErrNotAuthorized
		}

		api := t.client.API()
		peer, err := t.resolveChannel(ctx, api, alias)
		if err != nil {
			return err
		}

		messages, err = t.fetchHistory(ctx, api, peer, alias, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("выгрузка @%s: %w", alias, err)
	}
	t.log.Debug().Str("channel", alias).Int("messages", len(messages)).Msg("mtproto: история получена")
	return messages, nil
}

func (t *Transport) resolveChannel(ctx context.Context, api *tg.Client, alias string) (*tg.InputPeerChannel, error) {
	resolved, err := api.ContactsResolveUsername(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("резолв @%s: %w", alias, err)
	}
	for _, chat := range resolved.Chats {
		if channel, ok := chat.(*tg.Channel); ok {
			return &tg.InputPeerChannel{ChannelID: channel.ID, AccessHash: channel.AccessHash}, nil
		}
	}
	return nil, fmt.Errorf("@%s не является каналом", alias)
}

func (t *Transport) fetchHistory(ctx context.Context, api *tg.Client, peer *tg.InputPeerChannel, alias string, limit int) ([]domain.Message, error) {
	var messages []domain.Message
	offsetID := 0
	for {
		pageLimit := historyPageSize
		if limit > 0 && limit-len(messages) < pageLimit {
			pageLimit = limit - len(messages)
		}
		if pageLimit <= 0 {
			break
		}

		res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     peer,
			OffsetID: offsetID,
			Limit:    pageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("история @%s: %w", alias, err)
		}
		history, ok := res.(*tg.MessagesChannelMessages)
		if !ok {
			return nil, fmt.Errorf("история @%s: неожиданный ответ %T", alias, res)
		}
		if len(history.Messages) == 0 {
			break
		}

		for _, raw := range history.Messages {
			// Сервисные и пустые сообщения тоже двигают смещение.
			switch msg := raw.(type) {
			case *tg.Message:
				offsetID = msg.ID
				if msg.Message == "" {
					continue
				}
				messages = append(messages, domain.Message{
					ID:       int64(msg.ID),
					Text:     msg.Message,
					PostedAt: time.Unix(int64(msg.Date), 0).UTC(),
					URL:      fmt.Sprintf("https://t.me/%s/%d", alias, msg.ID),
				})
			case *tg.MessageService:
				offsetID = msg.ID
			case *tg.MessageEmpty:
				offsetID = msg.ID
			}
		}

		if limit > 0 && len(messages) >= limit {
			break
		}
		if len(history.Messages) < pageLimit {
			break
		}
	}
	return messages, nil
}
