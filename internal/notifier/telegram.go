package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	// Offline skips the getMe call at construction.
	Offline bool
}

// Telegram sends plain-text messages to one chat (optionally a forum topic).
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	opt  *tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opt:  &tele.SendOptions{ThreadID: cfg.ThreadID, DisableWebPagePreview: true},
	}, nil
}

// Send posts text. telebot has no context support, so ctx is only checked
// before the call; the HTTP client timeout bounds the call itself.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, chunk := range splitText(text, telegramTextLimit) {
		if _, err := t.bot.Send(t.chat, chunk, t.opt); err != nil {
			return err
		}
	}
	return nil
}

const telegramTextLimit = 4096

// splitText cuts text into chunks of at most limit runes, preferring line
// breaks.
func splitText(text string, limit int) []string {
	r := []rune(text)
	if len(r) <= limit {
		return []string{text}
	}
	var out []string
	for len(r) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
