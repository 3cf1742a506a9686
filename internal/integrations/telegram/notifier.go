// Package telegram sends plain-text alerts to one chat.
package telegram

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	api    sender
	chatID int64
}

func New(token string, chatID int64) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is required")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	slog.Info("telegram bot authorized", "account", api.Self.UserName)
	return newWithSender(api, chatID), nil
}

func newWithSender(s sender, chatID int64) *Notifier {
	return &Notifier{api: s, chatID: chatID}
}

// Notify sends text to the configured chat. The bot API has no context
// support; ctx is only checked before sending.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		return errors.Wrap(err, "telegram send")
	}
	return nil
}
