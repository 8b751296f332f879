package telegram

import (
	"encoding/json"
	"strings"

	tele "gopkg.in/telebot.v3"

	"mcq-bot/internal/domain"
)

// DecodeUpdate parses a webhook body. ok is false for update kinds the bot
// does not handle (edits, channel posts, membership changes).
func DecodeUpdate(body []byte) (domain.Update, bool, error) {
	var upd tele.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return domain.Update{}, false, err
	}
	out, ok := ConvertUpdate(upd)
	return out, ok, nil
}

// ConvertUpdate maps a Bot API update onto the domain event.
func ConvertUpdate(upd tele.Update) (domain.Update, bool) {
	switch {
	case upd.Callback != nil:
		cb := convertCallback(upd.Callback)
		return domain.Update{Callback: cb}, cb != nil
	case upd.Message != nil:
		msg := convertMessage(upd.Message)
		return domain.Update{Message: msg}, msg != nil
	}
	return domain.Update{}, false
}

func convertMessage(m *tele.Message) *domain.Message {
	if m.Chat == nil {
		return nil
	}
	out := &domain.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ChatKind: domain.ChatKind(m.Chat.Type),
		Text:     m.Text,
	}
	if m.Sender != nil {
		out.SenderID = m.Sender.ID
		out.SenderName = senderName(m.Sender)
	}
	if m.Document != nil {
		out.Document = &domain.Document{
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			Size:     m.Document.FileSize,
		}
		if out.Text == "" {
			out.Text = m.Caption
		}
	}
	return out
}

func convertCallback(c *tele.Callback) *domain.CallbackQuery {
	if c.Sender == nil {
		return nil
	}
	out := &domain.CallbackQuery{
		ID:         c.ID,
		SenderID:   c.Sender.ID,
		SenderName: senderName(c.Sender),
		Data:       c.Data,
	}
	if c.Message != nil && c.Message.Chat != nil {
		out.ChatID = c.Message.Chat.ID
		out.MessageID = c.Message.ID
	} else {
		out.ChatID = c.Sender.ID
	}
	return out
}

func senderName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	return name
}
