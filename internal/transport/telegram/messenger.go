// Package telegram adapts the Bot API client to the service's Messenger and
// converts inbound webhook updates into domain events.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"

	"mcq-bot/internal/domain"
)

// maxDownloadBytes bounds uploaded files read into memory.
const maxDownloadBytes = 20 << 20

// Messenger sends and edits messages through the Bot API.
type Messenger struct {
	bot    *tele.Bot
	logger zerolog.Logger
}

// NewBot builds an offline client: updates arrive over the webhook, so no
// poller is started and getMe is not called at construction.
func NewBot(token, apiURL string) (*tele.Bot, error) {
	return tele.NewBot(tele.Settings{
		Token:   token,
		URL:     apiURL,
		Offline: true,
	})
}

func NewMessenger(bot *tele.Bot, logger zerolog.Logger) *Messenger {
	return &Messenger{bot: bot, logger: logger}
}

func (m *Messenger) SendText(ctx context.Context, chatID int64, text string, keyboard [][]domain.Button) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	msg, err := m.bot.Send(tele.ChatID(chatID), text, &tele.SendOptions{
		ReplyMarkup:           markup(keyboard),
		DisableWebPagePreview: true,
	})
	if err != nil {
		m.logger.Warn().Err(err).Int64("chat", chatID).Msg("send message failed")
		return 0, fmt.Errorf("send to %d: %w", chatID, err)
	}
	return msg.ID, nil
}

func (m *Messenger) EditText(ctx context.Context, chatID int64, messageID int, text string, keyboard [][]domain.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	if _, err := m.bot.Edit(stored, text, &tele.SendOptions{ReplyMarkup: markup(keyboard)}); err != nil {
		return fmt.Errorf("edit %d/%d: %w", chatID, messageID, err)
	}
	return nil
}

func (m *Messenger) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp := &tele.CallbackResponse{Text: text, ShowAlert: alert && text != ""}
	if err := m.bot.Respond(&tele.Callback{ID: callbackID}, resp); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// DownloadFile resolves the file path and reads the content.
func (m *Messenger) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := m.bot.FileByID(fileID)
	if err != nil {
		return nil, fmt.Errorf("file metadata %s: %w", fileID, err)
	}
	rc, err := m.bot.File(&file)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileID, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", fileID, maxDownloadBytes)
	}
	return data, nil
}

func (m *Messenger) SendDocument(ctx context.Context, chatID int64, fileName string, content []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(content)),
		FileName: fileName,
		Caption:  caption,
	}
	if _, err := m.bot.Send(tele.ChatID(chatID), doc); err != nil {
		return fmt.Errorf("send document to %d: %w", chatID, err)
	}
	return nil
}

// markup renders button rows as an inline keyboard. Callback data is passed
// through unchanged; no unique prefix is added.
func markup(keyboard [][]domain.Button) *tele.ReplyMarkup {
	if len(keyboard) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(keyboard))
	for _, row := range keyboard {
		if len(row) == 0 {
			continue
		}
		out := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			out = append(out, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, out)
	}
	if len(rows) == 0 {
		return nil
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}
