package telegram_api

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/media"
	"flowbot/internal/models"
)

// ButtonsKeyboard строит inline-клавиатуру шага: одна кнопка в строке.
// Возвращает nil, если кнопок нет.
func ButtonsKeyboard(buttons []models.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range buttons {
		var btn tgbotapi.InlineKeyboardButton
		if b.Kind == models.ButtonCallback {
			btn = tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Target)
		} else {
			btn = tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.Target)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(btn))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}

// fileData превращает медиа шага в данные запроса: file_id или байты.
func fileData(p models.MediaPayload) (tgbotapi.RequestFileData, error) {
	switch {
	case p.FileID != "":
		return tgbotapi.FileID(p.FileID), nil
	case len(p.Data) > 0:
		name := p.Name
		if name == "" {
			name = "file.bin"
		}
		return tgbotapi.FileBytes{Name: name, Bytes: p.Data}, nil
	}
	return nil, fmt.Errorf("медиа не задано")
}

// SendText отправляет текст шага с кнопками.
func (bc *BotClient) SendText(ctx context.Context, chatID int64, text string, buttons []models.Button) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if kb := ButtonsKeyboard(buttons); kb != nil {
		msg.ReplyMarkup = kb
	}
	_, err := bc.send(ctx, msg)
	return err
}

// SendPhoto отправляет фото с подписью и кнопками.
func (bc *BotClient) SendPhoto(ctx context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error {
	file, err := fileData(p)
	if err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, file)
	photo.Caption = caption
	if kb := ButtonsKeyboard(buttons); kb != nil {
		photo.ReplyMarkup = kb
	}
	_, err = bc.send(ctx, photo)
	return err
}

// SendVideo отправляет обычное видео с подписью и кнопками.
func (bc *BotClient) SendVideo(ctx context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error {
	file, err := fileData(p)
	if err != nil {
		return err
	}
	video := tgbotapi.NewVideo(chatID, file)
	video.Caption = caption
	if kb := ButtonsKeyboard(buttons); kb != nil {
		video.ReplyMarkup = kb
	}
	_, err = bc.send(ctx, video)
	return err
}

// SendVideoNote отправляет круглое видео. Подписи у кружка не бывает.
// Возвращает file_id кружка для повторных отправок.
func (bc *BotClient) SendVideoNote(ctx context.Context, chatID int64, p models.MediaPayload) (string, error) {
	file, err := fileData(p)
	if err != nil {
		return "", err
	}
	msg, err := bc.send(ctx, tgbotapi.NewVideoNote(chatID, media.RoundVideoSide, file))
	if err != nil {
		return "", err
	}
	if msg.VideoNote == nil {
		return "", nil
	}
	return msg.VideoNote.FileID, nil
}

// SendDocument отправляет файл (например, отчет .xlsx).
func (bc *BotClient) SendDocument(ctx context.Context, chatID int64, p models.MediaPayload, caption string) error {
	file, err := fileData(p)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(chatID, file)
	doc.Caption = caption
	_, err = bc.send(ctx, doc)
	return err
}

// SendOrEditMessage пытается отредактировать существующее сообщение или отправляет новое.
// Если редактирование не удалось из-за "message is not modified", возвращает
// Message с ID оригинального сообщения и nil в качестве ошибки.
func SendOrEditMessage(
	botClient *BotClient,
	chatID int64,
	messageIDToTryEdit int,
	text string,
	keyboard *tgbotapi.InlineKeyboardMarkup,
	parseMode string,
) (tgbotapi.Message, error) {
	if botClient == nil || botClient.api == nil {
		return tgbotapi.Message{}, fmt.Errorf("BotClient не инициализирован")
	}

	if messageIDToTryEdit != 0 {
		var original tgbotapi.Message
		original.Chat.ID = chatID
		original.MessageID = messageIDToTryEdit
		original.Text = text

		var editMsgConfig tgbotapi.EditMessageTextConfig
		if keyboard != nil {
			editMsgConfig = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageIDToTryEdit, text, *keyboard)
		} else {
			editMsgConfig = tgbotapi.NewEditMessageText(chatID, messageIDToTryEdit, text)
		}
		editMsgConfig.ParseMode = parseMode

		_, err := botClient.Request(editMsgConfig)
		if err == nil {
			return original, nil
		}
		if strings.Contains(err.Error(), "message is not modified") {
			return original, nil
		}
		// Message was deleted or is not editable (e.g. media), send a new one
		logger.Debug("SendOrEditMessage: редактирование не удалось, отправляю новое",
			zap.Int64("chat_id", chatID), zap.Int("message_id", messageIDToTryEdit), zap.Error(err))
	}

	newMsg := tgbotapi.NewMessage(chatID, text)
	if keyboard != nil {
		newMsg.ReplyMarkup = keyboard
	}
	newMsg.ParseMode = parseMode

	sent, err := botClient.Send(newMsg)
	if err != nil {
		logger.Error("SendOrEditMessage: ошибка отправки нового сообщения", zap.Int64("chat_id", chatID), zap.Error(err))
		return tgbotapi.Message{}, err
	}
	return sent, nil
}

// AnswerCallback отвечает на нажатие кнопки (убирает "часики").
func AnswerCallback(botClient *BotClient, callbackID, text string) {
	if _, err := botClient.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		logger.Debug("AnswerCallback: ошибка ответа на коллбэк", zap.Error(err))
	}
}

// SendOrEdit - SendOrEditMessage в виде метода; возвращает ID итогового сообщения.
func (bc *BotClient) SendOrEdit(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error) {
	msg, err := SendOrEditMessage(bc, chatID, messageID, text, keyboard, parseMode)
	if err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// AnswerCallbackQuery - AnswerCallback в виде метода.
func (bc *BotClient) AnswerCallbackQuery(callbackID, text string) {
	AnswerCallback(bc, callbackID, text)
}
