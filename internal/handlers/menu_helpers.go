package handlers

import (
	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"flowbot/internal/authoring"
	"flowbot/internal/constants"
	"flowbot/internal/logger"
)

// --- Message sending helpers ---

// sendOrEditMessageHelper редактирует сообщение меню или отправляет новое.
func (bh *BotHandler) sendOrEditMessageHelper(
	chatID int64,
	messageIDToTryEdit int,
	text string,
	keyboard *tgbotapi.InlineKeyboardMarkup,
	parseMode string,
) int {
	msgID, err := bh.Deps.BotClient.SendOrEdit(chatID, messageIDToTryEdit, text, keyboard, parseMode)
	if err != nil {
		logger.Error("sendOrEditMessageHelper: ошибка отправки", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return msgID
}

// sendMessage отправляет простое текстовое сообщение без клавиатуры.
func (bh *BotHandler) sendMessage(chatID int64, text string) {
	bh.sendOrEditMessageHelper(chatID, 0, text, nil, "")
}

// sendErrorMessageHelper отправляет сообщение об ошибке с возвратом в меню администратора.
func (bh *BotHandler) sendErrorMessageHelper(chatID int64, messageIDToTryEdit int, errorText string) {
	logger.Info("Отправка сообщения об ошибке.", zap.Int64("chat_id", chatID), zap.String("text", errorText))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(backToAdminRow())
	bh.sendOrEditMessageHelper(chatID, messageIDToTryEdit, errorText, &keyboard, "")
}

func backToAdminRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Меню администратора", constants.CALLBACK_ADMIN_MENU),
	)
}

// replyKeyboard переводит клавиатуру ответа редактора в inline-клавиатуру.
func replyKeyboard(rows [][]authoring.ReplyButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	var markupRows [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		markupRows = append(markupRows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(markupRows...)
	return &kb
}

// renderReply показывает ответ редактора. messageID != 0 - редактировать это сообщение.
func (bh *BotHandler) renderReply(chatID int64, messageID int, r authoring.Reply) {
	parseMode := ""
	if r.Markdown {
		parseMode = tgbotapi.ModeMarkdown
	}
	bh.sendOrEditMessageHelper(chatID, messageID, r.Text, replyKeyboard(r.Keyboard), parseMode)
}
