// Файл: internal/handlers/message_handler.go

package handlers

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"flowbot/internal/authoring"
	"flowbot/internal/constants"
	"flowbot/internal/db"
	"flowbot/internal/delivery"
	"flowbot/internal/logger"
	"flowbot/internal/utils"
)

const helpText = `Команды:
/start - получить поток по умолчанию
/admin - меню управления потоками
/cancel - отменить текущий черновик шага`

// HandleMessage обрабатывает входящие сообщения от Telegram.
func (bh *BotHandler) HandleMessage(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil {
		return
	}
	chatID := message.Chat.ID
	logger.Debug("HandleMessage: входящее сообщение",
		zap.Int64("chat_id", chatID), zap.Int("message_id", message.MessageID),
		zap.Bool("photo", message.Photo != nil), zap.Bool("video", message.Video != nil),
		zap.Bool("video_note", message.VideoNote != nil), zap.Bool("document", message.Document != nil))

	if message.IsCommand() {
		bh.handleCommand(ctx, message)
		return
	}
	if !bh.isOperator(chatID) {
		// Recipients talk to the bot only through /start
		return
	}

	if _, ok := bh.Deps.SessionManager.Get(chatID); !ok {
		bh.sendMessage(chatID, "Откройте меню управления потоками: /admin")
		return
	}

	var ev authoring.Event
	if fileID, kind, size, ok := utils.MessageMedia(message); ok {
		ev = authoring.Media{Upload: authoring.Upload{FileID: fileID, Kind: kind, Size: size}}
	} else {
		ev = authoring.Text{Text: strings.TrimSpace(message.Text)}
	}
	bh.dispatchAuthoring(ctx, chatID, 0, ev)
}

func (bh *BotHandler) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	switch message.Command() {
	case constants.CMD_START:
		bh.handleStart(ctx, chatID, message.CommandArguments())
	case constants.CMD_ADMIN:
		if !bh.isOperator(chatID) {
			logger.Warn("HandleMessage: /admin от постороннего", zap.Int64("chat_id", chatID))
			bh.sendMessage(chatID, "⛔ Команда доступна только администраторам.")
			return
		}
		bh.SendAdminMenu(ctx, chatID, 0)
	case constants.CMD_CANCEL:
		if !bh.isOperator(chatID) {
			return
		}
		if _, ok := bh.Deps.SessionManager.Get(chatID); !ok {
			bh.sendMessage(chatID, "Нечего отменять.")
			return
		}
		bh.dispatchAuthoring(ctx, chatID, 0, authoring.Cancel{})
	case constants.CMD_HELP:
		bh.sendMessage(chatID, helpText)
	default:
		logger.Debug("HandleMessage: неизвестная команда", zap.String("command", message.Command()), zap.Int64("chat_id", chatID))
		bh.sendMessage(chatID, "Неизвестная команда. /help")
	}
}

// handleStart проигрывает поток получателю: конкретный (flow_<id>) или поток по умолчанию.
func (bh *BotHandler) handleStart(ctx context.Context, chatID int64, payload string) {
	var (
		report delivery.Report
		err    error
	)
	flowID, specific := utils.ParseStartPayload(payload)
	if specific {
		report, err = bh.Deps.Delivery.DeliverActive(ctx, chatID, flowID)
	} else {
		report, err = bh.Deps.Delivery.DeliverDefault(ctx, chatID)
	}

	switch {
	case err == nil:
		if failures := report.Failures(); len(failures) > 0 {
			logger.Warn("handleStart: поток доставлен не полностью",
				zap.Int64("chat_id", chatID), zap.Int64("flow_id", report.FlowID), zap.Int("failed", len(failures)))
		}
	case errors.Is(err, db.ErrNotFound) && !specific:
		bh.sendMessage(chatID, bh.Deps.Config.WelcomeText)
	default:
		logger.Warn("handleStart: поток не доставлен", zap.Int64("chat_id", chatID), zap.String("payload", payload), zap.Error(err))
		bh.sendMessage(chatID, "⚠️ Этот поток сейчас недоступен.")
	}
}

// dispatchAuthoring передает событие редактору и показывает ответ.
func (bh *BotHandler) dispatchAuthoring(ctx context.Context, chatID int64, messageID int, ev authoring.Event) {
	reply, err := bh.Deps.Authoring.Handle(ctx, chatID, ev)
	if err != nil && !errors.Is(err, authoring.ErrNoSession) {
		logger.Error("dispatchAuthoring: ошибка обработки события", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	bh.renderReply(chatID, messageID, reply)
}
