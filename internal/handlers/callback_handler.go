package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"flowbot/internal/authoring"
	"flowbot/internal/constants"
	"flowbot/internal/logger"
)

// simpleAuthoringCallbacks - кнопки без параметров, которые превращаются в события редактора.
var simpleAuthoringCallbacks = map[string]authoring.Event{
	constants.CALLBACK_FLOW_CREATE:    authoring.CreateFlow{},
	constants.CALLBACK_FLOW_FINISH:    authoring.Finish{},
	constants.CALLBACK_AUTHOR_CANCEL:  authoring.Cancel{},
	constants.CALLBACK_AUTHOR_RETRY:   authoring.Retry{},
	constants.CALLBACK_CAPTION_SKIP:   authoring.Continue{},
	constants.CALLBACK_CONVERT_ACCEPT: authoring.Convert{Accept: true},
	constants.CALLBACK_CONVERT_REJECT: authoring.Convert{Accept: false},
}

// HandleCallback обрабатывает входящие callback query от Telegram.
func (bh *BotHandler) HandleCallback(ctx context.Context, update tgbotapi.Update) {
	query := update.CallbackQuery
	if query == nil || query.Message == nil {
		logger.Warn("[CALLBACK_HANDLER] Получен пустой CallbackQuery.")
		return
	}

	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	data := query.Data
	logger.Debug("[CALLBACK_HANDLER] START", zap.Int64("chat_id", chatID), zap.Int("message_id", messageID), zap.String("data", data))

	bh.Deps.BotClient.AnswerCallbackQuery(query.ID, "")

	if !bh.isOperator(chatID) {
		logger.Warn("[CALLBACK_HANDLER] Коллбэк от постороннего проигнорирован", zap.Int64("chat_id", chatID), zap.String("data", data))
		return
	}

	if ev, ok := simpleAuthoringCallbacks[data]; ok {
		bh.dispatchAuthoring(ctx, chatID, messageID, ev)
		return
	}
	if strings.HasPrefix(data, constants.CALLBACK_PREFIX_ADD_STEP+"_") {
		ev, ok := authoring.ParseAddStepData(data)
		if !ok {
			bh.sendErrorMessageHelper(chatID, messageID, "Неизвестный тип шага.")
			return
		}
		bh.dispatchAuthoring(ctx, chatID, messageID, ev)
		return
	}

	switch data {
	case constants.CALLBACK_ADMIN_MENU:
		bh.SendAdminMenu(ctx, chatID, messageID)
		return
	case constants.CALLBACK_FLOW_LIST:
		bh.SendFlowList(ctx, chatID, messageID)
		return
	case constants.CALLBACK_FLOW_DEFAULTS:
		bh.SendDefaultFlowMenu(ctx, chatID, messageID)
		return
	case constants.CALLBACK_FLOW_REPORT:
		bh.SendFlowsReport(ctx, chatID)
		return
	}

	if bh.dispatchIDCallback(ctx, chatID, messageID, data) {
		return
	}
	logger.Warn("[CALLBACK_HANDLER] Неизвестный коллбэк", zap.Int64("chat_id", chatID), zap.String("data", data))
	bh.sendErrorMessageHelper(chatID, messageID, "Неизвестная команда.")
}

// idCallback - обработчик кнопки вида prefix_<id>.
type idCallback struct {
	prefix string
	handle func(bh *BotHandler, ctx context.Context, chatID int64, messageID int, id int64)
}

var idCallbacks = []idCallback{
	{constants.CALLBACK_PREFIX_FLOW_VIEW, (*BotHandler).SendFlowView},
	{constants.CALLBACK_PREFIX_FLOW_APPEND, func(bh *BotHandler, ctx context.Context, chatID int64, messageID int, id int64) {
		bh.dispatchAuthoring(ctx, chatID, messageID, authoring.StartAppend{FlowID: id})
	}},
	{constants.CALLBACK_PREFIX_FLOW_DELETE, (*BotHandler).SendFlowDeleteConfirm},
	{constants.CALLBACK_PREFIX_FLOW_DEL_OK, (*BotHandler).DeleteFlow},
	{constants.CALLBACK_PREFIX_FLOW_DEFAULT, (*BotHandler).SetDefaultFlow},
	{constants.CALLBACK_PREFIX_FLOW_SHARE, (*BotHandler).ShareFlow},
	{constants.CALLBACK_PREFIX_FLOW_PREVIEW, (*BotHandler).PreviewFlow},
	{constants.CALLBACK_PREFIX_STEP_VIEW, (*BotHandler).SendStepView},
	{constants.CALLBACK_PREFIX_STEP_TEXT, func(bh *BotHandler, ctx context.Context, chatID int64, messageID int, id int64) {
		bh.dispatchAuthoring(ctx, chatID, messageID, authoring.EditText{StepID: id})
	}},
	{constants.CALLBACK_PREFIX_STEP_MEDIA, func(bh *BotHandler, ctx context.Context, chatID int64, messageID int, id int64) {
		bh.dispatchAuthoring(ctx, chatID, messageID, authoring.EditMedia{StepID: id})
	}},
	{constants.CALLBACK_PREFIX_STEP_DELETE, (*BotHandler).DeleteStep},
	{constants.CALLBACK_PREFIX_STEP_UP, (*BotHandler).MoveStepUp},
}

func (bh *BotHandler) dispatchIDCallback(ctx context.Context, chatID int64, messageID int, data string) bool {
	for _, cb := range idCallbacks {
		if id, ok := constants.ParseCallbackID(data, cb.prefix); ok {
			cb.handle(bh, ctx, chatID, messageID, id)
			return true
		}
	}
	return false
}
