package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"go.uber.org/zap"

	"flowbot/internal/constants"
	"flowbot/internal/db"
	"flowbot/internal/formatters"
	"flowbot/internal/logger"
	"flowbot/internal/models"
	"flowbot/internal/reports"
	"flowbot/internal/utils"
)

// SendAdminMenu отправляет главное меню администратора.
// SendAdminMenu sends the main admin menu.
func (bh *BotHandler) SendAdminMenu(ctx context.Context, chatID int64, messageID int) {
	text := "⚙️ *Управление потоками*\nВыберите действие:"
	if s, ok := bh.Deps.SessionManager.Get(chatID); ok && s.FlowID != 0 {
		text += fmt.Sprintf("\n\n✏️ Открыт черновик потока «%s».", utils.EscapeTelegramMarkdown(s.FlowName))
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ Создать поток", constants.CALLBACK_FLOW_CREATE)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Потоки", constants.CALLBACK_FLOW_LIST)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("⭐ Поток по умолчанию", constants.CALLBACK_FLOW_DEFAULTS)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 Выгрузка в Excel", constants.CALLBACK_FLOW_REPORT)),
	)
	bh.sendOrEditMessageHelper(chatID, messageID, text, &keyboard, tgbotapi.ModeMarkdown)
}

// SendFlowList показывает потоки для редактирования.
// SendFlowList shows flows available for editing.
func (bh *BotHandler) SendFlowList(ctx context.Context, chatID int64, messageID int) {
	flows, err := bh.Deps.Store.ListFlows(ctx)
	if err != nil {
		logger.Error("SendFlowList: ошибка получения потоков", zap.Error(err))
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось загрузить потоки. Попробуйте позже.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range flows {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(formatters.FlowButtonLabel(f), constants.Callback(constants.CALLBACK_PREFIX_FLOW_VIEW, f.ID)),
		))
	}
	rows = append(rows, backToAdminRow())
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	bh.sendOrEditMessageHelper(chatID, messageID, formatters.FormatFlowList(flows), &keyboard, tgbotapi.ModeMarkdown)
}

// SendDefaultFlowMenu показывает потоки для выбора потока по умолчанию.
func (bh *BotHandler) SendDefaultFlowMenu(ctx context.Context, chatID int64, messageID int) {
	flows, err := bh.Deps.Store.ListFlows(ctx)
	if err != nil {
		logger.Error("SendDefaultFlowMenu: ошибка получения потоков", zap.Error(err))
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось загрузить потоки. Попробуйте позже.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, f := range flows {
		if !f.IsActive {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(formatters.FlowButtonLabel(f), constants.Callback(constants.CALLBACK_PREFIX_FLOW_DEFAULT, f.ID)),
		))
	}
	rows = append(rows, backToAdminRow())
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	text := "⭐ Выберите поток, который получат пользователи по команде /start:"
	if len(flows) == 0 {
		text = "📭 Потоков пока нет. Создайте первый."
	}
	bh.sendOrEditMessageHelper(chatID, messageID, text, &keyboard, "")
}

// SendFlowView показывает шаги потока и действия над ним.
func (bh *BotHandler) SendFlowView(ctx context.Context, chatID int64, messageID int, flowID int64) {
	f, err := bh.Deps.Store.GetFlow(ctx, flowID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "SendFlowView", err, "❌ Поток не найден.")
		return
	}
	steps, err := bh.Deps.Store.ListSteps(ctx, flowID)
	if err != nil {
		logger.Error("SendFlowView: ошибка получения шагов", zap.Int64("flow_id", flowID), zap.Error(err))
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось загрузить шаги. Попробуйте позже.")
		return
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, st := range steps {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				utils.Truncate(formatters.FormatStepLine(st), 60),
				constants.Callback(constants.CALLBACK_PREFIX_STEP_VIEW, st.ID)),
		))
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Добавить шаги", constants.Callback(constants.CALLBACK_PREFIX_FLOW_APPEND, f.ID)),
			tgbotapi.NewInlineKeyboardButtonData("👁 Предпросмотр", constants.Callback(constants.CALLBACK_PREFIX_FLOW_PREVIEW, f.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐ По умолчанию", constants.Callback(constants.CALLBACK_PREFIX_FLOW_DEFAULT, f.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🔗 Поделиться", constants.Callback(constants.CALLBACK_PREFIX_FLOW_SHARE, f.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить поток", constants.Callback(constants.CALLBACK_PREFIX_FLOW_DELETE, f.ID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ К списку потоков", constants.CALLBACK_FLOW_LIST),
		),
	)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	bh.sendOrEditMessageHelper(chatID, messageID, formatters.FormatFlowSteps(f, steps), &keyboard, tgbotapi.ModeMarkdown)
}

// SendFlowDeleteConfirm спрашивает подтверждение удаления потока.
func (bh *BotHandler) SendFlowDeleteConfirm(ctx context.Context, chatID int64, messageID int, flowID int64) {
	f, err := bh.Deps.Store.GetFlow(ctx, flowID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "SendFlowDeleteConfirm", err, "❌ Поток не найден.")
		return
	}
	text := fmt.Sprintf("🗑 Удалить поток «%s» со всеми шагами и кнопками? Это действие необратимо.", f.Name)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Да, удалить", constants.Callback(constants.CALLBACK_PREFIX_FLOW_DEL_OK, f.ID)),
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Нет", constants.Callback(constants.CALLBACK_PREFIX_FLOW_VIEW, f.ID)),
		),
	)
	bh.sendOrEditMessageHelper(chatID, messageID, text, &keyboard, "")
}

// DeleteFlow удаляет поток после подтверждения.
func (bh *BotHandler) DeleteFlow(ctx context.Context, chatID int64, messageID int, flowID int64) {
	deleted, err := bh.Deps.Store.DeleteFlow(ctx, flowID)
	if err != nil {
		logger.Error("DeleteFlow: ошибка удаления потока", zap.Int64("flow_id", flowID), zap.Error(err))
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось удалить поток. Попробуйте позже.")
		return
	}
	if !deleted {
		bh.sendErrorMessageHelper(chatID, messageID, "Поток уже удален.")
		return
	}
	// Drop the draft: its flow no longer exists
	if s, ok := bh.Deps.SessionManager.Get(chatID); ok && s.FlowID == flowID {
		bh.Deps.SessionManager.Clear(chatID)
	}
	logger.Info("Поток удален.", zap.Int64("flow_id", flowID), zap.Int64("operator", chatID))
	bh.SendFlowList(ctx, chatID, messageID)
}

// SetDefaultFlow делает поток потоком по умолчанию.
func (bh *BotHandler) SetDefaultFlow(ctx context.Context, chatID int64, messageID int, flowID int64) {
	if err := bh.Deps.Store.SetDefaultFlow(ctx, flowID); err != nil {
		bh.reportLookupError(chatID, messageID, "SetDefaultFlow", err, "❌ Поток не найден.")
		return
	}
	logger.Info("Поток по умолчанию изменен.", zap.Int64("flow_id", flowID), zap.Int64("operator", chatID))
	bh.SendDefaultFlowMenu(ctx, chatID, messageID)
}

// ShareFlow отправляет ссылку на поток и QR-код с ней.
func (bh *BotHandler) ShareFlow(ctx context.Context, chatID int64, messageID int, flowID int64) {
	f, err := bh.Deps.Store.GetFlow(ctx, flowID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "ShareFlow", err, "❌ Поток не найден.")
		return
	}
	username := bh.Deps.BotClient.Username()
	if username == "" {
		username = bh.Deps.Config.BotUsername
	}
	link, err := utils.FlowDeepLink(username, f.ID)
	if err != nil {
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось сформировать ссылку: "+err.Error())
		return
	}
	caption := fmt.Sprintf("🔗 Ссылка на поток «%s»:\n%s", f.Name, link)
	png, err := utils.FlowQRCode(username, f.ID)
	if err == nil {
		err = bh.Deps.BotClient.SendPhoto(ctx, chatID, models.MediaPayload{Data: png, Name: fmt.Sprintf("flow_%d.png", f.ID)}, caption, nil)
	}
	if err != nil {
		logger.Warn("ShareFlow: QR-код не отправлен, отправляю только ссылку", zap.Int64("flow_id", f.ID), zap.Error(err))
		bh.sendMessage(chatID, caption)
	}
}

// PreviewFlow проигрывает поток оператору и присылает отчет о доставке.
func (bh *BotHandler) PreviewFlow(ctx context.Context, chatID int64, messageID int, flowID int64) {
	report, err := bh.Deps.Delivery.Deliver(ctx, chatID, flowID)
	if err != nil {
		logger.Error("PreviewFlow: ошибка предпросмотра", zap.Int64("flow_id", flowID), zap.Error(err))
		bh.sendErrorMessageHelper(chatID, 0, "❌ Не удалось проиграть поток. Попробуйте позже.")
		return
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ К потоку", constants.Callback(constants.CALLBACK_PREFIX_FLOW_VIEW, flowID)),
	))
	bh.sendOrEditMessageHelper(chatID, 0, formatters.FormatDeliveryReport(report), &keyboard, "")
}

// SendFlowsReport отправляет выгрузку всех потоков в Excel.
func (bh *BotHandler) SendFlowsReport(ctx context.Context, chatID int64) {
	data, err := reports.Build(ctx, bh.Deps.Store)
	if err != nil {
		logger.Error("SendFlowsReport: ошибка формирования отчета", zap.Error(err))
		bh.sendErrorMessageHelper(chatID, 0, "❌ Не удалось сформировать отчет.")
		return
	}
	doc := models.MediaPayload{Data: data, Name: reports.FileName(time.Now())}
	if err := bh.Deps.BotClient.SendDocument(ctx, chatID, doc, "📊 Потоки и шаги"); err != nil {
		logger.Error("SendFlowsReport: ошибка отправки отчета", zap.Error(err))
		bh.sendErrorMessageHelper(chatID, 0, "❌ Не удалось отправить отчет.")
	}
}

// SendStepView показывает шаг и действия над ним.
func (bh *BotHandler) SendStepView(ctx context.Context, chatID int64, messageID int, stepID int64) {
	st, err := bh.Deps.Store.GetStep(ctx, stepID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "SendStepView", err, "❌ Шаг не найден.")
		return
	}

	text := formatters.FormatStepLine(st)
	if st.Content != "" {
		text += "\n\n" + st.Content
	}
	for _, b := range st.Buttons {
		text += fmt.Sprintf("\n🔘 %s → %s", b.Text, b.Target)
	}

	actions := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("✏️ Текст", constants.Callback(constants.CALLBACK_PREFIX_STEP_TEXT, st.ID)),
	}
	if st.Type.HasMedia() {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData("🖼 Медиа", constants.Callback(constants.CALLBACK_PREFIX_STEP_MEDIA, st.ID)))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{actions}
	manage := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить", constants.Callback(constants.CALLBACK_PREFIX_STEP_DELETE, st.ID)),
	}
	if st.Order > 1 {
		manage = append(manage, tgbotapi.NewInlineKeyboardButtonData("⬆️ Выше", constants.Callback(constants.CALLBACK_PREFIX_STEP_UP, st.ID)))
	}
	rows = append(rows, manage, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ К потоку", constants.Callback(constants.CALLBACK_PREFIX_FLOW_VIEW, st.FlowID)),
	))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(rows...)
	bh.sendOrEditMessageHelper(chatID, messageID, text, &keyboard, "")
}

// DeleteStep удаляет шаг; порядок оставшихся шагов уплотняется хранилищем.
func (bh *BotHandler) DeleteStep(ctx context.Context, chatID int64, messageID int, stepID int64) {
	st, err := bh.Deps.Store.GetStep(ctx, stepID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "DeleteStep", err, "❌ Шаг не найден.")
		return
	}
	if _, err := bh.Deps.Store.DeleteStep(ctx, stepID); err != nil {
		logger.Error("DeleteStep: ошибка удаления шага", zap.Int64("step_id", stepID), zap.Error(err))
		bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось удалить шаг. Попробуйте позже.")
		return
	}
	bh.SendFlowView(ctx, chatID, messageID, st.FlowID)
}

// MoveStepUp меняет шаг местами с предыдущим.
func (bh *BotHandler) MoveStepUp(ctx context.Context, chatID int64, messageID int, stepID int64) {
	st, err := bh.Deps.Store.GetStep(ctx, stepID)
	if err != nil {
		bh.reportLookupError(chatID, messageID, "MoveStepUp", err, "❌ Шаг не найден.")
		return
	}
	if st.Order > 1 {
		if err := bh.Deps.Store.MoveStep(ctx, stepID, st.Order-1); err != nil {
			logger.Error("MoveStepUp: ошибка перемещения шага", zap.Int64("step_id", stepID), zap.Error(err))
			bh.sendErrorMessageHelper(chatID, messageID, "❌ Не удалось переместить шаг.")
			return
		}
	}
	bh.SendFlowView(ctx, chatID, messageID, st.FlowID)
}

// reportLookupError различает "не найдено" и сбой хранилища.
func (bh *BotHandler) reportLookupError(chatID int64, messageID int, op string, err error, notFoundText string) {
	if errors.Is(err, db.ErrNotFound) {
		bh.sendErrorMessageHelper(chatID, messageID, notFoundText)
		return
	}
	logger.Error(op+": ошибка хранилища", zap.Error(err))
	bh.sendErrorMessageHelper(chatID, messageID, "❌ "+err.Error())
}
