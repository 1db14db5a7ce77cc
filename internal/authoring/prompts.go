package authoring

import (
	"fmt"
	"strings"

	"flowbot/internal/constants"
	"flowbot/internal/models"
	"flowbot/internal/session"
)

// AddStepData - callback data кнопки добавления шага.
func AddStepData(t models.StepType, withButton bool) string {
	data := constants.CALLBACK_PREFIX_ADD_STEP + "_" + string(t)
	if withButton && t != models.StepButton {
		data += constants.ADD_STEP_BUTTON_SUFFIX
	}
	return data
}

// ParseAddStepData разбирает callback data кнопки добавления шага.
func ParseAddStepData(data string) (AddStep, bool) {
	rest, ok := strings.CutPrefix(data, constants.CALLBACK_PREFIX_ADD_STEP+"_")
	if !ok {
		return AddStep{}, false
	}
	rest, withButton := strings.CutSuffix(rest, constants.ADD_STEP_BUTTON_SUFFIX)
	t, err := models.ParseStepType(rest)
	if err != nil {
		return AddStep{}, false
	}
	return AddStep{Type: t, WithButton: withButton || t == models.StepButton}, true
}

func cancelRow() []ReplyButton {
	return []ReplyButton{{Text: "🚫 Отмена", Data: constants.CALLBACK_AUTHOR_CANCEL}}
}

func stepMenuKeyboard() [][]ReplyButton {
	return [][]ReplyButton{
		{{Text: "📝 Текст", Data: AddStepData(models.StepText, false)}, {Text: "🔘 Текст + кнопка", Data: AddStepData(models.StepButton, true)}},
		{{Text: "🖼 Фото", Data: AddStepData(models.StepImage, false)}, {Text: "🖼 Фото + кнопка", Data: AddStepData(models.StepImage, true)}},
		{{Text: "🎬 Видео", Data: AddStepData(models.StepVideo, false)}, {Text: "🎬 Видео + кнопка", Data: AddStepData(models.StepVideo, true)}},
		{{Text: "⭕️ Кружок", Data: AddStepData(models.StepRoundVideo, false)}, {Text: "⭕️ Кружок + кнопка", Data: AddStepData(models.StepRoundVideo, true)}},
		{{Text: "✅ Завершить поток", Data: constants.CALLBACK_FLOW_FINISH}},
	}
}

func adminMenuKeyboard() [][]ReplyButton {
	return [][]ReplyButton{{{Text: "⬅️ Меню администратора", Data: constants.CALLBACK_ADMIN_MENU}}}
}

func mediaNoun(t models.StepType) string {
	switch t {
	case models.StepImage:
		return "фото"
	case models.StepVideo:
		return "видео"
	case models.StepRoundVideo:
		return "видео для кружка (квадратное, до 60 с, до 1 МБ; остальное сконвертирую)"
	}
	return "файл"
}

// prompt - приглашение к вводу для текущего состояния сессии.
func (m *Machine) prompt(s session.AuthoringSession) Reply {
	switch st := s.State.(type) {
	case session.AwaitingFlowName:
		return Reply{Text: "✏️ Введите название нового потока:", Keyboard: [][]ReplyButton{cancelRow()}}
	case session.AwaitingStepType:
		return Reply{
			Text:     fmt.Sprintf("Поток «%s», шагов: %d.\nВыберите тип следующего шага или завершите поток:", s.FlowName, s.StepNumber),
			Keyboard: stepMenuKeyboard(),
		}
	case session.AwaitingText:
		text := "Введите текст сообщения:"
		if st.Draft.WithButton {
			text = "Введите текст сообщения (кнопку добавим следующим шагом):"
		}
		return Reply{Text: text, Keyboard: [][]ReplyButton{cancelRow()}}
	case session.AwaitingMediaOrURL:
		return Reply{
			Text:     fmt.Sprintf("Отправьте %s или ссылку на файл (http/https):", mediaNoun(st.Draft.Type)),
			Keyboard: [][]ReplyButton{cancelRow()},
		}
	case session.AwaitingEditMedia:
		return Reply{
			Text:     fmt.Sprintf("Отправьте новое %s или ссылку на файл (http/https):", mediaNoun(st.Type)),
			Keyboard: [][]ReplyButton{cancelRow()},
		}
	case session.AwaitingConvertDecision:
		return Reply{
			Text: fmt.Sprintf("⚠️ Видео не подходит для кружка: %s.\nКонвертировать автоматически?", st.Reason),
			Keyboard: [][]ReplyButton{
				{{Text: "🔄 Конвертировать", Data: constants.CALLBACK_CONVERT_ACCEPT}},
				{{Text: "🚫 Отмена", Data: constants.CALLBACK_CONVERT_REJECT}},
			},
		}
	case session.AwaitingCaptionText:
		return Reply{
			Text: "Введите подпись к медиа или нажмите «Пропустить»:",
			Keyboard: [][]ReplyButton{
				{{Text: "⏭ Пропустить", Data: constants.CALLBACK_CAPTION_SKIP}},
				cancelRow(),
			},
		}
	case session.AwaitingButtonText:
		return Reply{Text: "Введите текст кнопки:", Keyboard: [][]ReplyButton{cancelRow()}}
	case session.AwaitingButtonURL:
		return Reply{Text: fmt.Sprintf("Введите ссылку для кнопки «%s» (http/https):", st.ButtonText), Keyboard: [][]ReplyButton{cancelRow()}}
	case session.AwaitingCommitRetry:
		return Reply{
			Text: fmt.Sprintf("❌ Шаг не сохранен: %s\nЧерновик сохранен, можно повторить.", st.Err),
			Keyboard: [][]ReplyButton{
				{{Text: "🔁 Повторить", Data: constants.CALLBACK_AUTHOR_RETRY}},
				cancelRow(),
			},
		}
	case session.AwaitingEditText:
		return Reply{Text: "Отправьте новый текст шага:", Keyboard: [][]ReplyButton{cancelRow()}}
	}
	return Reply{Text: "Откройте меню: /admin"}
}

// reprompt повторяет приглашение с пояснением. Состояние не меняется.
func (m *Machine) reprompt(s session.AuthoringSession, reason string) Reply {
	r := m.prompt(s)
	r.Text = "⚠️ " + reason + "\n\n" + r.Text
	return r
}
