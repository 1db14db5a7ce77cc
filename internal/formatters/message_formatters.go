package formatters

import (
	"fmt"
	"strings"

	"flowbot/internal/delivery"
	"flowbot/internal/models"
	"flowbot/internal/utils"
)

const (
	separator = "─ ─ ─ ─ ─ ─ ─ ─ ─ ─ ─ ─ ─"
)

var stepTypeLabels = map[models.StepType]string{
	models.StepText:       "Текст",
	models.StepImage:      "Изображение",
	models.StepVideo:      "Видео",
	models.StepRoundVideo: "Круглое видео",
	models.StepButton:     "Текст с кнопкой",
}

var stepTypeIcons = map[models.StepType]string{
	models.StepText:       "📝",
	models.StepImage:      "🖼",
	models.StepVideo:      "🎬",
	models.StepRoundVideo: "⭕️",
	models.StepButton:     "🔘",
}

// StepTypeLabel возвращает название типа шага для оператора.
func StepTypeLabel(t models.StepType) string {
	if label, ok := stepTypeLabels[t]; ok {
		return label
	}
	return string(t)
}

// StepTypeIcon возвращает значок типа шага.
func StepTypeIcon(t models.StepType) string {
	if icon, ok := stepTypeIcons[t]; ok {
		return icon
	}
	return "•"
}

// FormatFlowFinished - итог создания потока: число шагов и их типы по порядку.
func FormatFlowFinished(flowName string, types []models.StepType) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("✅ *Поток «%s» завершен!*\n", utils.EscapeTelegramMarkdown(flowName)))
	sb.WriteString(separator + "\n")
	sb.WriteString(fmt.Sprintf("Шагов: %d\n", len(types)))
	for i, t := range types {
		sb.WriteString(fmt.Sprintf("%d. %s %s\n", i+1, StepTypeIcon(t), StepTypeLabel(t)))
	}
	if len(types) == 0 {
		sb.WriteString("_Поток пока пуст._\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatFlowList - список потоков с отметкой потока по умолчанию.
func FormatFlowList(flows []models.Flow) string {
	if len(flows) == 0 {
		return "📭 Потоков пока нет. Создайте первый."
	}
	var sb strings.Builder
	sb.WriteString("📋 *Потоки:*\n")
	sb.WriteString(separator + "\n")
	for _, f := range flows {
		mark := "▫️"
		if f.IsDefault {
			mark = "⭐"
		}
		status := ""
		if !f.IsActive {
			status = " (неактивен)"
		}
		sb.WriteString(fmt.Sprintf("%s #%d %s - шагов: %d%s\n", mark, f.ID, utils.EscapeTelegramMarkdown(f.Name), f.StepCount, status))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FlowButtonLabel - подпись кнопки потока в списках.
func FlowButtonLabel(f models.Flow) string {
	prefix := ""
	if f.IsDefault {
		prefix = "⭐ "
	}
	return fmt.Sprintf("%s%s (%d)", prefix, utils.Truncate(f.Name, 40), f.StepCount)
}

// FormatStepLine - краткое описание шага для списка шагов.
func FormatStepLine(st models.Step) string {
	content := st.Content
	if content == "" {
		content = "без текста"
	}
	line := fmt.Sprintf("%d. %s %s: %s", st.Order, StepTypeIcon(st.Type), StepTypeLabel(st.Type), utils.Truncate(content, 30))
	if len(st.Buttons) > 0 {
		line += fmt.Sprintf(" [кнопок: %d]", len(st.Buttons))
	}
	return line
}

// FormatFlowSteps - поток со списком шагов для меню редактирования.
func FormatFlowSteps(f models.Flow, steps []models.Step) string {
	var sb strings.Builder
	title := utils.EscapeTelegramMarkdown(f.Name)
	if f.IsDefault {
		title = "⭐ " + title
	}
	sb.WriteString(fmt.Sprintf("🗂 *Поток #%d: %s*\n", f.ID, title))
	sb.WriteString(separator + "\n")
	if len(steps) == 0 {
		sb.WriteString("Шагов нет.")
		return sb.String()
	}
	for _, st := range steps {
		sb.WriteString(utils.EscapeTelegramMarkdown(FormatStepLine(st)) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatDeliveryReport - итог предпросмотра потока для оператора.
func FormatDeliveryReport(r delivery.Report) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📊 Доставлено шагов: %d из %d", r.Delivered(), len(r.Steps)))
	for _, res := range r.Steps {
		if res.Status == delivery.StatusDelivered {
			continue
		}
		reason := ""
		if res.Err != nil {
			reason = ": " + res.Err.Error()
		}
		sb.WriteString(fmt.Sprintf("\n%d. %s - %s%s", res.Order, StepTypeLabel(res.Type), res.Status, reason))
	}
	return sb.String()
}
