// Package reports формирует выгрузки потоков в Excel.
package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"flowbot/internal/formatters"
	"flowbot/internal/models"
)

const (
	flowsSheet = "Потоки"
	stepsSheet = "Шаги"
)

// Source - чтение потоков и их шагов.
type Source interface {
	ListFlows(ctx context.Context) ([]models.Flow, error)
	ListSteps(ctx context.Context, flowID int64) ([]models.Step, error)
}

// FileName - имя файла отчета на момент now.
func FileName(now time.Time) string {
	return fmt.Sprintf("flows_report_%s.xlsx", now.Format("20060102_150405"))
}

// Build собирает отчет по всем потокам хранилища.
func Build(ctx context.Context, src Source) ([]byte, error) {
	flows, err := src.ListFlows(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения потоков: %w", err)
	}
	steps := make(map[int64][]models.Step, len(flows))
	for _, f := range flows {
		s, err := src.ListSteps(ctx, f.ID)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения шагов потока #%d: %w", f.ID, err)
		}
		steps[f.ID] = s
	}
	return FlowsReport(flows, steps)
}

// FlowsReport строит книгу из двух листов: сводка по потокам и шаги всех потоков.
func FlowsReport(flows []models.Flow, steps map[int64][]models.Step) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", flowsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(stepsSheet); err != nil {
		return nil, err
	}

	if err := writeRow(f, flowsSheet, 1, "ID", "Название", "Описание", "По умолчанию", "Активен", "Шагов", "Создан"); err != nil {
		return nil, err
	}
	for i, fl := range flows {
		err := writeRow(f, flowsSheet, i+2,
			fl.ID, fl.Name, fl.Description.String, yesNo(fl.IsDefault), yesNo(fl.IsActive),
			len(steps[fl.ID]), fl.CreatedAt.Format("02.01.2006 15:04"))
		if err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, stepsSheet, 1, "Поток", "№", "Тип", "Текст", "Медиа", "Кнопки"); err != nil {
		return nil, err
	}
	row := 2
	for _, fl := range flows {
		for _, st := range steps[fl.ID] {
			err := writeRow(f, stepsSheet, row,
				fl.Name, st.Order, formatters.StepTypeLabel(st.Type), st.Content, mediaCell(st.Media), buttonsCell(st.Buttons))
			if err != nil {
				return nil, err
			}
			row++
		}
	}

	if err := f.SetColWidth(flowsSheet, "B", "C", 30); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(stepsSheet, "D", "F", 40); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("ошибка записи отчета: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}

func mediaCell(ref models.MediaRef) string {
	switch {
	case ref.LocalPath != "":
		return ref.LocalPath
	case ref.URL != "":
		return ref.URL
	case ref.FileID != "":
		return "file_id:" + ref.FileID
	}
	return ""
}

func buttonsCell(buttons []models.Button) string {
	out := ""
	for i, b := range buttons {
		if i > 0 {
			out += "\n"
		}
		out += b.Text + " → " + b.Target
	}
	return out
}
