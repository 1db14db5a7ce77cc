package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/models"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const stepColumns = `id, flow_id, step_order, step_type, content, file_id, media_path, media_url, is_active`

func scanStep(row interface{ Scan(...any) error }) (models.Step, error) {
	var st models.Step
	var stepType string
	var fileID, path, mediaURL sql.NullString
	if err := row.Scan(&st.ID, &st.FlowID, &st.Order, &stepType, &st.Content, &fileID, &path, &mediaURL, &st.IsActive); err != nil {
		return st, err
	}
	st.Type = models.StepType(stepType)
	st.Media = models.MediaRef{FileID: fileID.String, LocalPath: path.String, URL: mediaURL.String}
	return st, nil
}

// AppendStep добавляет шаг в конец потока вместе с кнопками.
// Порядковый номер вычисляется как max+1 внутри транзакции.
func (s *Store) AppendStep(ctx context.Context, flowID int64, draft models.StepDraft) (int64, error) {
	if _, err := models.ParseStepType(string(draft.Type)); err != nil {
		return 0, err
	}
	var stepID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM flows WHERE id = $1`), flowID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("ошибка проверки потока #%d: %w", flowID, err)
		}
		if exists == 0 {
			return fmt.Errorf("поток #%d: %w", flowID, ErrNotFound)
		}

		var next int
		if err := tx.QueryRowContext(ctx, s.q(`
            SELECT COALESCE(MAX(step_order), 0) + 1 FROM flow_steps WHERE flow_id = $1`), flowID).Scan(&next); err != nil {
			return fmt.Errorf("ошибка вычисления порядка шага: %w", err)
		}

		now := time.Now().UTC()
		err = tx.QueryRowContext(ctx, s.q(`
            INSERT INTO flow_steps (flow_id, step_order, step_type, content, file_id, media_path, media_url, is_active, created_at, updated_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
            RETURNING id`),
			flowID, next, string(draft.Type), draft.Content,
			models.NewNullString(draft.Media.FileID), models.NewNullString(draft.Media.LocalPath), models.NewNullString(draft.Media.URL), now,
		).Scan(&stepID)
		if err != nil {
			return fmt.Errorf("ошибка вставки шага: %w", err)
		}

		for i, b := range draft.Buttons {
			kind := b.Kind
			if kind == "" {
				kind = models.ButtonURL
			}
			if _, err := tx.ExecContext(ctx, s.q(`
                INSERT INTO buttons (step_id, button_text, button_type, button_data, button_order)
                VALUES ($1, $2, $3, $4, $5)`),
				stepID, b.Text, string(kind), b.Target, i+1); err != nil {
				return fmt.Errorf("ошибка вставки кнопки: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("AppendStep: ошибка добавления шага", zap.Int64("flow_id", flowID), zap.Error(err))
		return 0, err
	}
	logger.Info("Шаг добавлен в поток.", zap.Int64("flow_id", flowID), zap.Int64("step_id", stepID), zap.String("type", string(draft.Type)))
	return stepID, nil
}

// ListSteps возвращает шаги потока в порядке step_order вместе с кнопками.
func (s *Store) ListSteps(ctx context.Context, flowID int64) ([]models.Step, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
        SELECT `+stepColumns+` FROM flow_steps WHERE flow_id = $1 ORDER BY step_order ASC`), flowID)
	if err != nil {
		logger.Error("ListSteps: ошибка получения шагов", zap.Int64("flow_id", flowID), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения шагов потока #%d: %w", flowID, err)
	}
	defer rows.Close()

	var steps []models.Step
	index := make(map[int64]int)
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения шага: %w", err)
		}
		index[st.ID] = len(steps)
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по шагам: %w", err)
	}
	rows.Close()

	if len(steps) == 0 {
		return steps, nil
	}

	brows, err := s.db.QueryContext(ctx, s.q(`
        SELECT b.id, b.step_id, b.button_text, b.button_type, b.button_data, b.button_order
        FROM buttons b JOIN flow_steps st ON st.id = b.step_id
        WHERE st.flow_id = $1
        ORDER BY b.step_id, b.button_order`), flowID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения кнопок потока #%d: %w", flowID, err)
	}
	defer brows.Close()
	for brows.Next() {
		b, err := scanButton(brows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения кнопки: %w", err)
		}
		if i, ok := index[b.StepID]; ok {
			steps[i].Buttons = append(steps[i].Buttons, b)
		}
	}
	return steps, brows.Err()
}

func scanButton(row interface{ Scan(...any) error }) (models.Button, error) {
	var b models.Button
	var kind string
	err := row.Scan(&b.ID, &b.StepID, &b.Text, &kind, &b.Target, &b.Order)
	b.Kind = models.ButtonKind(kind)
	return b, err
}

// GetStep возвращает шаг по ID вместе с кнопками.
func (s *Store) GetStep(ctx context.Context, stepID int64) (models.Step, error) {
	st, err := scanStep(s.db.QueryRowContext(ctx, s.q(`SELECT `+stepColumns+` FROM flow_steps WHERE id = $1`), stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return st, fmt.Errorf("шаг #%d: %w", stepID, ErrNotFound)
		}
		logger.Error("GetStep: ошибка получения шага", zap.Int64("step_id", stepID), zap.Error(err))
		return st, fmt.Errorf("ошибка получения шага #%d: %w", stepID, err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
        SELECT id, step_id, button_text, button_type, button_data, button_order
        FROM buttons WHERE step_id = $1 ORDER BY button_order`), stepID)
	if err != nil {
		return st, fmt.Errorf("ошибка получения кнопок шага #%d: %w", stepID, err)
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanButton(rows)
		if err != nil {
			return st, fmt.Errorf("ошибка чтения кнопки: %w", err)
		}
		st.Buttons = append(st.Buttons, b)
	}
	return st, rows.Err()
}

// FlowSummary возвращает последовательность типов шагов потока.
func (s *Store) FlowSummary(ctx context.Context, flowID int64) ([]models.StepType, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
        SELECT step_type FROM flow_steps WHERE flow_id = $1 ORDER BY step_order`), flowID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сводки потока #%d: %w", flowID, err)
	}
	defer rows.Close()
	var types []models.StepType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, models.StepType(t))
	}
	return types, rows.Err()
}

// UpdateStepContent меняет текст шага. Возвращает false, если шага нет.
func (s *Store) UpdateStepContent(ctx context.Context, stepID int64, content string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE flow_steps SET content = $2, updated_at = $3 WHERE id = $1`),
		stepID, content, time.Now().UTC())
	if err != nil {
		logger.Error("UpdateStepContent: ошибка", zap.Int64("step_id", stepID), zap.Error(err))
		return false, fmt.Errorf("ошибка обновления текста шага #%d: %w", stepID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// UpdateStepMediaRef заменяет ссылку на медиа шага. Возвращает false, если шага нет.
func (s *Store) UpdateStepMediaRef(ctx context.Context, stepID int64, ref models.MediaRef) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
        UPDATE flow_steps SET file_id = $2, media_path = $3, media_url = $4, updated_at = $5 WHERE id = $1`),
		stepID, models.NewNullString(ref.FileID), models.NewNullString(ref.LocalPath), models.NewNullString(ref.URL), time.Now().UTC())
	if err != nil {
		logger.Error("UpdateStepMediaRef: ошибка", zap.Int64("step_id", stepID), zap.Error(err))
		return false, fmt.Errorf("ошибка обновления медиа шага #%d: %w", stepID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logger.Info("Медиа шага обновлено.", zap.Int64("step_id", stepID), zap.String("path", ref.LocalPath), zap.String("file_id", ref.FileID))
	}
	return n > 0, nil
}

// DeleteStep удаляет шаг с кнопками и уплотняет порядок оставшихся шагов.
// Возвращает false, если шага нет.
func (s *Store) DeleteStep(ctx context.Context, stepID int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var flowID int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT flow_id FROM flow_steps WHERE id = $1`), stepID).Scan(&flowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("ошибка получения шага #%d: %w", stepID, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM buttons WHERE step_id = $1`), stepID); err != nil {
			return fmt.Errorf("ошибка удаления кнопок шага #%d: %w", stepID, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM flow_steps WHERE id = $1`), stepID); err != nil {
			return fmt.Errorf("ошибка удаления шага #%d: %w", stepID, err)
		}
		deleted = true
		ids, err := s.orderedStepIDs(ctx, tx, flowID)
		if err != nil {
			return err
		}
		return s.renumber(ctx, tx, flowID, ids)
	})
	if err != nil {
		logger.Error("DeleteStep: ошибка", zap.Int64("step_id", stepID), zap.Error(err))
		return false, err
	}
	if deleted {
		logger.Info("Шаг удален.", zap.Int64("step_id", stepID))
	}
	return deleted, nil
}

// MoveStep перемещает шаг на позицию newOrder (1..N), сдвигая остальные.
func (s *Store) MoveStep(ctx context.Context, stepID int64, newOrder int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var flowID int64
		err := tx.QueryRowContext(ctx, s.q(`SELECT flow_id FROM flow_steps WHERE id = $1`), stepID).Scan(&flowID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("шаг #%d: %w", stepID, ErrNotFound)
			}
			return fmt.Errorf("ошибка получения шага #%d: %w", stepID, err)
		}
		ids, err := s.orderedStepIDs(ctx, tx, flowID)
		if err != nil {
			return err
		}
		if newOrder < 1 || newOrder > len(ids) {
			return fmt.Errorf("позиция %d вне диапазона 1..%d", newOrder, len(ids))
		}

		rest := make([]int64, 0, len(ids))
		for _, id := range ids {
			if id != stepID {
				rest = append(rest, id)
			}
		}
		reordered := make([]int64, 0, len(ids))
		reordered = append(reordered, rest[:newOrder-1]...)
		reordered = append(reordered, stepID)
		reordered = append(reordered, rest[newOrder-1:]...)
		return s.renumber(ctx, tx, flowID, reordered)
	})
}

// CompactSteps перенумеровывает шаги потока в 1..N без пропусков.
func (s *Store) CompactSteps(ctx context.Context, flowID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ids, err := s.orderedStepIDs(ctx, tx, flowID)
		if err != nil {
			return err
		}
		return s.renumber(ctx, tx, flowID, ids)
	})
}

func (s *Store) orderedStepIDs(ctx context.Context, q querier, flowID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, s.q(`SELECT id FROM flow_steps WHERE flow_id = $1 ORDER BY step_order`), flowID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения порядка шагов потока #%d: %w", flowID, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// renumber присваивает шагам порядок 1..N в переданной последовательности.
// Сначала номера делаются отрицательными, чтобы не нарушить уникальный индекс (flow_id, step_order).
func (s *Store) renumber(ctx context.Context, q querier, flowID int64, ids []int64) error {
	if _, err := q.ExecContext(ctx, s.q(`
        UPDATE flow_steps SET step_order = -step_order WHERE flow_id = $1`), flowID); err != nil {
		return fmt.Errorf("ошибка перенумерации шагов потока #%d: %w", flowID, err)
	}
	for i, id := range ids {
		if _, err := q.ExecContext(ctx, s.q(`UPDATE flow_steps SET step_order = $2 WHERE id = $1`), id, i+1); err != nil {
			return fmt.Errorf("ошибка перенумерации шага #%d: %w", id, err)
		}
	}
	return nil
}
