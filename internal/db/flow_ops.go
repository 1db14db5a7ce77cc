package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/models"
)

const flowColumns = `f.id, f.name, f.description, f.is_default, f.is_active, f.created_at, f.updated_at`

func scanFlow(row interface{ Scan(...any) error }, f *models.Flow, extra ...any) error {
	dest := []any{&f.ID, &f.Name, &f.Description, &f.IsDefault, &f.IsActive, &f.CreatedAt, &f.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

// CreateFlow создает активный поток, не являющийся потоком по умолчанию.
func (s *Store) CreateFlow(ctx context.Context, name, description string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("название потока не может быть пустым")
	}
	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`
        INSERT INTO flows (name, description, is_default, is_active, created_at, updated_at)
        VALUES ($1, $2, FALSE, TRUE, $3, $3)
        RETURNING id`),
		name, models.NewNullString(description), now).Scan(&id)
	if err != nil {
		logger.Error("CreateFlow: ошибка создания потока", zap.String("name", name), zap.Error(err))
		return 0, fmt.Errorf("ошибка создания потока: %w", err)
	}
	logger.Info("Поток создан.", zap.Int64("flow_id", id), zap.String("name", name))
	return id, nil
}

// GetFlow возвращает поток по ID.
func (s *Store) GetFlow(ctx context.Context, flowID int64) (models.Flow, error) {
	var f models.Flow
	err := scanFlow(s.db.QueryRowContext(ctx, s.q(`SELECT `+flowColumns+` FROM flows f WHERE f.id = $1`), flowID), &f)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, fmt.Errorf("поток #%d: %w", flowID, ErrNotFound)
		}
		logger.Error("GetFlow: ошибка получения потока", zap.Int64("flow_id", flowID), zap.Error(err))
		return f, fmt.Errorf("ошибка получения потока #%d: %w", flowID, err)
	}
	return f, nil
}

// ListFlows возвращает все потоки с количеством шагов. Поток по умолчанию идет первым.
func (s *Store) ListFlows(ctx context.Context) ([]models.Flow, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT `+flowColumns+`,
            (SELECT COUNT(*) FROM flow_steps st WHERE st.flow_id = f.id) AS step_count
        FROM flows f
        ORDER BY f.is_default DESC, f.id ASC`)
	if err != nil {
		logger.Error("ListFlows: ошибка получения списка потоков", zap.Error(err))
		return nil, fmt.Errorf("ошибка получения списка потоков: %w", err)
	}
	defer rows.Close()

	var flows []models.Flow
	for rows.Next() {
		var f models.Flow
		if err := scanFlow(rows, &f, &f.StepCount); err != nil {
			return nil, fmt.Errorf("ошибка чтения потока: %w", err)
		}
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации по потокам: %w", err)
	}
	return flows, nil
}

// GetDefaultFlow возвращает активный поток по умолчанию или ErrNotFound.
func (s *Store) GetDefaultFlow(ctx context.Context) (models.Flow, error) {
	var f models.Flow
	err := scanFlow(s.db.QueryRowContext(ctx, `
        SELECT `+flowColumns+` FROM flows f
        WHERE f.is_default = TRUE AND f.is_active = TRUE
        LIMIT 1`), &f)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return f, fmt.Errorf("поток по умолчанию: %w", ErrNotFound)
		}
		logger.Error("GetDefaultFlow: ошибка получения потока по умолчанию", zap.Error(err))
		return f, fmt.Errorf("ошибка получения потока по умолчанию: %w", err)
	}
	return f, nil
}

// SetDefaultFlow делает поток потоком по умолчанию, снимая флаг с остальных.
func (s *Store) SetDefaultFlow(ctx context.Context, flowID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var active bool
		err := tx.QueryRowContext(ctx, s.q(`SELECT is_active FROM flows WHERE id = $1`), flowID).Scan(&active)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("поток #%d: %w", flowID, ErrNotFound)
			}
			return fmt.Errorf("ошибка проверки потока #%d: %w", flowID, err)
		}
		if !active {
			return fmt.Errorf("поток #%d неактивен и не может быть потоком по умолчанию", flowID)
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, s.q(`
            UPDATE flows SET is_default = FALSE, updated_at = $2
            WHERE is_default = TRUE AND id <> $1`), flowID, now); err != nil {
			return fmt.Errorf("ошибка сброса потока по умолчанию: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`
            UPDATE flows SET is_default = TRUE, updated_at = $2 WHERE id = $1`), flowID, now); err != nil {
			return fmt.Errorf("ошибка установки потока по умолчанию: %w", err)
		}
		logger.Info("Поток назначен потоком по умолчанию.", zap.Int64("flow_id", flowID))
		return nil
	})
}

// DeleteFlow удаляет поток вместе со всеми шагами и кнопками.
// Возвращает false, если потока не было.
func (s *Store) DeleteFlow(ctx context.Context, flowID int64) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q(`
            DELETE FROM buttons WHERE step_id IN (SELECT id FROM flow_steps WHERE flow_id = $1)`), flowID); err != nil {
			return fmt.Errorf("ошибка удаления кнопок потока #%d: %w", flowID, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM flow_steps WHERE flow_id = $1`), flowID); err != nil {
			return fmt.Errorf("ошибка удаления шагов потока #%d: %w", flowID, err)
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM flows WHERE id = $1`), flowID)
		if err != nil {
			return fmt.Errorf("ошибка удаления потока #%d: %w", flowID, err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		return nil
	})
	if err != nil {
		logger.Error("DeleteFlow: ошибка", zap.Int64("flow_id", flowID), zap.Error(err))
		return false, err
	}
	if deleted {
		logger.Info("Поток удален.", zap.Int64("flow_id", flowID))
	}
	return deleted, nil
}
