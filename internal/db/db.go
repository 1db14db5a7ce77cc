// Файл: internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver (тесты и одиночный режим)

	"flowbot/internal/logger"
)

// ErrNotFound возвращается, если запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// Store - хранилище потоков, шагов и кнопок.
type Store struct {
	db     *sql.DB
	driver string
}

// Open открывает соединение с базой данных и выполняет миграции.
// driver - "postgres" или "sqlite".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if driver == "sqlite" {
		// SQLite не любит параллельных писателей.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(50)
		conn.SetMaxIdleConns(20)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка проверки соединения с базой данных: %w", err)
	}
	logger.Info("Успешное подключение к базе данных.", zap.String("driver", driver))

	s := &Store{db: conn, driver: driver}
	if err := s.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка выполнения миграции схемы: %w", err)
	}
	logger.Info("Инициализация базы данных успешно завершена.")
	return s, nil
}

// Close закрывает соединение с базой данных.
func (s *Store) Close() {
	if s != nil && s.db != nil {
		s.db.Close()
		logger.Info("Соединение с базой данных закрыто.")
	}
}

// DB возвращает нижележащее соединение.
func (s *Store) DB() *sql.DB {
	return s.db
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// q приводит плейсхолдеры $N к синтаксису драйвера (?N для SQLite).
func (s *Store) q(query string) string {
	if s.driver == "sqlite" {
		return pgPlaceholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func (s *Store) schema() string {
	pk := "BIGSERIAL PRIMARY KEY"
	if s.driver == "sqlite" {
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
	return strings.ReplaceAll(`
        CREATE TABLE IF NOT EXISTS flows (
            id {{PK}},
            name TEXT NOT NULL,
            description TEXT,
            is_default BOOLEAN NOT NULL DEFAULT FALSE,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );
        CREATE TABLE IF NOT EXISTS flow_steps (
            id {{PK}},
            flow_id BIGINT NOT NULL REFERENCES flows(id),
            step_order INTEGER NOT NULL,
            step_type TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            file_id TEXT,
            media_path TEXT,
            media_url TEXT,
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );
        CREATE TABLE IF NOT EXISTS buttons (
            id {{PK}},
            step_id BIGINT NOT NULL REFERENCES flow_steps(id),
            button_text TEXT NOT NULL,
            button_type TEXT NOT NULL,
            button_data TEXT NOT NULL DEFAULT '',
            button_order INTEGER NOT NULL
        );
    `, "{{PK}}", pk)
}

// migrate создает таблицы и индексы. Функция идемпотентна.
func (s *Store) migrate(ctx context.Context) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range splitStatements(s.schema()) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("ошибка создания таблиц: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("Создание таблиц (если не существуют) завершено.")

	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "flow_steps.flow_order_unique",
			sql:  `CREATE UNIQUE INDEX IF NOT EXISTS idx_flow_steps_flow_order ON flow_steps(flow_id, step_order)`,
		},
		{
			name: "buttons.step_id",
			sql:  `CREATE INDEX IF NOT EXISTS idx_buttons_step_id ON buttons(step_id)`,
		},
		{
			// Не более одного потока по умолчанию.
			name: "flows.single_default",
			sql:  `CREATE UNIQUE INDEX IF NOT EXISTS idx_flows_single_default ON flows(is_default) WHERE is_default = TRUE`,
		},
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				logger.Info("Миграция пропущена (объект уже существует).", zap.String("migration", m.name), zap.Error(err))
				continue
			}
			return fmt.Errorf("ошибка миграции схемы ('%s'): %w", m.name, err)
		}
		logger.Debug("Миграция применена.", zap.String("migration", m.name))
	}
	return nil
}

func splitStatements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// withTx выполняет fn в транзакции; при ошибке или панике транзакция откатывается.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			logger.Debug("Откат транзакции из-за ошибки.", zap.Error(err))
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}
