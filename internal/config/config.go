// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/retry"
)

// Config хранит все конфигурационные параметры приложения.
type Config struct {
	TelegramToken string `env:"TELEGRAM_APITOKEN"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBDriver      string `env:"DB_DRIVER" envDefault:"postgres"`
	AppEnv        string `env:"ENV"`
	BotUsername   string `env:"BOT_USERNAME"`
	Port          string `env:"PORT" envDefault:"8080"`

	// Адреса WebApp для CORS, через запятую. Пусто - кросс-доменные запросы запрещены.
	WebAppOrigins []string `env:"WEBAPP_ORIGINS" envSeparator:","`

	// Белый список операторов: владелец + ADMIN_CHAT_IDS.
	OwnerChatID  int64   `env:"OWNER_CHAT_ID"`
	AdminChatIDs []int64 `env:"ADMIN_CHAT_IDS" envSeparator:","`

	// Корень кэша медиа (image/, video/, video_note/, document/).
	MediaRoot string `env:"MEDIA_ROOT" envDefault:"uploads"`

	// Параметры доставки.
	StepDelay    time.Duration `env:"STEP_DELAY" envDefault:"700ms"`
	SendAttempts int           `env:"SEND_ATTEMPTS" envDefault:"3"`
	SendBackoff  time.Duration `env:"SEND_BACKOFF" envDefault:"2s"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`

	// Конвертация круглых видео.
	ConvertWorkers int           `env:"CONVERT_WORKERS" envDefault:"2"`
	ConvertTimeout time.Duration `env:"CONVERT_TIMEOUT" envDefault:"3m"`
	FFmpegPath     string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath    string        `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	WelcomeText string `env:"WELCOME_TEXT" envDefault:"👋 Добро пожаловать!"`
}

// LoadConfig загружает конфигурацию из переменных окружения.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора переменных окружения: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger.Info("Конфигурация загружена.",
		zap.String("db_driver", cfg.DBDriver),
		zap.String("media_root", cfg.MediaRoot),
		zap.Int("admins", len(cfg.AdminChatIDs)))
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_APITOKEN не установлен")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL не установлен")
	}
	switch c.DBDriver {
	case "postgres":
		if _, err := url.Parse(c.DatabaseURL); err != nil {
			return fmt.Errorf("ошибка парсинга DATABASE_URL: %w", err)
		}
	case "sqlite":
	default:
		return fmt.Errorf("неподдерживаемый DB_DRIVER: %q", c.DBDriver)
	}
	if c.OwnerChatID == 0 && len(c.AdminChatIDs) == 0 {
		logger.Warn("Предупреждение: ни OWNER_CHAT_ID, ни ADMIN_CHAT_IDS не заданы. Управление потоками будет недоступно.")
	}
	if c.BotUsername == "" {
		logger.Warn("Предупреждение: BOT_USERNAME не установлен. Ссылки на потоки не будут работать.")
	}
	if c.ConvertWorkers < 1 {
		c.ConvertWorkers = 1
	}
	c.BotUsername = strings.TrimPrefix(c.BotUsername, "@")
	return nil
}

// IsDev сообщает, запущено ли приложение в режиме разработки.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

// IsAdmin проверяет членство в белом списке операторов.
func (c *Config) IsAdmin(chatID int64) bool {
	if chatID == 0 {
		return false
	}
	if chatID == c.OwnerChatID {
		return true
	}
	for _, id := range c.AdminChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// SendPolicy возвращает политику повторов для отправок и загрузок через шлюз.
func (c *Config) SendPolicy() retry.Policy {
	return retry.Policy{
		Attempts: c.SendAttempts,
		Backoff:  c.SendBackoff,
		Timeout:  c.SendTimeout,
	}
}
