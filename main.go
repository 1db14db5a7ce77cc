package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"flowbot/internal/api"
	"flowbot/internal/authoring"
	"flowbot/internal/config"
	"flowbot/internal/constants"
	"flowbot/internal/db"
	"flowbot/internal/delivery"
	"flowbot/internal/handlers"
	"flowbot/internal/logger"
	"flowbot/internal/media"
	"flowbot/internal/session"
	"flowbot/internal/telegram_api"
)

func main() {
	// --- Initialization ---
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Предупреждение: не удалось загрузить файл .env. Переменные окружения должны быть установлены иным способом.")
	}
	if err := logger.Init(os.Getenv("ENV") == "dev"); err != nil {
		fmt.Fprintln(os.Stderr, "Критическая ошибка: не удалось инициализировать логгер:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Error("Критическая ошибка", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("не удалось инициализировать базу данных: %w", err)
	}
	defer store.Close()

	cache, err := media.NewCache(cfg.MediaRoot)
	if err != nil {
		return fmt.Errorf("не удалось инициализировать кэш медиа: %w", err)
	}
	tools := media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath, cache)
	if !tools.Available() {
		logger.Warn("ffmpeg/ffprobe не найдены: круглые видео будут проверяться только по размеру.")
	}
	pipeline := media.NewPipeline(tools, cfg.ConvertWorkers, cfg.ConvertTimeout)
	guard := media.NewGuard(cache, pipeline, store)

	bot, err := telegram_api.NewBotClient(cfg.TelegramToken, cfg.IsDev())
	if err != nil {
		return fmt.Errorf("не удалось инициализировать Telegram бота: %w", err)
	}

	sessionManager := session.NewSessionManager()
	machine := authoring.NewMachine(store, bot, cache, pipeline, sessionManager)
	engine := delivery.NewEngine(store, bot, bot, cache, guard, cfg.SendPolicy(), cfg.StepDelay)

	botHandler := handlers.NewBotHandler(handlers.HandlerDependencies{
		Config:         cfg,
		BotClient:      bot,
		SessionManager: sessionManager,
		Store:          store,
		Authoring:      machine,
		Delivery:       engine,
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.ApiDependencies{
			Store:     store,
			Cache:     cache,
			SecretKey: cfg.TelegramToken,
			IsAdmin:   cfg.IsAdmin,

			InitDataMaxAge: constants.INIT_DATA_MAX_AGE,
			AllowedOrigins: cfg.WebAppOrigins,
		}),
		ReadTimeout:  constants.HTTP_READ_TIMEOUT,
		WriteTimeout: constants.HTTP_WRITE_TIMEOUT,
	}
	go func() {
		logger.Info("Запуск HTTP-сервера.", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP-сервер остановлен с ошибкой", zap.Error(err))
			stop()
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = constants.UPDATE_TIMEOUT_SECONDS
	updates := bot.GetUpdatesChan(u)
	logger.Info("Бот и API-сервер запущены и готовы к работе...")

	var wg sync.WaitGroup
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				handleUpdate(ctx, botHandler, update)
			}()
		}
	}

	logger.Info("Остановка: ожидание завершения обработчиков...")
	bot.StopReceivingUpdates()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.SHUTDOWN_TIMEOUT)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Ошибка остановки HTTP-сервера", zap.Error(err))
	}
	wg.Wait()
	logger.Info("Бот остановлен.")
	return nil
}

// handleUpdate обрабатывает одно обновление. Паника в обработчике не роняет процесс.
func handleUpdate(ctx context.Context, bh *handlers.BotHandler, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Паника при обработке обновления", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
		}
	}()
	// Finish an in-flight delivery even on shutdown
	ctx = context.WithoutCancel(ctx)
	switch {
	case update.Message != nil:
		bh.HandleMessage(ctx, update)
	case update.CallbackQuery != nil:
		bh.HandleCallback(ctx, update)
	}
}
