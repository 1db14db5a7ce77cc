package telegram_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"flowbot/internal/constants"
	"flowbot/internal/logger"
	"flowbot/internal/retry"
)

// BotClient - обертка над Telegram Bot API.
// Реализует отправку шагов потока и загрузку медиа для редактора и движка доставки.
type BotClient struct {
	api   *tgbotapi.BotAPI
	Debug bool

	http        *http.Client
	fileURLs    *cache.Cache // file_id -> direct file link
	maxDownload int64
}

// NewBotClient авторизует бота и отключает вебхук (важно для getUpdates).
func NewBotClient(token string, debug bool) (*BotClient, error) {
	if token == "" {
		return nil, fmt.Errorf("токен Telegram API не предоставлен")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Telegram Bot API: %w", err)
	}
	api.Debug = debug
	logger.Info("Авторизован как аккаунт.", zap.String("username", api.Self.UserName))

	deleteWebhookConfig := tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}
	if _, err = api.Request(deleteWebhookConfig); err != nil {
		// Error is expected if no webhook was set
		logger.Warn("Предупреждение при отключении вебхука.", zap.Error(err))
	} else {
		logger.Info("Вебхук отключен (или не был установлен).")
	}

	return newBotClient(api, debug, &http.Client{Timeout: 2 * time.Minute}), nil
}

func newBotClient(api *tgbotapi.BotAPI, debug bool, httpClient *http.Client) *BotClient {
	return &BotClient{
		api:         api,
		Debug:       debug,
		http:        httpClient,
		fileURLs:    cache.New(constants.FILE_URL_CACHE_TTL, 10*time.Minute),
		maxDownload: constants.MAX_DOWNLOAD_BYTES,
	}
}

// GetAPI возвращает нижележащий экземпляр *tgbotapi.BotAPI.
func (bc *BotClient) GetAPI() *tgbotapi.BotAPI {
	return bc.api
}

// Username - имя бота без @.
func (bc *BotClient) Username() string {
	if bc == nil || bc.api == nil {
		return ""
	}
	return bc.api.Self.UserName
}

// GetUpdatesChan возвращает канал обновлений от Telegram.
func (bc *BotClient) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if bc.Debug {
		logger.Debug("Запрос канала обновлений.", zap.Int("timeout", config.Timeout))
	}
	return bc.api.GetUpdatesChan(config)
}

// StopReceivingUpdates останавливает long polling.
func (bc *BotClient) StopReceivingUpdates() {
	if bc != nil && bc.api != nil {
		bc.api.StopReceivingUpdates()
	}
}

// Send отправляет сообщение через BotClient.
func (bc *BotClient) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if bc == nil || bc.api == nil {
		return tgbotapi.Message{}, fmt.Errorf("BotClient или его API не инициализирован")
	}
	bc.logRequest(c)
	return bc.api.Send(c)
}

func (bc *BotClient) logRequest(c tgbotapi.Chattable) {
	if !bc.Debug {
		return
	}
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		logger.Debug("Отправка сообщения.", zap.Int64("chat_id", msg.ChatID), zap.String("text", truncateLog(msg.Text)))
	case tgbotapi.EditMessageTextConfig:
		logger.Debug("Редактирование сообщения.", zap.Int64("chat_id", msg.ChatID), zap.Int("message_id", msg.MessageID))
	default:
		logger.Debug("Отправка запроса.", zap.String("type", fmt.Sprintf("%T", c)))
	}
}

// Request выполняет запрос через BotClient.
func (bc *BotClient) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if bc == nil || bc.api == nil {
		return nil, fmt.Errorf("BotClient или его API не инициализирован")
	}
	if bc.Debug {
		logger.Debug("Выполнение запроса.", zap.String("type", fmt.Sprintf("%T", c)))
	}
	return bc.api.Request(c)
}

func truncateLog(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return s
}

// send отправляет сообщение с учетом контекста: обычный запрос отменяется вместе с ctx.
// Загрузку файла библиотека ведет без контекста, поэтому по отмене ctx вызов
// возвращается сразу, а загрузка дорабатывает в фоне. После такого таймаута повтор
// может доставить файл дважды: доставка медиа выполняется "хотя бы один раз".
func (bc *BotClient) send(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.Message{}, retry.Permanent(err)
	}
	if bc == nil || bc.api == nil {
		return tgbotapi.Message{}, retry.Permanent(fmt.Errorf("BotClient или его API не инициализирован"))
	}
	bc.logRequest(c)

	type result struct {
		msg tgbotapi.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		resp, err := bc.api.RequestWithContext(ctx, c)
		if err == nil {
			err = json.Unmarshal(resp.Result, &r.msg)
		}
		r.err = err
		done <- r
	}()
	select {
	case r := <-done:
		return r.msg, classify(r.err)
	case <-ctx.Done():
		return tgbotapi.Message{}, ctx.Err()
	}
}

// classify помечает ошибки, которые повторять бессмысленно (неверный запрос, бот заблокирован).
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return retry.Permanent(err)
		}
	}
	return err
}

// Download скачивает файл, ранее выданный шлюзом, по его file_id.
func (bc *BotClient) Download(ctx context.Context, fileID string) ([]byte, error) {
	link, err := bc.fileURL(fileID)
	if err != nil {
		return nil, err
	}
	data, err := bc.get(ctx, link)
	if err != nil {
		// The link may have expired
		bc.fileURLs.Delete(fileID)
		return nil, fmt.Errorf("ошибка загрузки файла %s: %w", fileID, err)
	}
	return data, nil
}

func (bc *BotClient) fileURL(fileID string) (string, error) {
	if v, ok := bc.fileURLs.Get(fileID); ok {
		return v.(string), nil
	}
	if bc.api == nil {
		return "", fmt.Errorf("BotClient или его API не инициализирован")
	}
	link, err := bc.api.GetFileDirectURL(fileID)
	if err != nil {
		return "", classify(fmt.Errorf("ошибка получения ссылки на файл %s: %w", fileID, err))
	}
	bc.fileURLs.SetDefault(fileID, link)
	return link, nil
}

// FetchURL скачивает медиа по внешней ссылке оператора.
func (bc *BotClient) FetchURL(ctx context.Context, rawURL string) ([]byte, error) {
	data, err := bc.get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки %s: %w", rawURL, err)
	}
	return data, nil
}

func (bc *BotClient) get(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	resp, err := bc.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	if resp.ContentLength > bc.maxDownload {
		return nil, retry.Permanent(fmt.Errorf("файл слишком большой: %d байт", resp.ContentLength))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, bc.maxDownload+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > bc.maxDownload {
		return nil, retry.Permanent(fmt.Errorf("файл больше %d байт", bc.maxDownload))
	}
	return data, nil
}
