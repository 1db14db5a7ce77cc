package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"flowbot/internal/constants"
	"flowbot/internal/logger"
)

// FlowDeepLink возвращает ссылку, по которой получатель запускает поток.
func FlowDeepLink(botUsername string, flowID int64) (string, error) {
	if botUsername == "" {
		return "", fmt.Errorf("имя пользователя бота не настроено")
	}
	if flowID <= 0 {
		return "", fmt.Errorf("невалидный ID потока: %d", flowID)
	}
	return fmt.Sprintf("https://t.me/%s?start=%s%d", botUsername, constants.START_PAYLOAD_FLOW_PREFIX, flowID), nil
}

// FlowQRCode генерирует PNG с QR-кодом ссылки на поток.
func FlowQRCode(botUsername string, flowID int64) ([]byte, error) {
	link, err := FlowDeepLink(botUsername, flowID)
	if err != nil {
		return nil, err
	}
	// qrcode.Medium - уровень коррекции ошибок, 256 - размер в пикселях.
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		logger.Error("FlowQRCode: ошибка кодирования QR-кода", zap.String("link", link), zap.Error(err))
		return nil, err
	}
	return png, nil
}

// ParseStartPayload разбирает параметр команды /start. Для "flow_<id>" возвращает id.
func ParseStartPayload(payload string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(payload), constants.START_PAYLOAD_FLOW_PREFIX)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
