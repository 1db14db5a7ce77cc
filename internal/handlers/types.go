package handlers

import (
	"context"

	tgbotapi "github.com/OvyFlash/telegram-bot-api"

	"flowbot/internal/authoring"
	"flowbot/internal/config"
	"flowbot/internal/delivery"
	"flowbot/internal/models"
	"flowbot/internal/session"
)

// Messenger - операции шлюза, нужные обработчикам меню.
type Messenger interface {
	SendOrEdit(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup, parseMode string) (int, error)
	SendPhoto(ctx context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error
	SendDocument(ctx context.Context, chatID int64, p models.MediaPayload, caption string) error
	AnswerCallbackQuery(callbackID, text string)
	Username() string
}

// FlowManager - операции хранилища для меню управления потоками.
type FlowManager interface {
	ListFlows(ctx context.Context) ([]models.Flow, error)
	GetFlow(ctx context.Context, flowID int64) (models.Flow, error)
	ListSteps(ctx context.Context, flowID int64) ([]models.Step, error)
	GetStep(ctx context.Context, stepID int64) (models.Step, error)
	DeleteFlow(ctx context.Context, flowID int64) (bool, error)
	SetDefaultFlow(ctx context.Context, flowID int64) error
	DeleteStep(ctx context.Context, stepID int64) (bool, error)
	MoveStep(ctx context.Context, stepID int64, newOrder int) error
}

// Authoring - редактор потоков (конечный автомат).
type Authoring interface {
	Handle(ctx context.Context, operatorID int64, ev authoring.Event) (authoring.Reply, error)
}

// Deliverer - проигрывание потоков получателям.
type Deliverer interface {
	Deliver(ctx context.Context, chatID, flowID int64) (delivery.Report, error)
	DeliverDefault(ctx context.Context, chatID int64) (delivery.Report, error)
	DeliverActive(ctx context.Context, chatID, flowID int64) (delivery.Report, error)
}

// HandlerDependencies содержит все зависимости, необходимые для обработчиков.
type HandlerDependencies struct {
	Config         *config.Config
	BotClient      Messenger
	SessionManager *session.SessionManager
	Store          FlowManager
	Authoring      Authoring
	Delivery       Deliverer
}

// BotHandler инкапсулирует логику обработки сообщений и коллбэков.
type BotHandler struct {
	Deps HandlerDependencies
}

// NewBotHandler создает новый экземпляр BotHandler.
func NewBotHandler(deps HandlerDependencies) *BotHandler {
	if deps.Config == nil || deps.BotClient == nil || deps.SessionManager == nil ||
		deps.Store == nil || deps.Authoring == nil || deps.Delivery == nil {
		panic("Не все зависимости для BotHandler были предоставлены.")
	}
	return &BotHandler{Deps: deps}
}

// isOperator сообщает, входит ли чат в белый список операторов.
func (bh *BotHandler) isOperator(chatID int64) bool {
	return bh.Deps.Config.IsAdmin(chatID)
}
