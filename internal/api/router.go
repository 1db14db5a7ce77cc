package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"flowbot/internal/media"
	"flowbot/internal/models"
)

// FlowReader - чтение потоков для API.
type FlowReader interface {
	GetFlow(ctx context.Context, flowID int64) (models.Flow, error)
	ListFlows(ctx context.Context) ([]models.Flow, error)
	ListSteps(ctx context.Context, flowID int64) ([]models.Step, error)
}

// ApiDependencies содержит зависимости для обработчиков API.
type ApiDependencies struct {
	Store     FlowReader
	Cache     *media.Cache
	SecretKey string // Токен бота: ключ проверки initData
	IsAdmin   func(chatID int64) bool
	// InitDataMaxAge ограничивает возраст initData; 0 - без проверки.
	InitDataMaxAge time.Duration
	// AllowedOrigins - адреса WebApp, которым разрешены кросс-доменные запросы.
	// Пустой список отключает CORS.
	AllowedOrigins []string
}

// Server - обработчики HTTP API.
type Server struct {
	deps ApiDependencies
}

// NewRouter собирает роутер API с глобальными middleware.
func NewRouter(deps ApiDependencies) http.Handler {
	s := &Server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if len(deps.AllowedOrigins) > 0 {
		// Авторизация идет заголовком X-Telegram-Auth, cookies не нужны.
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Telegram-Auth"},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.Healthz)
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Медиа отдается без авторизации: ссылки на него используются как URL шагов.
	r.Get("/api/media/{category}/{filename}", s.MediaProxyHandler)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(deps.SecretKey, deps.InitDataMaxAge))
		r.Use(AdminMiddleware(deps.IsAdmin))

		r.Get("/api/flows", s.ListFlows)
		r.Get("/api/flows/report.xlsx", s.FlowsReport)
		r.Get("/api/flows/{id}/steps", s.ListSteps)
	})
	return r
}
