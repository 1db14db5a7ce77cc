package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flowbot/internal/db"
	"flowbot/internal/logger"
	"flowbot/internal/models"
	"flowbot/internal/reports"
)

// jsonResponse - стандартный ответ API
type jsonResponse struct {
	Status  string `json:"status"` // "success" или "error"
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// FlowStepsResponse - поток вместе с шагами.
type FlowStepsResponse struct {
	Flow  models.Flow   `json:"flow"`
	Steps []models.Step `json:"steps"`
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(jsonResponse{Status: "error", Message: message})
}

func writeJSONSuccess(w http.ResponseWriter, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(jsonResponse{Status: "success", Message: message, Data: data})
}

// Healthz - проверка живости.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONSuccess(w, "ok", nil)
}

// ListFlows возвращает все потоки с числом шагов.
func (s *Server) ListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.deps.Store.ListFlows(r.Context())
	if err != nil {
		logger.Error("API ListFlows: ошибка получения потоков", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to load flows")
		return
	}
	if flows == nil {
		flows = []models.Flow{}
	}
	writeJSONSuccess(w, "Flows retrieved", flows)
}

// ListSteps возвращает поток и его шаги по порядку.
func (s *Server) ListSteps(w http.ResponseWriter, r *http.Request) {
	flowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || flowID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "Invalid flow ID")
		return
	}
	flow, err := s.deps.Store.GetFlow(r.Context(), flowID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "Flow not found")
			return
		}
		logger.Error("API ListSteps: ошибка получения потока", zap.Int64("flow_id", flowID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to load flow")
		return
	}
	steps, err := s.deps.Store.ListSteps(r.Context(), flowID)
	if err != nil {
		logger.Error("API ListSteps: ошибка получения шагов", zap.Int64("flow_id", flowID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to load steps")
		return
	}
	if steps == nil {
		steps = []models.Step{}
	}
	writeJSONSuccess(w, "Steps retrieved", FlowStepsResponse{Flow: flow, Steps: steps})
}

// FlowsReport отдает выгрузку потоков в Excel.
func (s *Server) FlowsReport(w http.ResponseWriter, r *http.Request) {
	data, err := reports.Build(r.Context(), s.deps.Store)
	if err != nil {
		logger.Error("API FlowsReport: ошибка формирования отчета", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "Failed to build report")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+reports.FileName(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
