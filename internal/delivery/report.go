package delivery

import (
	"flowbot/internal/models"
)

// Status - итог доставки одного шага.
type Status string

const (
	StatusDelivered Status = "доставлен"
	StatusDegraded  Status = "доставлен без медиа"
	StatusFailed    Status = "ошибка"
)

// StepResult - результат доставки шага.
type StepResult struct {
	StepID int64
	Order  int
	Type   models.StepType
	Status Status
	Err    error
}

// Report - результат прохода по потоку.
type Report struct {
	FlowID int64
	ChatID int64
	Steps  []StepResult
}

// Delivered возвращает число шагов, доставленных полностью.
func (r Report) Delivered() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status == StatusDelivered {
			n++
		}
	}
	return n
}

// Failures возвращает шаги с ошибкой или упрощенной доставкой.
func (r Report) Failures() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status != StatusDelivered {
			out = append(out, s)
		}
	}
	return out
}
