package models

import (
	"fmt"
	"time"
)

// StepType - тип шага потока.
type StepType string

const (
	StepText       StepType = "text"
	StepImage      StepType = "image"
	StepVideo      StepType = "video"
	StepRoundVideo StepType = "video_note" // Круглое видео (video note в терминах Telegram)
	StepButton     StepType = "button"
)

// ParseStepType разбирает строковое представление типа шага.
func ParseStepType(s string) (StepType, error) {
	switch t := StepType(s); t {
	case StepText, StepImage, StepVideo, StepRoundVideo, StepButton:
		return t, nil
	}
	return "", fmt.Errorf("неизвестный тип шага: %q", s)
}

// HasMedia сообщает, требует ли тип шага медиафайл.
func (t StepType) HasMedia() bool {
	return t == StepImage || t == StepVideo || t == StepRoundVideo
}

// ButtonKind - вид inline-кнопки.
type ButtonKind string

const (
	ButtonURL      ButtonKind = "url"
	ButtonCallback ButtonKind = "callback"
)

// Flow - именованная последовательность шагов.
type Flow struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description NullString `json:"description"`
	IsDefault   bool       `json:"is_default"`
	IsActive    bool       `json:"is_active"`
	StepCount   int        `json:"step_count"` // Заполняется только в ListFlows
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MediaRef указывает на медиа шага.
// FileID - хэндл, выданный шлюзом; LocalPath - путь в кэше относительно корня медиа
// (например, "video_note/<file_id>.mp4"); URL - внешний адрес, введенный оператором.
// У круглого видео FileID вместе с LocalPath - хэндл уже принятого шлюзом кружка,
// а FileID без LocalPath - исходный файл, который еще нужно проверить.
type MediaRef struct {
	FileID    string `json:"file_id,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	URL       string `json:"url,omitempty"`
}

// IsZero возвращает true, если ссылка на медиа пустая.
func (r MediaRef) IsZero() bool {
	return r.FileID == "" && r.LocalPath == "" && r.URL == ""
}

// IsVideoNoteHandle: FileID можно отправить кружком без проверки байтов.
func (r MediaRef) IsVideoNoteHandle() bool {
	return r.FileID != "" && r.LocalPath != ""
}

// Step - один шаг потока.
type Step struct {
	ID       int64    `json:"id"`
	FlowID   int64    `json:"flow_id"`
	Order    int      `json:"order"`
	Type     StepType `json:"type"`
	Content  string   `json:"content"`
	Media    MediaRef `json:"media"`
	IsActive bool     `json:"is_active"`
	Buttons  []Button `json:"buttons"`
}

// Button - inline-кнопка шага.
type Button struct {
	ID     int64      `json:"id"`
	StepID int64      `json:"step_id"`
	Text   string     `json:"text"`
	Kind   ButtonKind `json:"kind"`
	Target string     `json:"target"`
	Order  int        `json:"order"`
}

// StepDraft - данные шага до сохранения. Порядок вычисляет хранилище.
type StepDraft struct {
	Type    StepType
	Content string
	Media   MediaRef
	Buttons []Button
}

// MediaPayload - то, что уходит в шлюз: либо хэндл, либо байты.
type MediaPayload struct {
	FileID string
	Data   []byte
	Name   string
}

// IsZero возвращает true, если медиа не задано.
func (p MediaPayload) IsZero() bool {
	return p.FileID == "" && len(p.Data) == 0
}
