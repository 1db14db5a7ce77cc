package session

import (
	"flowbot/internal/models"
)

// State - текущий режим ввода оператора. В сессии активен ровно один вариант.
type State interface {
	Name() string
	isState()
}

// Draft - шаг, который собирается, но еще не сохранен.
type Draft struct {
	Type       models.StepType
	WithButton bool
	Content    string
	Media      models.MediaRef
	Buttons    []models.Button
}

// StepDraft переводит черновик в данные для хранилища.
func (d Draft) StepDraft() models.StepDraft {
	return models.StepDraft{Type: d.Type, Content: d.Content, Media: d.Media, Buttons: d.Buttons}
}

// AwaitingFlowName - ожидается название нового потока.
type AwaitingFlowName struct{}

// AwaitingStepType - меню потока: ожидается выбор типа следующего шага или завершение.
type AwaitingStepType struct{}

// AwaitingText - ожидается текст шага.
type AwaitingText struct{ Draft Draft }

// AwaitingMediaOrURL - ожидается медиафайл или ссылка на него.
type AwaitingMediaOrURL struct{ Draft Draft }

// AwaitingConvertDecision - круглое видео не прошло проверку, оператор решает, конвертировать ли его.
// Если EditStepID != 0, после конвертации обновляется существующий шаг.
type AwaitingConvertDecision struct {
	Draft      Draft
	EditStepID int64
	Reason     string
}

// AwaitingCaptionText - ожидается подпись к медиа.
type AwaitingCaptionText struct{ Draft Draft }

// AwaitingButtonText - ожидается текст кнопки.
type AwaitingButtonText struct{ Draft Draft }

// AwaitingButtonURL - ожидается ссылка для кнопки.
type AwaitingButtonURL struct {
	Draft      Draft
	ButtonText string
}

// AwaitingCommitRetry - сохранение шага не удалось, черновик сохранен для повтора.
type AwaitingCommitRetry struct {
	Draft Draft
	Err   string
}

// AwaitingEditText - ожидается новый текст существующего шага.
type AwaitingEditText struct{ StepID int64 }

// AwaitingEditMedia - ожидается новое медиа существующего шага.
type AwaitingEditMedia struct {
	StepID int64
	Type   models.StepType
}

func (AwaitingFlowName) Name() string        { return "awaiting_flow_name" }
func (AwaitingStepType) Name() string        { return "awaiting_step_type" }
func (AwaitingText) Name() string            { return "awaiting_text" }
func (AwaitingMediaOrURL) Name() string      { return "awaiting_media_or_url" }
func (AwaitingConvertDecision) Name() string { return "awaiting_convert_decision" }
func (AwaitingCaptionText) Name() string     { return "awaiting_caption_text" }
func (AwaitingButtonText) Name() string      { return "awaiting_button_text" }
func (AwaitingButtonURL) Name() string       { return "awaiting_button_url" }
func (AwaitingCommitRetry) Name() string     { return "awaiting_commit_retry" }
func (AwaitingEditText) Name() string        { return "awaiting_edit_text" }
func (AwaitingEditMedia) Name() string       { return "awaiting_edit_media" }

func (AwaitingFlowName) isState()        {}
func (AwaitingStepType) isState()        {}
func (AwaitingText) isState()            {}
func (AwaitingMediaOrURL) isState()      {}
func (AwaitingConvertDecision) isState() {}
func (AwaitingCaptionText) isState()     {}
func (AwaitingButtonText) isState()      {}
func (AwaitingButtonURL) isState()       {}
func (AwaitingCommitRetry) isState()     {}
func (AwaitingEditText) isState()        {}
func (AwaitingEditMedia) isState()       {}

// DraftOf возвращает черновик, если он есть в состоянии.
func DraftOf(s State) (Draft, bool) {
	switch st := s.(type) {
	case AwaitingText:
		return st.Draft, true
	case AwaitingMediaOrURL:
		return st.Draft, true
	case AwaitingConvertDecision:
		return st.Draft, st.EditStepID == 0
	case AwaitingCaptionText:
		return st.Draft, true
	case AwaitingButtonText:
		return st.Draft, true
	case AwaitingButtonURL:
		return st.Draft, true
	case AwaitingCommitRetry:
		return st.Draft, true
	}
	return Draft{}, false
}
