package authoring

import (
	"flowbot/internal/models"
)

// Event - входное событие от оператора.
type Event interface {
	isEvent()
}

// Upload - медиафайл, загруженный оператором через шлюз.
type Upload struct {
	FileID string
	Kind   string // utils.MediaKind*
	Size   int64
}

type (
	// CreateFlow начинает создание нового потока.
	CreateFlow struct{}
	// AddStep начинает новый шаг в текущем потоке.
	AddStep struct {
		Type       models.StepType
		WithButton bool
	}
	// StartAppend открывает существующий поток для добавления шагов.
	StartAppend struct{ FlowID int64 }
	// Text - текстовое сообщение оператора.
	Text struct{ Text string }
	// Media - загруженный медиафайл.
	Media struct{ Upload Upload }
	// Convert - решение оператора о конвертации круглого видео.
	Convert struct{ Accept bool }
	// Retry повторяет неудавшееся сохранение шага.
	Retry struct{}
	// Continue пропускает необязательный ввод (подпись).
	Continue struct{}
	// Finish завершает работу с потоком и выводит итог.
	Finish struct{}
	// Cancel отменяет текущий черновик.
	Cancel struct{}
	// EditText начинает замену текста шага.
	EditText struct{ StepID int64 }
	// EditMedia начинает замену медиа шага.
	EditMedia struct{ StepID int64 }
)

func (CreateFlow) isEvent()  {}
func (AddStep) isEvent()     {}
func (StartAppend) isEvent() {}
func (Text) isEvent()        {}
func (Media) isEvent()       {}
func (Convert) isEvent()     {}
func (Retry) isEvent()       {}
func (Continue) isEvent()    {}
func (Finish) isEvent()      {}
func (Cancel) isEvent()      {}
func (EditText) isEvent()    {}
func (EditMedia) isEvent()   {}

// ReplyButton - inline-кнопка ответа.
type ReplyButton struct {
	Text string
	Data string
}

// Reply - ответ оператору. Отрисовывается обработчиками.
type Reply struct {
	Text     string
	Markdown bool
	Keyboard [][]ReplyButton
}
