// Файл: internal/authoring/machine.go
package authoring

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"flowbot/internal/formatters"
	"flowbot/internal/logger"
	"flowbot/internal/media"
	"flowbot/internal/models"
	"flowbot/internal/session"
	"flowbot/internal/utils"
)

// ErrNoSession - у оператора нет открытой сессии, а событие ее требует.
var ErrNoSession = errors.New("нет активной сессии редактирования")

// FlowStore - операции хранилища, нужные редактору потоков.
type FlowStore interface {
	CreateFlow(ctx context.Context, name, description string) (int64, error)
	GetFlow(ctx context.Context, flowID int64) (models.Flow, error)
	AppendStep(ctx context.Context, flowID int64, draft models.StepDraft) (int64, error)
	FlowSummary(ctx context.Context, flowID int64) ([]models.StepType, error)
	GetStep(ctx context.Context, stepID int64) (models.Step, error)
	UpdateStepContent(ctx context.Context, stepID int64, content string) (bool, error)
	UpdateStepMediaRef(ctx context.Context, stepID int64, ref models.MediaRef) (bool, error)
}

// MediaFetcher скачивает медиа по file_id шлюза или по внешней ссылке.
type MediaFetcher interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
	FetchURL(ctx context.Context, rawURL string) ([]byte, error)
}

// Compliance проверяет и конвертирует круглые видео.
type Compliance interface {
	Validate(ctx context.Context, data []byte, t models.StepType) media.Result
	Convert(ctx context.Context, data []byte) media.Result
}

// Machine - конечный автомат создания потоков. Все события оператора проходят через Handle.
type Machine struct {
	store      FlowStore
	fetch      MediaFetcher
	cache      *media.Cache
	compliance Compliance
	sessions   *session.SessionManager
}

// NewMachine создает автомат.
func NewMachine(store FlowStore, fetch MediaFetcher, cache *media.Cache, compliance Compliance, sessions *session.SessionManager) *Machine {
	return &Machine{store: store, fetch: fetch, cache: cache, compliance: compliance, sessions: sessions}
}

// Handle обрабатывает одно событие оператора и возвращает ответ.
// События одного оператора обрабатываются строго последовательно.
func (m *Machine) Handle(ctx context.Context, operatorID int64, ev Event) (Reply, error) {
	unlock := m.sessions.Lock(operatorID)
	defer unlock()

	switch e := ev.(type) {
	case CreateFlow:
		s := session.AuthoringSession{State: session.AwaitingFlowName{}}
		m.sessions.Put(operatorID, s)
		return m.prompt(s), nil
	case StartAppend:
		return m.startAppend(ctx, operatorID, e.FlowID), nil
	case EditText:
		return m.startEdit(ctx, operatorID, e.StepID, false), nil
	case EditMedia:
		return m.startEdit(ctx, operatorID, e.StepID, true), nil
	}

	s, ok := m.sessions.Get(operatorID)
	if !ok {
		return Reply{Text: "Нет открытого потока. Откройте меню: /admin"}, ErrNoSession
	}
	logger.Debug("Machine.Handle: событие",
		zap.Int64("operator", operatorID), zap.String("event", fmt.Sprintf("%T", ev)), zap.String("state", s.State.Name()))

	switch e := ev.(type) {
	case AddStep:
		return m.addStep(operatorID, s, e), nil
	case Text:
		return m.onText(ctx, operatorID, s, e.Text), nil
	case Media:
		return m.onMedia(ctx, operatorID, s, e.Upload), nil
	case Convert:
		return m.onConvert(ctx, operatorID, s, e.Accept), nil
	case Retry:
		if st, ok := s.State.(session.AwaitingCommitRetry); ok {
			return m.commit(ctx, operatorID, s, st.Draft), nil
		}
		return m.prompt(s), nil
	case Continue:
		if st, ok := s.State.(session.AwaitingCaptionText); ok {
			st.Draft.Content = ""
			return m.next(ctx, operatorID, s, st.Draft), nil
		}
		return m.prompt(s), nil
	case Finish:
		return m.finish(ctx, operatorID, s), nil
	case Cancel:
		return m.cancel(operatorID, s), nil
	}
	return m.prompt(s), fmt.Errorf("неизвестное событие %T", ev)
}

func (m *Machine) startAppend(ctx context.Context, operatorID, flowID int64) Reply {
	f, err := m.store.GetFlow(ctx, flowID)
	if err != nil {
		logger.Warn("Machine.startAppend: поток не получен", zap.Int64("flow_id", flowID), zap.Error(err))
		return Reply{Text: "❌ Поток не найден."}
	}
	types, err := m.store.FlowSummary(ctx, flowID)
	if err != nil {
		return Reply{Text: "❌ Не удалось загрузить шаги потока. Попробуйте позже."}
	}
	s := session.AuthoringSession{FlowID: f.ID, FlowName: f.Name, StepNumber: len(types), State: session.AwaitingStepType{}}
	m.sessions.Put(operatorID, s)
	return m.prompt(s)
}

func (m *Machine) startEdit(ctx context.Context, operatorID, stepID int64, editMedia bool) Reply {
	st, err := m.store.GetStep(ctx, stepID)
	if err != nil {
		logger.Warn("Machine.startEdit: шаг не получен", zap.Int64("step_id", stepID), zap.Error(err))
		return Reply{Text: "❌ Шаг не найден."}
	}
	if editMedia && !st.Type.HasMedia() {
		return Reply{Text: "У этого шага нет медиа. Можно изменить только текст."}
	}
	f, err := m.store.GetFlow(ctx, st.FlowID)
	if err != nil {
		return Reply{Text: "❌ Поток шага не найден."}
	}
	types, err := m.store.FlowSummary(ctx, st.FlowID)
	if err != nil {
		return Reply{Text: "❌ Не удалось загрузить шаги потока. Попробуйте позже."}
	}

	s := session.AuthoringSession{FlowID: f.ID, FlowName: f.Name, StepNumber: len(types)}
	if editMedia {
		s.State = session.AwaitingEditMedia{StepID: st.ID, Type: st.Type}
	} else {
		s.State = session.AwaitingEditText{StepID: st.ID}
	}
	m.sessions.Put(operatorID, s)
	return m.prompt(s)
}

func (m *Machine) addStep(operatorID int64, s session.AuthoringSession, e AddStep) Reply {
	if s.FlowID == 0 {
		return m.reprompt(s, "Сначала введите название потока.")
	}
	t, err := models.ParseStepType(string(e.Type))
	if err != nil {
		return m.reprompt(s, "Неизвестный тип шага.")
	}
	d := session.Draft{Type: t, WithButton: e.WithButton || t == models.StepButton}
	if t.HasMedia() {
		s.State = session.AwaitingMediaOrURL{Draft: d}
	} else {
		s.State = session.AwaitingText{Draft: d}
	}
	m.sessions.Put(operatorID, s)
	return m.prompt(s)
}

func (m *Machine) onText(ctx context.Context, operatorID int64, s session.AuthoringSession, text string) Reply {
	text = strings.TrimSpace(text)

	switch st := s.State.(type) {
	case session.AwaitingFlowName:
		name, err := utils.ValidateFlowName(text)
		if err != nil {
			return m.reprompt(s, "Некорректное название: "+err.Error()+".")
		}
		id, err := m.store.CreateFlow(ctx, name, "")
		if err != nil {
			return m.reprompt(s, "Не удалось создать поток, попробуйте еще раз.")
		}
		s = session.AuthoringSession{FlowID: id, FlowName: name, State: session.AwaitingStepType{}}
		m.sessions.Put(operatorID, s)
		r := m.prompt(s)
		r.Text = fmt.Sprintf("✅ Поток «%s» создан.\n\n%s", name, r.Text)
		return r

	case session.AwaitingText:
		if text == "" {
			return m.reprompt(s, "Текст не может быть пустым.")
		}
		st.Draft.Content = text
		return m.next(ctx, operatorID, s, st.Draft)

	case session.AwaitingMediaOrURL:
		link, err := utils.ValidateURL(text)
		if err != nil {
			// Текст вместо медиа не считается подписью: состояние не меняется.
			return m.reprompt(s, "Это не файл и не ссылка.")
		}
		ref, data, err := m.captureURL(ctx, st.Draft.Type, link)
		if err != nil {
			return m.reprompt(s, "Не удалось загрузить файл по ссылке: "+err.Error())
		}
		return m.acceptMedia(ctx, operatorID, s, st.Draft, ref, data, 0)

	case session.AwaitingEditMedia:
		link, err := utils.ValidateURL(text)
		if err != nil {
			return m.reprompt(s, "Это не файл и не ссылка.")
		}
		ref, data, err := m.captureURL(ctx, st.Type, link)
		if err != nil {
			return m.reprompt(s, "Не удалось загрузить файл по ссылке: "+err.Error())
		}
		return m.acceptMedia(ctx, operatorID, s, session.Draft{Type: st.Type}, ref, data, st.StepID)

	case session.AwaitingCaptionText:
		if text == "" {
			// Стикер или голосовое вместо подписи.
			return m.reprompt(s, "Подпись должна быть текстом.")
		}
		st.Draft.Content = text
		return m.next(ctx, operatorID, s, st.Draft)

	case session.AwaitingButtonText:
		if text == "" {
			return m.reprompt(s, "Текст кнопки не может быть пустым.")
		}
		s.State = session.AwaitingButtonURL{Draft: st.Draft, ButtonText: text}
		m.sessions.Put(operatorID, s)
		return m.prompt(s)

	case session.AwaitingButtonURL:
		link, err := utils.ValidateURL(text)
		if err != nil {
			return m.reprompt(s, "Некорректная ссылка: "+err.Error()+".")
		}
		d := st.Draft
		d.Buttons = append(append([]models.Button(nil), d.Buttons...),
			models.Button{Text: st.ButtonText, Kind: models.ButtonURL, Target: link})
		return m.commit(ctx, operatorID, s, d)

	case session.AwaitingEditText:
		if text == "" {
			return m.reprompt(s, "Текст не может быть пустым.")
		}
		ok, err := m.store.UpdateStepContent(ctx, st.StepID, text)
		if err != nil {
			return m.reprompt(s, "Не удалось сохранить текст, попробуйте еще раз.")
		}
		s.State = session.AwaitingStepType{}
		m.sessions.Put(operatorID, s)
		r := m.prompt(s)
		if !ok {
			r.Text = "❌ Шаг не найден.\n\n" + r.Text
		} else {
			r.Text = "✅ Текст шага обновлен.\n\n" + r.Text
		}
		return r
	}
	return m.prompt(s)
}

func acceptsUpload(t models.StepType, kind string) bool {
	switch t {
	case models.StepImage:
		return kind == utils.MediaKindPhoto || kind == utils.MediaKindDocument
	case models.StepVideo:
		return kind == utils.MediaKindVideo || kind == utils.MediaKindDocument
	case models.StepRoundVideo:
		return kind == utils.MediaKindVideoNote || kind == utils.MediaKindVideo || kind == utils.MediaKindDocument
	}
	return false
}

func (m *Machine) onMedia(ctx context.Context, operatorID int64, s session.AuthoringSession, up Upload) Reply {
	var d session.Draft
	var editStepID int64
	switch st := s.State.(type) {
	case session.AwaitingMediaOrURL:
		d = st.Draft
	case session.AwaitingEditMedia:
		d = session.Draft{Type: st.Type}
		editStepID = st.StepID
	default:
		return m.reprompt(s, "Сейчас файл не ожидается.")
	}

	if !acceptsUpload(d.Type, up.Kind) {
		return m.reprompt(s, "Этот тип файла не подходит для шага «"+formatters.StepTypeLabel(d.Type)+"».")
	}
	ref, data, err := m.captureUpload(ctx, d.Type, up)
	if err != nil {
		return m.reprompt(s, "Не удалось получить файл: "+err.Error())
	}
	return m.acceptMedia(ctx, operatorID, s, d, ref, data, editStepID)
}

// captureUpload скачивает загруженный файл в кэш. Для круглого видео байты обязательны,
// для остальных типов достаточно file_id.
func (m *Machine) captureUpload(ctx context.Context, t models.StepType, up Upload) (models.MediaRef, []byte, error) {
	ref := models.MediaRef{FileID: up.FileID}
	data, err := m.fetch.Download(ctx, up.FileID)
	if err != nil {
		if t == models.StepRoundVideo {
			return ref, nil, err
		}
		logger.Warn("Machine.captureUpload: файл не скачан, сохраняю только file_id", zap.String("file_id", up.FileID), zap.Error(err))
		return ref, nil, nil
	}
	rel, err := m.cache.Save(media.CategoryFor(t), up.FileID, data)
	if err != nil {
		if t == models.StepRoundVideo {
			return ref, nil, err
		}
		logger.Warn("Machine.captureUpload: файл не сохранен в кэш", zap.String("file_id", up.FileID), zap.Error(err))
		return ref, data, nil
	}
	ref.LocalPath = rel
	if t == models.StepRoundVideo && up.Kind != utils.MediaKindVideoNote {
		// Хэндл обычного видео нельзя отправить кружком: остается только файл в кэше.
		ref.FileID = ""
	}
	return ref, data, nil
}

// captureURL принимает ссылку. Круглое видео скачивается сразу для проверки,
// остальные типы загружаются при доставке.
func (m *Machine) captureURL(ctx context.Context, t models.StepType, link string) (models.MediaRef, []byte, error) {
	ref := models.MediaRef{URL: link}
	if t != models.StepRoundVideo {
		return ref, nil, nil
	}
	data, err := m.fetch.FetchURL(ctx, link)
	if err != nil {
		return ref, nil, err
	}
	rel, err := m.cache.Save(media.CategoryRoundVideo, media.URLCacheName(link), data)
	if err != nil {
		return ref, nil, err
	}
	ref.LocalPath = rel
	return ref, data, nil
}

func (m *Machine) acceptMedia(ctx context.Context, operatorID int64, s session.AuthoringSession, d session.Draft, ref models.MediaRef, data []byte, editStepID int64) Reply {
	note := ""
	if d.Type == models.StepRoundVideo && data != nil {
		check := m.compliance.Validate(ctx, data, d.Type)
		if !check.OK {
			d.Media = ref
			s.State = session.AwaitingConvertDecision{Draft: d, EditStepID: editStepID, Reason: check.Reason}
			m.sessions.Put(operatorID, s)
			return m.prompt(s)
		}
		if check.Reason != "" {
			note = "ℹ️ " + check.Reason + "\n"
		}
	}

	if editStepID != 0 {
		return m.applyEditMedia(ctx, operatorID, s, editStepID, ref, note)
	}
	d.Media = ref
	s.State = session.AwaitingCaptionText{Draft: d}
	m.sessions.Put(operatorID, s)
	r := m.prompt(s)
	r.Text = note + "✅ Медиа получено.\n\n" + r.Text
	return r
}

func (m *Machine) applyEditMedia(ctx context.Context, operatorID int64, s session.AuthoringSession, stepID int64, ref models.MediaRef, note string) Reply {
	ok, err := m.store.UpdateStepMediaRef(ctx, stepID, ref)
	if err != nil {
		return m.reprompt(s, "Не удалось сохранить медиа, отправьте файл еще раз.")
	}
	s.State = session.AwaitingStepType{}
	m.sessions.Put(operatorID, s)
	r := m.prompt(s)
	if !ok {
		r.Text = "❌ Шаг не найден.\n\n" + r.Text
	} else {
		r.Text = note + "✅ Медиа шага обновлено.\n\n" + r.Text
	}
	return r
}

func (m *Machine) onConvert(ctx context.Context, operatorID int64, s session.AuthoringSession, accept bool) Reply {
	st, ok := s.State.(session.AwaitingConvertDecision)
	if !ok {
		return m.prompt(s)
	}
	if !accept {
		return m.cancel(operatorID, s)
	}

	// Откат: снова ждем файл, черновик без медиа.
	retryState := func() session.State {
		if st.EditStepID != 0 {
			return session.AwaitingEditMedia{StepID: st.EditStepID, Type: st.Draft.Type}
		}
		d := st.Draft
		d.Media = models.MediaRef{}
		return session.AwaitingMediaOrURL{Draft: d}
	}
	fail := func(reason string) Reply {
		s.State = retryState()
		m.sessions.Put(operatorID, s)
		return m.reprompt(s, "Не удалось конвертировать видео: "+reason+". Отправьте другой файл.")
	}

	path := st.Draft.Media.LocalPath
	if path == "" {
		return fail("исходный файл не сохранен")
	}
	data, err := m.cache.Read(path)
	if err != nil {
		return fail("исходный файл недоступен")
	}
	res := m.compliance.Convert(ctx, data)
	if !res.OK {
		return fail(res.Reason)
	}
	if err := m.cache.Overwrite(path, res.Data); err != nil {
		logger.Error("Machine.onConvert: ошибка записи результата", zap.String("path", path), zap.Error(err))
		return fail("ошибка записи результата")
	}

	// Прежний file_id указывает на несконвертированный оригинал.
	ref := models.MediaRef{LocalPath: path, URL: st.Draft.Media.URL}
	note := "✅ " + res.Reason + "\n"
	if st.EditStepID != 0 {
		return m.applyEditMedia(ctx, operatorID, s, st.EditStepID, ref, note)
	}
	d := st.Draft
	d.Media = ref
	s.State = session.AwaitingCaptionText{Draft: d}
	m.sessions.Put(operatorID, s)
	r := m.prompt(s)
	r.Text = note + "\n" + r.Text
	return r
}

// next переводит черновик к сбору кнопки или к сохранению.
func (m *Machine) next(ctx context.Context, operatorID int64, s session.AuthoringSession, d session.Draft) Reply {
	if d.WithButton && len(d.Buttons) == 0 {
		s.State = session.AwaitingButtonText{Draft: d}
		m.sessions.Put(operatorID, s)
		return m.prompt(s)
	}
	return m.commit(ctx, operatorID, s, d)
}

// commit сохраняет шаг. При ошибке черновик остается в сессии для повтора.
// После успеха состояние целиком заменяется меню потока.
func (m *Machine) commit(ctx context.Context, operatorID int64, s session.AuthoringSession, d session.Draft) Reply {
	stepID, err := m.store.AppendStep(ctx, s.FlowID, d.StepDraft())
	if err != nil {
		logger.Error("Machine.commit: шаг не сохранен, черновик сохранен для повтора",
			zap.Int64("operator", operatorID), zap.Int64("flow_id", s.FlowID), zap.Error(err))
		s.State = session.AwaitingCommitRetry{Draft: d, Err: err.Error()}
		m.sessions.Put(operatorID, s)
		return m.prompt(s)
	}

	s.StepNumber++
	s.State = session.AwaitingStepType{}
	m.sessions.Put(operatorID, s)
	logger.Info("Шаг сохранен.", zap.Int64("operator", operatorID), zap.Int64("flow_id", s.FlowID),
		zap.Int64("step_id", stepID), zap.Int("number", s.StepNumber))

	r := m.prompt(s)
	r.Text = fmt.Sprintf("✅ Шаг %d (%s) сохранен.\n\n%s", s.StepNumber, formatters.StepTypeLabel(d.Type), r.Text)
	return r
}

func (m *Machine) finish(ctx context.Context, operatorID int64, s session.AuthoringSession) Reply {
	if s.FlowID == 0 {
		m.sessions.Clear(operatorID)
		return Reply{Text: "Создание потока отменено.", Keyboard: adminMenuKeyboard()}
	}
	types, err := m.store.FlowSummary(ctx, s.FlowID)
	if err != nil {
		logger.Error("Machine.finish: ошибка получения сводки", zap.Int64("flow_id", s.FlowID), zap.Error(err))
		return m.reprompt(s, "Не удалось получить сводку потока, попробуйте еще раз.")
	}
	m.sessions.Clear(operatorID)
	logger.Info("Поток завершен.", zap.Int64("operator", operatorID), zap.Int64("flow_id", s.FlowID), zap.Int("steps", len(types)))
	return Reply{Text: formatters.FormatFlowFinished(s.FlowName, types), Markdown: true, Keyboard: adminMenuKeyboard()}
}

// cancel отбрасывает черновик, ничего не сохраняя.
func (m *Machine) cancel(operatorID int64, s session.AuthoringSession) Reply {
	switch s.State.(type) {
	case session.AwaitingFlowName:
		m.sessions.Clear(operatorID)
		return Reply{Text: "Создание потока отменено.", Keyboard: adminMenuKeyboard()}
	case session.AwaitingStepType:
		m.sessions.Clear(operatorID)
		return Reply{Text: fmt.Sprintf("Работа с потоком «%s» завершена.", s.FlowName), Keyboard: adminMenuKeyboard()}
	}
	s.State = session.AwaitingStepType{}
	m.sessions.Put(operatorID, s)
	r := m.prompt(s)
	r.Text = "🚫 Отменено, черновик удален.\n\n" + r.Text
	return r
}
