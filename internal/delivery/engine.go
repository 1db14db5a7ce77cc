// Файл: internal/delivery/engine.go
package delivery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/media"
	"flowbot/internal/models"
	"flowbot/internal/retry"
)

// ErrNoMedia - у шага нет ни одного источника медиа.
var ErrNoMedia = errors.New("у шага нет медиа")

// Sender отправляет сообщения получателю.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, buttons []models.Button) error
	SendPhoto(ctx context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error
	SendVideo(ctx context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error
	// SendVideoNote возвращает file_id, выданный шлюзом отправленному кружку.
	SendVideoNote(ctx context.Context, chatID int64, p models.MediaPayload) (string, error)
}

// Fetcher получает байты медиа по file_id шлюза или по ссылке.
type Fetcher interface {
	Download(ctx context.Context, fileID string) ([]byte, error)
	FetchURL(ctx context.Context, rawURL string) ([]byte, error)
}

// StepSource - чтение потоков и шагов.
type StepSource interface {
	GetFlow(ctx context.Context, flowID int64) (models.Flow, error)
	GetDefaultFlow(ctx context.Context) (models.Flow, error)
	ListSteps(ctx context.Context, flowID int64) ([]models.Step, error)
	UpdateStepMediaRef(ctx context.Context, stepID int64, ref models.MediaRef) (bool, error)
}

// RoundVideoGuard приводит круглое видео к требованиям шлюза.
type RoundVideoGuard interface {
	EnsureCompliant(ctx context.Context, step models.Step, load media.Loader) (media.Compliant, error)
}

// Engine проигрывает потоки получателям. Состояния между вызовами не хранит.
type Engine struct {
	store     StepSource
	sender    Sender
	fetch     Fetcher
	cache     *media.Cache
	guard     RoundVideoGuard
	policy    retry.Policy
	stepDelay time.Duration
}

// NewEngine создает движок доставки.
func NewEngine(store StepSource, sender Sender, fetch Fetcher, cache *media.Cache, guard RoundVideoGuard, policy retry.Policy, stepDelay time.Duration) *Engine {
	return &Engine{
		store:     store,
		sender:    sender,
		fetch:     fetch,
		cache:     cache,
		guard:     guard,
		policy:    policy,
		stepDelay: stepDelay,
	}
}

// DeliverDefault проигрывает поток по умолчанию. Если его нет, возвращается ошибка хранилища (ErrNotFound).
func (e *Engine) DeliverDefault(ctx context.Context, chatID int64) (Report, error) {
	f, err := e.store.GetDefaultFlow(ctx)
	if err != nil {
		return Report{ChatID: chatID}, err
	}
	return e.Deliver(ctx, chatID, f.ID)
}

// DeliverActive проигрывает поток, если он существует и активен.
func (e *Engine) DeliverActive(ctx context.Context, chatID, flowID int64) (Report, error) {
	f, err := e.store.GetFlow(ctx, flowID)
	if err != nil {
		return Report{ChatID: chatID, FlowID: flowID}, err
	}
	if !f.IsActive {
		return Report{ChatID: chatID, FlowID: flowID}, fmt.Errorf("поток #%d неактивен", flowID)
	}
	return e.Deliver(ctx, chatID, flowID)
}

// Deliver отправляет шаги потока по порядку. Ошибка шага не прерывает проход:
// она попадает в отчет, а доставка продолжается со следующего шага.
func (e *Engine) Deliver(ctx context.Context, chatID, flowID int64) (Report, error) {
	report := Report{FlowID: flowID, ChatID: chatID}
	steps, err := e.store.ListSteps(ctx, flowID)
	if err != nil {
		logger.Error("Engine.Deliver: ошибка получения шагов", zap.Int64("flow_id", flowID), zap.Error(err))
		return report, fmt.Errorf("ошибка получения шагов потока #%d: %w", flowID, err)
	}

	logger.Info("Доставка потока начата.", zap.Int64("flow_id", flowID), zap.Int64("chat_id", chatID), zap.Int("steps", len(steps)))
	sent := 0
	for _, st := range steps {
		if !st.IsActive {
			continue
		}
		if sent > 0 && !e.pause(ctx) {
			break
		}
		res := e.deliverStep(ctx, chatID, st)
		report.Steps = append(report.Steps, res)
		sent++
		if res.Err != nil {
			logger.Warn("Engine.Deliver: шаг доставлен с ошибкой",
				zap.Int64("flow_id", flowID), zap.Int64("step_id", st.ID), zap.Int("order", st.Order),
				zap.String("status", string(res.Status)), zap.Error(res.Err))
		}
	}
	logger.Info("Доставка потока завершена.", zap.Int64("flow_id", flowID), zap.Int64("chat_id", chatID),
		zap.Int("delivered", report.Delivered()), zap.Int("total", len(report.Steps)))
	return report, nil
}

// pause выдерживает задержку между шагами. Возвращает false, если контекст отменен.
func (e *Engine) pause(ctx context.Context) bool {
	if e.stepDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(e.stepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) deliverStep(ctx context.Context, chatID int64, st models.Step) (res StepResult) {
	res = StepResult{StepID: st.ID, Order: st.Order, Type: st.Type, Status: StatusDelivered}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Engine.deliverStep: паника при доставке шага", zap.Int64("step_id", st.ID), zap.Any("panic", r))
			res.Status = StatusFailed
			res.Err = fmt.Errorf("внутренняя ошибка: %v", r)
		}
	}()

	switch st.Type {
	case models.StepText, models.StepButton:
		if err := e.sendText(ctx, chatID, st.Content, st.Buttons); err != nil {
			res.Status, res.Err = StatusFailed, err
		}
	case models.StepImage, models.StepVideo:
		if err := e.deliverMedia(ctx, chatID, st); err != nil {
			res.Status, res.Err = e.degrade(ctx, chatID, st, err)
		}
	case models.StepRoundVideo:
		res.Status, res.Err = e.deliverRoundVideo(ctx, chatID, st)
	default:
		res.Status, res.Err = StatusFailed, fmt.Errorf("неизвестный тип шага %q", st.Type)
	}
	return res
}

func (e *Engine) sendText(ctx context.Context, chatID int64, text string, buttons []models.Button) error {
	if text == "" {
		if len(buttons) == 0 {
			return nil
		}
		// Gateway rejects empty text on a message with buttons
		text = "👇"
	}
	return retry.Do(ctx, e.policy, "SendText", func(ctx context.Context) error {
		return e.sender.SendText(ctx, chatID, text, buttons)
	})
}

// mediaSource - один из способов получить медиа шага.
type mediaSource struct {
	name string
	get  func(ctx context.Context) (models.MediaPayload, error)
}

// sources перечисляет источники в порядке предпочтения: file_id, локальный кэш, внешняя ссылка.
func (e *Engine) sources(st models.Step) []mediaSource {
	var out []mediaSource
	if id := st.Media.FileID; id != "" {
		out = append(out, mediaSource{name: "file_id", get: func(context.Context) (models.MediaPayload, error) {
			return models.MediaPayload{FileID: id}, nil
		}})
	}
	if rel := st.Media.LocalPath; rel != "" && e.cache != nil {
		out = append(out, mediaSource{name: "cache", get: func(context.Context) (models.MediaPayload, error) {
			data, err := e.cache.Read(rel)
			if err != nil {
				return models.MediaPayload{}, fmt.Errorf("файл %s недоступен в кэше: %w", rel, err)
			}
			return models.MediaPayload{Data: data, Name: path.Base(rel)}, nil
		}})
	}
	if link := st.Media.URL; link != "" {
		out = append(out, mediaSource{name: "url", get: func(ctx context.Context) (models.MediaPayload, error) {
			data, err := e.fetchURL(ctx, link)
			if err != nil {
				return models.MediaPayload{}, err
			}
			return models.MediaPayload{Data: data, Name: uploadName(st.Type)}, nil
		}})
	}
	return out
}

func uploadName(t models.StepType) string {
	return "media" + media.CategoryFor(t).Ext()
}

func (e *Engine) fetchURL(ctx context.Context, link string) ([]byte, error) {
	return retry.DoValue(ctx, e.policy, "FetchURL", func(ctx context.Context) ([]byte, error) {
		return e.fetch.FetchURL(ctx, link)
	})
}

// deliverMedia пробует источники по очереди до первой успешной отправки.
func (e *Engine) deliverMedia(ctx context.Context, chatID int64, st models.Step) error {
	sources := e.sources(st)
	if len(sources) == 0 {
		return ErrNoMedia
	}
	var errs []error
	for _, src := range sources {
		p, err := src.get(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
			continue
		}
		op := "SendPhoto"
		send := e.sender.SendPhoto
		if st.Type == models.StepVideo {
			op, send = "SendVideo", e.sender.SendVideo
		}
		err = retry.Do(ctx, e.policy, op, func(ctx context.Context) error {
			return send(ctx, chatID, p, st.Content, st.Buttons)
		})
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", src.name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

// degrade отправляет только текст шага, если медиа доставить не удалось.
func (e *Engine) degrade(ctx context.Context, chatID int64, st models.Step, cause error) (Status, error) {
	if err := e.sendText(ctx, chatID, st.Content, st.Buttons); err != nil {
		return StatusFailed, errors.Join(cause, err)
	}
	return StatusDegraded, cause
}

// loadRoundVideo получает исходные байты круглого видео, если их нет в кэше.
func (e *Engine) loadRoundVideo(st models.Step) media.Loader {
	return func(ctx context.Context) ([]byte, error) {
		var errs []error
		if id := st.Media.FileID; id != "" {
			data, err := retry.DoValue(ctx, e.policy, "Download", func(ctx context.Context) ([]byte, error) {
				return e.fetch.Download(ctx, id)
			})
			if err == nil {
				return data, nil
			}
			errs = append(errs, fmt.Errorf("file_id: %w", err))
		}
		if link := st.Media.URL; link != "" {
			data, err := e.fetchURL(ctx, link)
			if err == nil {
				return data, nil
			}
			errs = append(errs, fmt.Errorf("url: %w", err))
		}
		if len(errs) == 0 {
			return nil, ErrNoMedia
		}
		return nil, errors.Join(errs...)
	}
}

// deliverRoundVideo отправляет кружок, а подпись и кнопки - отдельным сообщением следом.
// Сохраненный file_id кружка отправляется без загрузки байтов. Иначе видео проходит
// через Guard, а file_id первой успешной отправки запоминается в шаге.
// Если видео не удалось привести к требованиям, уходит обычное видео с подписью,
// а если нет и байтов - только текст. В обоих случаях шаг помечается как упрощенный.
func (e *Engine) deliverRoundVideo(ctx context.Context, chatID int64, st models.Step) (Status, error) {
	if st.Media.IsVideoNoteHandle() {
		err := retry.Do(ctx, e.policy, "SendVideoNote", func(ctx context.Context) error {
			_, err := e.sender.SendVideoNote(ctx, chatID, models.MediaPayload{FileID: st.Media.FileID})
			return err
		})
		if err == nil {
			return e.sendCaption(ctx, chatID, st)
		}
		logger.Warn("Engine.deliverRoundVideo: file_id кружка не принят, отправляю из кэша",
			zap.Int64("step_id", st.ID), zap.Error(err))
	}

	c, err := e.guard.EnsureCompliant(ctx, st, e.loadRoundVideo(st))
	if err != nil {
		if len(c.Data) > 0 {
			p := models.MediaPayload{Data: c.Data, Name: path.Base(c.Path)}
			sendErr := retry.Do(ctx, e.policy, "SendVideo", func(ctx context.Context) error {
				return e.sender.SendVideo(ctx, chatID, p, st.Content, st.Buttons)
			})
			if sendErr == nil {
				return StatusDegraded, err
			}
			err = errors.Join(err, sendErr)
		}
		return e.degrade(ctx, chatID, st, err)
	}

	p := models.MediaPayload{Data: c.Data, Name: path.Base(c.Path)}
	noteID, err := retry.DoValue(ctx, e.policy, "SendVideoNote", func(ctx context.Context) (string, error) {
		return e.sender.SendVideoNote(ctx, chatID, p)
	})
	if err != nil {
		return e.degrade(ctx, chatID, st, err)
	}
	e.rememberVideoNote(ctx, st, c.Path, noteID)
	return e.sendCaption(ctx, chatID, st)
}

// rememberVideoNote saves the video note file_id so later deliveries skip the upload.
func (e *Engine) rememberVideoNote(ctx context.Context, st models.Step, cachePath, noteID string) {
	if noteID == "" || st.ID <= 0 || noteID == st.Media.FileID {
		return
	}
	ref := models.MediaRef{FileID: noteID, LocalPath: cachePath, URL: st.Media.URL}
	if _, err := e.store.UpdateStepMediaRef(ctx, st.ID, ref); err != nil {
		logger.Warn("Engine.rememberVideoNote: file_id не сохранен", zap.Int64("step_id", st.ID), zap.Error(err))
	}
}

func (e *Engine) sendCaption(ctx context.Context, chatID int64, st models.Step) (Status, error) {
	if err := e.sendText(ctx, chatID, st.Content, st.Buttons); err != nil {
		return StatusDegraded, fmt.Errorf("подпись не отправлена: %w", err)
	}
	return StatusDelivered, nil
}
