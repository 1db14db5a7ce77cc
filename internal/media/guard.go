package media

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"flowbot/internal/logger"
	"flowbot/internal/models"
)

// ErrNotCompliant - видео не удалось привести к требованиям круглого видео.
var ErrNotCompliant = errors.New("видео не соответствует требованиям круглого видео")

// MediaRefUpdater сохраняет новую ссылку на медиа шага.
type MediaRefUpdater interface {
	UpdateStepMediaRef(ctx context.Context, stepID int64, ref models.MediaRef) (bool, error)
}

// Loader получает исходные байты медиа, если их нет в кэше.
type Loader func(ctx context.Context) ([]byte, error)

// Compliant - готовое к отправке круглое видео.
type Compliant struct {
	Path      string // Relative cache path
	Data      []byte
	Converted bool
	Warning   string
}

// Guard приводит медиа шага к требованиям и чинит кэш: сконвертированный файл
// перезаписывается на месте, а ссылка шага переводится на него.
// Для одного медиа работа выполняется не более одного раза одновременно.
type Guard struct {
	cache    *Cache
	pipeline *Pipeline
	store    MediaRefUpdater
	group    singleflight.Group
}

// NewGuard создает Guard.
func NewGuard(cache *Cache, pipeline *Pipeline, store MediaRefUpdater) *Guard {
	return &Guard{cache: cache, pipeline: pipeline, store: store}
}

// Key возвращает детерминированный путь в кэше для медиа круглого видео.
func (g *Guard) Key(ref models.MediaRef) string {
	switch {
	case ref.LocalPath != "":
		return ref.LocalPath
	case ref.FileID != "":
		return g.cache.PathFor(CategoryRoundVideo, ref.FileID)
	case ref.URL != "":
		return g.cache.PathFor(CategoryRoundVideo, URLCacheName(ref.URL))
	}
	return ""
}

// URLCacheName - имя файла в кэше для медиа, загруженного по ссылке.
func URLCacheName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	return "url-" + hex.EncodeToString(sum[:])
}

// EnsureCompliant возвращает соответствующее требованиям видео шага.
// Если видео пришлось конвертировать, файл в кэше перезаписывается и ссылка шага обновляется.
// При ErrNotCompliant в Compliant.Data лежат исходные байты (если удалось их получить).
func (g *Guard) EnsureCompliant(ctx context.Context, step models.Step, load Loader) (Compliant, error) {
	key := g.Key(step.Media)
	if key == "" {
		return Compliant{}, fmt.Errorf("шаг #%d: медиа не задано", step.ID)
	}

	v, err, shared := g.group.Do(key, func() (any, error) {
		return g.ensure(ctx, step, key, load)
	})
	if shared {
		logger.Debug("Guard: результат получен из параллельного вызова", zap.String("key", key))
	}
	c, _ := v.(Compliant)
	return c, err
}

func (g *Guard) ensure(ctx context.Context, step models.Step, key string, load Loader) (Compliant, error) {
	var data []byte
	var err error
	if g.cache.Exists(key) {
		data, err = g.cache.Read(key)
		if err != nil {
			return Compliant{}, fmt.Errorf("ошибка чтения %s из кэша: %w", key, err)
		}
	} else {
		if load == nil {
			return Compliant{}, fmt.Errorf("файл %s отсутствует в кэше", key)
		}
		data, err = load(ctx)
		if err != nil {
			return Compliant{}, fmt.Errorf("ошибка получения медиа: %w", err)
		}
		if err := g.cache.Overwrite(key, data); err != nil {
			logger.Warn("Guard: не удалось сохранить медиа в кэш", zap.String("key", key), zap.Error(err))
		}
	}

	check := g.pipeline.Validate(ctx, data, models.StepRoundVideo)
	if check.OK {
		return Compliant{Path: key, Data: data, Warning: check.Reason}, nil
	}

	logger.Info("Guard: видео не прошло проверку, запускаю конвертацию",
		zap.Int64("step_id", step.ID), zap.String("key", key), zap.String("reason", check.Reason))
	conv := g.pipeline.Convert(ctx, data)
	if !conv.OK {
		return Compliant{Path: key, Data: data}, fmt.Errorf("%w: %s", ErrNotCompliant, conv.Reason)
	}

	if err := g.cache.Overwrite(key, conv.Data); err != nil {
		return Compliant{Path: key, Data: conv.Data, Converted: true}, fmt.Errorf("ошибка перезаписи %s: %w", key, err)
	}

	healed := models.MediaRef{LocalPath: key, URL: step.Media.URL}
	if step.ID > 0 && g.store != nil && healed != step.Media {
		if _, err := g.store.UpdateStepMediaRef(ctx, step.ID, healed); err != nil {
			// Кэш уже исправлен: следующая проверка по тому же ключу пройдет без конвертации.
			logger.Warn("Guard: не удалось обновить ссылку на медиа шага", zap.Int64("step_id", step.ID), zap.Error(err))
		}
	}
	return Compliant{Path: key, Data: conv.Data, Converted: true}, nil
}
