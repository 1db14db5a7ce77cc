package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"flowbot/internal/logger"
	"flowbot/internal/models"
)

// Video note limits
const (
	MaxRoundVideoBytes    = 1 << 20
	MaxRoundVideoDuration = 60
	RoundVideoSide        = 512
	MinRoundVideoSide     = 256
	minAspect             = 0.95
	maxAspect             = 1.05
)

var allowedCodecs = map[string]bool{"h264": true, "mpeg4": true}

// Ladder - ступени кодирования от мягкой к самой агрессивной.
// Каждая ступень кодирует исходник заново.
var Ladder = []EncodeParams{
	{Side: RoundVideoSide, MaxDuration: MaxRoundVideoDuration, VideoKbps: 600, AudioKbps: 64, FPS: 30, CRF: 26},
	{Side: RoundVideoSide, MaxDuration: MaxRoundVideoDuration, VideoKbps: 300, AudioKbps: 48, FPS: 24, CRF: 30},
	{Side: RoundVideoSide, MaxDuration: MaxRoundVideoDuration, VideoKbps: 110, AudioKbps: 0, FPS: 15, CRF: 35},
}

// Result - итог проверки или конвертации.
type Result struct {
	OK     bool
	Data   []byte
	Reason string
}

// Pipeline проверяет и конвертирует медиа для круглых видео.
type Pipeline struct {
	tools   Toolchain
	sem     *semaphore.Weighted
	timeout time.Duration
}

// NewPipeline создает конвейер. workers ограничивает число одновременных конвертаций.
func NewPipeline(tools Toolchain, workers int, timeout time.Duration) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{tools: tools, sem: semaphore.NewWeighted(int64(workers)), timeout: timeout}
}

// Validate проверяет данные на соответствие требованиям круглого видео.
// Для остальных типов всегда ok. Без ffprobe проверяется только размер.
func (p *Pipeline) Validate(ctx context.Context, data []byte, t models.StepType) Result {
	if t != models.StepRoundVideo {
		return Result{OK: true}
	}
	if len(data) > MaxRoundVideoBytes {
		return Result{Reason: fmt.Sprintf("размер файла %.2f МБ превышает лимит 1 МБ", float64(len(data))/(1<<20))}
	}
	if !p.tools.Available() {
		return Result{OK: true, Reason: "ffprobe недоступен, проверен только размер"}
	}

	info, err := p.tools.Probe(ctx, data)
	if err != nil {
		if errors.Is(err, ErrToolingUnavailable) {
			return Result{OK: true, Reason: "ffprobe недоступен, проверен только размер"}
		}
		return Result{Reason: fmt.Sprintf("не удалось проанализировать видео: %v", err)}
	}
	return checkProbe(info)
}

func checkProbe(info ProbeInfo) Result {
	if info.Duration > MaxRoundVideoDuration {
		return Result{Reason: fmt.Sprintf("длительность %.1f с превышает лимит %d с", info.Duration, MaxRoundVideoDuration)}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return Result{Reason: "не удалось определить размеры кадра"}
	}
	aspect := float64(info.Width) / float64(info.Height)
	if aspect < minAspect || aspect > maxAspect {
		return Result{Reason: fmt.Sprintf("видео не квадратное (%dx%d)", info.Width, info.Height)}
	}
	if min(info.Width, info.Height) < MinRoundVideoSide {
		return Result{Reason: fmt.Sprintf("разрешение %dx%d слишком низкое, нужно не меньше %d", info.Width, info.Height, MinRoundVideoSide)}
	}
	if !allowedCodecs[info.Codec] {
		return Result{Reason: fmt.Sprintf("кодек %q не поддерживается, нужен H.264/MPEG-4", info.Codec)}
	}
	return Result{OK: true}
}

// Convert приводит видео к требованиям круглого видео, проходя ступени Ladder
// до первой, результат которой проходит Validate.
// Работает в пуле ограниченного размера и с общим таймаутом.
func (p *Pipeline) Convert(ctx context.Context, data []byte) Result {
	if !p.tools.Available() {
		return Result{Reason: "конвертация невозможна: " + ErrToolingUnavailable.Error()}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return Result{Reason: fmt.Sprintf("конвертация отменена: %v", err)}
	}
	defer p.sem.Release(1)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	reason := "ни одна ступень не уложилась в лимит"
	for i, rung := range Ladder {
		out, err := p.tools.Encode(ctx, data, rung)
		if err != nil {
			reason = fmt.Sprintf("ступень %d: %v", i+1, err)
			logger.Warn("Pipeline.Convert: ошибка кодирования", zap.Int("rung", i+1), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		check := p.Validate(ctx, out, models.StepRoundVideo)
		if !check.OK {
			reason = fmt.Sprintf("ступень %d: %s", i+1, check.Reason)
			logger.Info("Pipeline.Convert: результат ступени не прошел проверку",
				zap.Int("rung", i+1), zap.Int("bytes", len(out)), zap.String("reason", check.Reason))
			continue
		}
		logger.Info("Pipeline.Convert: видео сконвертировано",
			zap.Int("rung", i+1), zap.Int("bytes", len(out)), zap.Duration("took", time.Since(started)))
		return Result{OK: true, Data: out, Reason: fmt.Sprintf("сконвертировано (%.2f МБ)", float64(len(out))/(1<<20))}
	}
	logger.Warn("Pipeline.Convert: конвертация не удалась", zap.String("reason", reason))
	return Result{Reason: reason}
}
