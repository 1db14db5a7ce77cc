package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"flowbot/internal/logger"
)

// ErrToolingUnavailable - ffmpeg/ffprobe не найдены.
var ErrToolingUnavailable = errors.New("ffmpeg/ffprobe недоступны")

// ProbeInfo - параметры видеопотока.
type ProbeInfo struct {
	Width    int
	Height   int
	Duration float64 // секунды
	Codec    string
}

// EncodeParams - одна ступень кодирования.
// AudioKbps == 0 означает видео без звука.
type EncodeParams struct {
	Side        int
	MaxDuration int
	VideoKbps   int
	AudioKbps   int
	FPS         int
	CRF         int
}

// Toolchain анализирует и перекодирует видео.
type Toolchain interface {
	Available() bool
	Probe(ctx context.Context, data []byte) (ProbeInfo, error)
	Encode(ctx context.Context, data []byte, p EncodeParams) ([]byte, error)
}

// FFmpeg - Toolchain поверх бинарников ffmpeg и ffprobe.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	cache       *Cache

	once      sync.Once
	available bool
}

// NewFFmpeg создает Toolchain. Временные файлы пишутся в кэш.
func NewFFmpeg(ffmpegPath, ffprobePath string, cache *Cache) *FFmpeg {
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath, cache: cache}
}

// Available проверяет наличие обоих бинарников один раз за жизнь процесса.
func (f *FFmpeg) Available() bool {
	f.once.Do(func() {
		_, errMpeg := exec.LookPath(f.ffmpegPath)
		_, errProbe := exec.LookPath(f.ffprobePath)
		f.available = errMpeg == nil && errProbe == nil
		if !f.available {
			logger.Warn("ffmpeg/ffprobe не найдены, проверка круглых видео упрощена до размера.",
				zap.String("ffmpeg", f.ffmpegPath), zap.String("ffprobe", f.ffprobePath))
		}
	})
	return f.available
}

func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s прерван: %w", bin, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s завершился с кодом %d: %s", bin, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("ошибка запуска %s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

// Probe запускает ffprobe и разбирает JSON первого видеопотока.
func (f *FFmpeg) Probe(ctx context.Context, data []byte) (ProbeInfo, error) {
	if !f.Available() {
		return ProbeInfo{}, ErrToolingUnavailable
	}
	in, err := f.cache.ScratchFile(".mp4", data)
	if err != nil {
		return ProbeInfo{}, err
	}
	defer os.Remove(in)

	out, err := f.run(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name,duration:format=duration",
		"-of", "json",
		in)
	if err != nil {
		return ProbeInfo{}, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (ProbeInfo, error) {
	if !gjson.ValidBytes(out) {
		return ProbeInfo{}, errors.New("ffprobe вернул некорректный JSON")
	}
	stream := gjson.GetBytes(out, "streams.0")
	if !stream.Exists() {
		return ProbeInfo{}, errors.New("видеопоток не найден")
	}
	info := ProbeInfo{
		Width:  int(stream.Get("width").Int()),
		Height: int(stream.Get("height").Int()),
		Codec:  strings.ToLower(stream.Get("codec_name").String()),
	}
	// Длительность контейнера надежнее, у потока ее может не быть.
	dur := gjson.GetBytes(out, "format.duration")
	if !dur.Exists() {
		dur = stream.Get("duration")
	}
	info.Duration = dur.Float()
	return info, nil
}

// Encode перекодирует исходные данные в квадрат Side×Side с ограничениями ступени.
func (f *FFmpeg) Encode(ctx context.Context, data []byte, p EncodeParams) ([]byte, error) {
	if !f.Available() {
		return nil, ErrToolingUnavailable
	}
	in, err := f.cache.ScratchFile(".src", data)
	if err != nil {
		return nil, err
	}
	defer os.Remove(in)
	out, err := f.cache.ScratchFile(".mp4", nil)
	if err != nil {
		return nil, err
	}
	defer os.Remove(out)

	if _, err := f.run(ctx, f.ffmpegPath, encodeArgs(in, out, p)...); err != nil {
		return nil, err
	}
	return os.ReadFile(out)
}

func encodeArgs(in, out string, p EncodeParams) []string {
	side := strconv.Itoa(p.Side)
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-t", strconv.Itoa(p.MaxDuration),
		"-vf", `crop=min(iw\,ih):min(iw\,ih),scale=` + side + ":" + side + ",setsar=1",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", strconv.Itoa(p.CRF),
		"-maxrate", strconv.Itoa(p.VideoKbps) + "k",
		"-bufsize", strconv.Itoa(2*p.VideoKbps) + "k",
		"-r", strconv.Itoa(p.FPS),
		"-pix_fmt", "yuv420p",
	}
	if p.AudioKbps > 0 {
		args = append(args, "-c:a", "aac", "-b:a", strconv.Itoa(p.AudioKbps)+"k")
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", "-f", "mp4", out)
}
