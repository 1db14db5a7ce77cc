// Package mediatest содержит поддельный Toolchain для тестов без ffmpeg.
package mediatest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowbot/internal/media"
)

// Clip собирает поддельное видео: строка-заголовок и заполнение до size байт.
func Clip(width, height int, duration float64, codec string, size int) []byte {
	header := fmt.Sprintf("FAKEVID %d %d %g %s\n", width, height, duration, codec)
	if size <= len(header) {
		return []byte(header)
	}
	return append([]byte(header), bytes.Repeat([]byte{0}, size-len(header))...)
}

// Toolchain эмулирует ffprobe/ffmpeg: размер результата считается по битрейту ступени.
type Toolchain struct {
	Unavailable bool
	EncodeDelay time.Duration
	EncodeErr   error

	mu      sync.Mutex
	encodes int
}

func (t *Toolchain) Available() bool {
	return !t.Unavailable
}

// Encodes возвращает число вызовов Encode.
func (t *Toolchain) Encodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encodes
}

func (t *Toolchain) Probe(_ context.Context, data []byte) (media.ProbeInfo, error) {
	if t.Unavailable {
		return media.ProbeInfo{}, media.ErrToolingUnavailable
	}
	line, _, _ := bytes.Cut(data, []byte("\n"))
	var info media.ProbeInfo
	if _, err := fmt.Sscanf(string(line), "FAKEVID %d %d %g %s", &info.Width, &info.Height, &info.Duration, &info.Codec); err != nil {
		return media.ProbeInfo{}, errors.New("не видео")
	}
	return info, nil
}

func (t *Toolchain) Encode(ctx context.Context, data []byte, p media.EncodeParams) ([]byte, error) {
	t.mu.Lock()
	t.encodes++
	t.mu.Unlock()

	if t.Unavailable {
		return nil, media.ErrToolingUnavailable
	}
	if t.EncodeErr != nil {
		return nil, t.EncodeErr
	}
	if t.EncodeDelay > 0 {
		select {
		case <-time.After(t.EncodeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	info, err := t.Probe(ctx, data)
	if err != nil {
		return nil, err
	}
	dur := min(info.Duration, float64(p.MaxDuration))
	size := int(float64((p.VideoKbps+p.AudioKbps)*1000)*dur/8) + 4096
	return Clip(p.Side, p.Side, dur, "h264", size), nil
}
