package media_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbot/internal/media"
	"flowbot/internal/media/mediatest"
	"flowbot/internal/models"
)

type refStore struct {
	mu      sync.Mutex
	updates map[int64][]models.MediaRef
}

func (s *refStore) UpdateStepMediaRef(_ context.Context, stepID int64, ref models.MediaRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updates == nil {
		s.updates = make(map[int64][]models.MediaRef)
	}
	s.updates[stepID] = append(s.updates[stepID], ref)
	return true, nil
}

func (s *refStore) count(stepID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates[stepID])
}

func newGuard(t *testing.T, tools *mediatest.Toolchain) (*media.Guard, *media.Cache, *refStore) {
	t.Helper()
	cache, err := media.NewCache(t.TempDir())
	require.NoError(t, err)
	store := &refStore{}
	return media.NewGuard(cache, media.NewPipeline(tools, 2, time.Minute), store), cache, store
}

func TestGuard_Key(t *testing.T) {
	g, _, _ := newGuard(t, &mediatest.Toolchain{})
	assert.Equal(t, "video_note/x.mp4", g.Key(models.MediaRef{LocalPath: "video_note/x.mp4", FileID: "DQAC"}))
	assert.Equal(t, "video_note/DQAC.mp4", g.Key(models.MediaRef{FileID: "DQAC"}))

	k1 := g.Key(models.MediaRef{URL: "https://cdn.example.com/a.mp4"})
	k2 := g.Key(models.MediaRef{URL: "https://cdn.example.com/a.mp4"})
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, "video_note/url-")
	assert.Empty(t, g.Key(models.MediaRef{}))
}

func TestGuard_ConvertsAndSelfHeals(t *testing.T) {
	tools := &mediatest.Toolchain{}
	g, cache, store := newGuard(t, tools)
	ctx := context.Background()

	src := mediatest.Clip(1920, 1080, 90, "h264", 4<<20)
	step := models.Step{ID: 7, Type: models.StepRoundVideo, Media: models.MediaRef{FileID: "DQAC"}}
	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return src, nil
	}

	c, err := g.EnsureCompliant(ctx, step, load)
	require.NoError(t, err)
	assert.True(t, c.Converted)
	assert.Equal(t, "video_note/DQAC.mp4", c.Path)
	assert.LessOrEqual(t, len(c.Data), media.MaxRoundVideoBytes)
	assert.Equal(t, 1, loads)
	require.Equal(t, 1, store.count(7))
	assert.Equal(t, models.MediaRef{LocalPath: "video_note/DQAC.mp4"}, store.updates[7][0])

	cached, err := cache.Read(c.Path)
	require.NoError(t, err)
	assert.Equal(t, c.Data, cached)

	encodes := tools.Encodes()
	step.Media = store.updates[7][0]
	again, err := g.EnsureCompliant(ctx, step, load)
	require.NoError(t, err)
	assert.False(t, again.Converted)
	assert.Equal(t, encodes, tools.Encodes())
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, store.count(7))
}

func TestGuard_ConcurrentDeliveriesConvertOnce(t *testing.T) {
	tools := &mediatest.Toolchain{EncodeDelay: 20 * time.Millisecond}
	g, _, store := newGuard(t, tools)

	src := mediatest.Clip(1920, 1080, 90, "h264", 4<<20)
	step := models.Step{ID: 3, Type: models.StepRoundVideo, Media: models.MediaRef{FileID: "SAME"}}
	load := func(context.Context) ([]byte, error) { return src, nil }

	var wg sync.WaitGroup
	results := make([]media.Compliant, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.EnsureCompliant(context.Background(), step, load)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Data, results[i].Data)
	}
	// Одна полная лестница: три ступени для 90-секундного исходника.
	assert.Equal(t, len(media.Ladder), tools.Encodes())
	assert.Equal(t, 1, store.count(3))
}

func TestGuard_ConversionFailureKeepsOriginal(t *testing.T) {
	tools := &mediatest.Toolchain{EncodeErr: errors.New("boom")}
	g, _, store := newGuard(t, tools)

	src := mediatest.Clip(1920, 1080, 90, "h264", 4<<20)
	step := models.Step{ID: 9, Type: models.StepRoundVideo, Media: models.MediaRef{URL: "https://cdn.example.com/v.mp4"}}
	c, err := g.EnsureCompliant(context.Background(), step, func(context.Context) ([]byte, error) { return src, nil })
	require.ErrorIs(t, err, media.ErrNotCompliant)
	assert.Equal(t, src, c.Data)
	assert.False(t, c.Converted)
	assert.Zero(t, store.count(9))
}

func TestGuard_LoadFailure(t *testing.T) {
	g, _, _ := newGuard(t, &mediatest.Toolchain{})
	step := models.Step{ID: 1, Type: models.StepRoundVideo, Media: models.MediaRef{FileID: "MISSING"}}
	_, err := g.EnsureCompliant(context.Background(), step, func(context.Context) ([]byte, error) {
		return nil, errors.New("network down")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, media.ErrNotCompliant)
}
