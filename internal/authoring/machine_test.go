package authoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbot/internal/db"
	"flowbot/internal/media"
	"flowbot/internal/media/mediatest"
	"flowbot/internal/models"
	"flowbot/internal/session"
	"flowbot/internal/utils"
)

const operator = int64(100)

type fakeFetcher struct {
	files map[string][]byte
	urls  map[string][]byte
}

func (f *fakeFetcher) Download(_ context.Context, fileID string) ([]byte, error) {
	if data, ok := f.files[fileID]; ok {
		return data, nil
	}
	return nil, errors.New("файл не найден")
}

func (f *fakeFetcher) FetchURL(_ context.Context, rawURL string) ([]byte, error) {
	if data, ok := f.urls[rawURL]; ok {
		return data, nil
	}
	return nil, errors.New("сеть недоступна")
}

// flakyStore отказывает в AppendStep заданное число раз.
type flakyStore struct {
	*db.Store
	failures int
}

func (s *flakyStore) AppendStep(ctx context.Context, flowID int64, d models.StepDraft) (int64, error) {
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("база недоступна")
	}
	return s.Store.AppendStep(ctx, flowID, d)
}

type harness struct {
	m        *Machine
	store    *flakyStore
	sessions *session.SessionManager
	cache    *media.Cache
	fetch    *fakeFetcher
	pipeline *media.Pipeline
}

func newHarness(t *testing.T, tools *mediatest.Toolchain) *harness {
	t.Helper()
	st, err := db.Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "flows.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	cache, err := media.NewCache(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		store:    &flakyStore{Store: st},
		sessions: session.NewSessionManager(),
		cache:    cache,
		fetch:    &fakeFetcher{files: map[string][]byte{}, urls: map[string][]byte{}},
		pipeline: media.NewPipeline(tools, 1, time.Minute),
	}
	h.m = NewMachine(h.store, h.fetch, cache, h.pipeline, h.sessions)
	return h
}

func (h *harness) do(t *testing.T, ev Event) Reply {
	t.Helper()
	r, err := h.m.Handle(context.Background(), operator, ev)
	require.NoError(t, err)
	return r
}

func (h *harness) state(t *testing.T) session.State {
	t.Helper()
	s, ok := h.sessions.Get(operator)
	require.True(t, ok, "сессия должна существовать")
	return s.State
}

func (h *harness) newFlow(t *testing.T, name string) int64 {
	t.Helper()
	h.do(t, CreateFlow{})
	h.do(t, Text{Text: name})
	s, ok := h.sessions.Get(operator)
	require.True(t, ok)
	require.NotZero(t, s.FlowID)
	return s.FlowID
}

func TestScenario_CreateFlowWithOneTextStep(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})

	r := h.do(t, CreateFlow{})
	assert.IsType(t, session.AwaitingFlowName{}, h.state(t))
	assert.Contains(t, r.Text, "название")

	h.do(t, Text{Text: "Promo"})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))
	flowID := func() int64 { s, _ := h.sessions.Get(operator); return s.FlowID }()

	h.do(t, AddStep{Type: models.StepText})
	assert.IsType(t, session.AwaitingText{}, h.state(t))

	r = h.do(t, Text{Text: "Hi"})
	assert.Contains(t, r.Text, "Шаг 1")
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))

	r = h.do(t, Finish{})
	assert.True(t, r.Markdown)
	assert.Contains(t, r.Text, "Шагов: 1")
	_, ok := h.sessions.Get(operator)
	assert.False(t, ok)

	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Order)
	assert.Equal(t, models.StepText, steps[0].Type)
	assert.Equal(t, "Hi", steps[0].Content)
}

func TestNonURLTextWhileAwaitingMediaIsRejected(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.newFlow(t, "Demo")
	h.do(t, AddStep{Type: models.StepImage, WithButton: true})
	before := h.state(t)

	r := h.do(t, Text{Text: "это подпись, а не ссылка"})
	assert.Contains(t, r.Text, "Это не файл и не ссылка")
	assert.Equal(t, before, h.state(t))

	// Загрузка не того типа тоже не двигает автомат.
	h.do(t, Media{Upload: Upload{FileID: "vid", Kind: utils.MediaKindVideo}})
	assert.Equal(t, before, h.state(t))
}

func TestImageStepWithButton(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	flowID := h.newFlow(t, "Demo")
	h.fetch.files["AgAD"] = []byte("jpeg-bytes")

	h.do(t, AddStep{Type: models.StepImage, WithButton: true})
	h.do(t, Media{Upload: Upload{FileID: "AgAD", Kind: utils.MediaKindPhoto}})
	assert.IsType(t, session.AwaitingCaptionText{}, h.state(t))

	h.do(t, Text{Text: "Смотрите"})
	assert.IsType(t, session.AwaitingButtonText{}, h.state(t))
	h.do(t, Text{Text: "Сайт"})
	assert.IsType(t, session.AwaitingButtonURL{}, h.state(t))

	h.do(t, Text{Text: "не ссылка"})
	assert.IsType(t, session.AwaitingButtonURL{}, h.state(t))

	h.do(t, Text{Text: "https://example.com"})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))

	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.MediaRef{FileID: "AgAD", LocalPath: "image/AgAD.jpg"}, steps[0].Media)
	assert.Equal(t, "Смотрите", steps[0].Content)
	require.Len(t, steps[0].Buttons, 1)
	assert.Equal(t, "https://example.com", steps[0].Buttons[0].Target)
	assert.True(t, h.cache.Exists("image/AgAD.jpg"))

	// Флаг кнопки не переходит на следующий шаг.
	h.do(t, AddStep{Type: models.StepText})
	h.do(t, Text{Text: "без кнопки"})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))
	steps, err = h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Empty(t, steps[1].Buttons)
}

func TestRoundVideoIsConvertedOnAccept(t *testing.T) {
	tools := &mediatest.Toolchain{}
	h := newHarness(t, tools)
	flowID := h.newFlow(t, "Demo")
	h.fetch.files["DQAC"] = mediatest.Clip(1920, 1080, 90, "h264", 6<<20)

	h.do(t, AddStep{Type: models.StepRoundVideo})
	r := h.do(t, Media{Upload: Upload{FileID: "DQAC", Kind: utils.MediaKindVideo}})
	assert.IsType(t, session.AwaitingConvertDecision{}, h.state(t))
	assert.Contains(t, r.Text, "Конвертировать")

	h.do(t, Convert{Accept: true})
	st, ok := h.state(t).(session.AwaitingCaptionText)
	require.True(t, ok)
	assert.Equal(t, models.MediaRef{LocalPath: "video_note/DQAC.mp4"}, st.Draft.Media)

	h.do(t, Continue{})
	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.StepRoundVideo, steps[0].Type)
	assert.Empty(t, steps[0].Media.FileID)

	data, err := h.cache.Read(steps[0].Media.LocalPath)
	require.NoError(t, err)
	assert.True(t, h.pipeline.Validate(context.Background(), data, models.StepRoundVideo).OK)
}

func TestRoundVideoConversionFailureKeepsAwaitingMedia(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{EncodeErr: errors.New("encoder crashed")})
	h.newFlow(t, "Demo")
	h.fetch.urls["https://cdn.example.com/v.mp4"] = mediatest.Clip(1920, 1080, 90, "h264", 6<<20)

	h.do(t, AddStep{Type: models.StepRoundVideo})
	h.do(t, Text{Text: "https://cdn.example.com/v.mp4"})
	require.IsType(t, session.AwaitingConvertDecision{}, h.state(t))

	r := h.do(t, Convert{Accept: true})
	assert.Contains(t, r.Text, "Не удалось конвертировать")
	st, ok := h.state(t).(session.AwaitingMediaOrURL)
	require.True(t, ok)
	assert.True(t, st.Draft.Media.IsZero())
	assert.Equal(t, models.StepRoundVideo, st.Draft.Type)
}

func TestCompliantRoundVideoSkipsConversion(t *testing.T) {
	tools := &mediatest.Toolchain{}
	h := newHarness(t, tools)
	h.newFlow(t, "Demo")
	h.fetch.files["NOTE"] = mediatest.Clip(512, 512, 20, "h264", 300_000)

	h.do(t, AddStep{Type: models.StepRoundVideo})
	h.do(t, Media{Upload: Upload{FileID: "NOTE", Kind: utils.MediaKindVideoNote}})
	st, ok := h.state(t).(session.AwaitingCaptionText)
	require.True(t, ok)
	assert.Equal(t, models.MediaRef{FileID: "NOTE", LocalPath: "video_note/NOTE.mp4"}, st.Draft.Media)
	assert.Zero(t, tools.Encodes())
}

func TestSquareVideoUploadKeepsOnlyCachedFile(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.newFlow(t, "Demo")
	h.fetch.files["SQUARE"] = mediatest.Clip(512, 512, 20, "h264", 300_000)

	h.do(t, AddStep{Type: models.StepRoundVideo})
	h.do(t, Media{Upload: Upload{FileID: "SQUARE", Kind: utils.MediaKindVideo}})
	st, ok := h.state(t).(session.AwaitingCaptionText)
	require.True(t, ok)
	assert.Equal(t, models.MediaRef{LocalPath: "video_note/SQUARE.mp4"}, st.Draft.Media)
	assert.False(t, st.Draft.Media.IsVideoNoteHandle())
}

func TestEmptyCaptionIsRejected(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	flowID := h.newFlow(t, "Demo")
	h.fetch.files["AgAD"] = []byte("jpeg-bytes")

	h.do(t, AddStep{Type: models.StepImage})
	h.do(t, Media{Upload: Upload{FileID: "AgAD", Kind: utils.MediaKindPhoto}})
	before := h.state(t)

	r := h.do(t, Text{Text: ""})
	assert.Contains(t, r.Text, "Подпись должна быть текстом")
	assert.Equal(t, before, h.state(t))

	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	h.do(t, Continue{})
	steps, err = h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Empty(t, steps[0].Content)
}

func TestStoreFailureRetainsDraft(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	flowID := h.newFlow(t, "Demo")
	h.store.failures = 1

	h.do(t, AddStep{Type: models.StepText})
	r := h.do(t, Text{Text: "важный текст"})
	assert.Contains(t, r.Text, "Повторить")
	st, ok := h.state(t).(session.AwaitingCommitRetry)
	require.True(t, ok)
	assert.Equal(t, "важный текст", st.Draft.Content)

	h.do(t, Retry{})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))
	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "важный текст", steps[0].Content)
}

func TestCancelDiscardsDraft(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	flowID := h.newFlow(t, "Demo")

	h.do(t, AddStep{Type: models.StepButton})
	h.do(t, Text{Text: "Нажмите"})
	require.IsType(t, session.AwaitingButtonText{}, h.state(t))

	h.do(t, Cancel{})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))
	steps, err := h.store.ListSteps(context.Background(), flowID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	// Отмена в меню потока закрывает сессию.
	h.do(t, Cancel{})
	_, ok := h.sessions.Get(operator)
	assert.False(t, ok)
}

func TestEditTextAndMedia(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	ctx := context.Background()
	flowID, err := h.store.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)
	textID, err := h.store.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: "old"})
	require.NoError(t, err)
	imageID, err := h.store.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepImage, Media: models.MediaRef{FileID: "A"}})
	require.NoError(t, err)

	h.do(t, EditText{StepID: textID})
	assert.Equal(t, session.AwaitingEditText{StepID: textID}, h.state(t))
	h.do(t, Text{Text: "new"})
	assert.IsType(t, session.AwaitingStepType{}, h.state(t))
	st, err := h.store.GetStep(ctx, textID)
	require.NoError(t, err)
	assert.Equal(t, "new", st.Content)

	r := h.do(t, EditMedia{StepID: textID})
	assert.Contains(t, r.Text, "нет медиа")

	h.do(t, EditMedia{StepID: imageID})
	h.do(t, Text{Text: "https://cdn.example.com/pic.jpg"})
	st, err = h.store.GetStep(ctx, imageID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaRef{URL: "https://cdn.example.com/pic.jpg"}, st.Media)
	s, ok := h.sessions.Get(operator)
	require.True(t, ok)
	assert.Equal(t, 2, s.StepNumber)
}

func TestEventsWithoutSession(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	_, err := h.m.Handle(context.Background(), operator, Text{Text: "hi"})
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = h.m.Handle(context.Background(), operator, Finish{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStartAppendContinuesNumbering(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	ctx := context.Background()
	flowID, err := h.store.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)
	_, err = h.store.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: "1"})
	require.NoError(t, err)

	h.do(t, StartAppend{FlowID: flowID})
	h.do(t, AddStep{Type: models.StepText})
	r := h.do(t, Text{Text: "2"})
	assert.Contains(t, r.Text, "Шаг 2")

	r = h.do(t, StartAppend{FlowID: 999})
	assert.Contains(t, r.Text, "не найден")
}

func TestAddStepData(t *testing.T) {
	for _, tc := range []struct {
		t          models.StepType
		withButton bool
	}{
		{models.StepText, false},
		{models.StepButton, true},
		{models.StepImage, true},
		{models.StepRoundVideo, true},
		{models.StepRoundVideo, false},
	} {
		ev, ok := ParseAddStepData(AddStepData(tc.t, tc.withButton))
		require.True(t, ok)
		assert.Equal(t, AddStep{Type: tc.t, WithButton: tc.withButton}, ev)
	}
	_, ok := ParseAddStepData("add_step_gif")
	assert.False(t, ok)
}
