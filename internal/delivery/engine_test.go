package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbot/internal/db"
	"flowbot/internal/media"
	"flowbot/internal/media/mediatest"
	"flowbot/internal/models"
	"flowbot/internal/retry"
)

type sentMessage struct {
	kind    string
	chatID  int64
	text    string
	payload models.MediaPayload
	buttons []models.Button
}

type fakeSender struct {
	mu        sync.Mutex
	msgs      []sentMessage
	calls     map[string]int
	failMedia func(kind string, p models.MediaPayload) error
	failText  func(text string, call int) error
	panicText string
}

func (s *fakeSender) record(m sentMessage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[m.kind]++
	return s.calls[m.kind]
}

func (s *fakeSender) ok(m sentMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m)
}

func (s *fakeSender) SendText(_ context.Context, chatID int64, text string, buttons []models.Button) error {
	m := sentMessage{kind: "text", chatID: chatID, text: text, buttons: buttons}
	call := s.record(m)
	if s.panicText != "" && text == s.panicText {
		panic("обработчик упал")
	}
	if s.failText != nil {
		if err := s.failText(text, call); err != nil {
			return err
		}
	}
	s.ok(m)
	return nil
}

func (s *fakeSender) sendMedia(kind string, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error {
	m := sentMessage{kind: kind, chatID: chatID, text: caption, payload: p, buttons: buttons}
	s.record(m)
	if s.failMedia != nil {
		if err := s.failMedia(kind, p); err != nil {
			return err
		}
	}
	s.ok(m)
	return nil
}

func (s *fakeSender) SendPhoto(_ context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error {
	return s.sendMedia("photo", chatID, p, caption, buttons)
}

func (s *fakeSender) SendVideo(_ context.Context, chatID int64, p models.MediaPayload, caption string, buttons []models.Button) error {
	return s.sendMedia("video", chatID, p, caption, buttons)
}

// SendVideoNote выдает кружку file_id вида VN<номер вызова>.
func (s *fakeSender) SendVideoNote(_ context.Context, chatID int64, p models.MediaPayload) (string, error) {
	if err := s.sendMedia("video_note", chatID, p, "", nil); err != nil {
		return "", err
	}
	if p.FileID != "" {
		return p.FileID, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return "VN" + strconv.Itoa(s.calls["video_note"]), nil
}

func (s *fakeSender) messages(chatID int64) []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentMessage
	for _, m := range s.msgs {
		if m.chatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeFetcher struct {
	mu        sync.Mutex
	files     map[string][]byte
	urls      map[string][]byte
	downloads int
	fetches   int
}

func (f *fakeFetcher) Download(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if data, ok := f.files[fileID]; ok {
		return data, nil
	}
	return nil, errors.New("файл не найден")
}

func (f *fakeFetcher) FetchURL(_ context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if data, ok := f.urls[rawURL]; ok {
		return data, nil
	}
	return nil, errors.New("сеть недоступна")
}

type harness struct {
	engine *Engine
	cache  *media.Cache
	store  *db.Store
	sender *fakeSender
	fetch  *fakeFetcher
	tools  *mediatest.Toolchain
	flowID int64
}

func newHarness(t *testing.T, tools *mediatest.Toolchain) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := db.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "flows.db"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	cache, err := media.NewCache(t.TempDir())
	require.NoError(t, err)
	guard := media.NewGuard(cache, media.NewPipeline(tools, 2, time.Minute), store)

	h := &harness{
		cache:  cache,
		store:  store,
		sender: &fakeSender{},
		fetch:  &fakeFetcher{files: map[string][]byte{}, urls: map[string][]byte{}},
		tools:  tools,
	}
	policy := retry.Policy{Attempts: 2, Backoff: time.Millisecond, Timeout: time.Second}
	h.engine = NewEngine(store, h.sender, h.fetch, cache, guard, policy, 0)

	h.flowID, err = store.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)
	return h
}

func (h *harness) add(t *testing.T, d models.StepDraft) int64 {
	t.Helper()
	id, err := h.store.AppendStep(context.Background(), h.flowID, d)
	require.NoError(t, err)
	return id
}

func TestScenario_FailedMediaFetchDoesNotAbortFlow(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.add(t, models.StepDraft{Type: models.StepText, Content: "one"})
	h.add(t, models.StepDraft{Type: models.StepImage, Content: "two", Media: models.MediaRef{URL: "https://cdn.example.com/x.jpg"}})
	h.add(t, models.StepDraft{Type: models.StepText, Content: "three"})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	require.Len(t, report.Steps, 3)

	assert.Equal(t, StatusDelivered, report.Steps[0].Status)
	assert.Equal(t, StatusDegraded, report.Steps[1].Status)
	assert.Error(t, report.Steps[1].Err)
	assert.Equal(t, StatusDelivered, report.Steps[2].Status)
	assert.Equal(t, 2, report.Delivered())
	require.Len(t, report.Failures(), 1)
	// Загрузка по ссылке повторяется согласно политике.
	assert.Equal(t, 2, h.fetch.fetches)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"one", "two", "three"}, []string{msgs[0].text, msgs[1].text, msgs[2].text})
	assert.Equal(t, "text", msgs[1].kind)
}

func TestMediaSourcesAreTriedInOrder(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.fetch.urls["https://cdn.example.com/v.mp4"] = []byte("video-bytes")
	h.sender.failMedia = func(_ string, p models.MediaPayload) error {
		if p.FileID != "" {
			return retry.Permanent(errors.New("Bad Request: wrong file identifier"))
		}
		return nil
	}
	h.add(t, models.StepDraft{Type: models.StepVideo, Content: "cap", Media: models.MediaRef{FileID: "stale", URL: "https://cdn.example.com/v.mp4"}})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	require.Len(t, report.Steps, 1)
	assert.Equal(t, StatusDelivered, report.Steps[0].Status)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "video", msgs[0].kind)
	assert.Equal(t, []byte("video-bytes"), msgs[0].payload.Data)
	assert.Equal(t, "cap", msgs[0].text)
	// Постоянная ошибка не повторяется.
	assert.Equal(t, 2, h.sender.calls["video"])
}

func TestTransientSendErrorIsRetried(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.sender.failText = func(_ string, call int) error {
		if call == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	h.add(t, models.StepDraft{Type: models.StepText, Content: "hello"})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, report.Steps[0].Status)
	assert.Equal(t, 2, h.sender.calls["text"])
}

func TestRoundVideoIsHealedOnFirstDelivery(t *testing.T) {
	tools := &mediatest.Toolchain{}
	h := newHarness(t, tools)
	h.fetch.files["DQAC"] = mediatest.Clip(1920, 1080, 90, "h264", 5<<20)
	stepID := h.add(t, models.StepDraft{
		Type:    models.StepRoundVideo,
		Content: "подпись",
		Media:   models.MediaRef{FileID: "DQAC"},
		Buttons: []models.Button{{Text: "Сайт", Kind: models.ButtonURL, Target: "https://example.com"}},
	})
	ctx := context.Background()

	report, err := h.engine.Deliver(ctx, 1, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, report.Steps[0].Status)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "video_note", msgs[0].kind)
	assert.LessOrEqual(t, len(msgs[0].payload.Data), media.MaxRoundVideoBytes)
	assert.Empty(t, msgs[0].text)
	assert.Equal(t, "text", msgs[1].kind)
	assert.Equal(t, "подпись", msgs[1].text)
	require.Len(t, msgs[1].buttons, 1)

	// Шаг ссылается на сконвертированный файл и на file_id отправленного кружка.
	st, err := h.store.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaRef{FileID: "VN1", LocalPath: "video_note/DQAC.mp4"}, st.Media)

	encodes, downloads := tools.Encodes(), h.fetch.downloads
	_, err = h.engine.Deliver(ctx, 2, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, encodes, tools.Encodes())
	assert.Equal(t, downloads, h.fetch.downloads)
	second := h.sender.messages(2)
	require.Len(t, second, 2)
	assert.Equal(t, "VN1", second[0].payload.FileID)
	assert.Empty(t, second[0].payload.Data)
}

func TestStaleVideoNoteHandleFallsBackToCache(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	ctx := context.Background()
	rel, err := h.cache.Save(media.CategoryRoundVideo, "OLD", mediatest.Clip(512, 512, 20, "h264", 300_000))
	require.NoError(t, err)
	stepID := h.add(t, models.StepDraft{Type: models.StepRoundVideo, Content: "привет", Media: models.MediaRef{FileID: "OLD", LocalPath: rel}})
	h.sender.failMedia = func(kind string, p models.MediaPayload) error {
		if kind == "video_note" && p.FileID == "OLD" {
			return retry.Permanent(errors.New("Bad Request: wrong file identifier"))
		}
		return nil
	}

	report, err := h.engine.Deliver(ctx, 1, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, report.Steps[0].Status)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "video_note", msgs[0].kind)
	assert.NotEmpty(t, msgs[0].payload.Data)
	assert.Equal(t, "привет", msgs[1].text)
	// Без файла в кэше повторно ничего не скачивалось.
	assert.Zero(t, h.fetch.downloads)

	st, err := h.store.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaRef{FileID: "VN2", LocalPath: rel}, st.Media)
}

func TestScenario_ConcurrentDeliveriesConvertOnce(t *testing.T) {
	tools := &mediatest.Toolchain{EncodeDelay: 10 * time.Millisecond}
	h := newHarness(t, tools)
	h.fetch.files["SHARED"] = mediatest.Clip(1920, 1080, 90, "h264", 5<<20)
	h.add(t, models.StepDraft{Type: models.StepRoundVideo, Media: models.MediaRef{FileID: "SHARED"}})

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.engine.Deliver(context.Background(), int64(10+i), h.flowID)
			assert.NoError(t, err)
			reports[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range reports {
		require.Len(t, r.Steps, 1)
		assert.Equal(t, StatusDelivered, r.Steps[0].Status)
	}
	assert.Equal(t, len(media.Ladder), tools.Encodes())
	a, b := h.sender.messages(10), h.sender.messages(11)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].payload.Data, b[0].payload.Data)
}

func TestRoundVideoFallsBackToRegularVideo(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{EncodeErr: errors.New("encoder crashed")})
	h.fetch.files["BAD"] = mediatest.Clip(1920, 1080, 90, "h264", 5<<20)
	h.add(t, models.StepDraft{Type: models.StepRoundVideo, Content: "caption", Media: models.MediaRef{FileID: "BAD"}})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Steps[0].Status)
	assert.ErrorIs(t, report.Steps[0].Err, media.ErrNotCompliant)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "video", msgs[0].kind)
	assert.Equal(t, "caption", msgs[0].text)
}

func TestRoundVideoWithoutBytesFallsBackToText(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.add(t, models.StepDraft{Type: models.StepRoundVideo, Content: "только текст", Media: models.MediaRef{FileID: "GONE"}})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, report.Steps[0].Status)
	assert.Error(t, report.Steps[0].Err)

	msgs := h.sender.messages(1)
	require.Len(t, msgs, 1)
	assert.Equal(t, "text", msgs[0].kind)
}

func TestPanicInStepIsIsolated(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	h.sender.panicText = "boom"
	h.add(t, models.StepDraft{Type: models.StepText, Content: "boom"})
	h.add(t, models.StepDraft{Type: models.StepText, Content: "after"})

	report, err := h.engine.Deliver(context.Background(), 1, h.flowID)
	require.NoError(t, err)
	require.Len(t, report.Steps, 2)
	assert.Equal(t, StatusFailed, report.Steps[0].Status)
	assert.Equal(t, StatusDelivered, report.Steps[1].Status)
}

func TestDeliverDefault(t *testing.T) {
	h := newHarness(t, &mediatest.Toolchain{})
	ctx := context.Background()

	_, err := h.engine.DeliverDefault(ctx, 1)
	assert.ErrorIs(t, err, db.ErrNotFound)

	h.add(t, models.StepDraft{Type: models.StepText, Content: "welcome"})
	require.NoError(t, h.store.SetDefaultFlow(ctx, h.flowID))
	report, err := h.engine.DeliverDefault(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, h.flowID, report.FlowID)
	assert.Equal(t, 1, report.Delivered())

	_, err = h.engine.DeliverActive(ctx, 1, 999)
	assert.ErrorIs(t, err, db.ErrNotFound)
}
