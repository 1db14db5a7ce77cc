package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbot/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "flows.db"))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func orders(steps []models.Step) []int {
	out := make([]int, len(steps))
	for i, st := range steps {
		out[i] = st.Order
	}
	return out
}

func TestOpen_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flows.db")
	s1, err := Open(context.Background(), "sqlite", path)
	require.NoError(t, err)
	s1.Close()

	s2, err := Open(context.Background(), "sqlite", path)
	require.NoError(t, err)
	s2.Close()
}

func TestCreateFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateFlow(ctx, "  Приветствие ", "")
	require.NoError(t, err)

	f, err := s.GetFlow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Приветствие", f.Name)
	assert.True(t, f.IsActive)
	assert.False(t, f.IsDefault)
	assert.False(t, f.Description.Valid)

	_, err = s.CreateFlow(ctx, "   ", "")
	assert.Error(t, err)

	_, err = s.GetFlow(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendStep_OrdersAreContiguous(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	flowID, err := s.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)

	_, err = s.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: "Привет"})
	require.NoError(t, err)
	_, err = s.AppendStep(ctx, flowID, models.StepDraft{
		Type:    models.StepImage,
		Content: "подпись",
		Media:   models.MediaRef{FileID: "AgAD", LocalPath: "image/AgAD.jpg"},
	})
	require.NoError(t, err)
	_, err = s.AppendStep(ctx, flowID, models.StepDraft{
		Type:    models.StepButton,
		Content: "Жми",
		Buttons: []models.Button{{Text: "Сайт", Kind: models.ButtonURL, Target: "https://example.com"}},
	})
	require.NoError(t, err)

	steps, err := s.ListSteps(ctx, flowID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []int{1, 2, 3}, orders(steps))
	assert.Equal(t, models.StepImage, steps[1].Type)
	assert.Equal(t, "image/AgAD.jpg", steps[1].Media.LocalPath)
	require.Len(t, steps[2].Buttons, 1)
	assert.Equal(t, "https://example.com", steps[2].Buttons[0].Target)
	assert.Equal(t, 1, steps[2].Buttons[0].Order)

	types, err := s.FlowSummary(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, []models.StepType{models.StepText, models.StepImage, models.StepButton}, types)
}

func TestAppendStep_UnknownFlow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AppendStep(context.Background(), 42, models.StepDraft{Type: models.StepText, Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteStep_CompactsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	flowID, err := s.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)

	var ids []int64
	for _, c := range []string{"a", "b", "c", "d"} {
		id, err := s.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: c})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	ok, err := s.DeleteStep(ctx, ids[1])
	require.NoError(t, err)
	assert.True(t, ok)

	steps, err := s.ListSteps(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, orders(steps))
	assert.Equal(t, "c", steps[1].Content)

	ok, err = s.DeleteStep(ctx, ids[1])
	require.NoError(t, err)
	assert.False(t, ok)

	// Новый шаг встает в конец без пропусков.
	_, err = s.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: "e"})
	require.NoError(t, err)
	steps, err = s.ListSteps(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, orders(steps))
}

func TestMoveStep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	flowID, err := s.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)

	var ids []int64
	for _, c := range []string{"a", "b", "c"} {
		id, err := s.AppendStep(ctx, flowID, models.StepDraft{Type: models.StepText, Content: c})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.NoError(t, s.MoveStep(ctx, ids[2], 1))
	steps, err := s.ListSteps(ctx, flowID)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, orders(steps))
	assert.Equal(t, []string{"c", "a", "b"}, []string{steps[0].Content, steps[1].Content, steps[2].Content})

	assert.Error(t, s.MoveStep(ctx, ids[0], 4))
	assert.ErrorIs(t, s.MoveStep(ctx, 999, 1), ErrNotFound)
	require.NoError(t, s.CompactSteps(ctx, flowID))
}

func TestSetDefaultFlow_IsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetDefaultFlow(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := s.CreateFlow(ctx, "A", "")
	require.NoError(t, err)
	b, err := s.CreateFlow(ctx, "B", "")
	require.NoError(t, err)

	require.NoError(t, s.SetDefaultFlow(ctx, a))
	require.NoError(t, s.SetDefaultFlow(ctx, b))

	def, err := s.GetDefaultFlow(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, def.ID)

	flows, err := s.ListFlows(ctx)
	require.NoError(t, err)
	require.Len(t, flows, 2)
	defaults := 0
	for _, f := range flows {
		if f.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
	assert.Equal(t, b, flows[0].ID)

	assert.ErrorIs(t, s.SetDefaultFlow(ctx, 777), ErrNotFound)
}

func TestDeleteFlow_LeavesNoOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	flowID, err := s.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)
	other, err := s.CreateFlow(ctx, "Other", "")
	require.NoError(t, err)

	_, err = s.AppendStep(ctx, flowID, models.StepDraft{
		Type: models.StepButton, Content: "x",
		Buttons: []models.Button{{Text: "t", Target: "https://a.b"}},
	})
	require.NoError(t, err)
	_, err = s.AppendStep(ctx, other, models.StepDraft{
		Type: models.StepButton, Content: "y",
		Buttons: []models.Button{{Text: "t", Target: "https://c.d"}},
	})
	require.NoError(t, err)

	ok, err := s.DeleteFlow(ctx, flowID)
	require.NoError(t, err)
	assert.True(t, ok)

	var steps, buttons int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM flow_steps WHERE flow_id = ?`, flowID).Scan(&steps))
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM buttons`).Scan(&buttons))
	assert.Zero(t, steps)
	assert.Equal(t, 1, buttons)

	ok, err = s.DeleteFlow(ctx, flowID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateStepMediaRef(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	flowID, err := s.CreateFlow(ctx, "Demo", "")
	require.NoError(t, err)
	stepID, err := s.AppendStep(ctx, flowID, models.StepDraft{
		Type:  models.StepRoundVideo,
		Media: models.MediaRef{FileID: "DQAC"},
	})
	require.NoError(t, err)

	ok, err := s.UpdateStepMediaRef(ctx, stepID, models.MediaRef{LocalPath: "video_note/DQAC.mp4"})
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := s.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, models.MediaRef{LocalPath: "video_note/DQAC.mp4"}, st.Media)

	ok, err = s.UpdateStepContent(ctx, stepID, "новый текст")
	require.NoError(t, err)
	assert.True(t, ok)
	st, err = s.GetStep(ctx, stepID)
	require.NoError(t, err)
	assert.Equal(t, "новый текст", st.Content)

	ok, err = s.UpdateStepMediaRef(ctx, stepID+1, models.MediaRef{})
	require.NoError(t, err)
	assert.False(t, ok)
}
