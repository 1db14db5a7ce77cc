package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowbot/internal/models"
)

func TestSessionManager_OneSessionPerOperator(t *testing.T) {
	sm := NewSessionManager()

	_, ok := sm.Get(1)
	assert.False(t, ok)

	sm.Put(1, AuthoringSession{FlowID: 10, State: AwaitingStepType{}})
	sm.Put(1, AuthoringSession{FlowID: 11, State: AwaitingFlowName{}})
	sm.Put(2, AuthoringSession{FlowID: 20, State: AwaitingStepType{}})

	s, ok := sm.Get(1)
	require.True(t, ok)
	assert.Equal(t, int64(11), s.FlowID)
	assert.IsType(t, AwaitingFlowName{}, s.State)

	sm.Clear(1)
	_, ok = sm.Get(1)
	assert.False(t, ok)
	_, ok = sm.Get(2)
	assert.True(t, ok)
}

func TestSessionManager_LockSerializesOperator(t *testing.T) {
	sm := NewSessionManager()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock(7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestDraftOf(t *testing.T) {
	d := Draft{Type: models.StepText, Content: "hi"}

	got, ok := DraftOf(AwaitingButtonURL{Draft: d, ButtonText: "go"})
	require.True(t, ok)
	assert.Equal(t, d, got)

	_, ok = DraftOf(AwaitingStepType{})
	assert.False(t, ok)
	_, ok = DraftOf(AwaitingEditText{StepID: 3})
	assert.False(t, ok)
	_, ok = DraftOf(AwaitingConvertDecision{Draft: d, EditStepID: 5})
	assert.False(t, ok)
}
