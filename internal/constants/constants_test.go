package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackRoundTrip(t *testing.T) {
	data := Callback(CALLBACK_PREFIX_FLOW_VIEW, 42)
	assert.Equal(t, "flow_view_42", data)

	id, ok := ParseCallbackID(data, CALLBACK_PREFIX_FLOW_VIEW)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	_, ok = ParseCallbackID(data, CALLBACK_PREFIX_FLOW_DELETE)
	assert.False(t, ok)
	_, ok = ParseCallbackID("flow_view_abc", CALLBACK_PREFIX_FLOW_VIEW)
	assert.False(t, ok)
	_, ok = ParseCallbackID("flow_view_-3", CALLBACK_PREFIX_FLOW_VIEW)
	assert.False(t, ok)
}
