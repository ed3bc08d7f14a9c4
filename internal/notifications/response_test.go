package notifications

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseCombine_Associative(t *testing.T) {
	build := func() (a, b, c *Response) {
		a = &Response{Messages: []string{"m1"}, Errors: []string{"e1"}}
		b = &Response{Messages: []string{"m2"}}
		c = &Response{Errors: []string{"e2"}}

		return a, b, c
	}

	a1, b1, c1 := build()
	left := a1.Combine(b1).Combine(c1)

	a2, b2, c2 := build()
	right := a2.Combine(b2.Combine(c2))

	assert.Equal(t, left, right)
}

func TestResponseCombine_ZeroValueIsIdentity(t *testing.T) {
	response := &Response{Messages: []string{"m1"}, Errors: []string{"e1"}}

	combined := response.Combine(&Response{})

	assert.Equal(t, []string{"m1"}, combined.Messages)
	assert.Equal(t, []string{"e1"}, combined.Errors)
}

func TestResponseCombine_NilIsIdentity(t *testing.T) {
	response := &Response{Messages: []string{"m1"}}

	combined := response.Combine(nil)

	assert.Equal(t, []string{"m1"}, combined.Messages)
	assert.Empty(t, combined.Errors)
}

func TestResponseHasErrors(t *testing.T) {
	response := &Response{}
	assert.False(t, response.HasErrors())

	response.AddError("boom")
	assert.True(t, response.HasErrors())
}

func TestNotificationComplete_Success(t *testing.T) {
	notification := New("PROD-1", "org.example", "core", "1.0.0", true, false, "parent-1")
	notification.AddMessage("updated")

	now := time.Now().UTC()
	notification.Complete(now)

	assert.True(t, notification.Completed)
	assert.True(t, notification.Success)
	require.NotNil(t, notification.ProcessedAt)
	assert.Equal(t, now, *notification.ProcessedAt)
}

func TestNotificationComplete_ErrorsMeanFailure(t *testing.T) {
	notification := New("PROD-1", "org.example", "core", "1.0.0", true, false, "parent-1")
	notification.AddError("repository unreachable")

	notification.Complete(time.Now().UTC())

	assert.True(t, notification.Completed)
	assert.False(t, notification.Success)
}
