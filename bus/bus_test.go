package bus

import (
	"testing"

	"github.com/robertmeta/podcatch/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecipient struct {
	accept bool
	got    []model.Notification
}

func (f *fakeRecipient) Deliver(n model.Notification) (<-chan int, bool) {
	if !f.accept {
		return nil, false
	}
	f.got = append(f.got, n)
	reply := make(chan int, 1)
	reply <- 0
	return reply, true
}

func TestBus_SendWithoutRecipientDrops(t *testing.T) {
	b := New(nil)
	reply, ok := b.Send(model.NewMediaDetected("https://cdn/ep1.mp3"))
	assert.False(t, ok)
	assert.Nil(t, reply)
}

func TestBus_FirstRegisteredIsFocused(t *testing.T) {
	b := New(nil)
	first := &fakeRecipient{accept: true}
	second := &fakeRecipient{accept: true}
	b.Register("a", first)
	b.Register("b", second)

	assert.Equal(t, "a", b.Focused())

	reply, ok := b.Send(model.NewMediaDetected("https://cdn/ep1.mp3"))
	require.True(t, ok)
	assert.Equal(t, 0, <-reply)
	assert.Len(t, first.got, 1)
	assert.Empty(t, second.got)
}

func TestBus_FocusRoutesToOneRecipient(t *testing.T) {
	b := New(nil)
	first := &fakeRecipient{accept: true}
	second := &fakeRecipient{accept: true}
	b.Register("a", first)
	b.Register("b", second)

	require.True(t, b.Focus("b"))
	_, ok := b.Send(model.NewToggleVisibility())
	require.True(t, ok)

	assert.Empty(t, first.got)
	require.Len(t, second.got, 1)
	assert.Equal(t, model.ToggleVisibility, second.got[0].Type)

	assert.False(t, b.Focus("missing"))
	assert.Equal(t, "b", b.Focused())
}

func TestBus_NoDeduplication(t *testing.T) {
	b := New(nil)
	r := &fakeRecipient{accept: true}
	b.Register("a", r)

	for i := 0; i < 3; i++ {
		_, ok := b.Send(model.NewMediaDetected("https://cdn/ep1.mp3"))
		require.True(t, ok)
	}
	assert.Len(t, r.got, 3)
}

func TestBus_RecipientRefusesDrops(t *testing.T) {
	b := New(nil)
	b.Register("a", &fakeRecipient{accept: false})

	_, ok := b.Send(model.NewMediaDetected("https://cdn/ep1.mp3"))
	assert.False(t, ok)
}

func TestBus_UnregisterFocusedClearsFocus(t *testing.T) {
	b := New(nil)
	b.Register("a", &fakeRecipient{accept: true})
	b.Register("b", &fakeRecipient{accept: true})

	b.Unregister("a")
	assert.Equal(t, "", b.Focused())

	_, ok := b.Send(model.NewToggleVisibility())
	assert.False(t, ok, "no recipient is focused after the focused one leaves")

	b.Unregister("b")
	b.Register("c", &fakeRecipient{accept: true})
	assert.Equal(t, "c", b.Focused())
}
