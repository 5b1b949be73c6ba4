package _switch

import (
	"encoding/json"
	"testing"

	"github.com/krishimitra/relay/backend/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwitch() *Switch {
	logger := zerolog.Nop()
	return NewSwitch(&logger)
}

func TestSwitch_SendDeliversToDst(t *testing.T) {
	sw := newTestSwitch()
	a, b := model.NewWire(1), model.NewWire(1)
	require.NoError(t, sw.Connect("a", a))
	require.NoError(t, sw.Connect("b", b))

	payload := json.RawMessage(`{"sdp":"X"}`)
	require.True(t, sw.Send(model.Announcement{DST: "b", SRC: "a", Type: "offer", Payload: payload}))

	select {
	case ann := <-b.TX:
		assert.Equal(t, "offer", ann.Type)
		assert.Equal(t, "a", ann.SRC)
		assert.JSONEq(t, `{"sdp":"X"}`, string(ann.Payload))
	default:
		t.Fatal("announcement was not queued")
	}
	assert.Empty(t, a.TX)
}

func TestSwitch_SendDropsWhenFullOrUnknown(t *testing.T) {
	sw := newTestSwitch()
	w := model.NewWire(1)
	require.NoError(t, sw.Connect("a", w))

	assert.True(t, sw.Send(model.Announcement{DST: "a", Type: "one"}))
	assert.False(t, sw.Send(model.Announcement{DST: "a", Type: "two"}))
	assert.False(t, sw.Send(model.Announcement{DST: "ghost", Type: "one"}))

	ann := <-w.TX
	assert.Equal(t, "one", ann.Type)
}

func TestSwitch_ConnectDisconnect(t *testing.T) {
	sw := newTestSwitch()
	w := model.NewWire(1)

	require.NoError(t, sw.Connect("a", w))
	assert.ErrorIs(t, sw.Connect("a", w), ErrEndpointExists)
	assert.True(t, sw.Connected("a"))

	sw.Disconnect("a")
	assert.False(t, sw.Connected("a"))
	assert.False(t, sw.Send(model.Announcement{DST: "a", Type: "x"}))
}
