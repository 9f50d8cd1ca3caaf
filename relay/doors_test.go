package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopsession/protocol"
)

type recorder struct {
	sent []protocol.DoorEvent
	err  error
}

func (r *recorder) emit(ev protocol.DoorEvent) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, ev)
	return nil
}

func TestEmit_SendsOncePerStateChange(t *testing.T) {
	rec := &recorder{}
	d := NewDoors(rec.emit, nil)

	sent, err := d.Emit(3, true)
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = d.Emit(3, true)
	require.NoError(t, err)
	assert.False(t, sent, "same value must not be re-sent")

	sent, err = d.Emit(3, false)
	require.NoError(t, err)
	assert.True(t, sent)

	assert.Equal(t, []protocol.DoorEvent{{DoorID: 3, Open: true}, {DoorID: 3, Open: false}}, rec.sent)
}

func TestEmit_FailedSendRollsBack(t *testing.T) {
	rec := &recorder{err: errors.New("not connected")}
	d := NewDoors(rec.emit, nil)

	_, err := d.Emit(1, true)
	require.Error(t, err)
	_, known := d.Open(1)
	assert.False(t, known)

	rec.err = nil
	sent, err := d.Emit(1, true)
	require.NoError(t, err)
	assert.True(t, sent, "a change that never reached the coordinator is still pending")
}

func TestApply_IdempotentAndForwardsToWorld(t *testing.T) {
	var applied []protocol.DoorEvent
	world := ApplierFunc(func(id int, open bool) {
		applied = append(applied, protocol.DoorEvent{DoorID: id, Open: open})
	})
	d := NewDoors((&recorder{}).emit, world)

	assert.True(t, d.Apply(protocol.DoorEvent{DoorID: 3, Open: true}))
	assert.False(t, d.Apply(protocol.DoorEvent{DoorID: 3, Open: true}))

	open, known := d.Open(3)
	assert.True(t, known)
	assert.True(t, open)
	assert.Len(t, applied, 1)
}

func TestReset_ClearsState(t *testing.T) {
	d := NewDoors((&recorder{}).emit, nil)
	d.Apply(protocol.DoorEvent{DoorID: 2, Open: true})
	d.Reset()
	assert.Empty(t, d.Snapshot())
}
