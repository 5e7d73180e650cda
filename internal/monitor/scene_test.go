package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func opsByClass(ops []Op) map[OpClass]Op {
	out := make(map[OpClass]Op)
	for _, op := range ops {
		out[op.Class] = op
	}
	return out
}

func TestCarArrivalAndDeparture(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)

	ops := opsByClass(m.Tick(true, false))
	assert.Equal(t, CarPositive, states.Car())
	assert.Equal(t, ActionStart, ops[OpWarn].Action)
	assert.Equal(t, ActionStart, ops[OpRecord].Action)
	assert.Equal(t, "car-blocking", ops[OpRecord].Tag)
	assert.Equal(t, ActionPullUp, ops[OpFPS].Action)

	// Steady state emits nothing.
	assert.Empty(t, m.Tick(true, false))

	ops = opsByClass(m.Tick(false, false))
	assert.Equal(t, CarNegative, states.Car())
	assert.Equal(t, ActionStop, ops[OpWarn].Action)
	assert.Equal(t, ActionStop, ops[OpRecord].Action)
	assert.Equal(t, "car-left", ops[OpRecord].Tag)
	assert.Equal(t, ActionReduce, ops[OpFPS].Action)
}

func TestCarOverstayEntersNotLeave(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)

	now := time.Now()
	m.now = func() time.Time { return now }
	m.Tick(true, false)
	require.Equal(t, CarPositive, states.Car())

	// Just under the limit: nothing happens.
	now = now.Add(299 * time.Second)
	assert.Empty(t, m.Tick(true, false))

	now = now.Add(2 * time.Second)
	ops := opsByClass(m.Tick(true, false))
	assert.Equal(t, CarNotLeave, states.Car())
	assert.Equal(t, ActionStop, ops[OpWarn].Action)
	assert.Equal(t, ActionStop, ops[OpRecord].Action)
	assert.Equal(t, "car-persists", ops[OpRecord].Tag)
	_, hasFPS := ops[OpFPS]
	assert.False(t, hasFPS, "overstay keeps the active rate decision to the person machine")
}

func TestOverstayingCarLeavingRecordsTheDeparture(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Tick(true, false)
	now = now.Add(301 * time.Second)
	m.Tick(true, false)
	require.Equal(t, CarNotLeave, states.Car())

	// Sitting in CAR_NOT_LEAVE is quiet.
	assert.Empty(t, m.Tick(true, false))

	ops := opsByClass(m.Tick(false, false))
	assert.Equal(t, CarNegative, states.Car())
	assert.Equal(t, ActionStart, ops[OpRecord].Action)
	assert.Equal(t, "car-left", ops[OpRecord].Tag)
}

func TestPersonArrivalAndDeparture(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)

	ops := opsByClass(m.Tick(false, true))
	assert.Equal(t, PersonPositive, states.Person())
	assert.Equal(t, ActionStart, ops[OpRecord].Action)
	assert.Equal(t, "person", ops[OpRecord].Tag)
	assert.Equal(t, ActionStart, ops[OpAudio].Action)
	assert.Equal(t, ActionPullUp, ops[OpFPS].Action)

	ops = opsByClass(m.Tick(false, false))
	assert.Equal(t, PersonNegative, states.Person())
	assert.Equal(t, ActionStop, ops[OpRecord].Action)
	assert.Equal(t, "person-left", ops[OpRecord].Tag)
	assert.Equal(t, ActionReduce, ops[OpFPS].Action)
}

func TestSceneActive(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)
	assert.False(t, states.Active())

	m.Tick(true, false)
	assert.True(t, states.Active())

	// CAR_NOT_LEAVE is not active: its recording already stopped.
	now := time.Now()
	m.now = func() time.Time { return now.Add(301 * time.Second) }
	m.Tick(true, false)
	require.Equal(t, CarNotLeave, states.Car())
	assert.False(t, states.Active())

	m.Tick(true, true)
	assert.True(t, states.Active())
}

func TestSimultaneousArrivalMergesToSingleOps(t *testing.T) {
	states := NewSceneStates()
	m := NewMachine(states, 300)

	merged := Merge(m.Tick(true, true))
	counts := make(map[OpClass]int)
	messages := 0
	for _, op := range merged {
		if op.Class == OpMessage {
			messages++
			continue
		}
		counts[op.Class]++
	}
	assert.Equal(t, 1, counts[OpRecord])
	assert.Equal(t, 1, counts[OpFPS])
	assert.Equal(t, 2, messages)
}
