package monitor

import (
	"sync"
	"time"

	"github.com/yujun2647/watchdog/internal/events"
)

type CarState int

const (
	CarNegative CarState = iota
	CarPositive
	CarNotLeave
)

func (s CarState) String() string {
	switch s {
	case CarNegative:
		return "NEGATIVE"
	case CarPositive:
		return "POSITIVE"
	case CarNotLeave:
		return "CAR_NOT_LEAVE"
	}
	return "UNKNOWN"
}

type PersonState int

const (
	PersonNegative PersonState = iota
	PersonPositive
)

func (s PersonState) String() string {
	if s == PersonPositive {
		return "POSITIVE"
	}
	return "NEGATIVE"
}

// SceneStates is the shared scene state object. It is owned by the
// monitor stage but lives outside it so the state survives a stage
// restart; other stages read it through the accessors.
type SceneStates struct {
	mu         sync.RWMutex
	car        CarState
	person     PersonState
	carPosTime time.Time
}

func NewSceneStates() *SceneStates { return &SceneStates{} }

func (s *SceneStates) Car() CarState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.car
}

func (s *SceneStates) Person() PersonState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.person
}

func (s *SceneStates) CarPosTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carPosTime
}

// Active reports whether the scene demands recording: a blocking car or a
// present person. CAR_NOT_LEAVE does not count, its recording already
// stopped.
func (s *SceneStates) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.car == CarPositive || s.person == PersonPositive
}

func (s *SceneStates) setCar(c CarState, posTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.car = c
	if c == CarPositive {
		s.carPosTime = posTime
	}
}

func (s *SceneStates) setPerson(p PersonState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.person = p
}

// Machine drives the car and person scene state machines off the
// debounced sensor outputs, emitting the ops for each transition.
type Machine struct {
	states       *SceneStates
	carAlertSecs int
	now          func() time.Time
}

func NewMachine(states *SceneStates, carAlertSecs int) *Machine {
	return &Machine{states: states, carAlertSecs: carAlertSecs, now: time.Now}
}

// Tick advances both machines one step and returns the raw (unmerged)
// ops of every transition taken.
func (m *Machine) Tick(hasCar, hasPerson bool) []Op {
	var ops []Op
	ops = append(ops, m.tickCar(hasCar)...)
	ops = append(ops, m.tickPerson(hasPerson)...)
	return ops
}

func (m *Machine) tickCar(hasCar bool) []Op {
	now := m.now()
	switch m.states.Car() {
	case CarNegative:
		if hasCar {
			m.states.setCar(CarPositive, now)
			return []Op{
				{Class: OpWarn, Action: ActionStart},
				{Class: OpRecord, Action: ActionStart, Tag: "car-blocking"},
				{Class: OpFPS, Action: ActionPullUp},
				{Class: OpMessage, Tag: "car blocking the zone", Event: events.TypeCarBlocking},
			}
		}
	case CarPositive:
		if !hasCar {
			m.states.setCar(CarNegative, time.Time{})
			return []Op{
				{Class: OpWarn, Action: ActionStop},
				{Class: OpRecord, Action: ActionStop, Tag: "car-left"},
				{Class: OpFPS, Action: ActionReduce},
				{Class: OpMessage, Tag: "car left", Event: events.TypeSceneClear},
			}
		}
		if now.Sub(m.states.CarPosTime()) > time.Duration(m.carAlertSecs)*time.Second {
			m.states.setCar(CarNotLeave, time.Time{})
			return []Op{
				{Class: OpWarn, Action: ActionStop},
				{Class: OpRecord, Action: ActionStop, Tag: "car-persists"},
				{Class: OpMessage, Tag: "car refused to leave", Event: events.TypeCarNotLeave},
			}
		}
	case CarNotLeave:
		if !hasCar {
			m.states.setCar(CarNegative, time.Time{})
			return []Op{
				{Class: OpRecord, Action: ActionStart, Tag: "car-left"},
				{Class: OpMessage, Tag: "overstaying car finally left", Event: events.TypeSceneClear},
			}
		}
	}
	return nil
}

func (m *Machine) tickPerson(hasPerson bool) []Op {
	switch m.states.Person() {
	case PersonNegative:
		if hasPerson {
			m.states.setPerson(PersonPositive)
			return []Op{
				{Class: OpRecord, Action: ActionStart, Tag: "person"},
				{Class: OpAudio, Action: ActionStart, Tag: "person_welcome"},
				{Class: OpFPS, Action: ActionPullUp},
				{Class: OpMessage, Tag: "person detected", Event: events.TypePersonDetected},
			}
		}
	case PersonPositive:
		if !hasPerson {
			m.states.setPerson(PersonNegative)
			return []Op{
				{Class: OpRecord, Action: ActionStop, Tag: "person-left"},
				{Class: OpFPS, Action: ActionReduce},
			}
		}
	}
	return nil
}
