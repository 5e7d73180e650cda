package monitor

import "github.com/yujun2647/watchdog/internal/events"

// OpClass groups operation instructions by the handler that consumes
// them.
type OpClass int

const (
	OpWarn OpClass = iota
	OpRecord
	OpAudio
	OpFPS
	OpMessage
)

func (c OpClass) String() string {
	switch c {
	case OpWarn:
		return "warn"
	case OpRecord:
		return "record"
	case OpAudio:
		return "audio"
	case OpFPS:
		return "fps"
	case OpMessage:
		return "message"
	}
	return "unknown"
}

type OpAction int

const (
	ActionStart OpAction = iota
	ActionStop
	ActionPullUp
	ActionReduce
)

// Op is one operation instruction emitted by a scene transition. Message
// ops carry the event type delivered to the notification sinks.
type Op struct {
	Class  OpClass
	Action OpAction
	Tag    string
	Event  events.Type
}

// Merge collapses one tick's ops so at most one op of each class
// survives: start dominates stop, fps pull-up dominates reduce. Messages
// are the exception, every one is delivered.
func Merge(ops []Op) []Op {
	var messages []Op
	chosen := make(map[OpClass]Op)
	for _, op := range ops {
		if op.Class == OpMessage {
			messages = append(messages, op)
			continue
		}
		prev, ok := chosen[op.Class]
		if !ok || dominates(op, prev) {
			chosen[op.Class] = op
		}
	}
	out := make([]Op, 0, len(chosen)+len(messages))
	for _, class := range []OpClass{OpWarn, OpRecord, OpAudio, OpFPS} {
		if op, ok := chosen[class]; ok {
			out = append(out, op)
		}
	}
	return append(out, messages...)
}

func dominates(a, b Op) bool {
	switch a.Action {
	case ActionStart, ActionPullUp:
		return b.Action == ActionStop || b.Action == ActionReduce
	}
	return false
}
