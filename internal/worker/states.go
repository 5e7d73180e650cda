// Package worker implements the lifecycle shared by every pipeline stage:
// enable/working states, the heartbeat, pull-model health checks, the
// reentrant "butcher-knife" mutex guarding external resources, and the
// restart protocol.
package worker

// EnableState gates whether a worker's loop runs at all.
type EnableState int32

const (
	Enable EnableState = iota
	Disable
	Killed
)

func (s EnableState) String() string {
	switch s {
	case Enable:
		return "ENABLE"
	case Disable:
		return "DISABLE"
	case Killed:
		return "KILLED"
	}
	return "UNKNOWN"
}

// WorkState is the sub-state of the request currently being worked.
type WorkState int32

const (
	NotStart WorkState = iota
	BeforeCleanedUp
	Init
	Doing
	Done
	DoneCleanedUp
	ErrorExit
)

func (s WorkState) String() string {
	switch s {
	case NotStart:
		return "NOT_START"
	case BeforeCleanedUp:
		return "BEFORE_CLEANED_UP"
	case Init:
		return "INIT"
	case Doing:
		return "DOING"
	case Done:
		return "DONE"
	case DoneCleanedUp:
		return "DONE_CLEANED_UP"
	case ErrorExit:
		return "ERROR_EXIT"
	}
	return "UNKNOWN"
}

// Ready reports whether the state counts as "ready": nothing in flight,
// safe to hand the worker a new request or to tear it down.
func (s WorkState) Ready() bool {
	switch s {
	case NotStart, Done, DoneCleanedUp, ErrorExit:
		return true
	}
	return false
}
