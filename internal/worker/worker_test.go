package worker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/queue"
)

// countingStage finishes after handling limit units, or panics on the
// poisoned unit when poisonAt is set.
type countingStage struct {
	limit    int
	poisonAt int
	inits    atomic.Int32
	cleanups atomic.Int32
	units    atomic.Int32
	out      *queue.Queue[int]
}

func (s *countingStage) Name() string       { return "counting" }
func (s *countingStage) BeforeCleanUp()     {}
func (s *countingStage) InitWork() error    { s.inits.Add(1); return nil }
func (s *countingStage) DoneCleanUp()       { s.cleanups.Add(1) }

func (s *countingStage) HandleWork(req *Request) error {
	n := int(s.units.Add(1))
	if s.poisonAt > 0 && n == s.poisonAt {
		panic("poisoned unit")
	}
	if s.out != nil {
		s.out.ForcePut(n)
	}
	if n >= s.limit {
		return ErrWorkDone
	}
	return nil
}

func (s *countingStage) Outputs() []queue.Drainer {
	if s.out == nil {
		return nil
	}
	return []queue.Drainer{s.out}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorkerFullCycle(t *testing.T) {
	s := &countingStage{limit: 3}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	waitFor(t, 2*time.Second, func() bool { return w.WorkState() == DoneCleanedUp })

	assert.Equal(t, int32(1), s.inits.Load())
	assert.Equal(t, int32(1), s.cleanups.Load())
	assert.Equal(t, int32(3), s.units.Load())
	assert.Nil(t, w.Current())
}

func TestWorkerPanicRecoversAndResumes(t *testing.T) {
	s := &countingStage{limit: 10, poisonAt: 2}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	// The poisoned unit parks the cycle at ERROR_EXIT with cleanup run,
	// then the loop re-inits and the job still completes.
	waitFor(t, 5*time.Second, func() bool { return w.WorkState() == DoneCleanedUp })
	assert.GreaterOrEqual(t, s.inits.Load(), int32(2))
	assert.GreaterOrEqual(t, s.cleanups.Load(), int32(2))
}

func TestWorkerEndRequest(t *testing.T) {
	s := &countingStage{limit: 1 << 30}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	waitFor(t, time.Second, func() bool { return w.WorkState() == Doing })

	require.NoError(t, w.EndWork())
	waitFor(t, 2*time.Second, func() bool { return w.WorkState() == DoneCleanedUp })
	assert.Equal(t, int32(1), s.cleanups.Load())
}

func TestWorkerHealthRoundTrip(t *testing.T) {
	s := &countingStage{limit: 1 << 30}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	rsp, err := w.Health(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "counting", rsp.Worker)
	assert.Equal(t, Enable, rsp.Enable)
	assert.WithinDuration(t, time.Now(), rsp.Heartbeat, 5*time.Second)
}

func TestWorkerRestartDrainsOutputsAndResumes(t *testing.T) {
	s := &countingStage{limit: 1 << 30, out: queue.New[int]("out", 50)}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	waitFor(t, time.Second, func() bool { return s.out.Len() > 0 })

	require.NoError(t, w.Restart(5*time.Second))
	// Work resumes after relaunch: fresh units show up in the drained queue.
	waitFor(t, 2*time.Second, func() bool { return s.out.Len() > 0 })
	assert.GreaterOrEqual(t, s.inits.Load(), int32(2))
}

func TestWorkerWaitReadyForceStop(t *testing.T) {
	s := &countingStage{limit: 1 << 30}
	w := New(s, zap.NewNop())
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	waitFor(t, time.Second, func() bool { return w.WorkState() == Doing })

	require.NoError(t, w.WaitReadyState(50*time.Millisecond, true))
	assert.True(t, w.WorkState().Ready())
}

// wedgedStage holds the knife while blocked on an external read, the way
// a capture stage blocks on a stalled source. ForceStop unblocks it.
type wedgedStage struct {
	w       *Worker
	stall   chan struct{}
	once    sync.Once
	stopped atomic.Bool
}

func (s *wedgedStage) Name() string    { return "wedged" }
func (s *wedgedStage) BeforeCleanUp()  {}
func (s *wedgedStage) InitWork() error { return nil }
func (s *wedgedStage) DoneCleanUp()    {}

func (s *wedgedStage) HandleWork(*Request) error {
	k := s.w.Knife()
	k.Lock()
	<-s.stall
	k.Unlock()
	return nil
}

func (s *wedgedStage) ForceStop() {
	s.stopped.Store(true)
	s.once.Do(func() { close(s.stall) })
}

func TestRestartUnwedgesAStageBlockedUnderTheKnife(t *testing.T) {
	s := &wedgedStage{stall: make(chan struct{})}
	w := New(s, zap.NewNop())
	s.w = w
	w.Start()
	defer w.Kill(time.Second)

	require.NoError(t, w.StartWork("job"))
	waitFor(t, time.Second, func() bool { return w.Knife().Held() })

	// The blocked read never returns on its own; restart must escalate
	// through ForceStop instead of waiting on the knife forever.
	start := time.Now()
	require.NoError(t, w.Restart(500*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, s.stopped.Load())

	waitFor(t, 2*time.Second, func() bool { return w.WorkState() == Doing })
}

// stallOnceStage blocks its first unit until released and records which
// goroutine ran each unit.
type stallOnceStage struct {
	mu      sync.Mutex
	calls   map[uint64]int
	release chan struct{}
	entered atomic.Bool
}

func (s *stallOnceStage) Name() string    { return "stall_once" }
func (s *stallOnceStage) BeforeCleanUp()  {}
func (s *stallOnceStage) InitWork() error { return nil }
func (s *stallOnceStage) DoneCleanUp()    {}

func (s *stallOnceStage) HandleWork(*Request) error {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[uint64]int)
	}
	s.calls[goid()]++
	s.mu.Unlock()
	if !s.entered.Swap(true) {
		<-s.release
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (s *stallOnceStage) callsByGoroutine() map[uint64]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]int, len(s.calls))
	for id, n := range s.calls {
		out[id] = n
	}
	return out
}

func TestAbandonedLoopDoesNotResumeAfterRelaunch(t *testing.T) {
	s := &stallOnceStage{release: make(chan struct{})}
	w := New(s, zap.NewNop())
	w.Start()
	require.NoError(t, w.StartWork("job"))

	waitFor(t, time.Second, func() bool { return s.entered.Load() })

	// The hung loop is abandoned on kill timeout and a fresh one launched.
	require.NoError(t, w.Restart(200*time.Millisecond))
	defer w.Kill(time.Second)

	waitFor(t, 2*time.Second, func() bool { return len(s.callsByGoroutine()) == 2 })
	close(s.release)
	time.Sleep(300 * time.Millisecond)

	// The abandoned loop handled exactly its stalled unit and then exited;
	// only the replacement keeps pumping.
	calls := s.callsByGoroutine()
	require.Len(t, calls, 2)
	stalled := 0
	for _, n := range calls {
		if n == 1 {
			stalled++
		}
	}
	assert.Equal(t, 1, stalled)
}

func TestWorkerKillStopsLoop(t *testing.T) {
	s := &countingStage{limit: 1 << 30}
	w := New(s, zap.NewNop())
	w.Start()
	require.NoError(t, w.StartWork("job"))
	assert.True(t, w.Kill(2*time.Second))
	assert.Equal(t, Killed, w.EnableState())
}
