package worker

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/queue"
)

const (
	// HeartbeatInterval is how often a healthy loop refreshes its
	// heartbeat; staleness beyond HeartbeatStaleFactor intervals marks
	// the worker a restart candidate.
	HeartbeatInterval    = time.Second
	HeartbeatStaleFactor = 15

	DefaultRestartTimeout = 60 * time.Second

	idleSleep    = 20 * time.Millisecond
	errorBackoff = 500 * time.Millisecond
)

// ErrWorkDone is returned by HandleWork to finish the current request and
// run the done/cleanup half of the cycle.
var ErrWorkDone = errors.New("work done")

var ErrNotReady = errors.New("worker did not reach a ready state")

// Request kinds understood by the generic loop.
const (
	KindStart = "start"
	KindEnd   = "end"
)

type Request struct {
	Kind      string
	Tag       string
	Payload   any
	CreatedAt time.Time
}

func StartRequest(tag string, payload any) *Request {
	return &Request{Kind: KindStart, Tag: tag, Payload: payload, CreatedAt: time.Now()}
}

func EndRequest() *Request {
	return &Request{Kind: KindEnd, CreatedAt: time.Now()}
}

// Stage is what a pipeline component plugs into the generic worker: four
// lifecycle hooks plus the unit-of-work handler. HandleWork is called
// repeatedly while the request is active; it should do one bounded unit
// (one queue get, one frame, one write) per call and return ErrWorkDone
// when the request is complete.
type Stage interface {
	Name() string
	BeforeCleanUp()
	InitWork() error
	HandleWork(req *Request) error
	DoneCleanUp()
}

// SideWorker is implemented by stages that need per-iteration housekeeping
// outside the request cycle (answering adjust requests, timers).
type SideWorker interface {
	SideWork()
}

// OutputOwner exposes a stage's outbound queues so restart can drain them
// before the kill. Killing a producer with queued output in place leaves
// consumers reading half-finished work.
type OutputOwner interface {
	Outputs() []queue.Drainer
}

// ForceStopper is implemented by stages whose HandleWork can block on an
// external resource while holding the knife (a stalled capture read, a
// wedged encoder). ForceStop must unblock that call from another
// goroutine without taking the knife itself.
type ForceStopper interface {
	ForceStop()
}

// Worker drives a Stage through the shared lifecycle loop:
// touch knife, heartbeat, health, side work, fetch request, work cycle
// (BEFORE_CLEANED_UP, INIT, DOING, DONE, DONE_CLEANED_UP). Any panic in
// the cycle runs cleanup, parks the state at ERROR_EXIT and the loop
// resumes with a fresh cycle on the next iteration.
type Worker struct {
	stage Stage
	log   *zap.Logger
	knife *Knife

	enable    atomic.Int32
	work      atomic.Int32
	heartbeat atomic.Int64
	handled   atomic.Uint64
	forceDone atomic.Bool

	reqQ      *queue.Queue[*Request]
	healthReq *queue.Queue[HealthRequest]
	healthRsp *queue.Queue[HealthResponse]

	cur atomic.Pointer[Request]

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func New(stage Stage, log *zap.Logger) *Worker {
	name := stage.Name()
	w := &Worker{
		stage:     stage,
		log:       log.Named(name),
		knife:     NewKnife(name),
		reqQ:      queue.New[*Request](name+".req", 10),
		healthReq: queue.New[HealthRequest](name+".health_req", 5),
		healthRsp: queue.New[HealthResponse](name+".health_rsp", 5),
	}
	w.work.Store(int32(NotStart))
	w.heartbeat.Store(time.Now().UnixNano())
	return w
}

func (w *Worker) Name() string       { return w.stage.Name() }
func (w *Worker) Knife() *Knife      { return w.knife }
func (w *Worker) Handled() uint64    { return w.handled.Load() }
func (w *Worker) Current() *Request  { return w.cur.Load() }
func (w *Worker) HeartbeatAt() time.Time {
	return time.Unix(0, w.heartbeat.Load())
}

func (w *Worker) EnableState() EnableState { return EnableState(w.enable.Load()) }
func (w *Worker) WorkState() WorkState     { return WorkState(w.work.Load()) }

func (w *Worker) setWork(s WorkState) { w.work.Store(int32(s)) }
func (w *Worker) beat()               { w.heartbeat.Store(time.Now().UnixNano()) }

// Start launches the loop goroutine. Safe to call once per (re)launch.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.enable.Store(int32(Enable))
	w.work.Store(int32(NotStart))
	w.forceDone.Store(false)
	w.done = make(chan struct{})
	w.running = true
	go w.loop(w.done)
	w.log.Info("worker started")
}

// SendRequest posts a control request to the worker.
func (w *Worker) SendRequest(req *Request) error {
	return w.reqQ.Put(req, queue.DefaultPutTimeout)
}

// StartWork is shorthand for sending a start request.
func (w *Worker) StartWork(tag string) error {
	return w.SendRequest(StartRequest(tag, nil))
}

// EndWork asks the worker to finish its current request and clean up.
func (w *Worker) EndWork() error {
	return w.SendRequest(EndRequest())
}

func (w *Worker) Pause()  { w.enable.Store(int32(Disable)) }
func (w *Worker) Resume() { w.enable.Store(int32(Enable)) }

// ForceWorkDone forces the current cycle to its done/cleanup half on the
// next HandleWork return.
func (w *Worker) ForceWorkDone() { w.forceDone.Store(true) }

// WaitReadyState polls until the work state is ready. On timeout with
// forceStop set it forces the work done and waits one more grace period.
func (w *Worker) WaitReadyState(timeout time.Duration, forceStop bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if w.WorkState().Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			if !forceStop {
				return fmt.Errorf("%s: %w (state %s)", w.Name(), ErrNotReady, w.WorkState())
			}
			w.ForceWorkDone()
			forceStop = false
			deadline = time.Now().Add(5 * time.Second)
		}
		time.Sleep(idleSleep)
	}
}

// Kill stops the loop: graceful first (force the cycle done), then waits
// up to timeout for the goroutine to exit. On timeout the knife is
// force-released so supervisors are not wedged by a dead holder.
func (w *Worker) Kill(timeout time.Duration) bool {
	w.mu.Lock()
	done := w.done
	running := w.running
	w.mu.Unlock()

	w.forceDone.Store(true)
	w.enable.Store(int32(Killed))
	if !running {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return true
	case <-timer.C:
		w.log.Error("worker did not exit in time, abandoning", zap.Duration("timeout", timeout))
		w.knife.ForceRelease()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return false
	}
}

// Restart drains the stage's outbound queues under the knife, kills the
// loop and relaunches it, re-posting the request that was in flight.
// A holder wedged inside HandleWork cannot be waited out: after timeout
// the stage is force-stopped to unblock it, and as a last resort the
// knife is force-released so the supervisor itself never hangs.
func (w *Worker) Restart(timeout time.Duration) error {
	if !w.knife.TryLock(timeout) {
		w.log.Warn("knife busy past timeout, force-stopping stage",
			zap.Duration("timeout", timeout))
		if fs, ok := w.stage.(ForceStopper); ok {
			w.safe("force stop", fs.ForceStop)
		}
		if !w.knife.TryLock(timeout) {
			w.log.Error("knife still held after force stop, releasing")
			w.knife.ForceRelease()
			w.knife.Lock()
		}
	}
	defer w.knife.Unlock()

	if oo, ok := w.stage.(OutputOwner); ok {
		for _, q := range oo.Outputs() {
			if n := q.Clear(); n > 0 {
				w.log.Info("drained output queue before restart",
					zap.String("queue", q.Name()), zap.Int("dropped", n))
			}
		}
	}

	cur := w.cur.Load()
	w.Kill(timeout)
	w.cur.Store(nil)
	w.Start()

	if cur != nil {
		if err := w.SendRequest(StartRequest(cur.Tag, cur.Payload)); err != nil {
			return fmt.Errorf("restart %s: resend request: %w", w.Name(), err)
		}
	}
	return nil
}

// superseded reports whether a newer launch replaced this loop. Each
// launch gets its own done channel, so the comparison doubles as a
// generation token.
func (w *Worker) superseded(done chan struct{}) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done != done
}

// touchKnife blocks while a restart holds the knife, keeping the loop at a
// safe point. Returns false once the worker is killed.
func (w *Worker) touchKnife() bool {
	for !w.knife.TryLock(100 * time.Millisecond) {
		if w.EnableState() == Killed {
			return false
		}
	}
	w.knife.Unlock()
	return true
}

func (w *Worker) loop(done chan struct{}) {
	defer close(done)
	for {
		if w.superseded(done) {
			// A timed-out kill abandoned this loop and a replacement is
			// already running; the enable state belongs to the new one.
			w.log.Warn("stale loop exiting after relaunch")
			return
		}
		switch w.EnableState() {
		case Killed:
			w.finishCycle()
			w.log.Info("worker loop exited")
			return
		case Disable:
			time.Sleep(idleSleep)
			continue
		}
		if !w.touchKnife() {
			continue
		}
		w.beat()
		w.answerHealth()
		if sw, ok := w.stage.(SideWorker); ok {
			w.safe("side work", sw.SideWork)
		}
		req := w.nextRequest()
		if req == nil {
			time.Sleep(idleSleep)
			continue
		}
		w.step(req)
	}
}

// nextRequest picks up a newly posted request or falls back to the one in
// flight. An end request finishes the current cycle and leaves the worker
// idle.
func (w *Worker) nextRequest() *Request {
	if req, ok := w.reqQ.TryGet(); ok {
		switch req.Kind {
		case KindEnd:
			w.finishCycle()
			w.cur.Store(nil)
			return nil
		default:
			w.finishCycle()
			w.setWork(NotStart)
			w.cur.Store(req)
			return req
		}
	}
	return w.cur.Load()
}

// step runs one unit of the current request, cycling up through
// BEFORE_CLEANED_UP/INIT/DOING first when the cycle is not yet live.
func (w *Worker) step(req *Request) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("work cycle panicked",
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			w.safe("done clean up", w.stage.DoneCleanUp)
			w.setWork(ErrorExit)
			time.Sleep(errorBackoff)
		}
	}()

	if w.WorkState() != Doing {
		w.setWork(BeforeCleanedUp)
		w.stage.BeforeCleanUp()
		w.setWork(Init)
		if err := w.stage.InitWork(); err != nil {
			w.log.Error("init failed", zap.Error(err))
			w.safe("done clean up", w.stage.DoneCleanUp)
			w.setWork(ErrorExit)
			time.Sleep(errorBackoff)
			return
		}
		w.setWork(Doing)
	}

	err := w.stage.HandleWork(req)
	switch {
	case err == nil:
		w.handled.Add(1)
	case errors.Is(err, ErrWorkDone):
		w.handled.Add(1)
		w.finishCycle()
		w.cur.Store(nil)
		return
	default:
		w.log.Warn("work unit failed", zap.Error(err))
	}
	if w.forceDone.Load() {
		w.forceDone.Store(false)
		w.finishCycle()
		w.cur.Store(nil)
	}
}

// finishCycle runs the done/cleanup half if a cycle is live.
func (w *Worker) finishCycle() {
	switch w.WorkState() {
	case NotStart, DoneCleanedUp, ErrorExit:
		return
	}
	w.setWork(Done)
	w.safe("done clean up", w.stage.DoneCleanUp)
	w.setWork(DoneCleanedUp)
}

// safe invokes fn, converting a panic into a logged error. Used for hooks
// that run on teardown paths where a second panic must not escape.
func (w *Worker) safe(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("hook panicked",
				zap.String("hook", what),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}
