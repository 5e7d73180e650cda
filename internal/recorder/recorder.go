package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/events"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

// RateController raises the camera rate while a clip is being written and
// releases it when the clip closes.
type RateController interface {
	EnterActive(who string)
	LeaveActive(who string)
}

// SceneProbe reports whether the scene still demands recording; a clip at
// its deadline keeps extending itself while the probe says yes.
type SceneProbe interface {
	Active() bool
}

// Recorder is the sink stage: it consumes marked frames and writes them
// into timestamped clips on request. At most one clip is open at a time;
// start requests arriving mid-clip extend its deadline.
type Recorder struct {
	log *zap.Logger

	in    *queue.Queue[*media.Frame]
	reqQ  *queue.Queue[*Request]
	enc   Encoder
	scene SceneProbe
	rate  RateController
	bus   *events.Bus

	cachePath string
	activeFPS int
	recSecs   int

	mu      sync.Mutex
	cur     *Request
	written int

	w *worker.Worker
}

type Options struct {
	In        *queue.Queue[*media.Frame]
	Requests  *queue.Queue[*Request]
	Encoder   Encoder
	Scene     SceneProbe
	Rate      RateController
	Bus       *events.Bus
	CachePath string
	ActiveFPS int
	RecSecs   int
}

func New(opts Options, log *zap.Logger) *Recorder {
	r := &Recorder{
		log:       log.Named("recorder"),
		in:        opts.In,
		reqQ:      opts.Requests,
		enc:       opts.Encoder,
		scene:     opts.Scene,
		rate:      opts.Rate,
		bus:       opts.Bus,
		cachePath: opts.CachePath,
		activeFPS: opts.ActiveFPS,
		recSecs:   opts.RecSecs,
	}
	if r.enc == nil {
		r.enc = NewFFmpegEncoder(log)
	}
	r.w = worker.New(r, log)
	return r
}

func (r *Recorder) Start() error {
	if err := os.MkdirAll(r.cachePath, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	r.w.Start()
	return r.w.StartWork("record")
}

func (r *Recorder) Stop() {
	r.w.EndWork()
	r.w.Kill(5 * worker.HeartbeatInterval)
}

func (r *Recorder) Worker() *worker.Worker { return r.w }

// Recording reports whether a clip is open, and its filename.
func (r *Recorder) Recording() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return false, ""
	}
	return true, r.cur.Filename
}

// worker.Stage hooks.
func (r *Recorder) Name() string   { return "recorder" }
func (r *Recorder) BeforeCleanUp() {}
func (r *Recorder) InitWork() error {
	return nil
}

// DoneCleanUp closes an open clip so a kill or restart never leaves a
// truncated mp4 behind.
func (r *Recorder) DoneCleanUp() {
	r.mu.Lock()
	open := r.cur != nil
	r.mu.Unlock()
	if open {
		r.finish("cleanup")
	}
}

func (r *Recorder) HandleWork(req *worker.Request) error {
	r.mu.Lock()
	recording := r.cur != nil
	r.mu.Unlock()

	if !recording {
		return r.awaitRequest()
	}
	if done := r.serveRequests(); done {
		return nil
	}
	return r.writeOne()
}

// awaitRequest blocks on the request queue while idle. Frames keep
// accumulating in the bounded record queue meanwhile, so a fresh clip
// starts with the seconds leading up to the trigger.
func (r *Recorder) awaitRequest() error {
	req, err := r.reqQ.Get(queue.DefaultGetTimeout)
	if err != nil {
		return nil
	}
	if req.Stop {
		return nil
	}
	return r.open(req)
}

// serveRequests drains pending requests into the active clip. A real stop
// always wins; at the deadline the clip self-extends only while the scene
// is still active.
func (r *Recorder) serveRequests() (done bool) {
	r.mu.Lock()
	cur, written := r.cur, r.written
	r.mu.Unlock()

	for {
		req, ok := r.reqQ.TryGet()
		if !ok {
			break
		}
		if req.Stop {
			r.finish(req.Tag)
			return true
		}
		cur.Extend(req, written, r.activeFPS)
	}

	if cur.Deadline(written, r.activeFPS) {
		if r.scene != nil && r.scene.Active() {
			cur.Extend(NewRequest(cur.Tag, r.recSecs), written, r.activeFPS)
			return false
		}
		r.finish("deadline")
		return true
	}
	return false
}

func (r *Recorder) writeOne() error {
	f, err := r.in.Get(queue.DefaultGetTimeout)
	if err != nil {
		return nil
	}
	f.Stamp("record")
	if err := r.enc.Write(f.JPEG); err != nil {
		return fmt.Errorf("encoding frame %d: %w", f.ID, err)
	}
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
	return nil
}

func (r *Recorder) open(req *Request) error {
	path := filepath.Join(r.cachePath, req.Filename)
	if err := r.enc.Open(path, r.activeFPS); err != nil {
		return fmt.Errorf("opening clip %s: %w", req.Filename, err)
	}
	r.mu.Lock()
	r.cur = req
	r.written = 0
	r.mu.Unlock()

	if r.rate != nil {
		r.rate.EnterActive("recorder")
	}
	r.log.Info("recording started",
		zap.String("clip", req.Filename),
		zap.Float64("secs", req.RecSecs))
	r.publish(events.TypeRecordStarted, req)
	return nil
}

func (r *Recorder) finish(reason string) {
	r.mu.Lock()
	cur := r.cur
	written := r.written
	r.cur = nil
	r.written = 0
	r.mu.Unlock()
	if cur == nil {
		return
	}

	if err := r.enc.Close(); err != nil {
		r.log.Warn("closing clip", zap.String("clip", cur.Filename), zap.Error(err))
	}
	if r.rate != nil {
		r.rate.LeaveActive("recorder")
	}
	r.log.Info("recording finished",
		zap.String("clip", cur.Filename),
		zap.Int("frames", written),
		zap.String("reason", reason))
	r.publish(events.TypeRecordStopped, cur)
}

func (r *Recorder) publish(t events.Type, req *Request) {
	if r.bus == nil {
		return
	}
	e := events.New(t, req.Tag)
	e.Data = map[string]any{"clip": req.Filename}
	r.bus.Publish(e)
}
