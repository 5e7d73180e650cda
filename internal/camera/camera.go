// Package camera implements the frame-producing stage: it owns the
// capture subprocess, coerces the frame rate by deterministic dropping,
// and publishes frame envelopes to the store queue consumed by the
// distributor.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

var ErrNotConnected = errors.New("camera not connected")

// Params reports the camera's current effective parameters.
type Params struct {
	FPS       int
	StreamFPS int
	Width     int
	Height    int
}

type adjustReq struct {
	width  int
	height int
	rsp    chan error
}

type switchReq struct {
	address string
	rsp     chan error
}

// Camera is the C1 stage. The frame id counter lives here rather than in
// the worker so ids stay strictly increasing across restarts.
type Camera struct {
	cfg     config.CameraConfig
	log     *zap.Logger
	capture *Capture
	kind    SourceKind

	out     *queue.Queue[*media.Frame]
	adjQ    *queue.Queue[*adjustReq]
	switchQ *queue.Queue[*switchReq]

	frameID   atomic.Uint64
	targetFPS atomic.Int32
	streamFPS atomic.Int32
	connected atomic.Bool
	failCount int

	dropMu sync.Mutex
	drop   *DropSchedule

	paramsMu sync.RWMutex
	width    int
	height   int

	w *worker.Worker
}

func New(cfg config.CameraConfig, log *zap.Logger) *Camera {
	kind := Classify(cfg.Address)
	c := &Camera{
		cfg:     cfg,
		log:     log.Named("camera"),
		kind:    kind,
		out:     queue.New[*media.Frame]("cam_store", config.CamStoreQueueSize),
		adjQ:    queue.New[*adjustReq]("cam_adjust", 4),
		switchQ: queue.New[*switchReq]("cam_switch", 2),
		capture: NewCapture(cfg.Address, kind, cfg.Width, cfg.Height, cfg.StreamFPS, log.Named("capture")),
		drop:    NewDropSchedule(cfg.StreamFPS, cfg.RestFPS),
		width:   cfg.Width,
		height:  cfg.Height,
	}
	c.targetFPS.Store(int32(cfg.RestFPS))
	c.streamFPS.Store(int32(cfg.StreamFPS))
	c.w = worker.New(c, log)
	return c
}

func (c *Camera) Worker() *worker.Worker          { return c.w }
func (c *Camera) Out() *queue.Queue[*media.Frame] { return c.out }
func (c *Camera) Connected() bool                 { return c.connected.Load() }
func (c *Camera) LastFrameID() uint64             { return c.frameID.Load() }

// Start launches the stage and posts the long-lived capture request.
func (c *Camera) Start() error {
	c.w.Start()
	return c.w.StartWork("capture")
}

func (c *Camera) Stop() {
	c.w.EndWork()
	c.w.Kill(5 * time.Second)
}

// Restart drains the store queue under the knife, relaunches the reader
// and waits for the first freshly produced frame.
func (c *Camera) Restart(timeout time.Duration) error {
	before := c.frameID.Load()
	if err := c.w.Restart(timeout); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.frameID.Load() > before {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("camera restart: %w", ErrNotConnected)
}

// AdjustFPS retargets the effective rate. Takes effect on the next frame;
// the drop schedule is rebuilt in place.
func (c *Camera) AdjustFPS(target int) {
	stream := c.StreamFPS()
	if target > stream {
		target = stream
	}
	if target < 1 {
		target = 1
	}
	if int(c.targetFPS.Swap(int32(target))) == target {
		return
	}
	c.dropMu.Lock()
	c.drop = NewDropSchedule(stream, target)
	c.dropMu.Unlock()
	c.log.Info("fps adjusted", zap.Int("target", target))
}

func (c *Camera) EffectiveFPS() int { return int(c.targetFPS.Load()) }

// StreamFPS is the source's rate as currently known: the probed native
// rate once a stream is open, the configured rate until then.
func (c *Camera) StreamFPS() int { return int(c.streamFPS.Load()) }

func (c *Camera) CurrentParams() Params {
	c.paramsMu.RLock()
	defer c.paramsMu.RUnlock()
	return Params{
		FPS:       c.EffectiveFPS(),
		StreamFPS: c.StreamFPS(),
		Width:     c.width,
		Height:    c.height,
	}
}

// AdjustParams requests a new capture size and blocks on the paired
// response. Success means a reader producing frames at the new size.
func (c *Camera) AdjustParams(width, height int, timeout time.Duration) error {
	req := &adjustReq{width: width, height: height, rsp: make(chan error, 1)}
	if err := c.adjQ.Put(req, queue.DefaultPutTimeout); err != nil {
		return fmt.Errorf("posting adjust request: %w", err)
	}
	select {
	case err := <-req.rsp:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("adjust params timed out after %s", timeout)
	}
}

// SwitchSource points the stage at a new address.
func (c *Camera) SwitchSource(address string, timeout time.Duration) error {
	req := &switchReq{address: address, rsp: make(chan error, 1)}
	if err := c.switchQ.Put(req, queue.DefaultPutTimeout); err != nil {
		return fmt.Errorf("posting switch request: %w", err)
	}
	select {
	case err := <-req.rsp:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("switch source timed out after %s", timeout)
	}
}

func (c *Camera) Health(timeout time.Duration) (worker.HealthResponse, error) {
	return c.w.Health(timeout)
}

// ReadLatest dequeues the freshest stored frame without blocking.
func (c *Camera) ReadLatest() (*media.Frame, bool) {
	return c.out.TryGet()
}

// --- worker.Stage ---

func (c *Camera) Name() string { return "camera" }

func (c *Camera) BeforeCleanUp() {
	c.capture.Close()
	c.connected.Store(false)
}

func (c *Camera) InitWork() error {
	c.failCount = 0
	c.connected.Store(false)
	if err := c.capture.OpenWithRetry(config.OpenRetryTimes, config.OpenRetryInterval); err != nil {
		return err
	}
	c.adoptNativeRate()
	return nil
}

// adoptNativeRate replaces the configured stream rate with the measured
// one when ffprobe can report it. Devices already held open by the
// reader often refuse a second open; the configured rate then stands.
func (c *Camera) adoptNativeRate() {
	rate, err := ProbeRate(c.capture.address, c.capture.kind, 2*time.Second)
	if err != nil {
		c.log.Debug("native rate unavailable, keeping configured",
			zap.Int("stream_fps", c.StreamFPS()), zap.Error(err))
		return
	}
	c.applyNativeRate(rate)
}

// applyNativeRate rebuilds the drop schedule against the source's real
// rate and re-clamps the effective target to it.
func (c *Camera) applyNativeRate(rate int) {
	if rate < 1 || rate == c.StreamFPS() {
		return
	}
	c.streamFPS.Store(int32(rate))
	target := c.EffectiveFPS()
	if target > rate {
		target = rate
		c.targetFPS.Store(int32(target))
	}
	c.dropMu.Lock()
	c.drop = NewDropSchedule(rate, target)
	c.dropMu.Unlock()
	c.log.Info("native rate adopted",
		zap.Int("stream_fps", rate), zap.Int("effective_fps", target))
}

func (c *Camera) HandleWork(_ *worker.Request) error {
	knife := c.w.Knife()
	knife.Lock()
	data, err := c.capture.ReadFrame()
	knife.Unlock()
	if err != nil {
		c.failCount++
		if c.failCount >= config.ReadFrameFailedTolerate {
			c.log.Warn("read failures beyond tolerance, reopening",
				zap.Int("failures", c.failCount), zap.Error(err))
			c.capture.Close()
			c.failCount = 0
			if oerr := c.capture.OpenWithRetry(config.OpenRetryTimes, config.OpenRetryInterval); oerr != nil {
				return fmt.Errorf("reopen after read failures: %w", oerr)
			}
			return nil
		}
		return fmt.Errorf("reading frame: %w", err)
	}
	c.failCount = 0
	if !c.connected.Load() {
		c.connected.Store(true)
		c.log.Info("stream connected", zap.String("source", c.kind.String()))
	}

	c.dropMu.Lock()
	keep := c.drop.Keep()
	c.dropMu.Unlock()
	if !keep {
		return nil
	}

	params := c.CurrentParams()
	f := media.NewFrame(c.frameID.Add(1), params.FPS, params.Width, params.Height, data)
	f.Stamp("cam")
	c.out.ForcePut(f)
	return nil
}

// SideWork answers adjust and switch requests between read units.
func (c *Camera) SideWork() {
	if req, ok := c.adjQ.TryGet(); ok {
		req.rsp <- c.applyParams(req.width, req.height)
	}
	if req, ok := c.switchQ.TryGet(); ok {
		req.rsp <- c.applySwitch(req.address)
	}
}

func (c *Camera) applyParams(width, height int) error {
	knife := c.w.Knife()
	knife.Lock()
	defer knife.Unlock()

	c.capture.Close()
	c.capture.SetSize(width, height)
	c.connected.Store(false)
	if err := c.capture.OpenWithRetry(config.OpenRetryTimes, config.OpenRetryInterval); err != nil {
		return fmt.Errorf("reopening at %dx%d: %w", width, height, err)
	}
	c.paramsMu.Lock()
	c.width, c.height = width, height
	c.paramsMu.Unlock()
	c.log.Info("capture size adjusted", zap.Int("width", width), zap.Int("height", height))
	return nil
}

func (c *Camera) applySwitch(address string) error {
	kind := Classify(address)
	if kind == SourceUnknown {
		return fmt.Errorf("unknown source address %q", address)
	}
	knife := c.w.Knife()
	knife.Lock()
	defer knife.Unlock()

	c.capture.Close()
	c.capture.SetAddress(address, kind)
	c.kind = kind
	c.connected.Store(false)
	if err := c.capture.OpenWithRetry(config.OpenRetryTimes, config.OpenRetryInterval); err != nil {
		return fmt.Errorf("switching to %s: %w", address, err)
	}
	c.log.Info("source switched", zap.String("address", address), zap.String("kind", kind.String()))
	return nil
}

func (c *Camera) DoneCleanUp() {
	c.capture.Close()
	c.connected.Store(false)
}

// ForceStop unblocks a reader wedged inside ReadFrame by killing the
// capture subprocess out from under it. The restart path calls this when
// the knife cannot be acquired in time; the next cycle reopens.
func (c *Camera) ForceStop() {
	c.log.Warn("force-stopping capture reader")
	c.capture.Interrupt()
}

// Outputs lets restart drain the store queue before the kill.
func (c *Camera) Outputs() []queue.Drainer {
	return []queue.Drainer{c.out}
}
