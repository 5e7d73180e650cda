package workshop

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/camera"
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/detect"
	"github.com/yujun2647/watchdog/internal/events"
	"github.com/yujun2647/watchdog/internal/marker"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/monitor"
	"github.com/yujun2647/watchdog/internal/pipeline"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/recorder"
	"github.com/yujun2647/watchdog/internal/server"
	"github.com/yujun2647/watchdog/internal/worker"
)

const superviseInterval = 5 * time.Second

// Workshop owns every stage of the pipeline and the supervision loops
// that restart stalled workers.
type Workshop struct {
	cfg *config.Config
	log *zap.Logger

	bus     *events.Bus
	speaker audio.Driver
	states  *monitor.SceneStates
	console *Console

	cam       *camera.Camera
	dist      *pipeline.Distributor
	det       *detect.Stage
	mark      *marker.Marker
	mon       *monitor.Monitor
	rec       *recorder.Recorder
	retention *recorder.Retention
	feed      *server.LiveFeed
	hub       *server.Hub
	srv       *server.Server

	stop chan struct{}
	once sync.Once
}

func New(cfg *config.Config, version string, log *zap.Logger) *Workshop {
	w := &Workshop{
		cfg:    cfg,
		log:    log.Named("workshop"),
		bus:    events.NewBus(),
		states: monitor.NewSceneStates(),
		stop:   make(chan struct{}),
	}
	w.speaker = loadSpeaker(log)

	w.cam = camera.New(cfg.Camera, log)
	w.console = NewConsole(w.cam, cfg.Camera.ActiveFPS, cfg.Camera.RestFPS, log)
	w.dist = pipeline.NewDistributor(w.cam.Out(), log, w.console.SignalRestart)

	var detector detect.Detector
	if cfg.Detect.URL != "" {
		detector = detect.NewHTTPDetector(cfg.Detect.URL, 0)
	} else {
		// No detector configured: every frame yields a sentinel bundle and
		// the scene machines simply never trigger.
		detector = detect.Func(func(ctx context.Context, f *media.Frame) ([]media.Detection, error) {
			return nil, nil
		})
	}
	w.det = detect.NewStage(detector, w.dist.Frame4Detect(), cfg.Detect.Workers, log)
	w.mark = marker.New(w.dist.Frame4Mark(), w.det.Labels(), w.det.WorkerNum(), log)
	w.feed = server.NewLiveFeed(w.mark.Render(), log)

	recordReqs := queue.New[*recorder.Request]("record_req", config.RecordQueueSize)
	w.rec = recorder.New(recorder.Options{
		In:        w.mark.Record(),
		Requests:  recordReqs,
		Scene:     w.states,
		Rate:      w.console,
		Bus:       w.bus,
		CachePath: cfg.Recorder.CachePath,
		ActiveFPS: cfg.Camera.ActiveFPS,
		RecSecs:   cfg.Recorder.RecSecs,
	}, log)
	w.retention = recorder.NewRetention(cfg.Recorder.CachePath, cfg.Recorder.CacheDays, log)

	w.mon = monitor.New(monitor.Options{
		Sense:        w.det.Sense(),
		RecordQ:      recordReqs,
		Speaker:      w.speaker,
		FPS:          w.console,
		Bus:          w.bus,
		States:       w.states,
		CarAlertSecs: cfg.Monitor.CarAlertSecs,
		RecSecs:      cfg.Recorder.RecSecs,
	}, log)

	w.hub = server.NewHub(w.bus, log)
	w.srv = server.New(cfg.Server.Port, server.Deps{
		Feed:      w.feed,
		Hub:       w.hub,
		Speaker:   w.speaker,
		CachePath: cfg.Recorder.CachePath,
		Version:   version,
		RestartCamera: func() error {
			w.console.SignalRestart()
			return nil
		},
		Recording: w.rec.Recording,
		Workers:   w.Workers,
	}, log)
	return w
}

// Server exposes the HTTP front for the command to run.
func (w *Workshop) Server() *server.Server { return w.srv }

// Workers lists every pipeline worker, camera first.
func (w *Workshop) Workers() []*worker.Worker {
	out := []*worker.Worker{w.cam.Worker(), w.dist.Worker()}
	out = append(out, w.det.Workers()...)
	out = append(out, w.mark.Worker(), w.mon.Worker(), w.rec.Worker())
	return out
}

// Start launches every stage sink-first, so nothing produces into a
// consumer that is not yet draining, then the supervision loops. An
// unreachable camera is not fatal: the stage keeps retrying and the rest
// of the daemon serves what it has.
func (w *Workshop) Start() error {
	w.feed.Start()
	if err := w.retention.Start(); err != nil {
		return err
	}
	if err := w.rec.Start(); err != nil {
		return err
	}
	if err := w.mon.Start(); err != nil {
		return err
	}
	if err := w.mark.Start(); err != nil {
		return err
	}
	if err := w.det.Start(); err != nil {
		return err
	}
	if err := w.dist.Start(); err != nil {
		return err
	}
	if err := w.cam.Start(); err != nil {
		return err
	}

	go w.restartLoop()
	go w.staleLoop()
	go w.viewerLoop()
	w.log.Info("pipeline running",
		zap.Int("active_fps", w.cfg.Camera.ActiveFPS),
		zap.Int("rest_fps", w.cfg.Camera.RestFPS))
	return nil
}

// Stop tears the pipeline down source-first.
func (w *Workshop) Stop() {
	w.once.Do(func() { close(w.stop) })
	w.cam.Stop()
	w.dist.Stop()
	w.det.Stop()
	w.mark.Stop()
	w.mon.Stop()
	w.rec.Stop()
	w.retention.Stop()
	w.feed.Stop()
	w.hub.Close()
	if p, ok := w.speaker.(*audio.Player); ok {
		p.Close()
	}
	w.log.Info("pipeline stopped")
}

// restartLoop serves coalesced camera restart requests from the
// distributor's starvation signal and the debug endpoint.
func (w *Workshop) restartLoop() {
	for {
		select {
		case <-w.stop:
			return
		case <-w.console.RestartSignals():
		}
		w.log.Warn("restarting camera")
		w.bus.Publish(events.New(events.TypeCameraRestart, "camera restarting"))
		if err := w.cam.Restart(worker.DefaultRestartTimeout); err != nil {
			w.log.Error("camera restart failed", zap.Error(err))
			continue
		}
		w.log.Info("camera restarted")
	}
}

// staleLoop restarts any worker whose heartbeat went stale, which catches
// loops wedged outside the knife protocol.
func (w *Workshop) staleLoop() {
	ticker := time.NewTicker(superviseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
		for _, wk := range w.Workers() {
			if !wk.HeartbeatStale(worker.HeartbeatStaleFactor) {
				continue
			}
			w.log.Warn("worker heartbeat stale, restarting",
				zap.String("worker", wk.Name()),
				zap.Time("heartbeat", wk.HeartbeatAt()))
			if wk == w.cam.Worker() {
				w.console.SignalRestart()
				continue
			}
			if err := wk.Restart(worker.DefaultRestartTimeout); err != nil {
				w.log.Error("worker restart failed",
					zap.String("worker", wk.Name()), zap.Error(err))
			}
		}
	}
}

// viewerLoop holds an active-rate claim while someone watches the stream
// and releases it once the view window passes quiet.
func (w *Workshop) viewerLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	held := false
	for {
		select {
		case <-w.stop:
			if held {
				w.console.LeaveActive("viewer")
			}
			return
		case <-ticker.C:
		}
		viewing := w.feed.Viewing()
		switch {
		case viewing && !held:
			w.console.EnterActive("viewer")
			held = true
		case !viewing && held:
			w.console.LeaveActive("viewer")
			held = false
		}
	}
}

// loadSpeaker resolves the audio clips under $HOME/.watchdog/audio. A
// missing clip set degrades to the silent driver.
func loadSpeaker(log *zap.Logger) audio.Driver {
	home, err := os.UserHomeDir()
	if err != nil {
		return audio.Nop{}
	}
	dir := filepath.Join(home, ".watchdog", "audio")
	clips := make(map[string]string, 2)
	for _, name := range []string{audio.ClipCarWarning, audio.ClipPersonWelcome} {
		for _, ext := range []string{".wav", ".mp3"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				clips[name] = path
				break
			}
		}
	}
	if len(clips) == 0 {
		log.Info("no audio clips found, speaker disabled", zap.String("dir", dir))
		return audio.Nop{}
	}
	return audio.NewPlayer(clips, log)
}
