package marker

import (
	"bytes"
	"image/jpeg"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

// Marker is the C4 stage: join each frame with its detections, draw the
// overlays, re-encode once and publish to the render and record queues.
type Marker struct {
	log    *zap.Logger
	joiner *Joiner

	in     *queue.Queue[*media.Frame]
	labels *queue.Queue[[]media.Detection]
	render *queue.Queue[*media.Frame]
	record *queue.Queue[*media.Frame]

	w *worker.Worker
}

func New(in *queue.Queue[*media.Frame], labels *queue.Queue[[]media.Detection], workerNum int, log *zap.Logger) *Marker {
	m := &Marker{
		log:    log.Named("marker"),
		joiner: NewJoiner(workerNum),
		in:     in,
		labels: labels,
		render: queue.New[*media.Frame]("render", config.RenderQueueSize),
		record: queue.New[*media.Frame]("record", config.RecordQueueSize),
	}
	m.w = worker.New(m, log)
	return m
}

func (m *Marker) Worker() *worker.Worker             { return m.w }
func (m *Marker) Render() *queue.Queue[*media.Frame] { return m.render }
func (m *Marker) Record() *queue.Queue[*media.Frame] { return m.record }

func (m *Marker) Start() error {
	m.w.Start()
	return m.w.StartWork("mark")
}

func (m *Marker) Stop() {
	m.w.EndWork()
	m.w.Kill(5 * worker.HeartbeatInterval)
}

// --- worker.Stage ---

func (m *Marker) Name() string    { return "marker" }
func (m *Marker) BeforeCleanUp()  {}
func (m *Marker) InitWork() error { return nil }
func (m *Marker) DoneCleanUp()    {}

func (m *Marker) HandleWork(_ *worker.Request) error {
	f, err := m.in.Get(queue.DefaultGetTimeout)
	if err != nil {
		return nil
	}
	f.Stamp("markB")

	dets := m.joiner.Collect(f.ID, m.labels)
	m.mark(f, dets)
	f.Stamp("markA")

	m.render.ForcePut(f)
	m.record.ForcePut(f)
	return nil
}

// mark decodes, draws and re-encodes the frame in place. On decode
// failure the frame passes through unmarked; a stalled stream is worse
// than a plain one.
func (m *Marker) mark(f *media.Frame, dets []media.Detection) {
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		m.log.Warn("frame decode failed", zap.Uint64("frame", f.ID), zap.Error(err))
		return
	}
	rgba := ToRGBA(img)

	DrawCenterBox(rgba)
	DrawDetections(rgba, dets)
	DrawTrace(rgba, f)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: config.StreamJPEGQual}); err != nil {
		m.log.Warn("frame encode failed", zap.Uint64("frame", f.ID), zap.Error(err))
		return
	}
	f.JPEG = buf.Bytes()
	f.IsMarked = true
}

// Outputs lets restart drain the render and record queues before the kill.
func (m *Marker) Outputs() []queue.Drainer {
	return []queue.Drainer{m.render, m.record}
}
