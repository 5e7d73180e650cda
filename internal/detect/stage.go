package detect

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

// Stage is the C3 component: N parallel workers pull frames from the
// detector input, invoke the external detector and emit one bundle per
// consumed frame. An empty result still emits a sentinel bundle so the
// marker never starves (and the monitor sees the absence of detections).
type Stage struct {
	log      *zap.Logger
	detector Detector
	timeout  time.Duration

	in     *queue.Queue[*media.Frame]
	labels *queue.Queue[[]media.Detection]
	sense  *queue.Queue[[]media.Detection]

	workers []*worker.Worker
}

func NewStage(detector Detector, in *queue.Queue[*media.Frame], workerNum int, log *zap.Logger) *Stage {
	s := &Stage{
		log:      log.Named("detect"),
		detector: detector,
		timeout:  10 * time.Second,
		in:       in,
		labels:   queue.New[[]media.Detection]("detect_labels", config.DetectLabelsQueueSize),
		sense:    queue.New[[]media.Detection]("detect_sense", config.SenseQueueSize),
	}
	for i := 0; i < workerNum; i++ {
		hand := &handler{stage: s, id: i}
		s.workers = append(s.workers, worker.New(hand, log))
	}
	return s
}

func (s *Stage) Labels() *queue.Queue[[]media.Detection] { return s.labels }
func (s *Stage) Sense() *queue.Queue[[]media.Detection]  { return s.sense }
func (s *Stage) WorkerNum() int                          { return len(s.workers) }
func (s *Stage) Workers() []*worker.Worker               { return s.workers }

func (s *Stage) Start() error {
	for _, w := range s.workers {
		w.Start()
		if err := w.StartWork("detect"); err != nil {
			return fmt.Errorf("starting detect worker: %w", err)
		}
	}
	return nil
}

func (s *Stage) Stop() {
	for _, w := range s.workers {
		w.EndWork()
	}
	for _, w := range s.workers {
		w.Kill(5 * time.Second)
	}
}

// handler is the per-worker stage implementation; all workers share the
// same queues and detector.
type handler struct {
	stage *Stage
	id    int
}

func (h *handler) Name() string    { return fmt.Sprintf("detect-%d", h.id) }
func (h *handler) BeforeCleanUp()  {}
func (h *handler) InitWork() error { return nil }
func (h *handler) DoneCleanUp()    {}

func (h *handler) HandleWork(_ *worker.Request) error {
	s := h.stage
	f, err := s.in.Get(queue.DefaultGetTimeout)
	if err != nil {
		// Starvation is normal at rest fps; not an error worth logging.
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	detections, err := s.detector.Detect(ctx, f)
	cancel()
	if err != nil {
		s.log.Warn("detector call failed", zap.Uint64("frame", f.ID), zap.Error(err))
		detections = nil
	}
	if len(detections) == 0 {
		detections = []media.Detection{media.Sentinel(f)}
	}

	f.Stamp("detect")
	s.labels.ForcePut(detections)
	s.sense.ForcePut(detections)
	return nil
}

// Outputs lets restart drain the bundle queues before the kill.
func (h *handler) Outputs() []queue.Drainer {
	return []queue.Drainer{h.stage.labels, h.stage.sense}
}
