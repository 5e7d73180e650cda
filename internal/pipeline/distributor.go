// Package pipeline holds the frame distributor, the fan-out point
// between the camera store and the marker/detector inputs.
package pipeline

import (
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

// Distributor is the C2 stage: pull from the camera store, stamp the
// import trace, force-push into the marker and detector inputs. After
// DistributorMissTolerate consecutive empty reads it fires the camera
// restart signal.
type Distributor struct {
	log *zap.Logger

	in         *queue.Queue[*media.Frame]
	frame4Mark *queue.Queue[*media.Frame]
	frame4Det  *queue.Queue[*media.Frame]

	signalRestart func()
	misses        int

	w *worker.Worker
}

func NewDistributor(in *queue.Queue[*media.Frame], log *zap.Logger, signalRestart func()) *Distributor {
	d := &Distributor{
		log:           log.Named("distributor"),
		in:            in,
		frame4Mark:    queue.New[*media.Frame]("frame4mark", config.Frame4MarkQueueSize),
		frame4Det:     queue.New[*media.Frame]("frame4detect", config.Frame4DetectQueueSize),
		signalRestart: signalRestart,
	}
	d.w = worker.New(d, log)
	return d
}

func (d *Distributor) Worker() *worker.Worker                   { return d.w }
func (d *Distributor) Frame4Mark() *queue.Queue[*media.Frame]   { return d.frame4Mark }
func (d *Distributor) Frame4Detect() *queue.Queue[*media.Frame] { return d.frame4Det }

func (d *Distributor) Start() error {
	d.w.Start()
	return d.w.StartWork("distribute")
}

func (d *Distributor) Stop() {
	d.w.EndWork()
	d.w.Kill(5 * worker.HeartbeatInterval)
}

// --- worker.Stage ---

func (d *Distributor) Name() string    { return "distributor" }
func (d *Distributor) BeforeCleanUp()  {}
func (d *Distributor) InitWork() error { d.misses = 0; return nil }
func (d *Distributor) DoneCleanUp()    {}

func (d *Distributor) HandleWork(_ *worker.Request) error {
	f, err := d.in.Get(queue.DefaultGetTimeout)
	if err != nil {
		// An empty store is routine while the camera idles; only the
		// pile-up of misses means the source went away.
		d.misses++
		if d.misses >= config.DistributorMissTolerate {
			d.misses = 0
			d.log.Warn("camera store starved, signaling restart")
			if d.signalRestart != nil {
				d.signalRestart()
			}
		}
		return nil
	}
	d.misses = 0
	f.Stamp("import")
	d.frame4Mark.ForcePut(f)
	d.frame4Det.ForcePut(f)
	return nil
}

// Outputs lets restart drain the fan-out queues before the kill.
func (d *Distributor) Outputs() []queue.Drainer {
	return []queue.Drainer{d.frame4Mark, d.frame4Det}
}
