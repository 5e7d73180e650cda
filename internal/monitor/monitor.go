package monitor

import (
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/events"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/recorder"
	"github.com/yujun2647/watchdog/internal/worker"
)

// FPSController raises and lowers the camera rate when the scene becomes
// active or clears. Calls are reference-counted by the implementation so
// overlapping car and person activity keep the high rate.
type FPSController interface {
	EnterActive(who string)
	LeaveActive(who string)
}

// Monitor is the surveillance stage: it consumes detection bundles,
// debounces them through the person and car sensors, advances the scene
// machines and dispatches the merged operation instructions.
type Monitor struct {
	log *zap.Logger

	sense   *queue.Queue[[]media.Detection]
	recordQ *queue.Queue[*recorder.Request]
	speaker audio.Driver
	fps     FPSController
	bus     *events.Bus

	states  *SceneStates
	machine *Machine
	person  *Sensor
	car     *Sensor
	recSecs int

	w *worker.Worker
}

type Options struct {
	Sense        *queue.Queue[[]media.Detection]
	RecordQ      *queue.Queue[*recorder.Request]
	Speaker      audio.Driver
	FPS          FPSController
	Bus          *events.Bus
	States       *SceneStates
	CarAlertSecs int
	RecSecs      int
}

func New(opts Options, log *zap.Logger) *Monitor {
	if opts.Speaker == nil {
		opts.Speaker = audio.Nop{}
	}
	if opts.States == nil {
		opts.States = NewSceneStates()
	}
	if opts.RecSecs <= 0 {
		opts.RecSecs = config.DefaultRecSecs
	}
	m := &Monitor{
		log:     log.Named("monitor"),
		sense:   opts.Sense,
		recordQ: opts.RecordQ,
		speaker: opts.Speaker,
		fps:     opts.FPS,
		bus:     opts.Bus,
		states:  opts.States,
		machine: NewMachine(opts.States, opts.CarAlertSecs),
		person:  NewPersonSensor(),
		car:     NewCarSensor(),
		recSecs: opts.RecSecs,
	}
	m.w = worker.New(m, log)
	return m
}

func (m *Monitor) Start() error {
	m.w.Start()
	return m.w.StartWork("monitor")
}

func (m *Monitor) Stop() {
	m.w.EndWork()
	m.w.Kill(5 * worker.HeartbeatInterval)
}

func (m *Monitor) Worker() *worker.Worker { return m.w }
func (m *Monitor) States() *SceneStates   { return m.states }

// worker.Stage hooks. Sensors and scene states live for the stage's whole
// life, not one work cycle: a restart mid-event must not forget a SENSED
// sensor, or the next bundle would read as a departure and stop an
// in-progress recording.
func (m *Monitor) Name() string    { return "monitor" }
func (m *Monitor) BeforeCleanUp()  {}
func (m *Monitor) DoneCleanUp()    {}
func (m *Monitor) InitWork() error { return nil }

func (m *Monitor) HandleWork(req *worker.Request) error {
	bundle, err := m.sense.Get(queue.DefaultGetTimeout)
	if err != nil {
		return nil
	}
	fps := 1
	if len(bundle) > 0 && bundle[0].FPS > 0 {
		fps = bundle[0].FPS
	}
	hasPerson := m.person.Feed(bundle, fps)
	hasCar := m.car.Feed(bundle, fps)
	for _, op := range Merge(m.machine.Tick(hasCar, hasPerson)) {
		m.dispatch(op)
	}
	return nil
}

func (m *Monitor) dispatch(op Op) {
	switch op.Class {
	case OpWarn:
		m.dispatchWarn(op)
	case OpRecord:
		m.dispatchRecord(op)
	case OpAudio:
		if err := m.speaker.Play(audio.ClipPersonWelcome, audio.ModeClearQueueForce); err != nil {
			m.log.Warn("welcome clip failed", zap.Error(err))
		}
	case OpFPS:
		if m.fps == nil {
			return
		}
		if op.Action == ActionPullUp {
			m.fps.EnterActive("monitor")
		} else {
			m.fps.LeaveActive("monitor")
		}
	case OpMessage:
		m.log.Info("scene", zap.String("message", op.Tag),
			zap.String("car", m.states.Car().String()),
			zap.String("person", m.states.Person().String()))
		if m.bus != nil {
			m.bus.Publish(events.New(op.Event, op.Tag))
		}
	}
}

// dispatchWarn queues a burst of warning clips on start so the speaker
// keeps nagging for a while, and silences it on stop.
func (m *Monitor) dispatchWarn(op Op) {
	if op.Action == ActionStart {
		for i := 0; i < config.CarWarnBurst; i++ {
			if err := m.speaker.Play(audio.ClipCarWarning, audio.ModeQueue); err != nil {
				m.log.Warn("warning clip failed", zap.Error(err))
				return
			}
		}
		return
	}
	if err := m.speaker.Stop(); err != nil {
		m.log.Warn("speaker stop failed", zap.Error(err))
	}
}

func (m *Monitor) dispatchRecord(op Op) {
	if m.recordQ == nil {
		return
	}
	var req *recorder.Request
	if op.Action == ActionStart {
		req = recorder.NewRequest(op.Tag, m.recSecs)
	} else {
		req = recorder.NewStopRequest(op.Tag)
	}
	if err := m.recordQ.Put(req, queue.DefaultPutTimeout); err != nil {
		m.log.Warn("record request dropped",
			zap.String("tag", op.Tag), zap.Error(err))
	}
}
