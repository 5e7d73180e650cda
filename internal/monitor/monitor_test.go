package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/events"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/recorder"
)

type fakeSpeaker struct {
	clips []string
	modes []audio.PlayMode
	stops int
}

func (f *fakeSpeaker) Play(clip string, mode audio.PlayMode) error {
	f.clips = append(f.clips, clip)
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeSpeaker) Stop() error {
	f.stops++
	return nil
}

type fakeFPS struct {
	enters int
	leaves int
}

func (f *fakeFPS) EnterActive(string) { f.enters++ }
func (f *fakeFPS) LeaveActive(string) { f.leaves++ }

func newTestMonitor(t *testing.T) (*Monitor, *fakeSpeaker, *fakeFPS, *queue.Queue[*recorder.Request], *events.Bus) {
	t.Helper()
	speaker := &fakeSpeaker{}
	fps := &fakeFPS{}
	bus := events.NewBus()
	recordQ := queue.New[*recorder.Request]("record", config.RecordQueueSize)
	m := New(Options{
		Sense:        queue.New[[]media.Detection]("sense", config.SenseQueueSize),
		RecordQ:      recordQ,
		Speaker:      speaker,
		FPS:          fps,
		Bus:          bus,
		CarAlertSecs: 300,
	}, zap.NewNop())
	require.NoError(t, m.InitWork())
	return m, speaker, fps, recordQ, bus
}

func feed(t *testing.T, m *Monitor, bundle []media.Detection) {
	t.Helper()
	require.NoError(t, m.sense.Put(bundle, time.Second))
	require.NoError(t, m.HandleWork(nil))
}

func TestCarArrivalDispatchesEverything(t *testing.T) {
	m, speaker, fps, recordQ, bus := newTestMonitor(t)

	var published []events.Event
	bus.Subscribe(func(e events.Event) { published = append(published, e) })

	d := centeredDet("car")
	d.FPS = 2
	feed(t, m, []media.Detection{d})

	require.Equal(t, CarPositive, m.States().Car())

	// Warning burst fills the speaker queue.
	require.Len(t, speaker.clips, config.CarWarnBurst)
	for i, clip := range speaker.clips {
		assert.Equal(t, audio.ClipCarWarning, clip)
		assert.Equal(t, audio.ModeQueue, speaker.modes[i])
	}

	req, err := recordQ.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "car-blocking", req.Tag)
	assert.False(t, req.Stop)

	assert.Equal(t, 1, fps.enters)

	require.Len(t, published, 1)
	assert.Equal(t, events.TypeCarBlocking, published[0].Type)
}

func TestCarDepartureStopsEverything(t *testing.T) {
	m, speaker, fps, recordQ, _ := newTestMonitor(t)

	d := centeredDet("car")
	d.FPS = 2
	feed(t, m, []media.Detection{d})
	_, err := recordQ.Get(time.Second)
	require.NoError(t, err)

	// Six empty bundles (the frame floor) drop the sensor.
	for i := 0; i < 6; i++ {
		feed(t, m, []media.Detection{})
	}
	require.Equal(t, CarNegative, m.States().Car())

	assert.Equal(t, 1, speaker.stops)
	assert.Equal(t, 1, fps.leaves)

	req, err := recordQ.Get(time.Second)
	require.NoError(t, err)
	assert.True(t, req.Stop)
	assert.Equal(t, "car-left", req.Tag)
}

func TestPersonArrivalPlaysWelcomeOverEverything(t *testing.T) {
	m, speaker, _, recordQ, _ := newTestMonitor(t)

	d := centeredDet("person")
	d.FPS = 2
	feed(t, m, []media.Detection{d})

	require.Equal(t, PersonPositive, m.States().Person())
	require.Len(t, speaker.clips, 1)
	assert.Equal(t, audio.ClipPersonWelcome, speaker.clips[0])
	assert.Equal(t, audio.ModeClearQueueForce, speaker.modes[0])

	req, err := recordQ.Get(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "person", req.Tag)
}

func TestEmptySenseQueueIsQuiet(t *testing.T) {
	m, speaker, fps, recordQ, _ := newTestMonitor(t)

	require.NoError(t, m.HandleWork(nil))

	assert.Empty(t, speaker.clips)
	assert.Zero(t, fps.enters)
	assert.Zero(t, recordQ.Len())
}

func TestRestartKeepsSensorAndSceneState(t *testing.T) {
	m, _, _, recordQ, _ := newTestMonitor(t)

	d := centeredDet("car")
	d.FPS = 2
	feed(t, m, []media.Detection{d})
	require.Equal(t, CarPositive, m.States().Car())
	_, err := recordQ.Get(time.Second)
	require.NoError(t, err)

	// A restart re-inits the stage mid-event. The SENSED car must carry
	// over so the next bundle is not misread as a departure.
	require.NoError(t, m.InitWork())
	assert.True(t, m.car.Sensed())
	assert.Equal(t, CarPositive, m.States().Car())

	// One missed detection right after the restart: still positive, no
	// stop request issued.
	feed(t, m, []media.Detection{})
	assert.Equal(t, CarPositive, m.States().Car())
	assert.Zero(t, recordQ.Len())
}
