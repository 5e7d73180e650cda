// Package audio drives the speaker. The driver may be absent, in which
// case every operation is a no-op and the rest of the system behaves
// identically.
package audio

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/queue"
)

// PlayMode tells the speaker when to play a clip relative to the queue.
type PlayMode int

const (
	// ModeQueue appends the clip and plays it in turn.
	ModeQueue PlayMode = iota
	// ModeForce plays the clip at once, then resumes the queue.
	ModeForce
	// ModeClearQueueForce discards the queue and plays the clip.
	ModeClearQueueForce
)

// Well-known clip names resolved by the driver.
const (
	ClipCarWarning    = "car_warning"
	ClipPersonWelcome = "person_welcome"
)

// Driver is the speaker interface used by the monitor.
type Driver interface {
	Play(clip string, mode PlayMode) error
	Stop() error
}

// Nop is the absent-speaker driver.
type Nop struct{}

func (Nop) Play(string, PlayMode) error { return nil }
func (Nop) Stop() error                 { return nil }

type playReq struct {
	clip string
}

// Player plays clips through an external command (ffplay) from a bounded
// queue drained by a single speaker goroutine.
type Player struct {
	log   *zap.Logger
	clips map[string]string // clip name -> file path

	q    *queue.Queue[playReq]
	stop chan struct{}
	once sync.Once

	mu      sync.Mutex
	current *exec.Cmd
}

func NewPlayer(clips map[string]string, log *zap.Logger) *Player {
	p := &Player{
		log:   log.Named("audio"),
		clips: clips,
		q:     queue.New[playReq]("audio", config.AudioQueueSize),
		stop:  make(chan struct{}),
	}
	go p.speakerLoop()
	return p
}

func (p *Player) Play(clip string, mode PlayMode) error {
	path, ok := p.clips[clip]
	if !ok {
		return fmt.Errorf("unknown clip %q", clip)
	}
	switch mode {
	case ModeQueue:
		p.q.ForcePut(playReq{clip: path})
	case ModeForce:
		p.interrupt()
		p.q.ForcePut(playReq{clip: path})
	case ModeClearQueueForce:
		p.q.Clear()
		p.interrupt()
		p.q.ForcePut(playReq{clip: path})
	}
	return nil
}

// Stop clears the queue and interrupts whatever is playing.
func (p *Player) Stop() error {
	p.q.Clear()
	p.interrupt()
	return nil
}

// Close shuts the speaker goroutine down.
func (p *Player) Close() {
	p.once.Do(func() { close(p.stop) })
	p.Stop()
}

func (p *Player) interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Process != nil {
		p.current.Process.Kill()
	}
}

func (p *Player) speakerLoop() {
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		req, err := p.q.Get(500 * time.Millisecond)
		if err != nil {
			continue
		}
		p.play(req.clip)
	}
}

func (p *Player) play(path string) {
	cmd := exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path)
	p.mu.Lock()
	p.current = cmd
	p.mu.Unlock()
	if err := cmd.Run(); err != nil {
		p.log.Debug("clip playback ended", zap.String("clip", path), zap.Error(err))
	}
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
}

// QueueLen reports pending clips, used by tests and debug stats.
func (p *Player) QueueLen() int { return p.q.Len() }
