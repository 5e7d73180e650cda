// Package workshop assembles the pipeline: the camera, the distributor,
// the detector pool, the marker, the monitor and the recorder, plus the
// supervision loops that keep them alive.
package workshop

import (
	"sync"

	"go.uber.org/zap"
)

// RateTarget is what the console adjusts; the camera satisfies it.
type RateTarget interface {
	AdjustFPS(target int)
}

// Console reference-counts the independent demands for the active frame
// rate (scene activity, an open recording, a live viewer). The camera runs
// at active fps while anyone holds a claim and drops to rest fps when the
// last claim is released.
type Console struct {
	log  *zap.Logger
	cam  RateTarget
	high int
	low  int

	mu      sync.Mutex
	holders map[string]int

	restartCh chan struct{}
}

func NewConsole(cam RateTarget, activeFPS, restFPS int, log *zap.Logger) *Console {
	return &Console{
		log:       log.Named("console"),
		cam:       cam,
		high:      activeFPS,
		low:       restFPS,
		holders:   make(map[string]int),
		restartCh: make(chan struct{}, 1),
	}
}

func (c *Console) EnterActive(who string) {
	c.mu.Lock()
	total := c.total()
	c.holders[who]++
	c.mu.Unlock()
	if total == 0 {
		c.cam.AdjustFPS(c.high)
		c.log.Info("entering active rate", zap.String("holder", who), zap.Int("fps", c.high))
	}
}

func (c *Console) LeaveActive(who string) {
	c.mu.Lock()
	if c.holders[who] > 0 {
		c.holders[who]--
		if c.holders[who] == 0 {
			delete(c.holders, who)
		}
	}
	total := c.total()
	c.mu.Unlock()
	if total == 0 {
		c.cam.AdjustFPS(c.low)
		c.log.Info("returning to rest rate", zap.String("holder", who), zap.Int("fps", c.low))
	}
}

// Holders reports the current claim count, for the debug surface.
func (c *Console) Holders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total()
}

func (c *Console) total() int {
	n := 0
	for _, v := range c.holders {
		n += v
	}
	return n
}

// SignalRestart requests a camera restart. Coalescing is deliberate: ten
// starvation reports still mean one restart.
func (c *Console) SignalRestart() {
	select {
	case c.restartCh <- struct{}{}:
	default:
	}
}

// RestartSignals is drained by the workshop's supervision loop.
func (c *Console) RestartSignals() <-chan struct{} { return c.restartCh }
