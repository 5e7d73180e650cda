package workshop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeRate struct {
	targets []int
}

func (f *fakeRate) AdjustFPS(target int) { f.targets = append(f.targets, target) }

func TestConsoleRaisesOnFirstClaimOnly(t *testing.T) {
	rate := &fakeRate{}
	c := NewConsole(rate, 8, 1, zap.NewNop())

	c.EnterActive("monitor")
	c.EnterActive("viewer")
	c.EnterActive("recorder")

	assert.Equal(t, []int{8}, rate.targets)
	assert.Equal(t, 3, c.Holders())
}

func TestConsoleLowersOnLastRelease(t *testing.T) {
	rate := &fakeRate{}
	c := NewConsole(rate, 8, 1, zap.NewNop())

	c.EnterActive("monitor")
	c.EnterActive("viewer")
	c.LeaveActive("monitor")
	assert.Equal(t, []int{8}, rate.targets, "one holder left, rate stays high")

	c.LeaveActive("viewer")
	assert.Equal(t, []int{8, 1}, rate.targets)
	assert.Zero(t, c.Holders())
}

func TestConsoleIgnoresUnbalancedRelease(t *testing.T) {
	rate := &fakeRate{}
	c := NewConsole(rate, 8, 1, zap.NewNop())

	c.LeaveActive("nobody")
	assert.Equal(t, []int{1}, rate.targets, "a stray release still settles at rest")
	assert.Zero(t, c.Holders())
}

func TestConsoleStackedClaimsFromOneHolder(t *testing.T) {
	rate := &fakeRate{}
	c := NewConsole(rate, 8, 1, zap.NewNop())

	c.EnterActive("monitor")
	c.EnterActive("monitor")
	c.LeaveActive("monitor")
	assert.Equal(t, 1, c.Holders())
	c.LeaveActive("monitor")
	assert.Equal(t, []int{8, 1}, rate.targets)
}

func TestRestartSignalCoalesces(t *testing.T) {
	c := NewConsole(&fakeRate{}, 8, 1, zap.NewNop())

	for i := 0; i < 10; i++ {
		c.SignalRestart()
	}
	<-c.RestartSignals()
	select {
	case <-c.RestartSignals():
		t.Fatal("signals should coalesce into one")
	default:
	}
}
