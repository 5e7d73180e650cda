package worker

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"time"
)

// goid returns the current goroutine's id, parsed from the stack header.
// Used only for reentrancy bookkeeping in Knife, never for scheduling.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 123 [...":
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, _ := strconv.ParseUint(string(fields[1]), 10, 64)
	return id
}

// Knife is the reentrant mutex a stage holds while touching an external
// resource (camera handle, encoder, audio device). The holder may
// re-acquire; other goroutines block. Restart/kill paths acquire it before
// terminating the stage, so a reader is never killed mid-read. ForceRelease
// gives forced-kill paths a deterministic way out when the holder is gone.
type Knife struct {
	name  string
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint64
	depth int
}

func NewKnife(name string) *Knife {
	k := &Knife{name: name}
	k.cond = sync.NewCond(&k.mu)
	return k
}

func (k *Knife) Lock() {
	id := goid()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.owner == id {
		k.depth++
		return
	}
	for k.depth > 0 {
		k.cond.Wait()
	}
	k.owner = id
	k.depth = 1
}

// TryLock attempts to acquire within timeout. Reentrant acquisition always
// succeeds immediately.
func (k *Knife) TryLock(timeout time.Duration) bool {
	id := goid()
	deadline := time.Now().Add(timeout)

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.owner == id {
		k.depth++
		return true
	}
	for k.depth > 0 {
		if time.Now().After(deadline) {
			return false
		}
		k.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		k.mu.Lock()
		if k.owner == id {
			k.depth++
			return true
		}
	}
	k.owner = id
	k.depth = 1
	return true
}

func (k *Knife) Unlock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.depth == 0 || k.owner != goid() {
		return
	}
	k.depth--
	if k.depth == 0 {
		k.owner = 0
		k.cond.Broadcast()
	}
}

// ForceRelease drops the lock regardless of owner. Only forced-kill paths
// may call this, after the holder goroutine is known to be gone.
func (k *Knife) ForceRelease() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.owner = 0
	k.depth = 0
	k.cond.Broadcast()
}

// Held reports whether any goroutine currently holds the knife.
func (k *Knife) Held() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.depth > 0
}
