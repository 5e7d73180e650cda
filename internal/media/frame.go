// Package media defines the records that travel through the pipeline:
// frame envelopes produced by the camera stage and detection records
// produced by the detector stage.
package media

import (
	"sync"
	"time"
)

// TracePoint is one sample of the delay-trace ribbon stamped onto a frame
// at stage boundaries.
type TracePoint struct {
	Tag     string
	Elapsed time.Duration
}

// Frame is the envelope carrying one captured frame through the pipeline.
// Ownership is single-writer per stage: once a stage publishes the frame to
// the next channel it treats the envelope as immutable. The next/nextCome
// pair is used only by the in-process live-frame fan-out; everything else
// must leave it alone.
type Frame struct {
	ID        uint64
	CreatedAt time.Time
	FPS       int
	Width     int
	Height    int
	JPEG      []byte
	IsMarked  bool
	Trace     []TracePoint

	mu       sync.Mutex
	next     *Frame
	nextCome chan struct{}
}

func NewFrame(id uint64, fps, width, height int, jpeg []byte) *Frame {
	return &Frame{
		ID:        id,
		CreatedAt: time.Now(),
		FPS:       fps,
		Width:     width,
		Height:    height,
		JPEG:      jpeg,
		nextCome:  make(chan struct{}),
	}
}

// Stamp appends a delay-trace sample measured from the frame's creation.
func (f *Frame) Stamp(tag string) {
	f.Trace = append(f.Trace, TracePoint{Tag: tag, Elapsed: time.Since(f.CreatedAt)})
}

// SetNext links the successor frame and fires the next-come signal. Called
// exactly once per frame, by the live-frame fan-out goroutine.
func (f *Frame) SetNext(next *Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next != nil {
		return
	}
	f.next = next
	close(f.nextCome)
}

// Next blocks until the successor frame is published or the timeout
// elapses. Stream clients hold their own frame handle and walk the chain
// with Next; a nil result means no fresh frame arrived in time.
func (f *Frame) Next(timeout time.Duration) *Frame {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.nextCome:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.next
	case <-timer.C:
		return nil
	}
}
