package server

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
)

// LiveFeed fans the render queue out to any number of stream clients.
// A single goroutine drains the queue and links each frame to its
// predecessor; clients hold their own frame handle and walk the chain,
// so a slow client skips ahead instead of backpressuring the pipeline.
type LiveFeed struct {
	log *zap.Logger
	in  *queue.Queue[*media.Frame]

	mu  sync.RWMutex
	cur *media.Frame

	lastView atomic.Int64

	stop chan struct{}
	once sync.Once
}

func NewLiveFeed(in *queue.Queue[*media.Frame], log *zap.Logger) *LiveFeed {
	return &LiveFeed{
		log:  log.Named("livefeed"),
		in:   in,
		stop: make(chan struct{}),
	}
}

// Start launches the fan-out goroutine.
func (l *LiveFeed) Start() {
	go l.run()
}

func (l *LiveFeed) Stop() {
	l.once.Do(func() { close(l.stop) })
}

func (l *LiveFeed) run() {
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		f, err := l.in.Get(queue.DefaultGetTimeout)
		if err != nil {
			continue
		}
		l.mu.Lock()
		prev := l.cur
		l.cur = f
		l.mu.Unlock()
		if prev != nil {
			prev.SetNext(f)
		}
	}
}

// Current returns the latest marked frame, nil before the first arrives.
func (l *LiveFeed) Current() *media.Frame {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// MarkViewed records viewer activity; the workshop lowers the capture
// rate once the view window passes with no activity.
func (l *LiveFeed) MarkViewed() {
	l.lastView.Store(time.Now().UnixNano())
}

// Viewing reports whether someone watched the stream within the window.
func (l *LiveFeed) Viewing() bool {
	last := l.lastView.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(0, last)) < config.ViewWindow
}

func (l *LiveFeed) LastViewAt() time.Time {
	last := l.lastView.Load()
	if last == 0 {
		return time.Time{}
	}
	return time.Unix(0, last)
}
