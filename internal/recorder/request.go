// Package recorder persists marked frames into timestamped mp4 clips and
// prunes the cache directory on a retention schedule.
package recorder

import (
	"fmt"
	"time"
)

// Request asks the recorder to start, extend or stop a recording. A start
// request arriving while a recording is in flight extends the active
// clip's deadline instead of opening a second file.
type Request struct {
	Tag        string
	Filename   string
	CreatedAt  time.Time
	ModifiedAt time.Time
	RecSecs    float64
	Stop       bool
}

// NewRequest builds a start/extend request with the timestamped output
// filename: YYYY-MM-DD-HH-MM-SS-mmm-<tag>.mp4.
func NewRequest(tag string, recSecs int) *Request {
	now := time.Now()
	return &Request{
		Tag:        tag,
		Filename:   clipName(now, tag),
		CreatedAt:  now,
		ModifiedAt: now,
		RecSecs:    float64(recSecs),
	}
}

// NewStopRequest asks the recorder to finish the active clip early.
func NewStopRequest(tag string) *Request {
	now := time.Now()
	return &Request{Tag: tag, CreatedAt: now, ModifiedAt: now, Stop: true}
}

func clipName(t time.Time, tag string) string {
	ms := t.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("%s-%03d-%s.mp4", t.Format("2006-01-02-15-04-05"), ms, tag)
}

// Extend merges a later start request into this one. The active clip's
// remaining time is recSecs minus the seconds already written; if the new
// request wants more than that, the deadline moves out by the difference.
// A duplicate (same creation time) is ignored.
func (r *Request) Extend(other *Request, framesWritten int, activeFPS int) {
	if other == nil || other.Stop || other.CreatedAt.Equal(r.CreatedAt) {
		return
	}
	if activeFPS < 1 {
		activeFPS = 1
	}
	left := r.RecSecs - float64(framesWritten)/float64(activeFPS)
	if other.RecSecs > left {
		r.RecSecs += other.RecSecs - left
	}
	r.ModifiedAt = other.CreatedAt
}

// Deadline reports whether the clip has reached its planned length.
func (r *Request) Deadline(framesWritten int, activeFPS int) bool {
	if activeFPS < 1 {
		activeFPS = 1
	}
	return float64(framesWritten)/float64(activeFPS) >= r.RecSecs
}
