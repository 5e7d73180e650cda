package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClipNameCarriesTimestampAndTag(t *testing.T) {
	ts := time.Date(2026, 8, 25, 14, 30, 5, 123*int(time.Millisecond), time.Local)
	assert.Equal(t, "2026-08-25-14-30-05-123-car-blocking.mp4", clipName(ts, "car-blocking"))
}

func TestExtendMovesDeadlineOutByTheShortfall(t *testing.T) {
	r := NewRequest("car-blocking", 60)
	later := NewRequest("car-blocking", 60)
	later.CreatedAt = r.CreatedAt.Add(40 * time.Second)

	// 40s written at 1fps leaves 20s; the new request wants 60, so the
	// clip grows by the 40s difference.
	r.Extend(later, 40, 1)
	assert.Equal(t, float64(100), r.RecSecs)
	assert.Equal(t, later.CreatedAt, r.ModifiedAt)
}

func TestExtendIgnoredWhenEnoughTimeRemains(t *testing.T) {
	r := NewRequest("person", 60)
	later := NewRequest("person", 10)
	later.CreatedAt = r.CreatedAt.Add(5 * time.Second)

	r.Extend(later, 5, 1)
	assert.Equal(t, float64(60), r.RecSecs)
	assert.Equal(t, later.CreatedAt, r.ModifiedAt)
}

func TestExtendIgnoresDuplicates(t *testing.T) {
	r := NewRequest("person", 60)
	dup := &Request{Tag: "person", RecSecs: 600, CreatedAt: r.CreatedAt}

	r.Extend(dup, 50, 1)
	assert.Equal(t, float64(60), r.RecSecs)
}

func TestExtendIgnoresStopRequests(t *testing.T) {
	r := NewRequest("person", 60)
	r.Extend(NewStopRequest("person"), 0, 1)
	assert.Equal(t, float64(60), r.RecSecs)
}

func TestDeadline(t *testing.T) {
	r := NewRequest("person", 10)
	assert.False(t, r.Deadline(19, 2))
	assert.True(t, r.Deadline(20, 2))
}

func TestStopRequestHasNoFilename(t *testing.T) {
	r := NewStopRequest("car-left")
	assert.True(t, r.Stop)
	assert.Empty(t, r.Filename)
	start := NewRequest("car-left", 60)
	assert.True(t, strings.HasSuffix(start.Filename, "-car-left.mp4"))
}
