package detect

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
	"github.com/yujun2647/watchdog/internal/worker"
)

func testFrame(id uint64) *media.Frame {
	return media.NewFrame(id, 8, 1280, 720, []byte{0xFF, 0xD8, 0xFF, 0xD9})
}

func TestStageEmitsDetectionsToBothQueues(t *testing.T) {
	det := Func(func(_ context.Context, f *media.Frame) ([]media.Detection, error) {
		return []media.Detection{{
			FrameID: f.ID, Label: "person", X: 10, Y: 10, W: 100, H: 200,
			Confidence: 0.9, IsDetected: true,
			FrameWidth: f.Width, FrameHeight: f.Height,
		}}, nil
	})
	in := queue.New[*media.Frame]("in", 10)
	s := NewStage(det, in, 1, zap.NewNop())
	h := &handler{stage: s}

	in.ForcePut(testFrame(7))
	require.NoError(t, h.HandleWork(&worker.Request{}))

	labels, ok := s.Labels().TryGet()
	require.True(t, ok)
	sense, ok := s.Sense().TryGet()
	require.True(t, ok)
	assert.Equal(t, uint64(7), labels[0].FrameID)
	assert.Equal(t, "person", sense[0].Label)
}

func TestStageEmitsSentinelOnEmptyResult(t *testing.T) {
	det := Func(func(_ context.Context, _ *media.Frame) ([]media.Detection, error) {
		return nil, nil
	})
	in := queue.New[*media.Frame]("in", 10)
	s := NewStage(det, in, 1, zap.NewNop())
	h := &handler{stage: s}

	in.ForcePut(testFrame(3))
	require.NoError(t, h.HandleWork(&worker.Request{}))

	labels, ok := s.Labels().TryGet()
	require.True(t, ok)
	require.Len(t, labels, 1)
	assert.False(t, labels[0].IsDetected)
	assert.Equal(t, uint64(3), labels[0].FrameID)
	// The sentinel stays self-describing: it carries the frame's size.
	assert.Equal(t, 1280, labels[0].FrameWidth)
	assert.Equal(t, 720, labels[0].FrameHeight)
}

func TestStageEmitsSentinelOnDetectorError(t *testing.T) {
	det := Func(func(_ context.Context, _ *media.Frame) ([]media.Detection, error) {
		return nil, errors.New("model exploded")
	})
	in := queue.New[*media.Frame]("in", 10)
	s := NewStage(det, in, 1, zap.NewNop())
	h := &handler{stage: s}

	in.ForcePut(testFrame(4))
	require.NoError(t, h.HandleWork(&worker.Request{}))

	sense, ok := s.Sense().TryGet()
	require.True(t, ok)
	assert.False(t, sense[0].IsDetected)
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/detect":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			_, _, err := r.FormFile("image")
			require.NoError(t, err)
			json.NewEncoder(w).Encode(wireResponse{Detections: []wireDetection{
				{Label: "car", Confidence: 0.8, X: 100, Y: 120, W: 300, H: 200},
			}})
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, 2*time.Second)
	assert.True(t, d.Healthy(context.Background()))

	got, err := d.Detect(context.Background(), testFrame(9))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "car", got[0].Label)
	assert.Equal(t, uint64(9), got[0].FrameID)
	assert.True(t, got[0].IsDetected)
	assert.Equal(t, 1280, got[0].FrameWidth)
}

func TestHTTPDetectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL, time.Second)
	_, err := d.Detect(context.Background(), testFrame(1))
	assert.Error(t, err)
}
