package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
)

type fakeSpeaker struct {
	clips []string
	modes []audio.PlayMode
}

func (f *fakeSpeaker) Play(clip string, mode audio.PlayMode) error {
	f.clips = append(f.clips, clip)
	f.modes = append(f.modes, mode)
	return nil
}

func (f *fakeSpeaker) Stop() error { return nil }

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	return New(8000, deps, zap.NewNop())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestEchoEnvelope(t *testing.T) {
	s := newTestServer(t, Deps{Version: "1.2.3"})
	rec := get(t, s, "/echo")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(200), body["code"])
	assert.Equal(t, "Success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "1.2.3", data["version"])
}

func TestCORSHeaderOnEveryResponse(t *testing.T) {
	s := newTestServer(t, Deps{})
	rec := get(t, s, "/echo")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckRecordsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"2026-08-20-10-00-00-000-person.mp4",
		"2026-08-25-10-00-00-000-car-blocking.mp4",
		"2026-08-22-10-00-00-000-person.mp4",
		"ignore.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	s := newTestServer(t, Deps{
		CachePath: dir,
		Recording: func() (bool, string) { return true, "live.mp4" },
	})

	rec := get(t, s, "/check_records")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	clips := data["clips"].([]any)
	require.Len(t, clips, 3)
	first := clips[0].(map[string]any)
	assert.Equal(t, "2026-08-25-10-00-00-000-car-blocking.mp4", first["name"])
	assert.Equal(t, true, data["recording"])
	assert.Equal(t, "live.mp4", data["current"])
}

func TestCheckVideoNotFound(t *testing.T) {
	s := newTestServer(t, Deps{CachePath: t.TempDir()})
	rec := get(t, s, "/check_video/absent.mp4")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Error", body["status"])
	assert.Equal(t, "ClipNotFound", body["errorName"])
	assert.NotEmpty(t, body["errorFile"])
}

func TestCheckVideoRejectsTraversal(t *testing.T) {
	s := newTestServer(t, Deps{CachePath: t.TempDir()})
	rec := get(t, s, "/check_video/..%2Fsecret.mp4")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckVideoServesClip(t *testing.T) {
	dir := t.TempDir()
	name := "2026-08-25-10-00-00-000-person.mp4"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("mp4data"), 0o644))
	s := newTestServer(t, Deps{CachePath: dir})

	rec := get(t, s, "/check_video/"+name)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp4data", rec.Body.String())
}

func TestSnapshotServesLatestFrame(t *testing.T) {
	feed := NewLiveFeed(queue.New[*media.Frame]("render", config.RenderQueueSize), zap.NewNop())
	feed.cur = media.NewFrame(7, 2, 64, 48, []byte{0xff, 0xd8, 0xff, 0xd9})
	s := newTestServer(t, Deps{Feed: feed})

	rec := get(t, s, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, rec.Body.Bytes())
	assert.True(t, feed.Viewing())
}

func TestSnapshotWithoutFrame(t *testing.T) {
	feed := NewLiveFeed(queue.New[*media.Frame]("render", config.RenderQueueSize), zap.NewNop())
	s := newTestServer(t, Deps{Feed: feed})

	rec := get(t, s, "/snapshot")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCarWarnQueuesBurst(t *testing.T) {
	speaker := &fakeSpeaker{}
	s := newTestServer(t, Deps{Speaker: speaker})

	rec := get(t, s, "/debug/carWarn")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, speaker.clips, config.CarWarnBurst)
	for _, clip := range speaker.clips {
		assert.Equal(t, audio.ClipCarWarning, clip)
	}
}

func TestPersonWelcomePlaysImmediately(t *testing.T) {
	speaker := &fakeSpeaker{}
	s := newTestServer(t, Deps{Speaker: speaker})

	rec := get(t, s, "/debug/personWelcome")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, speaker.clips, 1)
	assert.Equal(t, audio.ClipPersonWelcome, speaker.clips[0])
	assert.Equal(t, audio.ModeClearQueueForce, speaker.modes[0])
}

func TestRestartCameraEndpoint(t *testing.T) {
	called := 0
	s := newTestServer(t, Deps{RestartCamera: func() error { called++; return nil }})

	rec := get(t, s, "/debug/restartCamera")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, called)
}

func TestLiveFeedChainsFrames(t *testing.T) {
	q := queue.New[*media.Frame]("render", config.RenderQueueSize)
	feed := NewLiveFeed(q, zap.NewNop())
	feed.Start()
	defer feed.Stop()

	f1 := media.NewFrame(1, 2, 64, 48, []byte{1})
	f2 := media.NewFrame(2, 2, 64, 48, []byte{2})
	require.NoError(t, q.Put(f1, time.Second))

	require.Eventually(t, func() bool { return feed.Current() == f1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, q.Put(f2, time.Second))
	next := f1.Next(time.Second)
	require.NotNil(t, next)
	assert.Same(t, f2, next)
	assert.Same(t, f2, feed.Current())
}

func TestViewingWindow(t *testing.T) {
	feed := NewLiveFeed(queue.New[*media.Frame]("render", 1), zap.NewNop())
	assert.False(t, feed.Viewing())
	feed.MarkViewed()
	assert.True(t, feed.Viewing())
}
