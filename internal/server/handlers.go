package server

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/audio"
	"github.com/yujun2647/watchdog/internal/config"
	"github.com/yujun2647/watchdog/internal/worker"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>watchdog</title></head>
<body style="margin:0;background:#111;text-align:center">
<img src="/stream" style="max-width:100%;height:auto"/>
</body>
</html>
`

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexPage)
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	respond(w, map[string]any{
		"version": s.deps.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// handleStream serves the MJPEG live feed. Each client walks the frame
// chain from its own handle; when no fresh frame arrives in time the
// client re-syncs to the newest one instead of hanging forever.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, "StreamUnavailable", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "StreamUnsupported",
			fmt.Errorf("response writer cannot flush"))
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	f := s.deps.Feed.Current()
	for f == nil {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		f = s.deps.Feed.Current()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		s.deps.Feed.MarkViewed()

		fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(f.JPEG))
		if _, err := w.Write(f.JPEG); err != nil {
			return
		}
		fmt.Fprint(w, "\r\n")
		flusher.Flush()

		next := f.Next(config.LiveNextTimeout)
		if next == nil {
			// The chain stalled (camera restart, pipeline hiccup); jump to
			// whatever is newest now.
			next = s.deps.Feed.Current()
			if next == f {
				continue
			}
		}
		f = next
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feed == nil {
		respondError(w, http.StatusServiceUnavailable, "StreamUnavailable", nil)
		return
	}
	f := s.deps.Feed.Current()
	if f == nil {
		respondError(w, http.StatusServiceUnavailable, "NoFrameYet", nil)
		return
	}
	s.deps.Feed.MarkViewed()
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(f.JPEG)))
	w.Write(f.JPEG)
}

type clipInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// handleCheckRecords lists archived clips newest first. The timestamp
// leads the filename, so a reverse lexicographic sort is a time sort.
func (s *Server) handleCheckRecords(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.deps.CachePath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CacheUnreadable", err)
		return
	}
	clips := make([]clipInfo, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".mp4") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		clips = append(clips, clipInfo{Name: ent.Name(), Size: info.Size()})
	}
	sort.Slice(clips, func(i, j int) bool { return clips[i].Name > clips[j].Name })

	recording := false
	current := ""
	if s.deps.Recording != nil {
		recording, current = s.deps.Recording()
	}
	respond(w, map[string]any{
		"clips":     clips,
		"recording": recording,
		"current":   current,
	})
}

func (s *Server) handleCheckVideo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" || name != filepath.Base(name) || !strings.HasSuffix(name, ".mp4") {
		respondError(w, http.StatusBadRequest, "BadClipName", fmt.Errorf("invalid clip name %q", name))
		return
	}
	path := filepath.Join(s.deps.CachePath, name)
	if _, err := os.Stat(path); err != nil {
		respondError(w, http.StatusNotFound, "ClipNotFound", fmt.Errorf("no clip named %s", name))
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}

func (s *Server) handleRestartCamera(w http.ResponseWriter, r *http.Request) {
	if s.deps.RestartCamera == nil {
		respondError(w, http.StatusServiceUnavailable, "NoCamera", nil)
		return
	}
	if err := s.deps.RestartCamera(); err != nil {
		respondError(w, http.StatusInternalServerError, "RestartFailed", err)
		return
	}
	respond(w, "camera restart requested")
}

func (s *Server) handlePersonWelcome(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speaker == nil {
		respondError(w, http.StatusServiceUnavailable, "NoSpeaker", nil)
		return
	}
	if err := s.deps.Speaker.Play(audio.ClipPersonWelcome, audio.ModeClearQueueForce); err != nil {
		respondError(w, http.StatusInternalServerError, "PlaybackFailed", err)
		return
	}
	respond(w, "welcome clip queued")
}

func (s *Server) handleCarWarn(w http.ResponseWriter, r *http.Request) {
	if s.deps.Speaker == nil {
		respondError(w, http.StatusServiceUnavailable, "NoSpeaker", nil)
		return
	}
	for i := 0; i < config.CarWarnBurst; i++ {
		if err := s.deps.Speaker.Play(audio.ClipCarWarning, audio.ModeQueue); err != nil {
			respondError(w, http.StatusInternalServerError, "PlaybackFailed", err)
			return
		}
	}
	respond(w, fmt.Sprintf("%d warning clips queued", config.CarWarnBurst))
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["mem_total"] = vm.Total
		out["mem_used"] = vm.Used
		out["mem_percent"] = vm.UsedPercent
	}
	if du, err := disk.Usage(s.deps.CachePath); err == nil {
		out["disk_total"] = du.Total
		out["disk_free"] = du.Free
		out["disk_percent"] = du.UsedPercent
	}
	if up, err := host.Uptime(); err == nil {
		out["uptime_secs"] = up
	}
	respond(w, out)
}

type workerHealth struct {
	Name      string `json:"name"`
	Enable    string `json:"enable"`
	Work      string `json:"work"`
	Heartbeat string `json:"heartbeat"`
	Handled   uint64 `json:"handled"`
	Stale     bool   `json:"stale"`
	Alive     bool   `json:"alive"`
}

// handleHealth round-trips a health request through every worker. A dead
// loop shows up as alive=false rather than as stale pushed data.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Workers == nil {
		respond(w, []workerHealth{})
		return
	}
	workers := s.deps.Workers()
	out := make([]workerHealth, 0, len(workers))
	for _, wk := range workers {
		h := workerHealth{Name: wk.Name()}
		rsp, err := wk.Health(2 * time.Second)
		if err != nil {
			h.Enable = wk.EnableState().String()
			h.Work = wk.WorkState().String()
			h.Heartbeat = wk.HeartbeatAt().Format(time.RFC3339)
			h.Handled = wk.Handled()
			h.Stale = wk.HeartbeatStale(worker.HeartbeatStaleFactor)
			s.log.Warn("health check failed", zap.String("worker", wk.Name()), zap.Error(err))
		} else {
			h.Alive = true
			h.Enable = rsp.Enable.String()
			h.Work = rsp.Work.String()
			h.Heartbeat = rsp.Heartbeat.Format(time.RFC3339)
			h.Handled = rsp.Handled
			h.Stale = time.Since(rsp.Heartbeat) > worker.HeartbeatStaleFactor*worker.HeartbeatInterval
		}
		out = append(out, h)
	}
	respond(w, out)
}
