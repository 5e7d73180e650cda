package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/yujun2647/watchdog/internal/media"
)

// HTTPDetector talks to a detection service over HTTP: the frame goes out
// as a multipart upload, detections come back as JSON. Health is cached
// so a flapping service does not add a probe round-trip to every frame.
type HTTPDetector struct {
	baseURL string
	client  *http.Client

	healthMu      sync.Mutex
	healthOK      bool
	healthChecked time.Time
}

const healthCacheTTL = 30 * time.Second

func NewHTTPDetector(baseURL string, timeout time.Duration) *HTTPDetector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type wireDetection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, frame *media.Frame) ([]media.Detection, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := part.Write(frame.JPEG); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	mw.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", &body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rsp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling detector: %w", err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, rsp.Body)
		return nil, fmt.Errorf("detector returned %s", rsp.Status)
	}

	var wire wireResponse
	if err := json.NewDecoder(rsp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding detections: %w", err)
	}

	out := make([]media.Detection, 0, len(wire.Detections))
	for _, wd := range wire.Detections {
		out = append(out, media.Detection{
			FrameID:     frame.ID,
			FPS:         frame.FPS,
			Label:       wd.Label,
			X:           wd.X,
			Y:           wd.Y,
			W:           wd.W,
			H:           wd.H,
			Confidence:  wd.Confidence,
			Color:       colorFor(wd.Label),
			IsDetected:  true,
			FrameWidth:  frame.Width,
			FrameHeight: frame.Height,
		})
	}
	return out, nil
}

// Healthy probes GET /health, caching the result for a short window.
func (d *HTTPDetector) Healthy(ctx context.Context) bool {
	d.healthMu.Lock()
	defer d.healthMu.Unlock()
	if time.Since(d.healthChecked) < healthCacheTTL {
		return d.healthOK
	}
	d.healthChecked = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/health", nil)
	if err != nil {
		d.healthOK = false
		return false
	}
	rsp, err := d.client.Do(req)
	if err != nil {
		d.healthOK = false
		return false
	}
	defer rsp.Body.Close()
	io.Copy(io.Discard, rsp.Body)
	d.healthOK = rsp.StatusCode == http.StatusOK
	return d.healthOK
}
