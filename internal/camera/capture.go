package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Capture owns one ffmpeg reader subprocess decoding the source into an
// MJPEG byte stream on stdout. Frames are extracted by SOI/EOI scanning.
// File sources run with -re so playback keeps real-time semantics.
type Capture struct {
	address string
	kind    SourceKind
	width   int
	height  int
	fps     int
	log     *zap.Logger

	cmd    *exec.Cmd
	stdout io.ReadCloser
	buf    []byte
	chunk  []byte
}

func NewCapture(address string, kind SourceKind, width, height, streamFPS int, log *zap.Logger) *Capture {
	return &Capture{
		address: address,
		kind:    kind,
		width:   width,
		height:  height,
		fps:     streamFPS,
		log:     log,
		buf:     make([]byte, 0, 1<<20),
		chunk:   make([]byte, 8192),
	}
}

func (c *Capture) args() []string {
	size := fmt.Sprintf("%dx%d", c.width, c.height)
	out := []string{"-f", "image2pipe", "-vcodec", "mjpeg", "-s", size, "-q:v", "5", "-"}

	switch c.kind {
	case SourceDevice:
		return append([]string{
			"-f", "v4l2",
			"-video_size", size,
			"-framerate", fmt.Sprintf("%d", c.fps),
			"-i", DevicePath(c.address),
		}, out...)
	case SourceFile:
		return append([]string{"-re", "-i", c.address}, out...)
	default:
		args := []string{}
		if len(c.address) > 7 && c.address[:7] == "rtsp://" {
			args = append(args, "-rtsp_transport", "tcp")
		}
		return append(append(args, "-i", c.address), out...)
	}
}

// Open starts the reader subprocess. The stream is only "connected" once
// the first frame is produced; Open succeeding means the handle exists.
func (c *Capture) Open() error {
	cmd := exec.Command("ffmpeg", c.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			// ffmpeg is chatty on stderr even when healthy; keep it at
			// debug so real failures surface through read errors instead.
			c.log.Debug("ffmpeg", zap.String("line", scanner.Text()))
		}
	}()

	c.cmd = cmd
	c.stdout = stdout
	c.buf = c.buf[:0]
	return nil
}

// OpenWithRetry retries Open a bounded number of times with a pause
// between attempts, probing the address first.
func (c *Capture) OpenWithRetry(attempts int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		if err := Probe(c.address, c.kind, 2*time.Second); err != nil {
			lastErr = err
			c.log.Warn("source probe failed", zap.Int("attempt", i+1), zap.Error(err))
			continue
		}
		if err := c.Open(); err != nil {
			lastErr = err
			c.log.Warn("open failed", zap.Int("attempt", i+1), zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("opening %s after %d attempts: %w", c.address, attempts, lastErr)
}

// ProbeRate asks ffprobe for the source's native frame rate. Sources
// rarely honor a requested rate exactly, and the drop schedule needs the
// real one; the configured rate is only a fallback when the probe fails.
func ProbeRate(address string, kind SourceKind, timeout time.Duration) (int, error) {
	target := address
	if kind == SourceDevice {
		target = DevicePath(address)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=avg_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		target).Output()
	if err != nil {
		return 0, fmt.Errorf("probing rate of %s: %w", target, err)
	}
	return parseRate(strings.TrimSpace(string(out)))
}

// parseRate parses ffprobe's rational rate notation ("30/1", "30000/1001").
func parseRate(s string) (int, error) {
	num, den := s, "1"
	if i := strings.IndexByte(s, '/'); i >= 0 {
		num, den = s[:i], s[i+1:]
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("frame rate %q: %w", s, err)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("frame rate %q: %w", s, err)
	}
	if d == 0 || n <= 0 {
		return 0, fmt.Errorf("frame rate %q: not a positive rate", s)
	}
	rate := int(math.Round(n / d))
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

// ReadFrame returns the next complete JPEG frame from the stream.
func (c *Capture) ReadFrame() ([]byte, error) {
	if c.stdout == nil {
		return nil, fmt.Errorf("capture not open")
	}
	for {
		if frame := c.nextJPEG(); frame != nil {
			return frame, nil
		}
		n, err := c.stdout.Read(c.chunk)
		if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		c.buf = append(c.buf, c.chunk[:n]...)
	}
}

// nextJPEG slices one complete SOI..EOI frame out of the buffer.
func (c *Capture) nextJPEG() []byte {
	start := bytes.Index(c.buf, jpegSOI)
	if start < 0 {
		return nil
	}
	end := bytes.Index(c.buf[start+2:], jpegEOI)
	if end < 0 {
		return nil
	}
	end += start + 2 + 2
	frame := make([]byte, end-start)
	copy(frame, c.buf[start:end])
	c.buf = c.buf[:copy(c.buf, c.buf[end:])]
	return frame
}

// Interrupt kills the reader subprocess without tearing down the handle.
// Killing it ends the stdout pipe, so a ReadFrame blocked on a stalled
// source returns a read error and its caller reaches a safe point.
func (c *Capture) Interrupt() {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}

// Close kills the subprocess and reaps it.
func (c *Capture) Close() {
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
		c.cmd.Wait()
	}
	c.cmd = nil
	c.stdout = nil
	c.buf = c.buf[:0]
}

// SetSize changes the requested output size; takes effect on next Open.
func (c *Capture) SetSize(width, height int) {
	c.width = width
	c.height = height
}

// SetAddress changes the source; takes effect on next Open.
func (c *Capture) SetAddress(address string, kind SourceKind) {
	c.address = address
	c.kind = kind
}
