package recorder

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/yujun2647/watchdog/internal/config"
)

// Encoder turns a sequence of JPEG frames into a video file.
type Encoder interface {
	Open(path string, fps int) error
	Write(jpeg []byte) error
	Close() error
}

// FFmpegEncoder pipes JPEGs into an ffmpeg child process producing an
// h264 mp4. One clip per Open/Close pair.
type FFmpegEncoder struct {
	log *zap.Logger

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func NewFFmpegEncoder(log *zap.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{log: log.Named("encoder")}
}

func (e *FFmpegEncoder) Open(path string, fps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd != nil {
		return fmt.Errorf("encoder already open")
	}
	if fps < 1 {
		fps = 1
	}
	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-framerate", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-b:v", strconv.Itoa(config.EncoderBitRate),
		"-loglevel", "error",
		path,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("encoder stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}
	go e.drainStderr(stderr)
	e.cmd = cmd
	e.stdin = stdin
	e.log.Info("encoding started", zap.String("path", path), zap.Int("fps", fps))
	return nil
}

func (e *FFmpegEncoder) Write(jpeg []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stdin == nil {
		return fmt.Errorf("encoder not open")
	}
	if _, err := e.stdin.Write(jpeg); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close finishes the clip: closing stdin lets ffmpeg flush and write the
// mp4 trailer, then we wait for it to exit.
func (e *FFmpegEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil {
		return nil
	}
	cmd, stdin := e.cmd, e.stdin
	e.cmd, e.stdin = nil, nil

	if err := stdin.Close(); err != nil {
		e.log.Warn("closing encoder stdin", zap.Error(err))
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exit: %w", err)
	}
	return nil
}

func (e *FFmpegEncoder) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			e.log.Debug("ffmpeg", zap.ByteString("stderr", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}
