package worker

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yujun2647/watchdog/internal/queue"
)

// Health checks are pull-model: the caller posts a request and waits for
// the matching response. A deadlocked worker is visible as "no response"
// rather than as stale pushed data.

const DefaultHealthTimeout = 10 * time.Second

var ErrHealthTimeout = errors.New("health check timed out")

type HealthRequest struct {
	ID string
	At time.Time
}

type HealthResponse struct {
	ID        string
	Worker    string
	Enable    EnableState
	Work      WorkState
	Heartbeat time.Time
	Handled   uint64
	At        time.Time
}

// Health posts a health request and waits for the response with a matching
// id, discarding stale responses left over from timed-out checks.
func (w *Worker) Health(timeout time.Duration) (HealthResponse, error) {
	req := HealthRequest{ID: uuid.NewString(), At: time.Now()}
	if err := w.healthReq.Put(req, queue.DefaultPutTimeout); err != nil {
		return HealthResponse{}, err
	}
	deadline := time.Now().Add(timeout)
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return HealthResponse{}, ErrHealthTimeout
		}
		rsp, err := w.healthRsp.Get(remain)
		if err != nil {
			return HealthResponse{}, ErrHealthTimeout
		}
		if rsp.ID == req.ID {
			return rsp, nil
		}
	}
}

// answerHealth drains pending health requests inside the worker loop.
func (w *Worker) answerHealth() {
	for {
		req, ok := w.healthReq.TryGet()
		if !ok {
			return
		}
		w.healthRsp.ForcePut(HealthResponse{
			ID:        req.ID,
			Worker:    w.stage.Name(),
			Enable:    w.EnableState(),
			Work:      w.WorkState(),
			Heartbeat: w.HeartbeatAt(),
			Handled:   w.handled.Load(),
			At:        time.Now(),
		})
	}
}

// HeartbeatStale reports whether the worker's heartbeat is older than
// k heartbeat intervals, which marks it a restart candidate.
func (w *Worker) HeartbeatStale(k int) bool {
	return time.Since(w.HeartbeatAt()) > time.Duration(k)*HeartbeatInterval
}
