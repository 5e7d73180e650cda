// Package marker joins frames with their detections and draws the
// overlays before frames reach the stream server and the recorder.
package marker

import (
	"github.com/yujun2647/watchdog/internal/media"
	"github.com/yujun2647/watchdog/internal/queue"
)

// Joiner reconciles the marker's frame stream with detection bundles that
// may arrive out of order from the parallel detector workers. Bundles are
// indexed by frame id; for each frame the joiner reads at most workerNum
// bundles (covering the case where this frame's bundle already arrived)
// and then uses whatever is indexed under the frame id.
type Joiner struct {
	workerNum int
	pending   map[uint64][]media.Detection
}

func NewJoiner(workerNum int) *Joiner {
	if workerNum < 1 {
		workerNum = 1
	}
	return &Joiner{
		workerNum: workerNum,
		pending:   make(map[uint64][]media.Detection),
	}
}

// Collect returns the detections for frameID, consuming bundles from the
// labels queue as needed. Entries for earlier frames are discarded: the
// marker processes frames in order, so they can never be asked for again.
// This bounds the map at workerNum+1 entries.
func (j *Joiner) Collect(frameID uint64, labels *queue.Queue[[]media.Detection]) []media.Detection {
	if _, ok := j.pending[frameID]; !ok {
		for i := 0; i < j.workerNum; i++ {
			bundle, ok := labels.TryGet()
			if !ok {
				break
			}
			if len(bundle) == 0 {
				continue
			}
			id := bundle[0].FrameID
			j.pending[id] = append(j.pending[id], bundle...)
			if id == frameID {
				break
			}
		}
	}
	dets := j.pending[frameID]
	delete(j.pending, frameID)
	for id := range j.pending {
		if id < frameID {
			delete(j.pending, id)
		}
	}
	return dets
}

// PendingCount reports how many frame ids are currently indexed.
func (j *Joiner) PendingCount() int { return len(j.pending) }
