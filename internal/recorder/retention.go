package recorder

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const clipTimeLayout = "2006-01-02-15-04-05"

// Retention prunes expired clips from the cache directory. The clip
// timestamp lives in the filename, so a sweep never needs to stat.
type Retention struct {
	log  *zap.Logger
	dir  string
	days int
	cron *cron.Cron
	now  func() time.Time
}

func NewRetention(dir string, days int, log *zap.Logger) *Retention {
	return &Retention{
		log:  log.Named("retention"),
		dir:  dir,
		days: days,
		now:  time.Now,
	}
}

// Start runs one sweep immediately and schedules a nightly one.
func (r *Retention) Start() error {
	r.Sweep()
	r.cron = cron.New()
	if _, err := r.cron.AddFunc("30 3 * * *", r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Retention) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep removes every clip older than the retention window.
func (r *Retention) Sweep() {
	cutoff := r.now().AddDate(0, 0, -r.days)
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		r.log.Warn("cache dir unreadable", zap.String("dir", r.dir), zap.Error(err))
		return
	}
	removed := 0
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".mp4") {
			continue
		}
		ts, ok := clipTime(ent.Name())
		if !ok {
			continue
		}
		if ts.Before(cutoff) {
			path := filepath.Join(r.dir, ent.Name())
			if err := os.Remove(path); err != nil {
				r.log.Warn("removing expired clip", zap.String("clip", ent.Name()), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("expired clips removed", zap.Int("count", removed), zap.Int("days", r.days))
	}
}

// clipTime parses the leading timestamp out of a clip filename.
func clipTime(name string) (time.Time, bool) {
	if len(name) < len(clipTimeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(clipTimeLayout, name[:len(clipTimeLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
