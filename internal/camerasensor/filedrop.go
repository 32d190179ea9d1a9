package camerasensor

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/gcu-merk/edge-traffic-monitor/internal/fsutil"
	"github.com/gcu-merk/edge-traffic-monitor/internal/telemetry"
)

// FileDropWatcher is the alternative delivery substrate spec section
// 4.3 allows: an external inference process that only writes JSON
// detection-batch files to a directory, rather than publishing on the
// broker. It polls rather than using fsnotify — the pack's one
// fsnotify user is a web-scraper with no serving-process shape in
// common with this reader, so a simple poll-and-stat loop on the
// teacher's own fsutil abstraction is the smaller, better-homed choice.
type FileDropWatcher struct {
	fs       fsutil.FileSystem
	dir      string
	interval time.Duration
	reader   *Reader
	log      telemetry.Logger

	seen map[string]struct{}
}

// NewFileDropWatcher constructs a watcher over dir, dispatching each
// newly seen *.json file to reader.Process.
func NewFileDropWatcher(fs fsutil.FileSystem, dir string, interval time.Duration, reader *Reader) *FileDropWatcher {
	return &FileDropWatcher{
		fs:       fs,
		dir:      dir,
		interval: interval,
		reader:   reader,
		log:      telemetry.For("camera"),
		seen:     make(map[string]struct{}),
	}
}

// Run polls dir every interval until ctx is cancelled, processing each
// newly written *.json batch file exactly once and then removing it.
// A file that cannot be read or parsed is skipped, left in place, and
// not retried.
func (w *FileDropWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *FileDropWatcher) pollOnce() {
	entries, err := w.fs.ReadDir(w.dir)
	if err != nil {
		w.log.Warn().Err(err).Str("dir", w.dir).Msg("failed to list camera drop directory")
		return
	}
	sort.Strings(entries)

	for _, name := range entries {
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		if _, ok := w.seen[name]; ok {
			continue
		}
		w.seen[name] = struct{}{}

		data, err := w.fs.ReadFile(name)
		if err != nil {
			w.log.Warn().Err(err).Str("file", name).Msg("failed to read camera drop file")
			continue
		}
		var batch DetectionBatch
		if err := json.Unmarshal(data, &batch); err != nil {
			w.log.Warn().Err(err).Str("file", name).Msg("dropping unparsable camera drop file")
			continue
		}
		w.reader.Process(batch)

		if err := w.fs.Remove(name); err != nil {
			w.log.Warn().Err(err).Str("file", name).Msg("failed to remove processed camera drop file")
		}
	}
}
