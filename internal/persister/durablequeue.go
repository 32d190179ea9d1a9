package persister

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/gcu-merk/edge-traffic-monitor/internal/consolidator"
)

// DurableQueue is the append-only fallback spec section 4.6 requires
// when a batch fails to commit twice: one JSON line per queued batch,
// drained in order when Persister.Run starts. A running Persister does
// not drain it again when the store becomes reachable.
//
// Grounded on internal/fsutil's OSFileSystem idiom (thin wrappers over
// os.OpenFile/os.Stat) rather than importing fsutil.FileSystem itself:
// the queue only ever appends to and truncates one named file, so
// fsutil's directory-oriented surface (ReadDir, MkdirAll, multi-file
// Stat) would be unused weight; tests exercise this queue against a
// real temp file (t.TempDir()) instead of a mock, since the file
// operations here are already this small and this fast.
type DurableQueue struct {
	path string
	mu   sync.Mutex
}

// NewDurableQueue constructs a DurableQueue backed by the file at path.
func NewDurableQueue(path string) *DurableQueue {
	return &DurableQueue{path: path}
}

// Append writes batch as one JSON line to the queue file.
func (q *DurableQueue) Append(batch []consolidator.ConsolidatedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// DrainAll reads every queued batch and truncates the queue file. If
// the file does not exist, returns an empty slice.
func (q *DurableQueue) DrainAll() ([][]consolidator.ConsolidatedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var batches [][]consolidator.ConsolidatedEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var batch []consolidator.ConsolidatedEvent
		if err := json.Unmarshal(scanner.Bytes(), &batch); err != nil {
			continue // skip a corrupt line rather than blocking the whole drain
		}
		batches = append(batches, batch)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if err := os.Truncate(q.path, 0); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return batches, nil
}

// Depth returns the number of bytes currently queued (0 if the file is
// absent), reported verbatim in stats:persister's durable_queue_depth
// field.
func (q *DurableQueue) Depth() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	info, err := os.Stat(q.path)
	if err != nil {
		return 0
	}
	return info.Size()
}
