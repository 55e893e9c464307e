package receipt

import (
	"errors"
	"slices"
	"sync"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileInFlight = errors.New("file is being processed")
)

// Queue is the ordered set of files for one session.
// Records live in an arena keyed by id; order is kept separately for display.
type Queue struct {
	mu    sync.RWMutex
	items map[string]*QueuedFile
	order []string
	ids   IDGenerator
}

// NewQueue creates an empty Queue
func NewQueue(ids IDGenerator) *Queue {
	if ids == nil {
		ids = &defaultIDGenerator{}
	}
	return &Queue{
		items: make(map[string]*QueuedFile),
		ids:   ids,
	}
}

// Add enqueues files with status queued and progress 0, preserving their order
func (q *Queue) Add(files ...File) []QueuedFile {
	q.mu.Lock()
	defer q.mu.Unlock()

	added := make([]QueuedFile, 0, len(files))
	for _, f := range files {
		item := &QueuedFile{
			ID:     q.ids.Generate(),
			File:   f,
			Status: StatusQueued,
		}
		q.items[item.ID] = item
		q.order = append(q.order, item.ID)
		added = append(added, *item)
	}
	return added
}

// Get returns a copy of the record for id
func (q *Queue) Get(id string) (QueuedFile, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return QueuedFile{}, false
	}
	return *item, true
}

// Update replaces a record's status, progress, result and error.
// Unknown ids are ignored and reported with false.
func (q *Queue) Update(id string, status Status, progress int, result *ProcessedResult, errMsg string) (QueuedFile, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return QueuedFile{}, false
	}
	item.Status = status
	item.Progress = progress
	item.Result = result
	item.Error = errMsg
	return *item, true
}

// Remove deletes a file that is not mid-pipeline
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return ErrFileNotFound
	}
	if item.Status.InFlight() {
		return ErrFileInFlight
	}
	delete(q.items, id)
	if i := slices.Index(q.order, id); i >= 0 {
		q.order = slices.Delete(q.order, i, i+1)
	}
	return nil
}

// Clear removes every file
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[string]*QueuedFile)
	q.order = nil
}

// Len returns the number of files
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.order)
}

// Snapshot returns copies of every record in display order
func (q *Queue) Snapshot() []QueuedFile {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]QueuedFile, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.items[id])
	}
	return out
}

// Pending returns the files eligible for a run (queued or error) in display order
func (q *Queue) Pending() []QueuedFile {
	snapshot := q.Snapshot()
	out := snapshot[:0]
	for _, f := range snapshot {
		if f.Status == StatusQueued || f.Status == StatusError {
			out = append(out, f)
		}
	}
	return out
}
