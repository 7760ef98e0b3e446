package ingest

// HashIndex is the duplicate-detection state of one job: the exam's persisted
// hashes plus everything committed so far, and the tentative hashes of the batch
// in flight. It is owned by a single job and not safe for concurrent use.
type HashIndex struct {
	committed map[string]struct{}
	pending   map[string]struct{}
}

// NewHashIndex seeds the index with the exam's persisted hashes.
func NewHashIndex(snapshot []string) *HashIndex {
	committed := make(map[string]struct{}, len(snapshot))
	for _, h := range snapshot {
		committed[h] = struct{}{}
	}
	return &HashIndex{committed: committed, pending: map[string]struct{}{}}
}

// Observe reports whether hash was seen before and records it otherwise.
func (h *HashIndex) Observe(hash string) bool {
	if _, ok := h.committed[hash]; ok {
		return true
	}
	if _, ok := h.pending[hash]; ok {
		return true
	}
	h.pending[hash] = struct{}{}
	return false
}

// Commit makes the batch's tentative hashes permanent.
func (h *HashIndex) Commit() {
	for k := range h.pending {
		h.committed[k] = struct{}{}
	}
	clear(h.pending)
}

// Rollback drops the batch's tentative hashes.
func (h *HashIndex) Rollback() {
	clear(h.pending)
}

// discard forgets one tentative hash of a file that was not kept.
func (h *HashIndex) discard(hash string) {
	delete(h.pending, hash)
}

// Len counts known hashes, tentative included.
func (h *HashIndex) Len() int {
	return len(h.committed) + len(h.pending)
}

// fileIndex records which hashes one file added, so they can be discarded if
// the file fails after detection.
type fileIndex struct {
	*HashIndex
	added []string
}

func (f *fileIndex) Observe(hash string) bool {
	seen := f.HashIndex.Observe(hash)
	if !seen {
		f.added = append(f.added, hash)
	}
	return seen
}

func (f *fileIndex) release() {
	for _, h := range f.added {
		f.HashIndex.discard(h)
	}
	f.added = nil
}
