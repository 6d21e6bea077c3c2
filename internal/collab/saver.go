package collab

import (
	"sync"
	"time"
)

// Saver debounces document content writes. Rapid edits within the quiet
// window collapse into one save; the last queued content wins. Flush
// persists immediately, and is called when an editor leaves, when a
// connection drops, and on shutdown, so no edit is lost to the window.
type Saver struct {
	quiet time.Duration
	save  func(documentID, content string)

	mu      sync.Mutex
	pending map[string]*pendingSave
	closed  bool
}

type pendingSave struct {
	content string
	timer   *time.Timer
}

// NewSaver creates a saver. save is invoked outside the saver's lock.
func NewSaver(quiet time.Duration, save func(documentID, content string)) *Saver {
	return &Saver{
		quiet:   quiet,
		save:    save,
		pending: make(map[string]*pendingSave),
	}
}

// Queue records new content for a document and restarts its quiet timer.
func (s *Saver) Queue(documentID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Late writes during shutdown are saved synchronously.
		go s.save(documentID, content)
		return
	}

	if p, ok := s.pending[documentID]; ok {
		p.content = content
		p.timer.Reset(s.quiet)
		return
	}
	p := &pendingSave{content: content}
	p.timer = time.AfterFunc(s.quiet, func() {
		s.Flush(documentID)
	})
	s.pending[documentID] = p
}

// Flush persists any pending content for a document immediately.
func (s *Saver) Flush(documentID string) {
	s.mu.Lock()
	p, ok := s.pending[documentID]
	if ok {
		p.timer.Stop()
		delete(s.pending, documentID)
	}
	s.mu.Unlock()

	if ok {
		s.save(documentID, p.content)
	}
}

// Pending reports whether a document has unsaved content queued.
func (s *Saver) Pending(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[documentID]
	return ok
}

// Close flushes every pending save. The saver rejects timers afterwards
// but still persists late writes.
func (s *Saver) Close() {
	s.mu.Lock()
	s.closed = true
	drained := make(map[string]string, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		drained[id] = p.content
	}
	s.pending = make(map[string]*pendingSave)
	s.mu.Unlock()

	for id, content := range drained {
		s.save(id, content)
	}
}
