package collab

import (
	"sync"
	"testing"
	"time"
)

type saveRecorder struct {
	mu    sync.Mutex
	saves []savedDoc
}

type savedDoc struct {
	documentID string
	content    string
}

func (r *saveRecorder) save(documentID, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, savedDoc{documentID, content})
}

func (r *saveRecorder) all() []savedDoc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]savedDoc(nil), r.saves...)
}

func TestSaverDebouncesRapidEdits(t *testing.T) {
	rec := &saveRecorder{}
	saver := NewSaver(30*time.Millisecond, rec.save)

	saver.Queue("doc_1", "v1")
	saver.Queue("doc_1", "v2")
	saver.Queue("doc_1", "v3")

	time.Sleep(100 * time.Millisecond)

	saves := rec.all()
	if len(saves) != 1 {
		t.Fatalf("expected 1 coalesced save, got %d", len(saves))
	}
	if saves[0].content != "v3" {
		t.Errorf("expected last write to win, got %q", saves[0].content)
	}
}

func TestSaverSeparateDocuments(t *testing.T) {
	rec := &saveRecorder{}
	saver := NewSaver(20*time.Millisecond, rec.save)

	saver.Queue("doc_1", "a")
	saver.Queue("doc_2", "b")

	time.Sleep(80 * time.Millisecond)

	saves := rec.all()
	if len(saves) != 2 {
		t.Fatalf("expected 2 saves, got %d", len(saves))
	}
}

func TestSaverFlushPersistsImmediately(t *testing.T) {
	rec := &saveRecorder{}
	saver := NewSaver(time.Hour, rec.save)

	saver.Queue("doc_1", "draft")
	if !saver.Pending("doc_1") {
		t.Fatal("expected pending save")
	}

	saver.Flush("doc_1")

	saves := rec.all()
	if len(saves) != 1 || saves[0].content != "draft" {
		t.Fatalf("expected immediate save of draft, got %+v", saves)
	}
	if saver.Pending("doc_1") {
		t.Error("expected nothing pending after flush")
	}

	// Flushing with nothing pending is a no-op.
	saver.Flush("doc_1")
	if len(rec.all()) != 1 {
		t.Error("flush with nothing pending should not save again")
	}
}

func TestSaverCloseFlushesEverything(t *testing.T) {
	rec := &saveRecorder{}
	saver := NewSaver(time.Hour, rec.save)

	saver.Queue("doc_1", "one")
	saver.Queue("doc_2", "two")

	saver.Close()

	saves := rec.all()
	if len(saves) != 2 {
		t.Fatalf("expected both pending saves flushed on close, got %d", len(saves))
	}
}
