package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{
		Title:   "Launch Plan",
		Body:    "<h1>Launch Plan</h1><p>Draft.</p>",
		Version: 1,
	}

	if err := svc.EnsureDocumentRepo("doc_1", initial, "John Doe"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	// Idempotent.
	if err := svc.EnsureDocumentRepo("doc_1", initial, "John Doe"); err != nil {
		t.Fatalf("EnsureDocumentRepo() second call error = %v", err)
	}

	updated := initial
	updated.Body = "<h1>Launch Plan</h1><p>Final.</p>"
	updated.Version = 2
	commit, err := svc.Commit("doc_1", updated, "John Doe", "Save revision 2")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if commit.Version != 2 {
		t.Errorf("expected version 2 on commit, got %d", commit.Version)
	}

	history, err := svc.History("doc_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[0].Version != 2 || history[1].Version != 1 {
		t.Errorf("expected newest-first history, got %+v", history)
	}

	got, err := svc.GetContent("doc_1", commit.Hash)
	if err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if !strings.Contains(got.Body, "Final.") {
		t.Fatalf("unexpected content: %+v", got)
	}
}

func TestHistoryLimit(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc_1", Content{Title: "Doc", Version: 1}, "John Doe"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	for i := 2; i <= 5; i++ {
		if _, err := svc.Commit("doc_1", Content{Title: "Doc", Body: fmt.Sprintf("<p>rev %d</p>", i), Version: i}, "John Doe", "save"); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}
	}

	history, err := svc.History("doc_1", 3)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected limit of 3 entries, got %d", len(history))
	}
}

func TestDeleteDocumentRepo(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc_1", Content{Title: "Doc", Version: 1}, "John Doe"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.DeleteDocumentRepo("doc_1"); err != nil {
		t.Fatalf("DeleteDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc_1")); !os.IsNotExist(err) {
		t.Fatal("expected repo directory to be removed")
	}
}

func TestConcurrentCommits(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureDocumentRepo("doc_1", Content{Title: "Doc", Version: 1}, "John Doe"); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := Content{
				Title:   "Doc",
				Body:    fmt.Sprintf("<p>rev %02d</p>", idx),
				Version: idx + 2,
			}
			if _, err := svc.Commit("doc_1", content, "John Doe", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Commit() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}
}
