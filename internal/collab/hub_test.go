package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"flowdesk/api/internal/search"
	"flowdesk/api/internal/store"
)

type indexRecorder struct {
	mu      sync.Mutex
	records []search.CommentRecord
}

func (r *indexRecorder) IndexComment(c search.CommentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, c)
}

func (r *indexRecorder) all() []search.CommentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]search.CommentRecord(nil), r.records...)
}

type fakeDocs struct {
	mu   sync.Mutex
	docs map[string]store.Document
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[string]store.Document{
		"doc_1": {
			ID:      "doc_1",
			Title:   "Shared Doc",
			Content: "<p>hello</p>",
			OwnerID: "usr_1",
			Collaborators: []store.Collaborator{
				{UserID: "usr_2", Permission: "editor"},
				{UserID: "usr_4", Permission: "viewer"},
			},
			Version: 1,
		},
	}}
}

func (f *fakeDocs) GetDocument(ctx context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocs) InsertComment(ctx context.Context, documentID string, comment store.Comment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.ErrNotFound
	}
	doc.Comments = append(doc.Comments, comment)
	f.docs[documentID] = doc
	return nil
}

func (f *fakeDocs) ResolveComment(ctx context.Context, documentID, commentID string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Comment{}, store.ErrNotFound
	}
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments[i].Resolved = true
			f.docs[documentID] = doc
			return doc.Comments[i], nil
		}
	}
	return store.Comment{}, store.ErrNotFound
}

var testUsers = map[string]store.User{
	"usr_1": {ID: "usr_1", Name: "John Doe", Color: "#3B82F6"},
	"usr_2": {ID: "usr_2", Name: "Jane Smith", Color: "#10B981"},
	"usr_3": {ID: "usr_3", Name: "Bob Johnson", Color: "#F59E0B"},
	"usr_4": {ID: "usr_4", Name: "Ann Viewer", Color: "#8B5CF6"},
}

func newTestHub(t *testing.T, rec *saveRecorder) (*Hub, *httptest.Server, *indexRecorder) {
	t.Helper()
	if rec == nil {
		rec = &saveRecorder{}
	}
	idx := &indexRecorder{}
	saver := NewSaver(20*time.Millisecond, rec.save)
	hub := NewHub(newFakeDocs(), saver, idx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := testUsers[r.URL.Query().Get("as")]
		if !ok {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, user)
	}))
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)
	return hub, server, idx
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?as=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial as %s: %v", userID, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	payload, err := marshalEvent(event, data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// waitFor reads events until one matches, skipping the rest.
func waitFor(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Event == event {
			return env.Data
		}
	}
	t.Fatalf("timed out waiting for %s", event)
	return nil
}

func join(t *testing.T, conn *websocket.Conn, documentID string) {
	t.Helper()
	send(t, conn, "join-document", map[string]string{"documentId": documentID})
	waitFor(t, conn, "document-users-updated")
}

func TestConnectHandshake(t *testing.T) {
	_, server, _ := newTestHub(t, nil)
	conn := dial(t, server, "usr_1")

	data := waitFor(t, conn, "connected")
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode connected: %v", err)
	}
	if payload.UserID != "usr_1" {
		t.Errorf("expected usr_1, got %s", payload.UserID)
	}
}

func TestJoinPresence(t *testing.T) {
	_, server, _ := newTestHub(t, nil)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	send(t, editor, "join-document", map[string]string{"documentId": "doc_1"})

	// Existing client hears about the newcomer.
	data := waitFor(t, owner, "user-joined")
	var joined struct {
		User PresenceUser `json:"user"`
	}
	if err := json.Unmarshal(data, &joined); err != nil {
		t.Fatalf("decode user-joined: %v", err)
	}
	if joined.User.ID != "usr_2" || joined.User.Color == "" {
		t.Errorf("unexpected user-joined payload: %+v", joined.User)
	}

	// Both get the updated roster.
	data = waitFor(t, editor, "document-users-updated")
	var roster struct {
		Users []PresenceUser `json:"users"`
	}
	if err := json.Unmarshal(data, &roster); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	if len(roster.Users) != 2 {
		t.Errorf("expected 2 users in roster, got %d", len(roster.Users))
	}
}

func TestJoinDeniedForOutsider(t *testing.T) {
	_, server, _ := newTestHub(t, nil)

	outsider := dial(t, server, "usr_3")
	waitFor(t, outsider, "connected")
	send(t, outsider, "join-document", map[string]string{"documentId": "doc_1"})

	data := waitFor(t, outsider, "error")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Message != "access denied" {
		t.Errorf("expected access denied, got %q", payload.Message)
	}
}

func TestDocumentChangeRelaysAndSaves(t *testing.T) {
	rec := &saveRecorder{}
	_, server, _ := newTestHub(t, rec)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "document-change", map[string]string{
		"documentId": "doc_1",
		"content":    "<p>edited</p>",
	})

	data := waitFor(t, owner, "document-updated")
	var payload struct {
		DocumentID string `json:"documentId"`
		Content    string `json:"content"`
		UpdatedBy  string `json:"updatedBy"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode document-updated: %v", err)
	}
	if payload.Content != "<p>edited</p>" || payload.UpdatedBy != "usr_2" {
		t.Errorf("unexpected relay payload: %+v", payload)
	}

	// The debounced save lands after the quiet window.
	time.Sleep(100 * time.Millisecond)
	saves := rec.all()
	if len(saves) != 1 || saves[0].content != "<p>edited</p>" {
		t.Fatalf("expected one save of edited content, got %+v", saves)
	}
}

func TestViewerCannotEdit(t *testing.T) {
	rec := &saveRecorder{}
	_, server, _ := newTestHub(t, rec)

	viewer := dial(t, server, "usr_4")
	waitFor(t, viewer, "connected")
	join(t, viewer, "doc_1")

	send(t, viewer, "document-change", map[string]string{
		"documentId": "doc_1",
		"content":    "<p>sneaky</p>",
	})

	waitFor(t, viewer, "error")
	time.Sleep(80 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Error("viewer edit should not be saved")
	}
}

func TestCursorRelay(t *testing.T) {
	_, server, _ := newTestHub(t, nil)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "cursor-position", map[string]interface{}{
		"documentId": "doc_1",
		"position":   map[string]int{"from": 10, "to": 14},
	})

	data := waitFor(t, owner, "cursor-position")
	var payload struct {
		UserID   string `json:"userId"`
		UserName string `json:"userName"`
		Color    string `json:"color"`
		Position struct {
			From int `json:"from"`
			To   int `json:"to"`
		} `json:"position"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if payload.UserID != "usr_2" || payload.Position.From != 10 {
		t.Errorf("unexpected cursor payload: %+v", payload)
	}
}

func TestCommentsOverWebsocket(t *testing.T) {
	_, server, _ := newTestHub(t, nil)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "add-comment", map[string]interface{}{
		"documentId": "doc_1",
		"content":    "needs a summary",
		"selection":  map[string]interface{}{"from": 3, "to": 8},
	})

	data := waitFor(t, owner, "comment-added")
	var added struct {
		Comment store.Comment `json:"comment"`
	}
	if err := json.Unmarshal(data, &added); err != nil {
		t.Fatalf("decode comment-added: %v", err)
	}
	if added.Comment.Content != "needs a summary" || added.Comment.UserID != "usr_2" {
		t.Errorf("unexpected comment: %+v", added.Comment)
	}
	if added.Comment.ID == "" {
		t.Error("expected server-issued comment ID")
	}

	send(t, owner, "resolve-comment", map[string]string{
		"documentId": "doc_1",
		"commentId":  added.Comment.ID,
	})

	data = waitFor(t, editor, "comment-resolved")
	var resolved struct {
		CommentID  string `json:"commentId"`
		ResolvedBy string `json:"resolvedBy"`
	}
	if err := json.Unmarshal(data, &resolved); err != nil {
		t.Fatalf("decode comment-resolved: %v", err)
	}
	if resolved.CommentID != added.Comment.ID || resolved.ResolvedBy != "usr_1" {
		t.Errorf("unexpected resolve payload: %+v", resolved)
	}
}

func TestDisconnectFlushesPendingSave(t *testing.T) {
	rec := &saveRecorder{}
	saver := NewSaver(time.Hour, rec.save)
	hub := NewHub(newFakeDocs(), saver, nil)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, testUsers["usr_1"])
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitFor(t, conn, "connected")
	send(t, conn, "join-document", map[string]string{"documentId": "doc_1"})
	waitFor(t, conn, "document-users-updated")
	send(t, conn, "document-change", map[string]string{
		"documentId": "doc_1",
		"content":    "<p>unsaved</p>",
	})

	// Give the hub time to queue the save, then drop the connection.
	deadline := time.Now().Add(time.Second)
	for !saver.Pending("doc_1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	conn.Close()

	deadline = time.Now().Add(time.Second)
	for len(rec.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	saves := rec.all()
	if len(saves) != 1 || saves[0].content != "<p>unsaved</p>" {
		t.Fatalf("expected disconnect to flush pending save, got %+v", saves)
	}
}

// The browser client sends the new body under "change"; it must be
// relayed and persisted, never read as an empty document.
func TestDocumentChangeAcceptsChangeKey(t *testing.T) {
	rec := &saveRecorder{}
	_, server, _ := newTestHub(t, rec)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "document-change", map[string]interface{}{
		"documentId": "doc_1",
		"change":     "<p>via change key</p>",
		"userId":     "usr_2",
		"timestamp":  1700000000000,
	})

	data := waitFor(t, owner, "document-updated")
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode document-updated: %v", err)
	}
	if payload.Content != "<p>via change key</p>" {
		t.Errorf("expected relayed body, got %q", payload.Content)
	}

	time.Sleep(100 * time.Millisecond)
	saves := rec.all()
	if len(saves) != 1 || saves[0].content != "<p>via change key</p>" {
		t.Fatalf("expected the change body to be saved, got %+v", saves)
	}
}

func TestDocumentChangeWithoutBodyRejected(t *testing.T) {
	rec := &saveRecorder{}
	_, server, _ := newTestHub(t, rec)

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "document-change", map[string]string{
		"documentId": "doc_1",
	})

	data := waitFor(t, editor, "error")
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if payload.Message != "change is required" {
		t.Errorf("expected change is required, got %q", payload.Message)
	}

	time.Sleep(80 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Error("empty change must not be saved")
	}
}

// The browser client nests the comment object under "comment".
func TestAddCommentNestedShape(t *testing.T) {
	_, server, idx := newTestHub(t, nil)

	owner := dial(t, server, "usr_1")
	waitFor(t, owner, "connected")
	join(t, owner, "doc_1")

	editor := dial(t, server, "usr_2")
	waitFor(t, editor, "connected")
	join(t, editor, "doc_1")

	send(t, editor, "add-comment", map[string]interface{}{
		"documentId": "doc_1",
		"comment": map[string]interface{}{
			"text":         "tighten this paragraph",
			"selectedText": "lorem ipsum",
			"userId":       "usr_2",
			"userName":     "Jane Smith",
			"timestamp":    1700000000000,
		},
	})

	data := waitFor(t, owner, "comment-added")
	var added struct {
		Comment store.Comment `json:"comment"`
	}
	if err := json.Unmarshal(data, &added); err != nil {
		t.Fatalf("decode comment-added: %v", err)
	}
	if added.Comment.Content != "tighten this paragraph" || added.Comment.UserID != "usr_2" {
		t.Errorf("unexpected comment: %+v", added.Comment)
	}
	if added.Comment.Selection == nil || added.Comment.Selection.Text != "lorem ipsum" {
		t.Errorf("expected selection carried over, got %+v", added.Comment.Selection)
	}

	records := idx.all()
	if len(records) != 1 {
		t.Fatalf("expected 1 indexed comment, got %d", len(records))
	}
	if records[0].ID != added.Comment.ID || records[0].DocumentID != "doc_1" {
		t.Errorf("unexpected index record: %+v", records[0])
	}
	if len(records[0].UserIDs) != 3 {
		t.Errorf("expected the document access list on the record, got %v", records[0].UserIDs)
	}
}
