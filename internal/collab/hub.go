// Package collab runs the realtime collaboration hub: document rooms,
// presence, cursor relay, live comments, and debounced persistence of
// editor changes.
package collab

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"flowdesk/api/internal/rbac"
	"flowdesk/api/internal/search"
	"flowdesk/api/internal/store"
	"flowdesk/api/internal/util"
)

// DocumentStore is the slice of the data store the hub needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	InsertComment(ctx context.Context, documentID string, comment store.Comment) error
	ResolveComment(ctx context.Context, documentID, commentID string) (store.Comment, error)
}

// CommentIndexer pushes comments created over the websocket into the
// search index, keeping them searchable without waiting for a reindex.
type CommentIndexer interface {
	IndexComment(c search.CommentRecord)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Token auth happens before the upgrade; the browser client connects
	// from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub tracks document rooms and routes events between their clients.
type Hub struct {
	store DocumentStore
	saver *Saver
	index CommentIndexer

	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

// NewHub creates a hub. The saver owns change persistence; the hub
// flushes it when editors leave. index may be nil.
func NewHub(docs DocumentStore, saver *Saver, index CommentIndexer) *Hub {
	return &Hub{
		store: docs,
		saver: saver,
		index: index,
		rooms: make(map[string]map[*Client]bool),
	}
}

// ServeWS upgrades the connection and starts the client pumps. The
// caller has already authenticated the user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user store.User) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("collab: upgrade: %v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		user: user,
	}

	go client.writePump()
	client.sendEvent("connected", map[string]string{"userId": user.ID})
	go client.readPump()
}

// Close flushes all pending saves. Called on server shutdown.
func (h *Hub) Close() {
	h.saver.Close()
}

func (h *Hub) handle(c *Client, env Envelope) {
	switch env.Event {
	case "join-document":
		h.handleJoin(c, env.Data)
	case "leave-document":
		h.handleLeave(c)
	case "document-change":
		h.handleChange(c, env.Data)
	case "cursor-position":
		h.handleCursor(c, env.Data)
	case "add-comment":
		h.handleAddComment(c, env.Data)
	case "resolve-comment":
		h.handleResolveComment(c, env.Data)
	default:
		c.sendError("unknown event: " + env.Event)
	}
}

type joinPayload struct {
	DocumentID string `json:"documentId"`
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var payload joinPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.DocumentID == "" {
		c.sendError("documentId is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := h.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		c.sendError("document not found")
		return
	}
	if !rbac.Can(permissionFor(doc, c.user.ID), rbac.ActionView) {
		c.sendError("access denied")
		return
	}

	if c.documentID != "" && c.documentID != payload.DocumentID {
		h.handleLeave(c)
	}

	h.mu.Lock()
	room := h.rooms[payload.DocumentID]
	if room == nil {
		room = make(map[*Client]bool)
		h.rooms[payload.DocumentID] = room
	}
	room[c] = true
	h.mu.Unlock()
	c.documentID = payload.DocumentID

	h.broadcast(payload.DocumentID, "user-joined", map[string]interface{}{
		"user": presenceUser(c.user),
	}, c)
	h.broadcastPresence(payload.DocumentID)
}

func (h *Hub) handleLeave(c *Client) {
	if c.documentID == "" {
		return
	}
	documentID := c.documentID
	c.documentID = ""
	h.removeFromRoom(c, documentID)
}

// unregister tears the client down when its connection drops.
func (h *Hub) unregister(c *Client) {
	documentID := c.documentID
	c.documentID = ""
	if documentID != "" {
		h.removeFromRoom(c, documentID)
	}
	close(c.send)
}

func (h *Hub) removeFromRoom(c *Client, documentID string) {
	h.mu.Lock()
	room := h.rooms[documentID]
	delete(room, c)
	empty := len(room) == 0
	if empty {
		delete(h.rooms, documentID)
	}
	h.mu.Unlock()

	// Pending edits must not outlive the editing session.
	h.saver.Flush(documentID)

	h.broadcast(documentID, "user-left", map[string]string{"userId": c.user.ID}, nil)
	if !empty {
		h.broadcastPresence(documentID)
	}
}

// changePayload accepts the body under either key: the browser client
// sends "change", the HTTP-era shape used "content".
type changePayload struct {
	DocumentID string `json:"documentId"`
	Change     string `json:"change"`
	Content    string `json:"content"`
}

func (p changePayload) body() string {
	if p.Change != "" {
		return p.Change
	}
	return p.Content
}

func (h *Hub) handleChange(c *Client, data json.RawMessage) {
	var payload changePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.DocumentID == "" {
		c.sendError("invalid document-change payload")
		return
	}
	content := payload.body()
	if content == "" {
		// An empty body would wipe the document on the next save.
		c.sendError("change is required")
		return
	}
	if c.documentID != payload.DocumentID {
		c.sendError("join the document before editing")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := h.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		c.sendError("document not found")
		return
	}
	if !rbac.Can(permissionFor(doc, c.user.ID), rbac.ActionEdit) {
		c.sendError("access denied")
		return
	}

	// Whole-content replace, last write wins. Persistence is debounced;
	// the relay to other editors is immediate.
	h.saver.Queue(payload.DocumentID, content)
	h.broadcast(payload.DocumentID, "document-updated", map[string]interface{}{
		"documentId": payload.DocumentID,
		"content":    content,
		"updatedBy":  c.user.ID,
	}, c)
}

type cursorPayload struct {
	DocumentID string          `json:"documentId"`
	Position   json.RawMessage `json:"position"`
}

func (h *Hub) handleCursor(c *Client, data json.RawMessage) {
	var payload cursorPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.DocumentID == "" {
		c.sendError("invalid cursor-position payload")
		return
	}
	if c.documentID != payload.DocumentID {
		return
	}

	// Cursors are transient: relayed to everyone else, never stored.
	h.broadcast(payload.DocumentID, "cursor-position", map[string]interface{}{
		"userId":   c.user.ID,
		"userName": c.user.Name,
		"color":    c.user.Color,
		"position": payload.Position,
	}, c)
}

// addCommentPayload accepts both shapes: the browser client nests the
// comment object ({documentId, comment: {text, selectedText}}), the
// flat shape mirrors the HTTP endpoint.
type addCommentPayload struct {
	DocumentID string           `json:"documentId"`
	Content    string           `json:"content"`
	Selection  *store.Selection `json:"selection"`
	Comment    *struct {
		Text         string `json:"text"`
		Content      string `json:"content"`
		SelectedText string `json:"selectedText"`
	} `json:"comment"`
}

func (p *addCommentPayload) normalize() {
	if p.Comment == nil {
		return
	}
	if p.Content == "" {
		p.Content = p.Comment.Text
	}
	if p.Content == "" {
		p.Content = p.Comment.Content
	}
	if p.Selection == nil && p.Comment.SelectedText != "" {
		p.Selection = &store.Selection{Text: p.Comment.SelectedText}
	}
}

func (h *Hub) handleAddComment(c *Client, data json.RawMessage) {
	var payload addCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("invalid add-comment payload")
		return
	}
	payload.normalize()
	if payload.DocumentID == "" || payload.Content == "" {
		c.sendError("invalid add-comment payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := h.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		c.sendError("document not found")
		return
	}
	if !rbac.Can(permissionFor(doc, c.user.ID), rbac.ActionComment) {
		c.sendError("access denied")
		return
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: payload.DocumentID,
		UserID:     c.user.ID,
		UserName:   c.user.Name,
		Content:    payload.Content,
		Selection:  payload.Selection,
		CreatedAt:  time.Now(),
	}
	if err := h.store.InsertComment(ctx, payload.DocumentID, comment); err != nil {
		c.sendError("could not save comment")
		return
	}

	if h.index != nil {
		h.index.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			Content:    comment.Content,
			UserName:   comment.UserName,
			DocumentID: payload.DocumentID,
			UserIDs:    search.AccessUserIDs(doc),
		})
	}

	h.broadcast(payload.DocumentID, "comment-added", map[string]interface{}{
		"comment": comment,
	}, nil)
}

type resolveCommentPayload struct {
	DocumentID string `json:"documentId"`
	CommentID  string `json:"commentId"`
}

func (h *Hub) handleResolveComment(c *Client, data json.RawMessage) {
	var payload resolveCommentPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.DocumentID == "" || payload.CommentID == "" {
		c.sendError("invalid resolve-comment payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	doc, err := h.store.GetDocument(ctx, payload.DocumentID)
	if err != nil {
		c.sendError("document not found")
		return
	}
	if !rbac.Can(permissionFor(doc, c.user.ID), rbac.ActionComment) {
		c.sendError("access denied")
		return
	}

	comment, err := h.store.ResolveComment(ctx, payload.DocumentID, payload.CommentID)
	if err != nil {
		c.sendError("comment not found")
		return
	}

	h.broadcast(payload.DocumentID, "comment-resolved", map[string]interface{}{
		"commentId":  comment.ID,
		"resolvedBy": c.user.ID,
	}, nil)
}

// broadcast sends an event to every client in a room, except the one
// given (nil means everyone).
func (h *Hub) broadcast(documentID, event string, data interface{}, except *Client) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		log.Printf("collab: marshal %s: %v", event, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.rooms[documentID] {
		if client == except {
			continue
		}
		select {
		case client.send <- payload:
		default:
			log.Printf("collab: dropping %s for slow client %s", event, client.user.ID)
		}
	}
}

func permissionFor(doc store.Document, userID string) rbac.Permission {
	if doc.OwnerID == userID {
		return rbac.PermissionOwner
	}
	for _, collab := range doc.Collaborators {
		if collab.UserID == userID {
			return rbac.Normalize(collab.Permission)
		}
	}
	return ""
}
