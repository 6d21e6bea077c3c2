package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the default data store. It keeps everything behind one lock and
// hands out copies so callers can never mutate shared state. The same
// method set is implemented by Postgres, so consumers only ever see the
// interfaces they declare.
type Memory struct {
	mu sync.RWMutex

	users     map[string]User
	documents map[string]*Document
	deals     map[int]Deal
	stages    map[string]Stage

	// document insertion order, so listings stay stable
	documentOrder []string

	nextDealID int

	refreshSessions map[string]refreshSession
	revokedTokens   map[string]time.Time
}

type refreshSession struct {
	userID    string
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:           make(map[string]User),
		documents:       make(map[string]*Document),
		deals:           make(map[int]Deal),
		stages:          make(map[string]Stage),
		nextDealID:      1,
		refreshSessions: make(map[string]refreshSession),
		revokedTokens:   make(map[string]time.Time),
	}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

// Users

func (m *Memory) CreateUser(ctx context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *Memory) GetUserByID(ctx context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) GetUserByEmail(ctx context.Context, email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, user := range m.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) UpdateUser(ctx context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	for id, other := range m.users {
		if id != user.ID && strings.EqualFold(other.Email, user.Email) {
			return User{}, ErrConflict
		}
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

// Documents

func (m *Memory) ListDocuments(ctx context.Context) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Document, 0, len(m.documentOrder))
	for _, id := range m.documentOrder {
		if doc, ok := m.documents[id]; ok {
			items = append(items, copyDocument(doc))
		}
	}
	return items, nil
}

func (m *Memory) GetDocument(ctx context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *Memory) InsertDocument(ctx context.Context, doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[doc.ID]; exists {
		return ErrConflict
	}
	stored := copyDocument(&doc)
	m.documents[doc.ID] = &stored
	m.documentOrder = append(m.documentOrder, doc.ID)
	return nil
}

// UpdateDocument applies a partial update. Every committed update bumps the
// version counter and the updated-at timestamp.
func (m *Memory) UpdateDocument(ctx context.Context, id string, title, content *string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	if title != nil {
		doc.Title = *title
	}
	if content != nil {
		doc.Content = *content
	}
	doc.Version++
	doc.UpdatedAt = time.Now()
	return copyDocument(doc), nil
}

func (m *Memory) DeleteDocument(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return ErrNotFound
	}
	delete(m.documents, id)
	for i, docID := range m.documentOrder {
		if docID == id {
			m.documentOrder = append(m.documentOrder[:i], m.documentOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Collaborators

func (m *Memory) AddCollaborator(ctx context.Context, documentID string, collab Collaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range doc.Collaborators {
		if existing.UserID == collab.UserID {
			return ErrConflict
		}
	}
	doc.Collaborators = append(doc.Collaborators, collab)
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateCollaboratorPermission(ctx context.Context, documentID, userID, permission string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return false, ErrNotFound
	}
	for i := range doc.Collaborators {
		if doc.Collaborators[i].UserID == userID {
			doc.Collaborators[i].Permission = permission
			doc.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) RemoveCollaborator(ctx context.Context, documentID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	filtered := doc.Collaborators[:0]
	for _, collab := range doc.Collaborators {
		if collab.UserID != userID {
			filtered = append(filtered, collab)
		}
	}
	doc.Collaborators = filtered
	doc.UpdatedAt = time.Now()
	return nil
}

// Comments

func (m *Memory) InsertComment(ctx context.Context, documentID string, comment Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	doc.Comments = append(doc.Comments, comment)
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) GetComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	for _, comment := range doc.Comments {
		if comment.ID == commentID {
			return copyComment(comment), nil
		}
	}
	return Comment{}, ErrNotFound
}

func (m *Memory) UpdateCommentContent(ctx context.Context, documentID, commentID, content string) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments[i].Content = content
			doc.UpdatedAt = time.Now()
			return copyComment(doc.Comments[i]), nil
		}
	}
	return Comment{}, ErrNotFound
}

func (m *Memory) DeleteComment(ctx context.Context, documentID, commentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return ErrNotFound
	}
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments = append(doc.Comments[:i], doc.Comments[i+1:]...)
			doc.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

// ResolveComment marks a whole thread resolved. Replies cannot be resolved
// independently.
func (m *Memory) ResolveComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			now := time.Now()
			doc.Comments[i].Resolved = true
			doc.Comments[i].ResolvedAt = &now
			doc.UpdatedAt = now
			return copyComment(doc.Comments[i]), nil
		}
	}
	return Comment{}, ErrNotFound
}

func (m *Memory) InsertReply(ctx context.Context, documentID, commentID string, reply Reply) (Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[documentID]
	if !ok {
		return Comment{}, ErrNotFound
	}
	for i := range doc.Comments {
		if doc.Comments[i].ID == commentID {
			doc.Comments[i].Replies = append(doc.Comments[i].Replies, reply)
			doc.UpdatedAt = time.Now()
			return copyComment(doc.Comments[i]), nil
		}
	}
	return Comment{}, ErrNotFound
}

// Deals

func (m *Memory) ListDeals(ctx context.Context) ([]Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Deal, 0, len(m.deals))
	for _, deal := range m.deals {
		items = append(items, deal)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *Memory) GetDeal(ctx context.Context, id int) (Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deal, ok := m.deals[id]
	if !ok {
		return Deal{}, ErrNotFound
	}
	return deal, nil
}

func (m *Memory) CreateDeal(ctx context.Context, deal Deal) (Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal.ID = m.nextDealID
	m.nextDealID++
	now := time.Now()
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = now
	}
	deal.LastModified = now
	m.deals[deal.ID] = deal
	return deal, nil
}

func (m *Memory) UpdateDeal(ctx context.Context, deal Deal) (Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.deals[deal.ID]
	if !ok {
		return Deal{}, ErrNotFound
	}
	deal.CreatedAt = existing.CreatedAt
	deal.LastModified = time.Now()
	m.deals[deal.ID] = deal
	return deal, nil
}

func (m *Memory) UpdateDealStage(ctx context.Context, id int, stage string) (Deal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deal, ok := m.deals[id]
	if !ok {
		return Deal{}, ErrNotFound
	}
	deal.Stage = stage
	deal.LastModified = time.Now()
	m.deals[id] = deal
	return deal, nil
}

func (m *Memory) DeleteDeal(ctx context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.deals[id]; !ok {
		return ErrNotFound
	}
	delete(m.deals, id)
	return nil
}

// Stages

func (m *Memory) ListStages(ctx context.Context) ([]Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]Stage, 0, len(m.stages))
	for _, stage := range m.stages {
		items = append(items, stage)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	return items, nil
}

func (m *Memory) GetStage(ctx context.Context, id string) (Stage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stage, ok := m.stages[id]
	if !ok {
		return Stage{}, ErrNotFound
	}
	return stage, nil
}

func (m *Memory) CreateStage(ctx context.Context, stage Stage) (Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stage.Order == 0 {
		maxOrder := 0
		for _, existing := range m.stages {
			if existing.Order > maxOrder {
				maxOrder = existing.Order
			}
		}
		stage.Order = maxOrder + 1
	}
	m.stages[stage.ID] = stage
	return stage, nil
}

func (m *Memory) UpdateStage(ctx context.Context, stage Stage) (Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[stage.ID]; !ok {
		return Stage{}, ErrNotFound
	}
	m.stages[stage.ID] = stage
	return stage, nil
}

func (m *Memory) DeleteStage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stages[id]; !ok {
		return ErrNotFound
	}
	delete(m.stages, id)
	return nil
}

// Refresh sessions and token revocation

func (m *Memory) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshSessions[tokenHash] = refreshSession{userID: user.ID, expiresAt: expiresAt}
	return nil
}

func (m *Memory) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.refreshSessions[tokenHash]
	if !ok || time.Now().After(session.expiresAt) {
		return User{}, ErrNotFound
	}
	user, ok := m.users[session.userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refreshSessions, tokenHash)
	return nil
}

func (m *Memory) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokedTokens[jti] = expiresAt
	return nil
}

func (m *Memory) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	expiresAt, ok := m.revokedTokens[jti]
	if !ok {
		return false, nil
	}
	return time.Now().Before(expiresAt), nil
}

func copyDocument(doc *Document) Document {
	out := *doc
	out.Collaborators = append([]Collaborator(nil), doc.Collaborators...)
	out.Comments = make([]Comment, len(doc.Comments))
	for i, comment := range doc.Comments {
		out.Comments[i] = copyComment(comment)
	}
	return out
}

func copyComment(comment Comment) Comment {
	out := comment
	out.Replies = append([]Reply(nil), comment.Replies...)
	if comment.Selection != nil {
		selection := *comment.Selection
		out.Selection = &selection
	}
	return out
}
