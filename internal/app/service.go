package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"flowdesk/api/internal/auth"
	"flowdesk/api/internal/authpw"
	"flowdesk/api/internal/config"
	"flowdesk/api/internal/email"
	"flowdesk/api/internal/export"
	"flowdesk/api/internal/history"
	"flowdesk/api/internal/search"
	"flowdesk/api/internal/store"
	"flowdesk/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	UserEmail    string
	UserColor    string
	JTI          string
	ExpiresAt    time.Time
}

// DataStore is the slice of the data store the application layer uses.
// store.Memory and store.Postgres both implement it.
type DataStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateUser(ctx context.Context, user store.User) (store.User, error)

	ListDocuments(ctx context.Context) ([]store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	InsertDocument(ctx context.Context, doc store.Document) error
	UpdateDocument(ctx context.Context, id string, title, content *string) (store.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	AddCollaborator(ctx context.Context, documentID string, collab store.Collaborator) error
	UpdateCollaboratorPermission(ctx context.Context, documentID, userID, permission string) (bool, error)
	RemoveCollaborator(ctx context.Context, documentID, userID string) error

	InsertComment(ctx context.Context, documentID string, comment store.Comment) error
	GetComment(ctx context.Context, documentID, commentID string) (store.Comment, error)
	UpdateCommentContent(ctx context.Context, documentID, commentID, content string) (store.Comment, error)
	DeleteComment(ctx context.Context, documentID, commentID string) error
	ResolveComment(ctx context.Context, documentID, commentID string) (store.Comment, error)
	InsertReply(ctx context.Context, documentID, commentID string, reply store.Reply) (store.Comment, error)

	ListDeals(ctx context.Context) ([]store.Deal, error)
	GetDeal(ctx context.Context, id int) (store.Deal, error)
	CreateDeal(ctx context.Context, deal store.Deal) (store.Deal, error)
	UpdateDeal(ctx context.Context, deal store.Deal) (store.Deal, error)
	UpdateDealStage(ctx context.Context, id int, stage string) (store.Deal, error)
	DeleteDeal(ctx context.Context, id int) error

	ListStages(ctx context.Context) ([]store.Stage, error)
	GetStage(ctx context.Context, id string) (store.Stage, error)
	CreateStage(ctx context.Context, stage store.Stage) (store.Stage, error)
	UpdateStage(ctx context.Context, stage store.Stage) (store.Stage, error)
	DeleteStage(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// SessionStore holds refresh sessions and the revocation list. The data
// store covers it by default; Redis takes over when configured.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type Service struct {
	cfg      config.Config
	store    DataStore
	sessions SessionStore
	accounts *authpw.Service
	search   *search.Service
	export   *export.Service
	history  *history.Service
	email    *email.Service
}

func New(cfg config.Config, data DataStore, sessions SessionStore, accounts *authpw.Service, searchSvc *search.Service, exportSvc *export.Service, historySvc *history.Service, emailSvc *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    data,
		sessions: sessions,
		accounts: accounts,
		search:   searchSvc,
		export:   exportSvc,
		history:  historySvc,
		email:    emailSvc,
	}
}

// Bootstrap brings the side systems in line with the data store: every
// document gets a history repo and the search indexes are rebuilt.
// Safe to run on every boot.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range documents {
		owner, err := s.store.GetUserByID(ctx, doc.OwnerID)
		if err != nil {
			return err
		}
		if err := s.history.EnsureDocumentRepo(doc.ID, history.Content{
			Title:   doc.Title,
			Body:    doc.Content,
			Version: doc.Version,
		}, owner.Name); err != nil {
			return err
		}
	}

	if data, ok := s.store.(search.DataSource); ok {
		s.search.ReindexAll(ctx, data)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, name, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignUp(ctx, authpw.SignUpRequest{
		Name:     name,
		Email:    emailAddr,
		Password: password,
	})
	if err != nil {
		return Session{}, mapAccountError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, mapAccountError(err)
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the old one is revoked and a whole
// new session is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session backend may hold a stale profile snapshot.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		UserEmail:    user.Email,
		UserColor:    user.Color,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		UserEmail: user.Email,
		UserColor: user.Color,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

type UpdateProfileInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input UpdateProfileInput) (map[string]any, error) {
	user, err := s.accounts.UpdateProfile(ctx, authpw.UpdateProfileRequest{
		UserID:          session.UserID,
		Name:            input.Name,
		Email:           input.Email,
		CurrentPassword: input.CurrentPassword,
		NewPassword:     input.NewPassword,
	})
	if err != nil {
		return nil, mapAccountError(err)
	}
	return userPayload(user), nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func mapAccountError(err error) error {
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "An account with that email already exists", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrWrongPassword):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Current password is incorrect", nil)
	case errors.Is(err, authpw.ErrWeakPassword):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Password must be at least 8 characters", nil)
	case errors.Is(err, authpw.ErrMissingFields):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Name, email and password are required", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "An account with that email already exists", nil)
	default:
		return err
	}
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
		"color": user.Color,
	}
}

// exportSource adapts the data store to what the export service needs.
type exportSource struct {
	store DataStore
}

func NewExportSource(data DataStore) export.DataStore {
	return exportSource{store: data}
}

func (e exportSource) GetDocumentForExport(ctx context.Context, id string) (export.DocumentInfo, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return export.DocumentInfo{}, err
	}
	ownerName := ""
	if owner, err := e.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		ownerName = owner.Name
	}

	comments := make([]export.CommentInfo, 0, len(doc.Comments))
	for _, comment := range doc.Comments {
		replies := make([]export.ReplyInfo, 0, len(comment.Replies))
		for _, reply := range comment.Replies {
			replies = append(replies, export.ReplyInfo{Author: reply.UserName, Content: reply.Content})
		}
		comments = append(comments, export.CommentInfo{
			Author:   comment.UserName,
			Content:  comment.Content,
			Resolved: comment.Resolved,
			Replies:  replies,
		})
	}

	return export.DocumentInfo{
		ID:        doc.ID,
		Title:     doc.Title,
		Content:   doc.Content,
		OwnerName: ownerName,
		UpdatedAt: doc.UpdatedAt,
		Comments:  comments,
	}, nil
}

// SaveDocumentContent is the saver callback behind the realtime editor.
// Failures are logged, not surfaced; there is no client left to tell.
func (s *Service) SaveDocumentContent(documentID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	doc, err := s.store.UpdateDocument(ctx, documentID, nil, &content)
	if err != nil {
		log.Printf("save document %s: %v", documentID, err)
		return
	}

	owner := doc.OwnerID
	if user, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		owner = user.Name
	}
	if _, err := s.history.Commit(documentID, history.Content{
		Title:   doc.Title,
		Body:    doc.Content,
		Version: doc.Version,
	}, owner, "Autosave edits"); err != nil {
		log.Printf("history commit %s: %v", documentID, err)
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
		OwnerID: doc.OwnerID,
		UserIDs: search.AccessUserIDs(doc),
	})
}
