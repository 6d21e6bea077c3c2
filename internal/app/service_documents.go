package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"flowdesk/api/internal/email"
	"flowdesk/api/internal/export"
	"flowdesk/api/internal/history"
	"flowdesk/api/internal/rbac"
	"flowdesk/api/internal/search"
	"flowdesk/api/internal/store"
	"flowdesk/api/internal/util"
)

// ListDocuments returns the documents visible to the session user.
// filter narrows the list to "owned" or "shared"; anything else means all.
func (s *Service) ListDocuments(ctx context.Context, session Session, filter string) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		permission := permissionFor(doc, session.UserID)
		if permission == "" {
			continue
		}
		owned := doc.OwnerID == session.UserID
		if filter == "owned" && !owned {
			continue
		}
		if filter == "shared" && owned {
			continue
		}
		items = append(items, s.documentSummary(ctx, doc, permission))
	}
	return items, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	permission := permissionFor(doc, session.UserID)
	if !rbac.Can(permission, rbac.ActionView) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this document", nil)
	}
	return s.documentPayload(ctx, doc, permission), nil
}

// CreateDocument creates a document owned by the session user. The ID is
// issued here, never taken from the client.
func (s *Service) CreateDocument(ctx context.Context, session Session, title, content string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Document"
	}

	now := time.Now()
	doc := store.Document{
		ID:        util.NewID("doc"),
		Title:     title,
		Content:   content,
		OwnerID:   session.UserID,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.history.EnsureDocumentRepo(doc.ID, history.Content{
		Title:   doc.Title,
		Body:    doc.Content,
		Version: doc.Version,
	}, session.UserName); err != nil {
		log.Printf("history repo for %s: %v", doc.ID, err)
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
		OwnerID: doc.OwnerID,
		UserIDs: search.AccessUserIDs(doc),
	})

	return s.documentPayload(ctx, doc, rbac.PermissionOwner), nil
}

// UpdateDocument applies a partial title/content update. Content updates
// replace the whole body; the last writer wins.
func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, title, content *string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	permission := permissionFor(doc, session.UserID)
	if !rbac.Can(permission, rbac.ActionEdit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have edit access to this document", nil)
	}
	if title != nil && strings.TrimSpace(*title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Title cannot be empty", nil)
	}

	updated, err := s.store.UpdateDocument(ctx, documentID, title, content)
	if err != nil {
		return nil, err
	}

	message := "Update content"
	if title != nil && content == nil {
		message = "Rename document"
	}
	if _, err := s.history.Commit(documentID, history.Content{
		Title:   updated.Title,
		Body:    updated.Content,
		Version: updated.Version,
	}, session.UserName, message); err != nil {
		log.Printf("history commit %s: %v", documentID, err)
	}

	s.search.IndexDocument(search.DocumentRecord{
		ID:      updated.ID,
		Title:   updated.Title,
		Content: updated.Content,
		OwnerID: updated.OwnerID,
		UserIDs: search.AccessUserIDs(updated),
	})

	return s.documentPayload(ctx, updated, permission), nil
}

// DeleteDocument removes a document and everything hanging off it. Only
// the owner can delete.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionManage) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can delete a document", nil)
	}

	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}

	if err := s.history.DeleteDocumentRepo(documentID); err != nil {
		log.Printf("delete history repo %s: %v", documentID, err)
	}
	s.search.DeleteDocument(documentID)
	for _, comment := range doc.Comments {
		s.search.DeleteComment(comment.ID)
	}
	return nil
}

// Collaborators

func (s *Service) AddCollaborator(ctx context.Context, session Session, documentID, emailAddr, permission string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionShare) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can share a document", nil)
	}

	normalized, err := collaboratorPermission(permission)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(emailAddr))
	if err != nil {
		return nil, domainError(http.StatusNotFound, "USER_NOT_FOUND", "No account with that email", nil)
	}
	if user.ID == doc.OwnerID {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "The owner is already on the document", nil)
	}

	collab := store.Collaborator{
		UserID:     user.ID,
		Permission: string(normalized),
		AddedAt:    time.Now(),
	}
	if err := s.store.AddCollaborator(ctx, documentID, collab); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "COLLABORATOR_EXISTS", "That user is already a collaborator", nil)
		}
		return nil, err
	}

	if s.email.IsConfigured() {
		go s.notifyShare(user, session.UserName, doc, string(normalized))
	}
	s.reindexDocumentAccess(ctx, documentID)

	return collaboratorPayload(collab, user), nil
}

// UpdateCollaboratorPermission changes a collaborator's permission.
// Owner only; editors cannot escalate anyone, including themselves.
func (s *Service) UpdateCollaboratorPermission(ctx context.Context, session Session, documentID, userID, permission string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionManage) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can change permissions", nil)
	}

	normalized, err := collaboratorPermission(permission)
	if err != nil {
		return nil, err
	}

	found, err := s.store.UpdateCollaboratorPermission(ctx, documentID, userID, string(normalized))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Collaborator not found", nil)
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return collaboratorPayload(store.Collaborator{UserID: userID, Permission: string(normalized)}, user), nil
}

// RemoveCollaborator removes a collaborator. The owner can remove
// anyone; a collaborator can remove themselves.
func (s *Service) RemoveCollaborator(ctx context.Context, session Session, documentID, userID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	isOwner := rbac.Can(permissionFor(doc, session.UserID), rbac.ActionManage)
	if !isOwner && session.UserID != userID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner can remove collaborators", nil)
	}
	if err := s.store.RemoveCollaborator(ctx, documentID, userID); err != nil {
		return err
	}
	s.reindexDocumentAccess(ctx, documentID)
	return nil
}

// reindexDocumentAccess refreshes the indexed visibility lists for a
// document and its comments after a collaborator change.
func (s *Service) reindexDocumentAccess(ctx context.Context, documentID string) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return
	}
	userIDs := search.AccessUserIDs(doc)
	s.search.IndexDocument(search.DocumentRecord{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
		OwnerID: doc.OwnerID,
		UserIDs: userIDs,
	})
	for _, comment := range doc.Comments {
		s.search.IndexComment(search.CommentRecord{
			ID:         comment.ID,
			Content:    comment.Content,
			UserName:   comment.UserName,
			DocumentID: doc.ID,
			UserIDs:    userIDs,
		})
	}
}

// Comments

func (s *Service) AddComment(ctx context.Context, session Session, documentID, content string, selection *store.Selection) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionComment) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot comment on this document", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment content is required", nil)
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Content:    content,
		Selection:  selection,
		CreatedAt:  time.Now(),
	}
	if err := s.store.InsertComment(ctx, documentID, comment); err != nil {
		return nil, err
	}

	s.search.IndexComment(search.CommentRecord{
		ID:         comment.ID,
		Content:    comment.Content,
		UserName:   comment.UserName,
		DocumentID: documentID,
		UserIDs:    search.AccessUserIDs(doc),
	})

	return commentPayload(comment), nil
}

func (s *Service) ReplyToComment(ctx context.Context, session Session, documentID, commentID, content string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionComment) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot comment on this document", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Reply content is required", nil)
	}

	reply := store.Reply{
		ID:        util.NewID("rpl"),
		UserID:    session.UserID,
		UserName:  session.UserName,
		Content:   content,
		CreatedAt: time.Now(),
	}
	comment, err := s.store.InsertReply(ctx, documentID, commentID, reply)
	if err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

// EditComment updates a comment's text. Only the author can edit.
func (s *Service) EditComment(ctx context.Context, session Session, documentID, commentID, content string) (map[string]any, error) {
	comment, err := s.store.GetComment(ctx, documentID, commentID)
	if err != nil {
		return nil, err
	}
	if comment.UserID != session.UserID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the author can edit a comment", nil)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Comment content is required", nil)
	}

	updated, err := s.store.UpdateCommentContent(ctx, documentID, commentID, content)
	if err != nil {
		return nil, err
	}

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s.search.IndexComment(search.CommentRecord{
		ID:         updated.ID,
		Content:    updated.Content,
		UserName:   updated.UserName,
		DocumentID: documentID,
		UserIDs:    search.AccessUserIDs(doc),
	})
	return commentPayload(updated), nil
}

// DeleteComment removes a comment thread. The author or the document
// owner can delete.
func (s *Service) DeleteComment(ctx context.Context, session Session, documentID, commentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	comment, err := s.store.GetComment(ctx, documentID, commentID)
	if err != nil {
		return err
	}
	isOwner := rbac.Can(permissionFor(doc, session.UserID), rbac.ActionManage)
	if !isOwner && comment.UserID != session.UserID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or owner can delete a comment", nil)
	}

	if err := s.store.DeleteComment(ctx, documentID, commentID); err != nil {
		return err
	}
	s.search.DeleteComment(commentID)
	return nil
}

// ResolveComment marks a whole thread resolved.
func (s *Service) ResolveComment(ctx context.Context, session Session, documentID, commentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionComment) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You cannot resolve comments on this document", nil)
	}

	comment, err := s.store.ResolveComment(ctx, documentID, commentID)
	if err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

// Export

func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, format string, includeComments bool) (*export.Result, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionView) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this document", nil)
	}

	parsed, ok := export.ParseFormat(format)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unsupported export format", map[string]any{"format": format})
	}

	result, err := s.export.Export(ctx, export.Request{
		DocumentID:      documentID,
		Format:          parsed,
		IncludeComments: includeComments,
	})
	if err != nil {
		if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependency is not installed on the server", nil)
		}
		return nil, err
	}
	return result, nil
}

// History

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionView) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this document", nil)
	}

	versions, err := s.history.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]any{
			"hash":      v.Hash,
			"message":   v.Message,
			"author":    v.Author,
			"version":   v.Version,
			"createdAt": v.CreatedAt,
		})
	}
	return map[string]any{"documentId": documentID, "versions": items}, nil
}

func (s *Service) DocumentVersionContent(ctx context.Context, session Session, documentID, hash string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !rbac.Can(permissionFor(doc, session.UserID), rbac.ActionView) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "You do not have access to this document", nil)
	}

	content, err := s.history.GetContent(documentID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Version not found", nil)
	}
	return map[string]any{
		"documentId": documentID,
		"hash":       hash,
		"title":      content.Title,
		"content":    content.Body,
		"version":    content.Version,
	}, nil
}

// Search

func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	q.UserID = session.UserID
	return s.search.Search(q)
}

// Payload helpers. HTTP responses are camelCase maps shaped for the
// browser client.

func (s *Service) documentSummary(ctx context.Context, doc store.Document, permission rbac.Permission) map[string]any {
	ownerName := ""
	if owner, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		ownerName = owner.Name
	}
	return map[string]any{
		"id":            doc.ID,
		"title":         doc.Title,
		"ownerId":       doc.OwnerID,
		"ownerName":     ownerName,
		"permission":    string(permission),
		"version":       doc.Version,
		"collaborators": len(doc.Collaborators),
		"comments":      len(doc.Comments),
		"createdAt":     doc.CreatedAt,
		"updatedAt":     doc.UpdatedAt,
	}
}

func (s *Service) documentPayload(ctx context.Context, doc store.Document, permission rbac.Permission) map[string]any {
	ownerName := ""
	if owner, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		ownerName = owner.Name
	}

	collaborators := make([]map[string]any, 0, len(doc.Collaborators))
	for _, collab := range doc.Collaborators {
		user, err := s.store.GetUserByID(ctx, collab.UserID)
		if err != nil {
			continue
		}
		collaborators = append(collaborators, collaboratorPayload(collab, user))
	}

	comments := make([]map[string]any, 0, len(doc.Comments))
	for _, comment := range doc.Comments {
		comments = append(comments, commentPayload(comment))
	}

	return map[string]any{
		"id":            doc.ID,
		"title":         doc.Title,
		"content":       doc.Content,
		"ownerId":       doc.OwnerID,
		"ownerName":     ownerName,
		"permission":    string(permission),
		"version":       doc.Version,
		"collaborators": collaborators,
		"comments":      comments,
		"createdAt":     doc.CreatedAt,
		"updatedAt":     doc.UpdatedAt,
	}
}

func collaboratorPayload(collab store.Collaborator, user store.User) map[string]any {
	return map[string]any{
		"userId":     user.ID,
		"name":       user.Name,
		"email":      user.Email,
		"color":      user.Color,
		"permission": collab.Permission,
		"addedAt":    collab.AddedAt,
	}
}

func commentPayload(comment store.Comment) map[string]any {
	payload := map[string]any{
		"id":         comment.ID,
		"documentId": comment.DocumentID,
		"userId":     comment.UserID,
		"userName":   comment.UserName,
		"content":    comment.Content,
		"resolved":   comment.Resolved,
		"createdAt":  comment.CreatedAt,
	}
	if comment.ResolvedAt != nil {
		payload["resolvedAt"] = *comment.ResolvedAt
	}
	if comment.Selection != nil {
		payload["selection"] = map[string]any{
			"text": comment.Selection.Text,
			"from": comment.Selection.From,
			"to":   comment.Selection.To,
		}
	}
	replies := make([]map[string]any, 0, len(comment.Replies))
	for _, reply := range comment.Replies {
		replies = append(replies, map[string]any{
			"id":        reply.ID,
			"userId":    reply.UserID,
			"userName":  reply.UserName,
			"content":   reply.Content,
			"createdAt": reply.CreatedAt,
		})
	}
	payload["replies"] = replies
	return payload
}

func collaboratorPermission(permission string) (rbac.Permission, error) {
	switch permission {
	case "viewer", "view":
		return rbac.PermissionViewer, nil
	case "editor", "edit":
		return rbac.PermissionEditor, nil
	default:
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Permission must be viewer or editor", nil)
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

func (s *Service) notifyShare(user store.User, inviterName string, doc store.Document, permission string) {
	err := s.email.SendShareNotification(user.Email, email.ShareData{
		RecipientName: user.Name,
		InviterName:   inviterName,
		DocumentTitle: doc.Title,
		Permission:    permission,
		DocumentURL:   strings.TrimRight(s.cfg.CORSOrigin, "/") + "/documents/" + doc.ID,
	})
	if err != nil {
		log.Printf("share notification to %s: %v", user.Email, err)
	}
}
