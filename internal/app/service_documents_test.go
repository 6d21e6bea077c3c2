package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"flowdesk/api/internal/search"
)

func registerUser(t *testing.T, svc *Service, name, email string) Session {
	t.Helper()
	session, err := svc.Register(context.Background(), name, email, "hunter2hunter2")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return session
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestCreateDocumentDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")

	payload, err := svc.CreateDocument(ctx, owner, "   ", "")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if payload["title"] != "Untitled Document" {
		t.Fatalf("expected default title, got %v", payload["title"])
	}
	if payload["version"] != 1 {
		t.Fatalf("expected version 1, got %v", payload["version"])
	}
	id, _ := payload["id"].(string)
	if !strings.HasPrefix(id, "doc_") {
		t.Fatalf("expected server-issued id, got %q", id)
	}
	if payload["permission"] != "owner" {
		t.Fatalf("expected owner permission, got %v", payload["permission"])
	}
}

func TestGetDocumentDeniedForOutsider(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	outsider := registerUser(t, svc, "Blake", "blake@example.com")

	payload, err := svc.CreateDocument(ctx, owner, "Roadmap", "<p>Q3 plan</p>")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	documentID := payload["id"].(string)

	_, err = svc.GetDocument(ctx, outsider, documentID)
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestShareDocumentFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	editor := registerUser(t, svc, "Blake", "blake@example.com")

	payload, err := svc.CreateDocument(ctx, owner, "Roadmap", "")
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	documentID := payload["id"].(string)

	collab, err := svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "editor")
	if err != nil {
		t.Fatalf("add collaborator: %v", err)
	}
	if collab["permission"] != "editor" {
		t.Fatalf("expected editor permission, got %v", collab["permission"])
	}

	// Duplicate shares conflict.
	_, err = svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "viewer")
	assertDomainError(t, err, http.StatusConflict, "COLLABORATOR_EXISTS")

	// Unknown accounts are a 404, not an invite.
	_, err = svc.AddCollaborator(ctx, owner, documentID, "nobody@example.com", "viewer")
	assertDomainError(t, err, http.StatusNotFound, "USER_NOT_FOUND")

	// The editor can now read the document but cannot share it on.
	if _, err := svc.GetDocument(ctx, editor, documentID); err != nil {
		t.Fatalf("editor read: %v", err)
	}
	registerUser(t, svc, "Casey", "casey@example.com")
	_, err = svc.AddCollaborator(ctx, editor, documentID, "casey@example.com", "viewer")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestPermissionChangesAreOwnerOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	editor := registerUser(t, svc, "Blake", "blake@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Roadmap", "")
	documentID := payload["id"].(string)
	if _, err := svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "viewer"); err != nil {
		t.Fatalf("add collaborator: %v", err)
	}

	// Editors cannot change permissions, not even their own.
	_, err := svc.UpdateCollaboratorPermission(ctx, editor, documentID, editor.UserID, "editor")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	updated, err := svc.UpdateCollaboratorPermission(ctx, owner, documentID, editor.UserID, "editor")
	if err != nil {
		t.Fatalf("owner permission change: %v", err)
	}
	if updated["permission"] != "editor" {
		t.Fatalf("expected editor, got %v", updated["permission"])
	}

	_, err = svc.UpdateCollaboratorPermission(ctx, owner, documentID, editor.UserID, "manager")
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestRemoveCollaboratorSelfOrOwner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	viewer := registerUser(t, svc, "Blake", "blake@example.com")
	other := registerUser(t, svc, "Casey", "casey@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Roadmap", "")
	documentID := payload["id"].(string)
	_, _ = svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "viewer")
	_, _ = svc.AddCollaborator(ctx, owner, documentID, "casey@example.com", "viewer")

	err := svc.RemoveCollaborator(ctx, viewer, documentID, other.UserID)
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	if err := svc.RemoveCollaborator(ctx, viewer, documentID, viewer.UserID); err != nil {
		t.Fatalf("self removal: %v", err)
	}
	if _, err := svc.GetDocument(ctx, viewer, documentID); err == nil {
		t.Fatal("expected access revoked after self removal")
	}
}

func TestListDocumentsFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	other := registerUser(t, svc, "Blake", "blake@example.com")

	mine, _ := svc.CreateDocument(ctx, owner, "Mine", "")
	theirs, _ := svc.CreateDocument(ctx, other, "Theirs", "")
	_, _ = svc.AddCollaborator(ctx, other, theirs["id"].(string), "avery@example.com", "viewer")
	_, _ = svc.CreateDocument(ctx, other, "Hidden", "")

	all, err := svc.ListDocuments(ctx, owner, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 visible documents, got %d", len(all))
	}

	owned, _ := svc.ListDocuments(ctx, owner, "owned")
	if len(owned) != 1 || owned[0]["id"] != mine["id"] {
		t.Fatalf("expected only owned document, got %v", owned)
	}

	shared, _ := svc.ListDocuments(ctx, owner, "shared")
	if len(shared) != 1 || shared[0]["id"] != theirs["id"] {
		t.Fatalf("expected only shared document, got %v", shared)
	}
}

func TestUpdateDocumentBumpsVersionAndHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	viewer := registerUser(t, svc, "Blake", "blake@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Roadmap", "<p>v1</p>")
	documentID := payload["id"].(string)
	_, _ = svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "viewer")

	content := "<p>v2</p>"
	updated, err := svc.UpdateDocument(ctx, owner, documentID, nil, &content)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["version"] != 2 {
		t.Fatalf("expected version 2, got %v", updated["version"])
	}

	// Viewers cannot edit.
	_, err = svc.UpdateDocument(ctx, viewer, documentID, nil, &content)
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	hist, err := svc.DocumentHistory(ctx, owner, documentID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	versions := hist["versions"].([]map[string]any)
	if len(versions) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(versions))
	}
	if versions[0]["version"] != 2 {
		t.Fatalf("expected newest entry first, got %v", versions[0]["version"])
	}

	// Any recorded version can be read back.
	hash := versions[1]["hash"].(string)
	old, err := svc.DocumentVersionContent(ctx, owner, documentID, hash)
	if err != nil {
		t.Fatalf("version content: %v", err)
	}
	if old["content"] != "<p>v1</p>" {
		t.Fatalf("expected original content, got %v", old["content"])
	}
}

func TestCommentLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	viewer := registerUser(t, svc, "Blake", "blake@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Roadmap", "<p>draft</p>")
	documentID := payload["id"].(string)
	_, _ = svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "viewer")

	// Viewers can comment even though they cannot edit.
	comment, err := svc.AddComment(ctx, viewer, documentID, "Looks good", nil)
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	commentID := comment["id"].(string)
	if !strings.HasPrefix(commentID, "cmt_") {
		t.Fatalf("expected server-issued comment id, got %q", commentID)
	}

	if _, err := svc.ReplyToComment(ctx, owner, documentID, commentID, "Agreed"); err != nil {
		t.Fatalf("reply: %v", err)
	}

	// Only the author edits their comment.
	_, err = svc.EditComment(ctx, owner, documentID, commentID, "rewritten")
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
	if _, err := svc.EditComment(ctx, viewer, documentID, commentID, "Looks great"); err != nil {
		t.Fatalf("author edit: %v", err)
	}

	resolved, err := svc.ResolveComment(ctx, owner, documentID, commentID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved["resolved"] != true {
		t.Fatalf("expected resolved thread, got %v", resolved["resolved"])
	}

	// The document owner can delete any comment.
	if err := svc.DeleteComment(ctx, owner, documentID, commentID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
}

func TestDeleteDocumentOwnerOnly(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	editor := registerUser(t, svc, "Blake", "blake@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Roadmap", "")
	documentID := payload["id"].(string)
	_, _ = svc.AddCollaborator(ctx, owner, documentID, "blake@example.com", "editor")

	err := svc.DeleteDocument(ctx, editor, documentID)
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	if err := svc.DeleteDocument(ctx, owner, documentID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := svc.GetDocument(ctx, owner, documentID); err == nil {
		t.Fatal("expected document gone")
	}
}

func TestExportHTMLThroughService(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	outsider := registerUser(t, svc, "Blake", "blake@example.com")

	payload, _ := svc.CreateDocument(ctx, owner, "Launch Plan", "<p>Ship it</p>")
	documentID := payload["id"].(string)

	result, err := svc.ExportDocument(ctx, owner, documentID, "html", false)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.MimeType != "text/html" {
		t.Fatalf("expected text/html, got %s", result.MimeType)
	}
	if !strings.Contains(string(result.Data), "Ship it") {
		t.Fatal("expected document body in export")
	}

	_, err = svc.ExportDocument(ctx, owner, documentID, "xlsx", false)
	assertDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.ExportDocument(ctx, outsider, documentID, "html", false)
	assertDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestSearchScopedToSession(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	owner := registerUser(t, svc, "Avery", "avery@example.com")
	outsider := registerUser(t, svc, "Blake", "blake@example.com")

	_, _ = svc.CreateDocument(ctx, owner, "Quarterly Targets", "<p>Pipeline goals</p>")

	response := svc.Search(ctx, owner, search.Query{Text: "quarterly"})
	if response.Total != 1 {
		t.Fatalf("expected 1 hit for owner, got %d", response.Total)
	}

	response = svc.Search(ctx, outsider, search.Query{Text: "quarterly"})
	if response.Total != 0 {
		t.Fatalf("expected no hits for outsider, got %d", response.Total)
	}
}
