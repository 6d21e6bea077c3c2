package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres implements the same method set as Memory on top of a relational
// schema. Documents are assembled from their collaborator, comment and
// reply rows on read.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Users

func (p *Postgres) CreateUser(ctx context.Context, user User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users(id, name, email, password_hash, color, created_at, updated_at)
		VALUES($1, $2, LOWER($3), $4, $5, $6, $7)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Color, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id string) (User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, color, created_at, updated_at
		FROM users WHERE id=$1
	`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, color, created_at, updated_at
		FROM users WHERE email=LOWER($1)
	`, email))
}

func (p *Postgres) UpdateUser(ctx context.Context, user User) (User, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE users SET name=$2, email=LOWER($3), password_hash=$4, color=$5, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, email, password_hash, color, created_at, updated_at
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Color)
	updated, err := p.scanUser(row)
	if isUniqueViolation(err) {
		return User{}, ErrConflict
	}
	return updated, err
}

func (p *Postgres) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Color, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	return user, nil
}

// Documents

func (p *Postgres) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, content, owner_id, version, created_at, updated_at
		FROM documents ORDER BY created_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range docs {
		if err := p.loadDocumentRelations(ctx, &docs[i]); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := p.db.QueryRowContext(ctx, `
		SELECT id, title, content, owner_id, version, created_at, updated_at
		FROM documents WHERE id=$1
	`, id).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.OwnerID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	if err := p.loadDocumentRelations(ctx, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (p *Postgres) loadDocumentRelations(ctx context.Context, doc *Document) error {
	collabRows, err := p.db.QueryContext(ctx, `
		SELECT user_id, permission, added_at
		FROM document_collaborators WHERE document_id=$1 ORDER BY added_at, user_id
	`, doc.ID)
	if err != nil {
		return fmt.Errorf("load collaborators: %w", err)
	}
	defer collabRows.Close()
	for collabRows.Next() {
		var collab Collaborator
		if err := collabRows.Scan(&collab.UserID, &collab.Permission, &collab.AddedAt); err != nil {
			return fmt.Errorf("scan collaborator: %w", err)
		}
		doc.Collaborators = append(doc.Collaborators, collab)
	}
	if err := collabRows.Err(); err != nil {
		return err
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, content, selection_text, selection_from, selection_to, resolved, resolved_at, created_at
		FROM comments WHERE document_id=$1 ORDER BY created_at, id
	`, doc.ID)
	if err != nil {
		return fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()
	for commentRows.Next() {
		var comment Comment
		var selText sql.NullString
		var selFrom, selTo sql.NullInt64
		if err := commentRows.Scan(&comment.ID, &comment.UserID, &comment.UserName, &comment.Content,
			&selText, &selFrom, &selTo, &comment.Resolved, &comment.ResolvedAt, &comment.CreatedAt); err != nil {
			return fmt.Errorf("scan comment: %w", err)
		}
		comment.DocumentID = doc.ID
		if selFrom.Valid || selTo.Valid || selText.Valid {
			comment.Selection = &Selection{Text: selText.String, From: int(selFrom.Int64), To: int(selTo.Int64)}
		}
		doc.Comments = append(doc.Comments, comment)
	}
	if err := commentRows.Err(); err != nil {
		return err
	}

	for i := range doc.Comments {
		replyRows, err := p.db.QueryContext(ctx, `
			SELECT id, user_id, user_name, content, created_at
			FROM comment_replies WHERE comment_id=$1 ORDER BY created_at, id
		`, doc.Comments[i].ID)
		if err != nil {
			return fmt.Errorf("load replies: %w", err)
		}
		for replyRows.Next() {
			var reply Reply
			if err := replyRows.Scan(&reply.ID, &reply.UserID, &reply.UserName, &reply.Content, &reply.CreatedAt); err != nil {
				replyRows.Close()
				return fmt.Errorf("scan reply: %w", err)
			}
			doc.Comments[i].Replies = append(doc.Comments[i].Replies, reply)
		}
		if err := replyRows.Err(); err != nil {
			replyRows.Close()
			return err
		}
		replyRows.Close()
	}
	return nil
}

func (p *Postgres) InsertDocument(ctx context.Context, doc Document) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents(id, title, content, owner_id, version, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.Title, doc.Content, doc.OwnerID, doc.Version, doc.CreatedAt, doc.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, collab := range doc.Collaborators {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_collaborators(document_id, user_id, permission, added_at)
			VALUES($1, $2, $3, $4)
		`, doc.ID, collab.UserID, collab.Permission, collab.AddedAt); err != nil {
			return fmt.Errorf("insert collaborator: %w", err)
		}
	}
	for _, comment := range doc.Comments {
		if err := insertCommentTx(ctx, tx, doc.ID, comment); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertCommentTx(ctx context.Context, tx *sql.Tx, documentID string, comment Comment) error {
	var selText sql.NullString
	var selFrom, selTo sql.NullInt64
	if comment.Selection != nil {
		selText = sql.NullString{String: comment.Selection.Text, Valid: true}
		selFrom = sql.NullInt64{Int64: int64(comment.Selection.From), Valid: true}
		selTo = sql.NullInt64{Int64: int64(comment.Selection.To), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO comments(id, document_id, user_id, user_name, content, selection_text, selection_from, selection_to, resolved, resolved_at, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, comment.ID, documentID, comment.UserID, comment.UserName, comment.Content,
		selText, selFrom, selTo, comment.Resolved, comment.ResolvedAt, comment.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	for _, reply := range comment.Replies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO comment_replies(id, comment_id, user_id, user_name, content, created_at)
			VALUES($1, $2, $3, $4, $5, $6)
		`, reply.ID, comment.ID, reply.UserID, reply.UserName, reply.Content, reply.CreatedAt); err != nil {
			return fmt.Errorf("insert reply: %w", err)
		}
	}
	return nil
}

func (p *Postgres) UpdateDocument(ctx context.Context, id string, title, content *string) (Document, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE documents SET
			title = COALESCE($2, title),
			content = COALESCE($3, content),
			version = version + 1,
			updated_at = NOW()
		WHERE id=$1
	`, id, title, content)
	if err != nil {
		return Document{}, fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Document{}, ErrNotFound
	}
	return p.GetDocument(ctx, id)
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Collaborators

func (p *Postgres) AddCollaborator(ctx context.Context, documentID string, collab Collaborator) error {
	if _, err := p.GetDocument(ctx, documentID); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO document_collaborators(document_id, user_id, permission, added_at)
		VALUES($1, $2, $3, $4)
	`, documentID, collab.UserID, collab.Permission, collab.AddedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("add collaborator: %w", err)
	}
	p.touchDocument(ctx, documentID)
	return nil
}

func (p *Postgres) UpdateCollaboratorPermission(ctx context.Context, documentID, userID, permission string) (bool, error) {
	if _, err := p.GetDocument(ctx, documentID); err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE document_collaborators SET permission=$3
		WHERE document_id=$1 AND user_id=$2
	`, documentID, userID, permission)
	if err != nil {
		return false, fmt.Errorf("update collaborator: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		p.touchDocument(ctx, documentID)
	}
	return n > 0, nil
}

func (p *Postgres) RemoveCollaborator(ctx context.Context, documentID, userID string) error {
	if _, err := p.GetDocument(ctx, documentID); err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, `
		DELETE FROM document_collaborators WHERE document_id=$1 AND user_id=$2
	`, documentID, userID); err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	p.touchDocument(ctx, documentID)
	return nil
}

func (p *Postgres) touchDocument(ctx context.Context, id string) {
	_, _ = p.db.ExecContext(ctx, `UPDATE documents SET updated_at=NOW() WHERE id=$1`, id)
}

// Comments

func (p *Postgres) InsertComment(ctx context.Context, documentID string, comment Comment) error {
	if _, err := p.GetDocument(ctx, documentID); err != nil {
		return err
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	defer tx.Rollback()
	if err := insertCommentTx(ctx, tx, documentID, comment); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	p.touchDocument(ctx, documentID)
	return nil
}

func (p *Postgres) GetComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	doc, err := p.GetDocument(ctx, documentID)
	if err != nil {
		return Comment{}, err
	}
	for _, comment := range doc.Comments {
		if comment.ID == commentID {
			return comment, nil
		}
	}
	return Comment{}, ErrNotFound
}

func (p *Postgres) UpdateCommentContent(ctx context.Context, documentID, commentID, content string) (Comment, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE comments SET content=$3 WHERE document_id=$1 AND id=$2
	`, documentID, commentID, content)
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Comment{}, ErrNotFound
	}
	p.touchDocument(ctx, documentID)
	return p.GetComment(ctx, documentID, commentID)
}

func (p *Postgres) DeleteComment(ctx context.Context, documentID, commentID string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM comments WHERE document_id=$1 AND id=$2
	`, documentID, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	p.touchDocument(ctx, documentID)
	return nil
}

func (p *Postgres) ResolveComment(ctx context.Context, documentID, commentID string) (Comment, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE comments SET resolved=TRUE, resolved_at=NOW() WHERE document_id=$1 AND id=$2
	`, documentID, commentID)
	if err != nil {
		return Comment{}, fmt.Errorf("resolve comment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Comment{}, ErrNotFound
	}
	p.touchDocument(ctx, documentID)
	return p.GetComment(ctx, documentID, commentID)
}

func (p *Postgres) InsertReply(ctx context.Context, documentID, commentID string, reply Reply) (Comment, error) {
	if _, err := p.GetComment(ctx, documentID, commentID); err != nil {
		return Comment{}, err
	}
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO comment_replies(id, comment_id, user_id, user_name, content, created_at)
		VALUES($1, $2, $3, $4, $5, $6)
	`, reply.ID, commentID, reply.UserID, reply.UserName, reply.Content, reply.CreatedAt); err != nil {
		return Comment{}, fmt.Errorf("insert reply: %w", err)
	}
	p.touchDocument(ctx, documentID)
	return p.GetComment(ctx, documentID, commentID)
}

// Deals

func (p *Postgres) ListDeals(ctx context.Context) ([]Deal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, value, stage, contact_name, contact_email, expected_close_date, priority, notes, created_at, last_modified
		FROM deals ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	var deals []Deal
	for rows.Next() {
		deal, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(row rowScanner) (Deal, error) {
	var deal Deal
	err := row.Scan(&deal.ID, &deal.Name, &deal.Value, &deal.Stage, &deal.ContactName, &deal.ContactEmail,
		&deal.ExpectedCloseDate, &deal.Priority, &deal.Notes, &deal.CreatedAt, &deal.LastModified)
	if errors.Is(err, sql.ErrNoRows) {
		return Deal{}, ErrNotFound
	}
	if err != nil {
		return Deal{}, fmt.Errorf("scan deal: %w", err)
	}
	return deal, nil
}

func (p *Postgres) GetDeal(ctx context.Context, id int) (Deal, error) {
	return scanDeal(p.db.QueryRowContext(ctx, `
		SELECT id, name, value, stage, contact_name, contact_email, expected_close_date, priority, notes, created_at, last_modified
		FROM deals WHERE id=$1
	`, id))
}

func (p *Postgres) CreateDeal(ctx context.Context, deal Deal) (Deal, error) {
	return scanDeal(p.db.QueryRowContext(ctx, `
		INSERT INTO deals(name, value, stage, contact_name, contact_email, expected_close_date, priority, notes)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, name, value, stage, contact_name, contact_email, expected_close_date, priority, notes, created_at, last_modified
	`, deal.Name, deal.Value, deal.Stage, deal.ContactName, deal.ContactEmail, deal.ExpectedCloseDate, deal.Priority, deal.Notes))
}

func (p *Postgres) UpdateDeal(ctx context.Context, deal Deal) (Deal, error) {
	return scanDeal(p.db.QueryRowContext(ctx, `
		UPDATE deals SET name=$2, value=$3, stage=$4, contact_name=$5, contact_email=$6,
			expected_close_date=$7, priority=$8, notes=$9, last_modified=NOW()
		WHERE id=$1
		RETURNING id, name, value, stage, contact_name, contact_email, expected_close_date, priority, notes, created_at, last_modified
	`, deal.ID, deal.Name, deal.Value, deal.Stage, deal.ContactName, deal.ContactEmail, deal.ExpectedCloseDate, deal.Priority, deal.Notes))
}

func (p *Postgres) UpdateDealStage(ctx context.Context, id int, stage string) (Deal, error) {
	return scanDeal(p.db.QueryRowContext(ctx, `
		UPDATE deals SET stage=$2, last_modified=NOW()
		WHERE id=$1
		RETURNING id, name, value, stage, contact_name, contact_email, expected_close_date, priority, notes, created_at, last_modified
	`, id, stage))
}

func (p *Postgres) DeleteDeal(ctx context.Context, id int) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM deals WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Stages

func (p *Postgres) ListStages(ctx context.Context) ([]Stage, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, sort_order FROM stages ORDER BY sort_order`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var stage Stage
		if err := rows.Scan(&stage.ID, &stage.Name, &stage.Order); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

func (p *Postgres) GetStage(ctx context.Context, id string) (Stage, error) {
	var stage Stage
	err := p.db.QueryRowContext(ctx, `SELECT id, name, sort_order FROM stages WHERE id=$1`, id).
		Scan(&stage.ID, &stage.Name, &stage.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return Stage{}, ErrNotFound
	}
	if err != nil {
		return Stage{}, fmt.Errorf("get stage: %w", err)
	}
	return stage, nil
}

func (p *Postgres) CreateStage(ctx context.Context, stage Stage) (Stage, error) {
	if stage.Order == 0 {
		if err := p.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(sort_order), 0) + 1 FROM stages`).Scan(&stage.Order); err != nil {
			return Stage{}, fmt.Errorf("next stage order: %w", err)
		}
	}
	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO stages(id, name, sort_order) VALUES($1, $2, $3)
	`, stage.ID, stage.Name, stage.Order); err != nil {
		return Stage{}, fmt.Errorf("create stage: %w", err)
	}
	return stage, nil
}

func (p *Postgres) UpdateStage(ctx context.Context, stage Stage) (Stage, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE stages SET name=$2, sort_order=$3 WHERE id=$1
	`, stage.ID, stage.Name, stage.Order)
	if err != nil {
		return Stage{}, fmt.Errorf("update stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Stage{}, ErrNotFound
	}
	return stage, nil
}

func (p *Postgres) DeleteStage(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM stages WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete stage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Refresh sessions and token revocation

func (p *Postgres) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions(token_hash, user_id, expires_at) VALUES($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (p *Postgres) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.password_hash, u.color, u.created_at, u.updated_at
		FROM refresh_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash=$1 AND s.expires_at > NOW()
	`, tokenHash))
}

func (p *Postgres) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash=$1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (p *Postgres) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens(jti, expires_at) VALUES($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (p *Postgres) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
