package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned by every store implementation when a lookup
// misses. Callers translate it into a 404.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with existing state,
// e.g. a duplicate email or an already-added collaborator.
var ErrConflict = errors.New("conflict")

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	// Color tags the user's presence avatar.
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Collaborator struct {
	UserID     string
	Permission string
	AddedAt    time.Time
}

type Reply struct {
	ID        string
	UserID    string
	UserName  string
	Content   string
	CreatedAt time.Time
}

// Selection is the quoted text range a comment is anchored to.
type Selection struct {
	Text string
	From int
	To   int
}

type Comment struct {
	ID         string
	DocumentID string
	UserID     string
	UserName   string
	Content    string
	Selection  *Selection
	Resolved   bool
	ResolvedAt *time.Time
	Replies    []Reply
	CreatedAt  time.Time
}

type Document struct {
	ID            string
	Title         string
	Content       string
	OwnerID       string
	Collaborators []Collaborator
	Comments      []Comment
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Deal struct {
	ID                int
	Name              string
	Value             float64
	Stage             string
	ContactName       string
	ContactEmail      string
	ExpectedCloseDate string
	Priority          string
	Notes             string
	CreatedAt         time.Time
	LastModified      time.Time
}

type Stage struct {
	ID    string
	Name  string
	Order int
}
