package search

import "flowdesk/api/internal/store"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultDeal     ResultType = "deal"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId,omitempty"`
	Stage      string     `json:"stage,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int

	// UserID scopes document and comment hits to documents the user
	// owns or collaborates on.
	UserID string
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// DocumentRecord is the data we index for a document. UserIDs lists
// everyone allowed to see the document so scoped queries can filter
// on it server-side.
type DocumentRecord struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	OwnerID string   `json:"ownerId"`
	UserIDs []string `json:"userIds"`
}

// DealRecord is the data we index for a pipeline deal.
type DealRecord struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ContactName  string `json:"contactName"`
	ContactEmail string `json:"contactEmail"`
	Notes        string `json:"notes"`
	Stage        string `json:"stage"`
}

// CommentRecord is the data we index for a comment thread. Comments
// inherit the visibility of their document, so UserIDs carries the
// document's access list.
type CommentRecord struct {
	ID         string   `json:"id"`
	Content    string   `json:"content"`
	UserName   string   `json:"userName"`
	DocumentID string   `json:"documentId"`
	UserIDs    []string `json:"userIds"`
}

// AccessUserIDs lists every user who may see a document: the owner
// plus all collaborators. Indexed alongside documents and comments so
// search can enforce visibility without a store round trip.
func AccessUserIDs(doc store.Document) []string {
	ids := make([]string, 0, len(doc.Collaborators)+1)
	ids = append(ids, doc.OwnerID)
	for _, collab := range doc.Collaborators {
		ids = append(ids, collab.UserID)
	}
	return ids
}
