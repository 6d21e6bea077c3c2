package search

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"flowdesk/api/internal/store"
)

// DataSource is the slice of the data store the fallback searcher scans.
type DataSource interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListDeals(ctx context.Context) ([]store.Deal, error)
}

// StoreScan is the fallback Searcher used when Meilisearch is not
// configured or unreachable. It does case-insensitive substring matching
// over the data store, which is plenty for workspace-sized datasets.
type StoreScan struct {
	data DataSource
}

func NewStoreScan(data DataSource) *StoreScan {
	return &StoreScan{data: data}
}

func (s *StoreScan) Healthy() bool { return true }

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripTags flattens stored HTML into plain text for matching and snippets.
func stripTags(html string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(html, " ")), " ")
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= max {
		return text
	}
	return text[:max] + "…"
}

func (s *StoreScan) Search(q Query) ([]Result, int, error) {
	ctx := context.Background()
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	var results []Result

	if q.FilterType == "" || q.FilterType == ResultDocument || q.FilterType == ResultComment {
		docs, err := s.data.ListDocuments(ctx)
		if err != nil {
			return nil, 0, err
		}
		for _, doc := range docs {
			if q.UserID != "" && !canSee(doc, q.UserID) {
				continue
			}
			text := stripTags(doc.Content)
			if q.FilterType == "" || q.FilterType == ResultDocument {
				if strings.Contains(strings.ToLower(doc.Title), needle) || strings.Contains(strings.ToLower(text), needle) {
					results = append(results, Result{
						Type:       ResultDocument,
						ID:         doc.ID,
						Title:      doc.Title,
						Snippet:    snippet(text, 160),
						DocumentID: doc.ID,
					})
				}
			}
			if q.FilterType == "" || q.FilterType == ResultComment {
				for _, comment := range doc.Comments {
					if strings.Contains(strings.ToLower(comment.Content), needle) {
						results = append(results, Result{
							Type:       ResultComment,
							ID:         comment.ID,
							Title:      comment.UserName,
							Snippet:    snippet(comment.Content, 160),
							DocumentID: doc.ID,
						})
					}
				}
			}
		}
	}

	if q.FilterType == "" || q.FilterType == ResultDeal {
		deals, err := s.data.ListDeals(ctx)
		if err != nil {
			return nil, 0, err
		}
		for _, deal := range deals {
			haystack := strings.ToLower(deal.Name + " " + deal.ContactName + " " + deal.ContactEmail + " " + deal.Notes)
			if strings.Contains(haystack, needle) {
				results = append(results, Result{
					Type:    ResultDeal,
					ID:      strconv.Itoa(deal.ID),
					Title:   deal.Name,
					Snippet: snippet(deal.ContactName+" · "+deal.ContactEmail, 160),
					Stage:   deal.Stage,
				})
			}
		}
	}

	total := len(results)
	if q.Offset > 0 {
		if q.Offset >= len(results) {
			return nil, total, nil
		}
		results = results[q.Offset:]
	}
	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, total, nil
}

func canSee(doc store.Document, userID string) bool {
	if doc.OwnerID == userID {
		return true
	}
	for _, collab := range doc.Collaborators {
		if collab.UserID == userID {
			return true
		}
	}
	return false
}
