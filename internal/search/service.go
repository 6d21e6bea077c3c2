package search

import (
	"context"
	"log"
	"strconv"
)

// Service is the facade that tries Meilisearch first and falls back to
// scanning the data store.
type Service struct {
	meili *Meili
	scan  *StoreScan
}

// NewService creates a search service. meili may be nil if Meilisearch
// is not configured.
func NewService(meili *Meili, scan *StoreScan) *Service {
	return &Service{meili: meili, scan: scan}
}

// Search tries Meilisearch if healthy, otherwise falls back to the store scan.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.scan.Search(q)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes a document (fire-and-forget to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// IndexDeal indexes a deal (fire-and-forget to Meilisearch).
func (s *Service) IndexDeal(d DealRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDeal(d); err != nil {
			log.Printf("search: index deal %s: %v", d.ID, err)
		}
	}()
}

// IndexComment indexes a comment (fire-and-forget to Meilisearch).
func (s *Service) IndexComment(c CommentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexComment(c); err != nil {
			log.Printf("search: index comment %s: %v", c.ID, err)
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			log.Printf("search: delete document %s: %v", id, err)
		}
	}()
}

// DeleteDeal removes a deal from the search index (fire-and-forget).
func (s *Service) DeleteDeal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDeal(id); err != nil {
			log.Printf("search: delete deal %s: %v", id, err)
		}
	}()
}

// DeleteComment removes a comment from the search index (fire-and-forget).
func (s *Service) DeleteComment(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteComment(id); err != nil {
			log.Printf("search: delete comment %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every document, deal, and comment from the data
// store into Meilisearch. Called during bootstrap if Meilisearch is
// healthy, so seeded data is searchable immediately.
func (s *Service) ReindexAll(ctx context.Context, data DataSource) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	docs, err := data.ListDocuments(ctx)
	if err != nil {
		log.Printf("search: reindex load documents: %v", err)
		return
	}
	var docRecords []DocumentRecord
	var commentRecords []CommentRecord
	for _, doc := range docs {
		userIDs := AccessUserIDs(doc)
		docRecords = append(docRecords, DocumentRecord{
			ID:      doc.ID,
			Title:   doc.Title,
			Content: stripTags(doc.Content),
			OwnerID: doc.OwnerID,
			UserIDs: userIDs,
		})
		for _, comment := range doc.Comments {
			commentRecords = append(commentRecords, CommentRecord{
				ID:         comment.ID,
				Content:    comment.Content,
				UserName:   comment.UserName,
				DocumentID: doc.ID,
				UserIDs:    userIDs,
			})
		}
	}
	if err := s.meili.IndexDocuments(docRecords); err != nil {
		log.Printf("search: reindex documents: %v", err)
	}
	if err := s.meili.IndexComments(commentRecords); err != nil {
		log.Printf("search: reindex comments: %v", err)
	}

	deals, err := data.ListDeals(ctx)
	if err != nil {
		log.Printf("search: reindex load deals: %v", err)
		return
	}
	var dealRecords []DealRecord
	for _, deal := range deals {
		dealRecords = append(dealRecords, DealRecord{
			ID:           strconv.Itoa(deal.ID),
			Name:         deal.Name,
			ContactName:  deal.ContactName,
			ContactEmail: deal.ContactEmail,
			Notes:        deal.Notes,
			Stage:        deal.Stage,
		})
	}
	if err := s.meili.IndexDeals(dealRecords); err != nil {
		log.Printf("search: reindex deals: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
