package export

import (
	"context"
	"fmt"
	"html/template"
)

// DataStore defines the interface for data access.
type DataStore interface {
	GetDocumentForExport(ctx context.Context, id string) (DocumentInfo, error)
}

// Archiver receives finished export artifacts. Optional.
type Archiver interface {
	ArchiveExport(ctx context.Context, documentID, filename, mimeType string, data []byte)
}

// Service provides document export functionality.
type Service struct {
	store    DataStore
	archiver Archiver
}

// NewService creates a new export service. archiver may be nil.
func NewService(store DataStore, archiver Archiver) *Service {
	return &Service{store: store, archiver: archiver}
}

// Export generates an export in the requested format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocumentForExport(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(doc.Content),
		Author:      doc.OwnerName,
		UpdatedAt:   doc.UpdatedAt,
		Comments:    []TemplateComment{},
	}

	if req.IncludeComments {
		for _, c := range doc.Comments {
			comment := TemplateComment{
				Author:   c.Author,
				Content:  c.Content,
				Resolved: c.Resolved,
				Replies:  []TemplateReply{},
			}
			for _, r := range c.Replies {
				comment.Replies = append(comment.Replies, TemplateReply{
					Author:  r.Author,
					Content: r.Content,
				})
			}
			data.Comments = append(data.Comments, comment)
		}
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	var result *Result
	switch req.Format {
	case FormatPDF:
		result, err = exportPDF(html, doc.Title)
	case FormatDOCX:
		result, err = exportDOCX(html, doc.Title)
	case FormatHTML:
		result, err = exportHTML(html, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	if s.archiver != nil {
		s.archiver.ArchiveExport(ctx, req.DocumentID, result.Filename, result.MimeType, result.Data)
	}
	return result, nil
}
