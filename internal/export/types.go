// Package export provides document export functionality for PDF, DOCX,
// and standalone HTML formats.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// ParseFormat validates a format string from the query parameter.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case FormatPDF, FormatDOCX, FormatHTML:
		return Format(s), true
	}
	return "", false
}

// Request contains parameters for an export operation.
type Request struct {
	DocumentID      string
	Format          Format
	IncludeComments bool
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// DocumentInfo holds the document data needed to render an export.
type DocumentInfo struct {
	ID        string
	Title     string
	Content   string // stored editor HTML
	OwnerName string
	UpdatedAt time.Time
	Comments  []CommentInfo
}

// CommentInfo holds a comment thread for export.
type CommentInfo struct {
	Author   string
	Content  string
	Resolved bool
	Replies  []ReplyInfo
}

// ReplyInfo holds a comment reply for export.
type ReplyInfo struct {
	Author  string
	Content string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
