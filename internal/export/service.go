package export

import (
	"context"
	"fmt"
	"html/template"
	"log"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetDocumentForExport(ctx context.Context, id string) (Document, error)
}

// Archiver stores a copy of generated export artifacts.
type Archiver interface {
	Archive(ctx context.Context, documentID string, result *Result) error
}

// Service provides document export functionality
type Service struct {
	store    DataStore
	archiver Archiver
}

// NewService creates a new export service. archiver may be nil.
func NewService(store DataStore, archiver Archiver) *Service {
	return &Service{store: store, archiver: archiver}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocumentForExport(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(TextToHTML(doc.Text)),
		Author:      doc.Author,
		UpdatedAt:   doc.UpdatedAt,
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
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
	if err != nil {
		return nil, err
	}

	if s.archiver != nil {
		if archiveErr := s.archiver.Archive(ctx, req.DocumentID, result); archiveErr != nil {
			log.Printf("export: archive %s: %v", req.DocumentID, archiveErr)
		}
	}

	return result, nil
}
