package export

import (
	"context"
	"fmt"
	"time"

	"itinera/api/internal/store"
)

// Loader reads the full tree of a template.
type Loader interface {
	LoadTemplateTree(ctx context.Context, id string) (store.TemplateTree, error)
}

type Options struct {
	// ChromePath overrides the browser binary used for PDFs.
	ChromePath string
	Timeout    time.Duration
	Now        func() time.Time
}

type Service struct {
	loader Loader
	opts   Options
}

func NewService(loader Loader, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{loader: loader, opts: opts}
}

// Export generates an export in the requested format. Callers check read
// access before calling.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	tree, err := s.loader.LoadTemplateTree(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	html, err := RenderItineraryHTML(NewItineraryData(tree, s.opts.Now()))
	if err != nil {
		return nil, fmt.Errorf("render itinerary: %w", err)
	}

	switch req.Format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(tree.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		pdfCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		return exportPDF(pdfCtx, html, tree.Title, s.opts.ChromePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
