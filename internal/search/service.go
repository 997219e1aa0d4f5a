package search

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"itinera/api/internal/store"
)

// Fallback answers searches from the database when the index is unavailable.
type Fallback interface {
	SearchPublicTemplates(ctx context.Context, term string, limit int) ([]store.Template, error)
}

// Service tries the index first and falls back to the database.
type Service struct {
	backend  Backend
	fallback Fallback
	logger   zerolog.Logger
}

// NewService creates a search service. backend may be nil when no index is
// configured.
func NewService(backend Backend, fallback Fallback, logger zerolog.Logger) *Service {
	return &Service{
		backend:  backend,
		fallback: fallback,
		logger:   logger.With().Str("component", "search").Logger(),
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.backend != nil && s.backend.Healthy() {
		results, total, err := s.backend.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "index"}
		}
		s.logger.Warn().Err(err).Msg("index search failed, falling back to database")
	}

	templates, err := s.fallback.SearchPublicTemplates(ctx, q.Text, q.limit())
	if err != nil {
		s.logger.Error().Err(err).Msg("database search failed")
		return Response{Results: []Result{}, Query: q.Text, Source: "database"}
	}
	results := make([]Result, 0, len(templates))
	for _, t := range templates {
		results = append(results, Result{
			TemplateID:  t.ID,
			Title:       t.Title,
			OwnerUserID: t.OwnerUserID,
			SharedCount: t.SharedCount,
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text, Source: "database"}
}

// SyncTemplate indexes a public template and removes any other from the
// index. It runs in the background and only logs failures.
func (s *Service) SyncTemplate(t store.Template) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}
	go s.syncTemplate(t)
}

func (s *Service) syncTemplate(t store.Template) {
	var err error
	if t.Privacy == store.PrivacyPublic {
		err = s.backend.IndexTemplates([]TemplateRecord{
			NewTemplateRecord(t.ID, t.Title, t.OwnerUserID, t.SharedCount, t.UpdatedAt),
		})
	} else {
		err = s.backend.DeleteTemplate(t.ID)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("template_id", t.ID).Msg("sync template index")
	}
}

// RemoveTemplate drops a deleted template from the index in the background.
func (s *Service) RemoveTemplate(id string) {
	if s.backend == nil || !s.backend.Healthy() {
		return
	}
	go func() {
		if err := s.backend.DeleteTemplate(id); err != nil {
			s.logger.Warn().Err(err).Str("template_id", id).Msg("remove template from index")
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
