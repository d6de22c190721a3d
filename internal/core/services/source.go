package services

import (
	"context"
	"strings"
	"time"

	"github.com/meridian-search/meridian-core/internal/core/domain"
	"github.com/meridian-search/meridian-core/internal/core/ports/driven"
	"github.com/meridian-search/meridian-core/internal/core/ports/driving"
)

// Verify interface compliance
var _ driving.SourceService = (*sourceService)(nil)

const defaultIntervalSeconds = 3600

type sourceService struct {
	sourceStore   driven.SourceStore
	documentStore driven.DocumentStore
	searchEngine  driven.SearchEngine
}

// NewSourceService creates a SourceService.
func NewSourceService(sourceStore driven.SourceStore, documentStore driven.DocumentStore, searchEngine driven.SearchEngine) driving.SourceService {
	return &sourceService{
		sourceStore:   sourceStore,
		documentStore: documentStore,
		searchEngine:  searchEngine,
	}
}

func (s *sourceService) Create(ctx context.Context, req driving.CreateSourceRequest) (*domain.Source, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || !domain.ValidProviderType(string(req.ProviderType)) {
		return nil, domain.ErrInvalidInput
	}

	if existing, _ := s.sourceStore.GetByName(ctx, name); existing != nil {
		return nil, domain.ErrAlreadyExists
	}

	interval := req.IntervalSeconds
	if interval <= 0 {
		interval = defaultIntervalSeconds
	}

	now := time.Now()
	nextRun := now.Add(time.Duration(interval) * time.Second)
	source := &domain.Source{
		ID:              domain.NewID(),
		Name:            name,
		ProviderType:    req.ProviderType,
		Config:          req.Config,
		Active:          true,
		IntervalSeconds: interval,
		NextRunAt:       &nextRun,
		SyncStatus:      domain.SyncStatusIdle,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.sourceStore.Save(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

func (s *sourceService) Get(ctx context.Context, id string) (*domain.Source, error) {
	return s.sourceStore.Get(ctx, id)
}

func (s *sourceService) List(ctx context.Context) ([]*domain.Source, error) {
	return s.sourceStore.List(ctx)
}

func (s *sourceService) ListWithSummary(ctx context.Context) ([]*domain.SourceSummary, error) {
	sources, err := s.sourceStore.List(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*domain.SourceSummary, 0, len(sources))
	for _, source := range sources {
		count, _ := s.documentStore.CountBySource(ctx, source.ID)
		summaries = append(summaries, &domain.SourceSummary{
			Source:        source,
			DocumentCount: count,
			LastSyncAt:    source.LastSyncAt,
			SyncStatus:    source.SyncStatus,
		})
	}
	return summaries, nil
}

func (s *sourceService) Update(ctx context.Context, id string, req driving.UpdateSourceRequest) (*domain.Source, error) {
	source, err := s.sourceStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name != source.Name {
			if existing, _ := s.sourceStore.GetByName(ctx, name); existing != nil && existing.ID != id {
				return nil, domain.ErrAlreadyExists
			}
		}
		source.Name = name
	}
	if req.Config != nil {
		source.Config = req.Config
	}
	if req.IntervalSeconds != nil && *req.IntervalSeconds > 0 {
		source.IntervalSeconds = *req.IntervalSeconds
	}
	source.UpdatedAt = time.Now()

	if err := s.sourceStore.Save(ctx, source); err != nil {
		return nil, err
	}
	return source, nil
}

func (s *sourceService) Delete(ctx context.Context, id string) error {
	if _, err := s.sourceStore.Get(ctx, id); err != nil {
		return err
	}
	if s.searchEngine != nil {
		_ = s.searchEngine.DeleteBySource(ctx, id)
	}
	if err := s.documentStore.DeleteBySource(ctx, id); err != nil {
		return err
	}
	return s.sourceStore.Delete(ctx, id)
}

func (s *sourceService) SetActive(ctx context.Context, id string, active bool) error {
	return s.sourceStore.SetActive(ctx, id, active)
}
