package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-broadcast/constant"
	"live-broadcast/entities"
	"live-broadcast/repository"
	"strings"
)

const DefaultRecommendationLimit = 10

type CatalogService interface {
	ListSources(ctx context.Context, status, category string) ([]*entities.TrackedSource, error)
	Recommendations(ctx context.Context, clipId string, limit int) ([]ScoredClip, error)
}

type catalogService struct {
	repo repository.Repository
}

func (s *catalogService) ListSources(ctx context.Context, status, category string) ([]*entities.TrackedSource, error) {
	filter := repository.SourceFilter{Category: strings.TrimSpace(category)}
	if status = strings.ToUpper(strings.TrimSpace(status)); status != "" {
		st := constant.SourceStatus(status)
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
		}
		filter.Status = st
	}
	if filter.Category == constant.AllCategory {
		filter.Category = ""
	}
	return s.repo.ListSources(ctx, filter)
}

func (s *catalogService) Recommendations(ctx context.Context, clipId string, limit int) ([]ScoredClip, error) {
	id, err := uuid.Parse(clipId)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid clip id", ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultRecommendationLimit
	}

	clip, err := s.repo.FindClipById(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: clip %s", ErrNotFound, clipId)
		}
		return nil, err
	}

	all, err := s.repo.ListClipsWithEmbedding(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to list clips with embedding")
		return nil, err
	}
	return RecommendationsFor(clip, all, limit), nil
}

func NewCatalogService(repo repository.Repository) CatalogService {
	return &catalogService{repo: repo}
}
