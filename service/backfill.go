package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"live-broadcast/pkg/embedding"
	"live-broadcast/repository"
)

// BackfillService fills in embeddings for clips stored without one.
type BackfillService interface {
	Backfill(ctx context.Context, message dto.EmbeddingBackfillMessage) error
}

type backfillService struct {
	repo     repository.ClipRepository
	embedder embedding.Embedder
}

func (s *backfillService) Backfill(ctx context.Context, message dto.EmbeddingBackfillMessage) error {
	log := zerolog.Ctx(ctx).With().Str("clip_id", message.ClipId.String()).Logger()

	clip, err := s.repo.FindClipById(ctx, message.ClipId)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errors.Join(ErrNonRetryable, fmt.Errorf("%w: clip %s", ErrNotFound, message.ClipId))
		}
		return err
	}
	if clip.HasEmbedding() {
		log.Info().Msg("clip already has an embedding")
		return nil
	}
	if s.embedder == nil {
		return errors.Join(ErrNonRetryable, errors.New("no embedder configured"))
	}

	vec, err := s.embedder.Embed(ctx, embedding.ClipText(clip.Title, clip.Description))
	if err != nil {
		if errors.Is(err, embedding.ErrEmptyEmbedding) {
			return errors.Join(ErrNonRetryable, err)
		}
		return err
	}
	if err := s.repo.UpdateClipEmbedding(ctx, clip.ID, vec); err != nil {
		log.Error().Err(err).Msg("failed to store embedding")
		return err
	}

	log.Info().Int("dims", len(vec)).Msg("embedding backfilled")
	return nil
}

func NewBackfillService(repo repository.ClipRepository, embedder embedding.Embedder) BackfillService {
	return &backfillService{repo: repo, embedder: embedder}
}
