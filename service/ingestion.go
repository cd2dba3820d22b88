package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-broadcast/constant"
	"live-broadcast/dto"
	"live-broadcast/entities"
	"live-broadcast/ledger"
	"live-broadcast/pkg/agent"
	"live-broadcast/pkg/embedding"
	"live-broadcast/pkg/metrics"
	"live-broadcast/pkg/rabbitmq"
	"live-broadcast/pkg/storage"
	"live-broadcast/repository"
	"live-broadcast/stream"
	"time"
)

// IngestionService runs one ingestion job for a source already moved to PROCESSING.
type IngestionService interface {
	Process(ctx context.Context, src *entities.TrackedSource) error
}

type IngestionDeps struct {
	Repo       repository.Repository
	Agent      agent.Client
	Store      storage.ObjectStore
	Ledger     *ledger.Ledger
	Embedder   embedding.Embedder
	Publisher  rabbitmq.Publisher
	Metrics    *metrics.Metrics
	LiveIngest bool
}

type ingestionService struct {
	IngestionDeps
	now func() time.Time
}

func ClipKey(sourceId uuid.UUID, at time.Time) string {
	return fmt.Sprintf("clips/%s/%d.mp4", sourceId, at.UnixNano())
}

func (s *ingestionService) Process(ctx context.Context, src *entities.TrackedSource) (err error) {
	logger := zerolog.Ctx(ctx).With().
		Str("source_id", src.ID.String()).
		Str("source_url", src.SourceURL).
		Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("ingestion started")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", stream.ErrIngestion, r)
		}

		status, outcome := constant.SourceStatusCompleted, "completed"
		if err != nil {
			status, outcome = constant.SourceStatusError, "error"
			logger.Error().Err(err).Msg("ingestion failed")
		}
		// The job context may already be cancelled on shutdown; the status must still land.
		if updateErr := s.Repo.FinishProcessing(context.WithoutCancel(ctx), src.ID, status); updateErr != nil {
			logger.Error().Err(updateErr).Msg("failed to update source status")
		}
		s.Metrics.IncIngestion(outcome)
	}()

	err = s.Agent.Stream(ctx, src.SourceURL, s.LiveIngest, func(ev agent.Event) error {
		switch ev.Kind {
		case agent.EventSnippet:
			return s.persistSnippet(ctx, src, ev)
		case agent.EventLiveChunk:
			if _, err := s.Ledger.Append(ctx, src.SourceURL, ev.Sequence, ev.Data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", stream.ErrIngestion, err)
	}

	logger.Info().Msg("ingestion completed")
	return nil
}

func (s *ingestionService) persistSnippet(ctx context.Context, src *entities.TrackedSource, ev agent.Event) error {
	now := s.now()
	key := ClipKey(src.ID, now)
	if _, err := s.Store.Upload(ctx, ev.Data, key, "video/mp4"); err != nil {
		return fmt.Errorf("upload clip: %w", err)
	}

	clip := &entities.Clip{
		ID:          uuid.New(),
		StorageKey:  key,
		Title:       ev.Title,
		Description: ev.Description,
		SourceID:    src.ID,
		Category:    src.Category,
		CreatedAt:   now,
	}

	needsBackfill := false
	if s.Embedder != nil {
		vec, err := s.Embedder.Embed(ctx, embedding.ClipText(ev.Title, ev.Description))
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("embedding failed, clip stored without one")
			needsBackfill = !errors.Is(err, context.Canceled)
		} else {
			clip.Embedding = vec
		}
	}

	if err := s.Repo.CreateClip(ctx, clip); err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	zerolog.Ctx(ctx).Info().Str("clip_id", clip.ID.String()).Msg("clip stored")

	if err := s.Publisher.Publish(ctx, rabbitmq.RoutingClipCreated, dto.ClipCreatedMessage{
		ClipId:   clip.ID,
		SourceId: src.ID,
		Category: src.Category,
		S3Key:    key,
	}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish clip created")
	}
	if needsBackfill {
		if err := s.Publisher.Publish(ctx, rabbitmq.RoutingEmbeddingBackfill, dto.EmbeddingBackfillMessage{ClipId: clip.ID}); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish embedding backfill")
		}
	}
	return nil
}

func NewIngestionService(deps IngestionDeps) IngestionService {
	if deps.Publisher == nil {
		deps.Publisher = rabbitmq.NewNoopPublisher()
	}
	return &ingestionService{IngestionDeps: deps, now: time.Now}
}
