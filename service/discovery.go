package service

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"live-broadcast/constant"
	"live-broadcast/entities"
	"live-broadcast/pkg/discovery"
	"live-broadcast/pkg/metrics"
	"live-broadcast/repository"
	"sync"
	"time"
)

const (
	DefaultDiscoveryInterval = 30 * time.Minute
	DefaultStartSpacing      = 200 * time.Millisecond
	DefaultTopK              = 5
)

type SchedulerConfig struct {
	Interval     time.Duration
	StartSpacing time.Duration
	TopK         int
	Categories   []string
}

// Scheduler periodically discovers live sources and launches at most one ingestion job per source.
// Ticks run back to back on one goroutine; jobs run detached and are tracked only for shutdown.
type Scheduler struct {
	repo      repository.Repository
	discovery discovery.Client
	ingestion IngestionService
	cfg       SchedulerConfig
	metrics   *metrics.Metrics

	now       func() time.Time
	lastStart time.Time
	jobs      sync.WaitGroup
}

func NewScheduler(
	repo repository.Repository,
	client discovery.Client,
	ingestion IngestionService,
	cfg SchedulerConfig,
	m *metrics.Metrics,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDiscoveryInterval
	}
	if cfg.StartSpacing < 0 {
		cfg.StartSpacing = DefaultStartSpacing
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Scheduler{
		repo:      repo,
		discovery: client,
		ingestion: ingestion,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

// Run ticks immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Dur("interval", s.cfg.Interval).Strs("categories", s.cfg.Categories).Msg("discovery scheduler started")
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("discovery scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
		s.Tick(ctx)
		timer.Reset(s.cfg.Interval)
	}
}

// Tick processes every category once. Failures are contained per category and per item.
func (s *Scheduler) Tick(ctx context.Context) {
	s.metrics.IncSchedulerTicks()
	for _, category := range s.cfg.Categories {
		if ctx.Err() != nil {
			return
		}
		if category == "" || category == constant.AllCategory {
			continue
		}
		s.guard(ctx, "category", category, func() error {
			return s.processCategory(ctx, category)
		})
	}
}

// Wait blocks until every launched ingestion job has returned.
func (s *Scheduler) Wait() {
	s.jobs.Wait()
}

func (s *Scheduler) guard(ctx context.Context, unit, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str(unit, name).Interface("panic", r).Msg("discovery unit panicked")
		}
	}()
	if err := fn(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str(unit, name).Msg("discovery unit failed")
	}
}

func (s *Scheduler) processCategory(ctx context.Context, category string) error {
	ctx = zerolog.Ctx(ctx).With().Str("category", category).Logger().WithContext(ctx)
	items, err := s.discovery.SearchLive(ctx, category, s.cfg.TopK)
	if err != nil {
		return fmt.Errorf("search live %s: %w", category, err)
	}
	zerolog.Ctx(ctx).Debug().Int("items", len(items)).Msg("discovered live items")

	for _, item := range items {
		if ctx.Err() != nil {
			return nil
		}
		s.guard(ctx, "video_id", item.VideoID, func() error {
			return s.processItem(ctx, category, item)
		})
	}
	return nil
}

func (s *Scheduler) processItem(ctx context.Context, category string, item discovery.Item) error {
	if item.VideoID == "" || item.SourceURL == "" {
		return fmt.Errorf("%w: discovery item without id or url", ErrValidation)
	}

	if err := s.repo.UpsertGame(ctx, &entities.Game{
		ID:           uuid.New(),
		ExternalID:   item.VideoID,
		Category:     category,
		Title:        item.Title,
		ChannelTitle: item.ChannelTitle,
		ThumbnailURL: item.ThumbnailURL,
	}); err != nil {
		return fmt.Errorf("upsert game: %w", err)
	}

	src, err := s.repo.UpsertQueuedSource(ctx, &entities.TrackedSource{
		ID:         uuid.New(),
		ExternalID: item.VideoID,
		SourceURL:  item.SourceURL,
		Category:   category,
		Name:       item.Title,
		Status:     constant.SourceStatusQueued,
	})
	if err != nil {
		return fmt.Errorf("upsert source: %w", err)
	}
	if !src.Status.Startable() {
		zerolog.Ctx(ctx).Debug().Str("video_id", item.VideoID).Str("status", string(src.Status)).Msg("source not eligible")
		return nil
	}

	if err := s.waitForStartSlot(ctx); err != nil {
		return nil
	}
	started, err := s.repo.TryStartProcessing(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	if !started {
		return nil
	}
	src.Status = constant.SourceStatusProcessing
	s.launch(ctx, src)
	return nil
}

// waitForStartSlot sleeps until StartSpacing has passed since the previous launch.
func (s *Scheduler) waitForStartSlot(ctx context.Context) error {
	if !s.lastStart.IsZero() {
		if wait := s.cfg.StartSpacing - s.now().Sub(s.lastStart); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	s.lastStart = s.now()
	return nil
}

func (s *Scheduler) launch(ctx context.Context, src *entities.TrackedSource) {
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		_ = s.ingestion.Process(ctx, src)
	}()
	zerolog.Ctx(ctx).Info().Str("video_id", src.ExternalID).Str("source_id", src.ID.String()).Msg("ingestion launched")
}
