package repository

import (
	"context"
	"database/sql"
	"errors"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"live-broadcast/constant"
	"live-broadcast/entities"
	"time"
)

var ErrNotFound = errors.New("record not found")

type SourceFilter struct {
	Status   constant.SourceStatus
	Category string
}

type SourceRepository interface {
	// UpsertQueuedSource inserts src as QUEUED when its external id is unseen. For a known external
	// id only descriptive fields are refreshed; the stored status is never touched. The stored row
	// is returned.
	UpsertQueuedSource(ctx context.Context, src *entities.TrackedSource) (*entities.TrackedSource, error)
	// TryStartProcessing moves a QUEUED or ERROR source to PROCESSING and reports whether it won.
	TryStartProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	// FinishProcessing moves a PROCESSING source to COMPLETED or ERROR.
	FinishProcessing(ctx context.Context, id uuid.UUID, status constant.SourceStatus) error
	FindSourceByExternalId(ctx context.Context, externalId string) (*entities.TrackedSource, error)
	ListSources(ctx context.Context, filter SourceFilter) ([]*entities.TrackedSource, error)
}

type GameRepository interface {
	UpsertGame(ctx context.Context, game *entities.Game) error
}

type ClipRepository interface {
	CreateClip(ctx context.Context, clip *entities.Clip) error
	FindClipById(ctx context.Context, id uuid.UUID) (*entities.Clip, error)
	UpdateClipEmbedding(ctx context.Context, id uuid.UUID, embedding []float64) error
	ListClipsWithEmbedding(ctx context.Context) ([]*entities.Clip, error)
}

type ChunkRepository interface {
	UpsertChunk(ctx context.Context, chunk *entities.Chunk) error
	ListChunksAfter(ctx context.Context, sourceURL string, afterSequence int64, limit int) ([]*entities.Chunk, error)
	// MaxSequence is the highest recorded sequence for sourceURL, 0 when there is none.
	MaxSequence(ctx context.Context, sourceURL string) (int64, error)
}

type Repository interface {
	SourceRepository
	GameRepository
	ClipRepository
	ChunkRepository
	Migrate(ctx context.Context) error
}

type repo struct {
	db *gorm.DB
}

func NewRepo(db *sql.DB) (Repository, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	return &repo{
		db: gormDB,
	}, nil
}

func (r *repo) GetDB(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *repo) Migrate(ctx context.Context) error {
	return r.GetDB(ctx).AutoMigrate(
		&entities.TrackedSource{},
		&entities.Game{},
		&entities.Clip{},
		&entities.Chunk{},
	)
}

func (r *repo) UpsertQueuedSource(ctx context.Context, src *entities.TrackedSource) (*entities.TrackedSource, error) {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	src.Status = constant.SourceStatusQueued
	err := r.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"source_url", "category", "name", "updated_at"}),
	}).Create(src).Error
	if err != nil {
		return nil, err
	}

	return r.FindSourceByExternalId(ctx, src.ExternalID)
}

func (r *repo) TryStartProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.GetDB(ctx).Model(&entities.TrackedSource{}).
		Where("id = ? AND status IN ?", id, []constant.SourceStatus{constant.SourceStatusQueued, constant.SourceStatusError}).
		Updates(map[string]interface{}{
			"status":     constant.SourceStatusProcessing,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected == 1, nil
}

func (r *repo) FinishProcessing(ctx context.Context, id uuid.UUID, status constant.SourceStatus) error {
	now := time.Now()
	res := r.GetDB(ctx).Model(&entities.TrackedSource{}).
		Where("id = ? AND status = ?", id, constant.SourceStatusProcessing).
		Updates(map[string]interface{}{
			"status":            status,
			"last_processed_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *repo) FindSourceByExternalId(ctx context.Context, externalId string) (*entities.TrackedSource, error) {
	src := &entities.TrackedSource{}
	err := r.GetDB(ctx).First(src, "external_id = ?", externalId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return src, nil
}

func (r *repo) ListSources(ctx context.Context, filter SourceFilter) ([]*entities.TrackedSource, error) {
	var sources []*entities.TrackedSource
	q := r.GetDB(ctx).Model(&entities.TrackedSource{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Category != "" {
		q = q.Where("category = ?", filter.Category)
	}
	err := q.Order("created_at DESC").Find(&sources).Error
	if err != nil {
		return nil, err
	}

	return sources, nil
}

func (r *repo) UpsertGame(ctx context.Context, game *entities.Game) error {
	if game.ID == uuid.Nil {
		game.ID = uuid.New()
	}
	return r.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"category", "title", "channel_title", "thumbnail_url", "updated_at"}),
	}).Create(game).Error
}

func (r *repo) CreateClip(ctx context.Context, clip *entities.Clip) error {
	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	return r.GetDB(ctx).Create(clip).Error
}

func (r *repo) FindClipById(ctx context.Context, id uuid.UUID) (*entities.Clip, error) {
	clip := &entities.Clip{}
	err := r.GetDB(ctx).First(clip, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return clip, nil
}

func (r *repo) UpdateClipEmbedding(ctx context.Context, id uuid.UUID, embedding []float64) error {
	clip := &entities.Clip{ID: id, Embedding: embedding}
	return r.GetDB(ctx).Model(clip).Select("embedding").Updates(clip).Error
}

func (r *repo) ListClipsWithEmbedding(ctx context.Context) ([]*entities.Clip, error) {
	var clips []*entities.Clip
	err := r.GetDB(ctx).Where("embedding IS NOT NULL").Order("created_at DESC").Find(&clips).Error
	if err != nil {
		return nil, err
	}

	return clips, nil
}

func (r *repo) UpsertChunk(ctx context.Context, chunk *entities.Chunk) error {
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	return r.GetDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_url"}, {Name: "sequence"}},
		DoUpdates: clause.AssignmentColumns([]string{"storage_key"}),
	}).Create(chunk).Error
}

func (r *repo) ListChunksAfter(ctx context.Context, sourceURL string, afterSequence int64, limit int) ([]*entities.Chunk, error) {
	var chunks []*entities.Chunk
	err := r.GetDB(ctx).
		Where("source_url = ? AND sequence > ?", sourceURL, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}

	return chunks, nil
}

func (r *repo) MaxSequence(ctx context.Context, sourceURL string) (int64, error) {
	var highest int64
	err := r.GetDB(ctx).
		Model(&entities.Chunk{}).
		Select("COALESCE(MAX(sequence), 0)").
		Where("source_url = ?", sourceURL).
		Scan(&highest).Error
	if err != nil {
		return 0, err
	}

	return highest, nil
}
