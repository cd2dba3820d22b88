package repository

import (
	"context"
	"github.com/google/uuid"
	"live-broadcast/constant"
	"live-broadcast/entities"
	"sort"
	"sync"
	"time"
)

type chunkKey struct {
	sourceURL string
	sequence  int64
}

// memoryRepo keeps every record in process memory. It backs local runs without postgres and tests.
type memoryRepo struct {
	mu      sync.RWMutex
	sources map[string]*entities.TrackedSource
	games   map[string]*entities.Game
	clips   map[uuid.UUID]*entities.Clip
	chunks  map[chunkKey]*entities.Chunk
}

func NewMemoryRepo() Repository {
	return &memoryRepo{
		sources: make(map[string]*entities.TrackedSource),
		games:   make(map[string]*entities.Game),
		clips:   make(map[uuid.UUID]*entities.Clip),
		chunks:  make(map[chunkKey]*entities.Chunk),
	}
}

func (r *memoryRepo) Migrate(ctx context.Context) error {
	return nil
}

func (r *memoryRepo) UpsertQueuedSource(ctx context.Context, src *entities.TrackedSource) (*entities.TrackedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.sources[src.ExternalID]; ok {
		existing.SourceURL = src.SourceURL
		existing.Category = src.Category
		existing.Name = src.Name
		existing.UpdatedAt = now
		cp := *existing
		return &cp, nil
	}

	stored := *src
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = constant.SourceStatusQueued
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.sources[stored.ExternalID] = &stored
	cp := stored
	return &cp, nil
}

func (r *memoryRepo) findSource(id uuid.UUID) *entities.TrackedSource {
	for _, s := range r.sources {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (r *memoryRepo) TryStartProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.findSource(id)
	if src == nil || !src.Status.Startable() {
		return false, nil
	}
	src.Status = constant.SourceStatusProcessing
	src.UpdatedAt = time.Now()
	return true, nil
}

func (r *memoryRepo) FinishProcessing(ctx context.Context, id uuid.UUID, status constant.SourceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.findSource(id)
	if src == nil || src.Status != constant.SourceStatusProcessing {
		return ErrNotFound
	}
	now := time.Now()
	src.Status = status
	src.LastProcessedAt = &now
	src.UpdatedAt = now
	return nil
}

func (r *memoryRepo) FindSourceByExternalId(ctx context.Context, externalId string) (*entities.TrackedSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sources[externalId]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (r *memoryRepo) ListSources(ctx context.Context, filter SourceFilter) ([]*entities.TrackedSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]*entities.TrackedSource, 0, len(r.sources))
	for _, s := range r.sources {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if filter.Category != "" && s.Category != filter.Category {
			continue
		}
		cp := *s
		sources = append(sources, &cp)
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].CreatedAt.After(sources[j].CreatedAt)
	})
	return sources, nil
}

func (r *memoryRepo) UpsertGame(ctx context.Context, game *entities.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *game
	if existing, ok := r.games[game.ExternalID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.ID == uuid.Nil {
			stored.ID = uuid.New()
		}
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()
	r.games[game.ExternalID] = &stored
	return nil
}

func (r *memoryRepo) CreateClip(ctx context.Context, clip *entities.Clip) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = time.Now()
	}
	stored := *clip
	r.clips[clip.ID] = &stored
	return nil
}

func (r *memoryRepo) FindClipById(ctx context.Context, id uuid.UUID) (*entities.Clip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clip, ok := r.clips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *clip
	return &cp, nil
}

func (r *memoryRepo) UpdateClipEmbedding(ctx context.Context, id uuid.UUID, embedding []float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clip, ok := r.clips[id]
	if !ok {
		return ErrNotFound
	}
	clip.Embedding = append([]float64(nil), embedding...)
	return nil
}

func (r *memoryRepo) ListClipsWithEmbedding(ctx context.Context) ([]*entities.Clip, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clips := make([]*entities.Clip, 0, len(r.clips))
	for _, c := range r.clips {
		if !c.HasEmbedding() {
			continue
		}
		cp := *c
		clips = append(clips, &cp)
	}
	sort.Slice(clips, func(i, j int) bool {
		return clips[i].CreatedAt.After(clips[j].CreatedAt)
	})
	return clips, nil
}

func (r *memoryRepo) UpsertChunk(ctx context.Context, chunk *entities.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := chunkKey{sourceURL: chunk.SourceURL, sequence: chunk.Sequence}
	if existing, ok := r.chunks[key]; ok {
		existing.StorageKey = chunk.StorageKey
		return nil
	}
	stored := *chunk
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.CreatedAt = time.Now()
	r.chunks[key] = &stored
	return nil
}

func (r *memoryRepo) ListChunksAfter(ctx context.Context, sourceURL string, afterSequence int64, limit int) ([]*entities.Chunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var chunks []*entities.Chunk
	for key, c := range r.chunks {
		if key.sourceURL != sourceURL || key.sequence <= afterSequence {
			continue
		}
		cp := *c
		chunks = append(chunks, &cp)
	}
	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Sequence < chunks[j].Sequence
	})
	if limit > 0 && len(chunks) > limit {
		chunks = chunks[:limit]
	}
	return chunks, nil
}

func (r *memoryRepo) MaxSequence(ctx context.Context, sourceURL string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var highest int64
	for key := range r.chunks {
		if key.sourceURL == sourceURL && key.sequence > highest {
			highest = key.sequence
		}
	}
	return highest, nil
}
