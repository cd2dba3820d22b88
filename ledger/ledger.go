// Package ledger is the durable, append-only record of ordered live chunks per source URL.
package ledger

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"live-broadcast/entities"
	"live-broadcast/pkg/storage"
	"live-broadcast/repository"
	"sync"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 50
	chunkContentType = "video/mp2t"
)

var ErrMissingSource = errors.New("source url is required")

type Entry struct {
	Sequence   int64
	StorageKey string
	URL        string
}

type Ledger struct {
	repo  repository.ChunkRepository
	store storage.ObjectStore
	seqs  sync.Map // source url -> *sequencer
}

// sequencer tracks the highest sequence written for one source URL in this process.
type sequencer struct {
	mu     sync.Mutex
	seeded bool
	last   int64
}

func New(repo repository.ChunkRepository, store storage.ObjectStore) *Ledger {
	return &Ledger{repo: repo, store: store}
}

// ChunkKey is the object key a chunk of sourceURL is stored under.
func ChunkKey(sourceURL string, sequence int64) string {
	sum := sha1.Sum([]byte(sourceURL))
	return fmt.Sprintf("live/%s/chunk_%08d.ts", hex.EncodeToString(sum[:]), sequence)
}

// Upsert records (sourceURL, sequence); repeating a pair overwrites its storage key.
func (l *Ledger) Upsert(ctx context.Context, sourceURL string, sequence int64, storageKey string) error {
	if sourceURL == "" {
		return ErrMissingSource
	}
	return l.repo.UpsertChunk(ctx, &entities.Chunk{
		SourceURL:  sourceURL,
		Sequence:   sequence,
		StorageKey: storageKey,
	})
}

// Record uploads chunk bytes and then upserts the ledger row.
func (l *Ledger) Record(ctx context.Context, sourceURL string, sequence int64, data []byte) (Entry, error) {
	key := ChunkKey(sourceURL, sequence)
	url, err := l.store.Upload(ctx, data, key, chunkContentType)
	if err != nil {
		return Entry{}, err
	}
	if err := l.Upsert(ctx, sourceURL, sequence, key); err != nil {
		return Entry{}, fmt.Errorf("record chunk %d: %w", sequence, err)
	}
	return Entry{Sequence: sequence, StorageKey: key, URL: url}, nil
}

// Append records a chunk produced by an ingestion stream. A positive sequence is kept as-is, so a
// re-delivered chunk overwrites its own row. A missing sequence (<= 0) is numbered after the
// highest sequence known for sourceURL, seeded from the store on first use.
func (l *Ledger) Append(ctx context.Context, sourceURL string, sequence int64, data []byte) (Entry, error) {
	if sourceURL == "" {
		return Entry{}, ErrMissingSource
	}
	seq, err := l.assign(ctx, sourceURL, sequence)
	if err != nil {
		return Entry{}, err
	}
	return l.Record(ctx, sourceURL, seq, data)
}

func (l *Ledger) assign(ctx context.Context, sourceURL string, sequence int64) (int64, error) {
	v, _ := l.seqs.LoadOrStore(sourceURL, &sequencer{})
	s := v.(*sequencer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.seeded {
		highest, err := l.repo.MaxSequence(ctx, sourceURL)
		if err != nil {
			return 0, fmt.Errorf("max sequence: %w", err)
		}
		s.last = highest
		s.seeded = true
	}
	if sequence <= 0 {
		sequence = s.last + 1
	}
	if sequence > s.last {
		s.last = sequence
	}
	return sequence, nil
}

// ListAfter returns chunks with sequence strictly greater than afterSequence, ascending, at most
// limit of them. limit is clamped to [1, MaxListLimit]; zero selects DefaultListLimit.
func (l *Ledger) ListAfter(ctx context.Context, sourceURL string, afterSequence int64, limit int) ([]Entry, error) {
	if sourceURL == "" {
		return nil, ErrMissingSource
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	chunks, err := l.repo.ListChunksAfter(ctx, sourceURL, afterSequence, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(chunks))
	for _, c := range chunks {
		entries = append(entries, Entry{
			Sequence:   c.Sequence,
			StorageKey: c.StorageKey,
			URL:        l.store.URL(c.StorageKey),
		})
	}
	return entries, nil
}
