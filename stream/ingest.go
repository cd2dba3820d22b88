package stream

import (
	"context"
	"live-broadcast/dto"
	"live-broadcast/ledger"
	"live-broadcast/pkg/agent"
)

// AgentIngester feeds a producer from the ingestion agent. Live chunks are persisted to the
// ledger before their envelope is emitted so pollers and sockets observe the same sequence.
type AgentIngester struct {
	agent  agent.Client
	ledger *ledger.Ledger
}

func NewAgentIngester(client agent.Client, l *ledger.Ledger) *AgentIngester {
	return &AgentIngester{agent: client, ledger: l}
}

func (i *AgentIngester) Ingest(ctx context.Context, key Key, emit func(dto.Envelope)) error {
	return i.agent.Stream(ctx, key.SourceURL, key.IsLive, func(ev agent.Event) error {
		switch ev.Kind {
		case agent.EventSnippet:
			emit(dto.NewSnippetEnvelope(dto.SnippetData{
				Title:       ev.Title,
				Description: ev.Description,
				Data:        ev.Data,
			}))
		case agent.EventLiveChunk:
			entry, err := i.ledger.Append(ctx, key.SourceURL, ev.Sequence, ev.Data)
			if err != nil {
				return err
			}
			emit(dto.NewLiveChunkEnvelope(dto.LiveChunkData{
				ChunkNumber: entry.Sequence,
				S3Key:       entry.StorageKey,
				Url:         entry.URL,
				Data:        ev.Data,
			}))
		}
		return nil
	})
}
