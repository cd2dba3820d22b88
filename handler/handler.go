package handler

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"live-broadcast/service"
)

type ServiceDependencies struct {
	BackfillService service.BackfillService
}

func EmbeddingBackfillHandler(ctx context.Context, msg amqp.Delivery, deps ServiceDependencies) error {
	var backfill dto.EmbeddingBackfillMessage
	if err := json.Unmarshal(msg.Body, &backfill); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal embedding backfill message")
		return backoff.Permanent(err)
	}

	zerolog.Ctx(ctx).Info().
		Str("clip_id", backfill.ClipId.String()).
		Msg("received embedding backfill message")

	err := deps.BackfillService.Backfill(ctx, backfill)
	if err != nil {
		if errors.Is(err, service.ErrNonRetryable) {
			zerolog.Ctx(ctx).Warn().Err(err).Str("clip_id", backfill.ClipId.String()).Msg("dropping embedding backfill")
			return nil
		}
		return err
	}

	return nil
}
