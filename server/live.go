package server

import (
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"live-broadcast/constant"
	"live-broadcast/dto"
	"live-broadcast/stream"
	"strconv"
	"strings"
	"time"
)

func (a *api) liveVideo(c *gin.Context) {
	ctx := c.Request.Context()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("live video upgrade failed")
		return
	}
	defer conn.Close()

	videoURL := strings.TrimSpace(c.Query("video_url"))
	isLive, err := strconv.ParseBool(strings.TrimSpace(c.Query("is_live")))
	if videoURL == "" || err != nil {
		rejectSocket(conn, "video_url and is_live are required")
		return
	}

	key := stream.Key{SourceURL: videoURL, IsLive: isLive}
	log := zerolog.Ctx(ctx).With().Str("source_url", videoURL).Bool("is_live", isLive).Logger()
	h := a.registry.Acquire(key)
	defer a.registry.Release(h)
	a.metrics.AddWSSessions(1)
	defer a.metrics.AddWSSessions(-1)
	log.Info().Msg("live video session attached")

	var reorder *stream.Reorderer
	var flush <-chan time.Time
	if ordered, _ := strconv.ParseBool(c.Query("ordered")); ordered {
		reorder = stream.NewReorderer(a.live.MinStartChunks, a.live.GapTimeout)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		flush = ticker.C
	}

	closed := watchClose(conn)
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Info().Msg("live video session detached")
			return
		case <-h.Done():
			return
		case env := <-h.Events():
			if err := a.deliverLive(conn, reorder, env); err != nil {
				return
			}
			if env.Type == constant.EnvelopeError {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ingestion failed"),
					time.Now().Add(writeWait))
				return
			}
		case <-flush:
			for _, chunk := range reorder.Flush() {
				if err := writeEnvelope(conn, dto.NewLiveChunkEnvelope(chunk)); err != nil {
					return
				}
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *api) deliverLive(conn *websocket.Conn, reorder *stream.Reorderer, env dto.Envelope) error {
	chunk, isChunk := env.Data.(dto.LiveChunkData)
	if reorder == nil || !isChunk {
		return writeEnvelope(conn, env)
	}
	for _, ready := range reorder.Push(chunk) {
		if err := writeEnvelope(conn, dto.NewLiveChunkEnvelope(ready)); err != nil {
			return err
		}
	}
	return nil
}
