package server

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"live-broadcast/broadcast"
	"live-broadcast/dto"
	"net/http"
	"strconv"
)

const defaultCommentLimit = 50

func (a *api) liveComments(c *gin.Context) {
	ctx := c.Request.Context()
	broadcastId := c.Param("broadcastId")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("live comments upgrade failed")
		return
	}

	sess := newCommentSession(conn)
	if err := a.hub.Register(broadcastId, sess); err != nil {
		rejectSocket(conn, err.Error())
		conn.Close()
		return
	}
	log := zerolog.Ctx(ctx).With().Str("broadcast_id", broadcastId).Logger()
	log.Info().Msg("comment session registered")

	defer func() {
		a.hub.Unregister(sess)
		sess.close()
		log.Info().Msg("comment session unregistered")
	}()
	go sess.writePump(ctx)

	sess.readPump(ctx, func(msg dto.ClientMessage) {
		if msg.Type != dto.ClientMessagePostComment {
			sess.Enqueue(dto.NewErrorEnvelope("unsupported message type"))
			return
		}
		_, err := a.hub.PostComment(ctx, broadcastId, dto.PostCommentRequest{
			UserId:   msg.UserId,
			Username: msg.Username,
			Message:  msg.Message,
		})
		if err != nil {
			sess.Enqueue(dto.NewErrorEnvelope(err.Error()))
		}
	})
}

func (a *api) postComment(c *gin.Context) {
	var req dto.PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	comment, err := a.hub.PostComment(c.Request.Context(), c.Param("broadcastId"), req)
	if err != nil {
		writeHubError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (a *api) listComments(c *gin.Context) {
	limit := defaultCommentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	var afterTs float64
	if raw := c.Query("afterTs"); raw != "" {
		ts, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "afterTs must be a number"})
			return
		}
		afterTs = ts
	}
	c.JSON(http.StatusOK, dto.CommentListResponse{Comments: a.hub.Comments(c.Param("broadcastId"), limit, afterTs)})
}

func (a *api) heartbeat(c *gin.Context) {
	var req dto.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	broadcastId := c.Param("broadcastId")
	n, err := a.hub.Heartbeat(broadcastId, req.ViewerId)
	if err != nil {
		writeHubError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ViewerCountResponse{BroadcastId: broadcastId, Viewers: n})
}

func (a *api) viewers(c *gin.Context) {
	broadcastId := c.Param("broadcastId")
	c.JSON(http.StatusOK, dto.ViewerCountResponse{BroadcastId: broadcastId, Viewers: a.hub.ViewerCount(broadcastId)})
}

func writeHubError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, broadcast.ErrMissingBroadcast),
		errors.Is(err, broadcast.ErrEmptyComment),
		errors.Is(err, broadcast.ErrMissingViewer):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("broadcast hub error")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}
