package server

import (
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"live-broadcast/dto"
	"live-broadcast/ledger"
	"live-broadcast/service"
	"net/http"
	"strconv"
	"strings"
)

func (a *api) listChunks(c *gin.Context) {
	streamURL := strings.TrimSpace(c.Query("stream_url"))
	if streamURL == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "stream_url is required"})
		return
	}
	var after int64
	if raw := c.Query("after_chunk"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "after_chunk must be an integer"})
			return
		}
		after = n
	}
	limit := ledger.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}

	entries, err := a.ledger.ListAfter(c.Request.Context(), streamURL, after, limit)
	if err != nil {
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("source_url", streamURL).Msg("failed to list chunks")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
		return
	}
	resp := dto.ChunkListResponse{Chunks: make([]dto.ChunkResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Chunks = append(resp.Chunks, dto.ChunkResponse{ChunkNumber: e.Sequence, S3Key: e.StorageKey, Url: e.URL})
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) catalog(c *gin.Context) {
	sources, err := a.catalogService.ListSources(c.Request.Context(), c.Query("status"), c.Query("category"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.CatalogResponse{Sources: sources})
}

func (a *api) recommendations(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := a.catalogService.Recommendations(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": recs})
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("request failed")
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal error"})
	}
}
