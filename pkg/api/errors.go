package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

// writeError maps a pkg/orcherr sentinel to the HTTP status named in
// SPEC_FULL.md §7's error taxonomy, and writes a JSON error body. Any error
// that isn't one of the known sentinels is logged and surfaced as a bare
// 500, never leaking internal detail to the caller.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orcherr.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orcherr.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		slog.Error("unexpected API error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
