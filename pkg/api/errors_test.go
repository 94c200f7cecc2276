package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/opus-nx/orchestrator/pkg/orcherr"
)

func TestWriteError_MapsSentinelsToHTTPStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		err        error
		expectCode int
	}{
		{"validation maps to 400", fmt.Errorf("bad input: %w", orcherr.ErrValidation), http.StatusBadRequest},
		{"unauthorized maps to 401", orcherr.ErrUnauthorized, http.StatusUnauthorized},
		{"rate limited maps to 429", orcherr.ErrRateLimited, http.StatusTooManyRequests},
		{"state conflict maps to 409", orcherr.ErrStateConflict, http.StatusConflict},
		{"not found maps to 404", fmt.Errorf("wrapped: %w", orcherr.ErrNotFound), http.StatusNotFound},
		{"unknown error maps to 500", fmt.Errorf("something unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tt.err)
			assert.Equal(t, tt.expectCode, w.Code)
		})
	}
}
