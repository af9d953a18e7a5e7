package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docflow/docflow/internal/api/middleware"
	"github.com/docflow/docflow/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRespondErrorStatus(t *testing.T) {
	cases := map[error]int{
		services.ErrNotFound:      http.StatusNotFound,
		services.ErrForbidden:     http.StatusForbidden,
		services.ErrAlreadySigned: http.StatusConflict,
		services.ErrEmailTaken:    http.StatusBadRequest,
		services.ErrFileTooLarge:  http.StatusRequestEntityTooLarge,
		services.ErrUnauthorized:  http.StatusUnauthorized,
		errors.New("boom"):        http.StatusInternalServerError,
	}
	for err, want := range cases {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		respondError(c, zap.NewNop(), err)
		assert.Equal(t, want, rec.Code, err.Error())
	}
}

func TestRespondErrorLogsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	logger := zap.New(core)
	rm := middleware.NewRequestMiddleware(logger, middleware.NewIPAttemptTracker(0, time.Minute))

	r := gin.New()
	r.Use(rm.ProcessRequest())
	r.GET("/fail", func(c *gin.Context) {
		respondError(c, logger, &services.StorageError{Op: "load", Err: errors.New("connection refused")})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")

	entries := logs.FilterMessage("Request failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), entries[0].ContextMap()["request_id"])
}
