package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"photopipe/internal/metrics"
	"photopipe/internal/models"
)

var errorStatus = []struct {
	kind   error
	status int
}{
	{models.ErrInvalidInput, http.StatusBadRequest},
	{models.ErrDependencyUnavailable, http.StatusInternalServerError},
	{models.ErrStorageWriteFailed, http.StatusInternalServerError},
	{models.ErrStorageReadFailed, http.StatusInternalServerError},
	{models.ErrMetadataWriteFailed, http.StatusInternalServerError},
	{models.ErrMetadataReadFailed, http.StatusInternalServerError},
	{models.ErrQueueSendFailed, http.StatusInternalServerError},
}

// StatusFor maps an error kind to its HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	for _, e := range errorStatus {
		if errors.Is(err, e.kind) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, op string, kind, cause error) {
	err := fmt.Errorf("%s: %w: %v", op, kind, cause)
	status := StatusFor(err)

	outcome := metrics.OutcomeFailed
	if status == http.StatusBadRequest {
		outcome = metrics.OutcomeInvalid
		s.log.Warn("rejected request", "path", c.FullPath(), "error", err)
	} else {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	if c.FullPath() == "/post" {
		s.metrics.Uploads.WithLabelValues(outcome).Inc()
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}
