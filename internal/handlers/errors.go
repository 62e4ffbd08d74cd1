package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/waste-sort/internal/classifier"
	"github.com/example/waste-sort/internal/logging"
	"github.com/example/waste-sort/internal/ratelimit"
	"github.com/example/waste-sort/internal/usecase"
)

var (
	errPayloadTooLarge  = errors.New("uploaded file is too large")
	errUnsupportedMedia = errors.New("uploaded file is not an image")
)

// writeError translates pipeline errors into the JSON error contract. Every
// body has an "error" field; server errors add redacted "details".
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	var exceeded *ratelimit.ExceededError

	switch {
	case errors.Is(err, usecase.ErrMissingFile):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
	case errors.Is(err, errPayloadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, errUnsupportedMedia):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, classifier.ErrInvalidImage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image", "details": details(err)})
	case errors.As(err, &exceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":           "Upload limit reached. Please log in to continue uploading.",
			"current_uploads": exceeded.Count,
		})
	case errors.Is(err, usecase.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User-Uid header is required"})
	case errors.Is(err, classifier.ErrModelUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Model unavailable", "details": details(err)})
	case errors.Is(err, usecase.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error", "details": details(err)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "details": details(err)})
	}
}

func details(err error) string {
	return logging.Redact(err.Error())
}
