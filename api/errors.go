package api

import (
	"errors"
	"net/http"

	"github.com/alwitt/stockpile/models"
	"github.com/alwitt/stockpile/writequeue"
	"github.com/gin-gonic/gin"
)

// ErrForbidden the caller's role does not permit the operation
var ErrForbidden = errors.New("forbidden")

// errPayloadTooLarge request body exceeds the configured limit
var errPayloadTooLarge = errors.New("payload too large")

// ErrorResponse body of every failed request
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

// statusOf HTTP status reported for an error
func statusOf(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownCollection), errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrSnapshotCorrupt):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrConflictOrStale):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, writequeue.ErrWriteQueueFull), errors.Is(err, writequeue.ErrWriteTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// abortWithError end the request with the error body
func abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	c.Set(ginKeyError, err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), RequestID: requestIDOf(c)})
}
