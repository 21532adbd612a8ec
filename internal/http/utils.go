package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/j-angnoe/flux-framework-bundle/internal/job"
	"github.com/j-angnoe/flux-framework-bundle/internal/pipeline"
	"github.com/j-angnoe/flux-framework-bundle/internal/search"
	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
	"github.com/j-angnoe/flux-framework-bundle/internal/shell"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, job.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, job.ErrInvalidToken),
		errors.Is(err, job.ErrInvalidSpec),
		errors.Is(err, shell.ErrMissingArgument),
		errors.Is(err, search.ErrUnknownOperator),
		errors.Is(err, pipeline.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, job.ErrNoActiveProcess):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...} with the matching status.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

// bindJSON decodes a size-checked JSON body into v. On failure it writes
// the error response and returns false.
func bindJSON(c *gin.Context, v any) bool {
	err := utils.ReadJSON(c.Request.Body, utils.MaxJSONSize, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, utils.ErrBodyTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, utils.ErrInvalidJSON):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body: " + err.Error()})
	}
	return false
}
