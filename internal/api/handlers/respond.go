package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyfinberg24-png/dwx-policy-manager-sub003/internal/workflow"
)

// respondError maps workflow errors onto HTTP status codes. Business-state
// errors always reach the client; they are never absorbed here.
func respondError(c *gin.Context, err error) {
	var validation *workflow.ValidationError
	var transition *workflow.StateTransitionError
	var notAllowed *workflow.NotAllowedError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.Is(err, workflow.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &transition), errors.Is(err, workflow.ErrAlreadySigned):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &notAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": notAllowed.Error()})
	case errors.Is(err, workflow.ErrAuthenticationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access code verification failed"})
	case errors.Is(err, workflow.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "request was modified concurrently, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
