package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parley-im/parley/internal/model"
)

// httpStatus maps the engines' sentinel errors to response codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUploadFailed), errors.Is(err, model.ErrWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), gin.H{"error": err.Error()})
}
