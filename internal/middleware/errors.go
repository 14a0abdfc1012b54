package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"authgate/internal/apperr"
)

const internalMessage = "internal server error"

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Errors renders the last error attached to the context with c.Error.
// Internal failures are logged in full and reach the client as a generic
// message.
func Errors(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		resp := errorResponse{Error: apperr.Internal.String(), Message: internalMessage}
		kind := apperr.KindOf(err)
		if appErr, ok := asAppError(err); ok && kind != apperr.Internal {
			resp = errorResponse{Error: appErr.Reason(), Message: appErr.Message}
		}

		if kind == apperr.Internal {
			log.Error().
				Err(err).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Str("request_id", RequestIDFrom(c)).
				Msg("request failed")
		}

		c.AbortWithStatusJSON(apperr.HTTPStatus(kind), resp)
	}
}

func asAppError(err error) (*apperr.Error, bool) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// abort stops the chain and leaves err for Errors to render.
func abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
