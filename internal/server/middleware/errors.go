package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorItem is one entry of the error response body.
type ErrorItem struct {
	Type     string `json:"type"`
	Msg      string `json:"msg"`
	Path     string `json:"path"`
	Location string `json:"location"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Errors []ErrorItem `json:"errors"`
}

// Abort stops the chain and writes a single-error body. The type is derived from status.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorBody{Errors: []ErrorItem{{Type: errorType(status), Msg: msg}}})
}

// AbortWithItems writes several errors at once (e.g. field validation failures).
func AbortWithItems(c *gin.Context, status int, items []ErrorItem) {
	c.AbortWithStatusJSON(status, ErrorBody{Errors: items})
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "BadRequestError"
	case http.StatusUnauthorized:
		return "UnauthorizedError"
	case http.StatusForbidden:
		return "ForbiddenError"
	case http.StatusNotFound:
		return "NotFoundError"
	case http.StatusTooManyRequests:
		return "TooManyRequestsError"
	default:
		return "InternalServerError"
	}
}
