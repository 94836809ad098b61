package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-purchases-api/internal/http/middleware"
)

// ErrorResponse is the body of every non-2xx answer:
//
//	{"request_id": "...", "error": "not_found", "message": "purchase not found"}
type ErrorResponse struct {
	// Echo of X-Request-ID, for matching a client report to server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable code from errors.go.
	Error string `json:"error" example:"not_found"`
	// Safe to show to users.
	Message string `json:"message" example:"purchase not found"`
}

// MessageResponse is a plain confirmation body.
type MessageResponse struct {
	Message string `json:"message" example:"purchase deleted"`
}

// fail aborts with the error envelope. 5xx answers are also logged on the
// request logger together with the last error attached via c.Error; the
// client only ever sees msg.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().Int("status", status).Str("code", code)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Error:     code,
		Message:   msg,
	})
}

// Fail is fail for the router's NoRoute and NoMethod fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// internalError hides err behind an opaque 500 and keeps it for the log.
func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }
