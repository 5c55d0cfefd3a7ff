package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Every body carries "errors" (string or null) and "status" mirroring the
// HTTP code, with resource fields alongside them.

// JSON writes fields plus the envelope with the given status code.
func JSON(c *gin.Context, status int, fields gin.H) {
	body := gin.H{}
	for k, v := range fields {
		body[k] = v
	}
	body["errors"] = nil
	body["status"] = status
	c.JSON(status, body)
}

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, fields gin.H, err error) {
	if err == nil {
		Success(c, fields)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a 200, or a 201 for POST requests.
func Success(c *gin.Context, fields gin.H) {
	status := http.StatusOK
	if c.Request.Method == http.MethodPost {
		status = http.StatusCreated
	}
	JSON(c, status, fields)
}

// Error sends an error envelope with the given status.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"errors": message,
		"status": status,
	})
}

// ErrorWith sends an error envelope that also names the resource fields as
// null, so clients can rely on a fixed shape.
func ErrorWith(c *gin.Context, status int, message string, fields ...string) {
	body := gin.H{
		"errors": message,
		"status": status,
	}
	for _, f := range fields {
		body[f] = nil
	}
	c.JSON(status, body)
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

func PaymentRequired(c *gin.Context, message string) {
	Error(c, http.StatusPaymentRequired, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

func TooManyRequests(c *gin.Context, message string) {
	Error(c, http.StatusTooManyRequests, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}
