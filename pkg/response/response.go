package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ksred/fhenergy-api/internal/types"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeConflict          = "CONCURRENT_MODIFICATION"
	ErrCodeUnavailable       = "STORAGE_UNAVAILABLE"
	ErrCodeMalformedData     = "MALFORMED_DATA"
	ErrCodeSignatureRejected = "SIGNATURE_REJECTED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, types.ErrValidation):
		write(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, types.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, types.ErrUnauthorized):
		Forbidden(c, err.Error())
	case errors.Is(err, types.ErrSignatureRejected), errors.Is(err, types.ErrSessionExpired):
		write(c, http.StatusUnauthorized, ErrCodeSignatureRejected, err.Error())
	case errors.Is(err, types.ErrInvalidTransition):
		write(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, types.ErrConcurrentModification):
		write(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, types.ErrMalformedData):
		write(c, http.StatusUnprocessableEntity, ErrCodeMalformedData, err.Error())
	case errors.Is(err, types.ErrStorageUnavailable):
		write(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "Ledger is unavailable, retry later")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	if errors.Is(err, types.ErrCreationFailed) {
		InternalError(c, "Offer could not be recorded, retry later")
		return
	}

	// Default to internal server error
	InternalError(c, "An unexpected error occurred")
}

func write(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
