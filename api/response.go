package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"

	"github.com/claritylab/claritylab/predict"
	"github.com/claritylab/claritylab/verdict"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *MetaInfo   `json:"meta"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MetaInfo struct {
	Timestamp string `json:"timestamp"`
	RequestID string `json:"request_id"`
}

func newMeta(c *gin.Context) *MetaInfo {
	requestID := c.GetString(requestIDKey)
	if requestID == "" {
		requestID = newRequestID()
	}
	return &MetaInfo{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestID,
	}
}

func newRequestID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return ""
	}
	return id.String()
}

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
		Meta:    newMeta(c),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Meta: newMeta(c),
	})
}

type ErrorResponse struct {
	StatusCode int
	Code       string
	Message    string
}

// MapVerdictError maps classification errors to HTTP error responses.
// Validation errors carry their message to the user, operational ones don't.
func MapVerdictError(err error) ErrorResponse {
	switch {
	case errors.Is(err, verdict.ErrEmptyInput):
		return ErrorResponse{http.StatusBadRequest, "EMPTY_INPUT", verdict.ErrEmptyInput.Error()}
	case errors.Is(err, verdict.ErrAmbiguousInput):
		return ErrorResponse{http.StatusBadRequest, "AMBIGUOUS_INPUT", verdict.ErrAmbiguousInput.Error()}
	case errors.Is(err, verdict.ErrInvalidImage):
		return ErrorResponse{http.StatusBadRequest, "INVALID_IMAGE", verdict.ErrInvalidImage.Error()}
	case errors.Is(err, verdict.ErrBackendUnavailable):
		return ErrorResponse{http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "the classifier is currently unavailable, please try again later"}
	case errors.Is(err, verdict.ErrContractViolation):
		return ErrorResponse{http.StatusBadGateway, "BACKEND_CONTRACT_VIOLATION", "the classifier returned an unexpected result"}
	case errors.Is(err, verdict.ErrTimeout):
		return ErrorResponse{http.StatusGatewayTimeout, "TIMEOUT", "the classification took too long, please try again later"}
	case errors.Is(err, predict.ErrStopped):
		return ErrorResponse{http.StatusServiceUnavailable, "SHUTTING_DOWN", "the service is shutting down"}
	default:
		return ErrorResponse{http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"}
	}
}

func handleVerdictError(c *gin.Context, err error) {
	errResp := MapVerdictError(err)
	respondError(c, errResp.StatusCode, errResp.Code, errResp.Message)
}
