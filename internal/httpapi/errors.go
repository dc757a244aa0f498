package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	customErrors "github.com/muckrock/foia-coach-api/internal/common/errors"
	"github.com/muckrock/foia-coach-api/internal/coach"
	"github.com/muckrock/foia-coach-api/internal/rag"
)

// error_type values returned to clients
const (
	errorTypeValidation    = "validation_error"
	errorTypeAPIDisabled   = "api_disabled"
	errorTypeQuotaExceeded = "quota_exceeded"
	errorTypeNoResources   = "no_resources"
	errorTypeNotFound      = "not_found"
	errorTypeServer        = "server_error"
)

const dataKeyDetails = "details"

// errorResponse maps err to a status code and JSON body. req adds the query
// fields the catch-all response echoes back.
func errorResponse(err error, req *queryRequest) (int, gin.H) {
	if field, ok := customErrors.IsValidationError(err); ok {
		body := gin.H{"error": validationMessage(err), "error_type": errorTypeValidation, "field": field}
		if details, ok := customErrors.GetErrorData(err, dataKeyDetails); ok {
			body["details"] = details
		}
		return http.StatusBadRequest, body
	}

	var disabled *rag.APIDisabledError
	if errors.As(err, &disabled) {
		return http.StatusServiceUnavailable, withScope(err, gin.H{
			"error":      "The " + string(disabled.Provider) + " provider is not enabled",
			"error_type": errorTypeAPIDisabled,
			"details":    err.Error(),
		})
	}

	var quota *rag.QuotaExceededError
	if errors.As(err, &quota) {
		return http.StatusTooManyRequests, withScope(err, gin.H{
			"error":       "The " + string(quota.Provider) + " provider quota is exhausted, try again later",
			"error_type":  errorTypeQuotaExceeded,
			"retry_after": quota.RetryAfterSeconds(),
		})
	}

	if code, ok := customErrors.GetErrorCode(err); ok && code == customErrors.CodeNoResources {
		state, _ := customErrors.GetErrorData(err, coach.DataKeyState)
		provider, _ := customErrors.GetErrorData(err, coach.DataKeyProvider)
		var de *customErrors.DomainError
		msg := err.Error()
		if errors.As(err, &de) {
			msg = de.Message
		}
		return http.StatusNotFound, gin.H{
			"error":      msg,
			"error_type": errorTypeNoResources,
			"state":      state,
			"provider":   provider,
		}
	}

	if errors.Is(err, customErrors.ErrNotFound) {
		return http.StatusNotFound, gin.H{"error": err.Error(), "error_type": errorTypeNotFound}
	}

	body := gin.H{"error": err.Error(), "error_type": errorTypeServer}
	if req != nil {
		body["question"] = req.Question
		body["state"] = req.State
		body["provider"] = req.Provider
	}
	return http.StatusInternalServerError, body
}

// withScope adds the requested provider and state when the coach recorded them
func withScope(err error, body gin.H) gin.H {
	if provider, ok := customErrors.GetErrorData(err, coach.DataKeyProvider); ok {
		body["requested_provider"] = provider
	}
	if state, ok := customErrors.GetErrorData(err, coach.DataKeyState); ok {
		body["state"] = state
	}
	return body
}

func validationMessage(err error) string {
	var de *customErrors.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// abortWithError writes the mapped error response
func abortWithError(c *gin.Context, err error, req *queryRequest) {
	status, body := errorResponse(err, req)
	if retry, ok := body["retry_after"].(int); ok {
		c.Header("Retry-After", strconv.Itoa(retry))
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}
