package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/desertthunder/playbridge/internal/shared"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusTable = []struct {
	err    error
	status int
	code   string
}{
	{shared.ErrJobNotFound, http.StatusNotFound, "not_found"},
	{shared.ErrRegistrationGone, http.StatusNotFound, "not_found"},
	{shared.ErrNotFound, http.StatusNotFound, "not_found"},
	{shared.ErrInvalidPlatform, http.StatusBadRequest, "invalid_platform"},
	{shared.ErrInvalidFrequency, http.StatusBadRequest, "invalid_frequency"},
	{shared.ErrMissingArgument, http.StatusBadRequest, "bad_request"},
	{shared.ErrInvalidArgument, http.StatusBadRequest, "bad_request"},
	{shared.ErrInvalidInput, http.StatusBadRequest, "bad_request"},
	{shared.ErrJobRunning, http.StatusConflict, "job_running"},
	{shared.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{shared.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
	{shared.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{shared.ErrAuthExpired, http.StatusUnauthorized, "auth_expired"},
	{shared.ErrMissingCredentials, http.StatusServiceUnavailable, "platform_not_configured"},
	{shared.ErrInvalidConfig, http.StatusServiceUnavailable, "not_configured"},
	{shared.ErrUnavailable, http.StatusBadGateway, "platform_unavailable"},
}

// statusFor maps an error from the shared taxonomy to an HTTP status and error code.
func statusFor(err error) (int, string) {
	for _, s := range statusTable {
		if errors.Is(err, s.err) {
			return s.status, s.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *handler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: code, Message: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: "invalid request body: " + err.Error(),
	})
}
