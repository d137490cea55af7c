package handler

import (
	"errors"
	"net/http"

	"github.com/FooledKiwi/busstop-api/internal/provider"
	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type bootstrapJSON struct {
	Needed    bool   `json:"needed"`
	State     string `json:"state"`
	Prompt    string `json:"prompt,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Inserted  int    `json:"inserted"`
}

func toBootstrapJSON(st service.BootstrapStatus) bootstrapJSON {
	return bootstrapJSON{
		Needed:    st.Needed,
		State:     string(st.State),
		Prompt:    st.Prompt,
		LastError: st.LastError,
		Inserted:  st.Inserted,
	}
}

// GetBootstrap handles GET /api/v1/bootstrap
//
// Response 200:
//
//	{"needed":true,"state":"pending","prompt":"No stop data is available. Fetch it now?","inserted":0}
func (h *Handler) GetBootstrap(c *gin.Context) {
	c.JSON(http.StatusOK, toBootstrapJSON(h.bootstrap.Status()))
}

type bootstrapAnswer struct {
	Confirm *bool `json:"confirm" binding:"required"`
}

// AnswerBootstrap handles POST /api/v1/bootstrap
//
// Request body:
//
//	{"confirm":true}
//
// A "yes" fetches the stop dataset and stores it before responding; a "no"
// leaves the dataset empty. Either way the response is the new status.
//
// Response 200: the bootstrap status.
// Response 400: invalid body.
// Response 409: no bootstrap is needed, or one is already running.
// Response 502: the remote provider failed; nothing was stored.
// Response 503: the provider is temporarily disabled, the fetch outlived the
// route timeout, or the startup check has not run.
// Response 500: storage error; nothing was stored.
func (h *Handler) AnswerBootstrap(c *gin.Context) {
	var req bootstrapAnswer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirm must be true or false"})
		return
	}

	var err error
	if *req.Confirm {
		_, err = h.bootstrap.Confirm(c.Request.Context())
	} else {
		err = h.bootstrap.Decline()
	}
	if err != nil {
		status, msg := bootstrapErrorStatus(err)
		if c.Request.Context().Err() != nil {
			// Cut off by the route timeout; answer the way the timeout
			// middleware does.
			status, msg = http.StatusServiceUnavailable, "request timed out"
		}
		if status >= http.StatusInternalServerError {
			h.logger.Warn("bootstrap answer failed", zap.Int("status", status), zap.Error(err))
		}
		body := toBootstrapJSON(h.bootstrap.Status())
		c.JSON(status, gin.H{"error": msg, "bootstrap": body})
		return
	}

	c.JSON(http.StatusOK, toBootstrapJSON(h.bootstrap.Status()))
}

// bootstrapErrorStatus maps a Bootstrapper error to an HTTP status and a
// user-facing message.
func bootstrapErrorStatus(err error) (int, string) {
	var ferr *service.FetchError
	switch {
	case errors.Is(err, service.ErrBootstrapNotNeeded):
		return http.StatusConflict, "stop data is already available"
	case errors.Is(err, service.ErrBootstrapInProgress):
		return http.StatusConflict, "stop data is already being fetched"
	case errors.Is(err, service.ErrBootstrapNotChecked):
		return http.StatusServiceUnavailable, "service is still starting"
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "stop data source is temporarily unavailable, try again later"
	case errors.As(err, &ferr):
		return http.StatusBadGateway, "could not fetch stop data, try again later"
	}
	return http.StatusInternalServerError, "could not save stop data, nothing was stored"
}
