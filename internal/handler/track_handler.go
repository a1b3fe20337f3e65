// Package handler wires the relay's track and callback services to Echo
// routes, producing a {success, code, message} envelope with the HTTP
// status aligned to code. Grounded on iam-service's WebhookHandler
// Register/HandleX shape.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/track"
)

// Envelope is the response body every track/callback route returns.
type Envelope struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TrackHandler serves GET /v1/track.
type TrackHandler struct {
	svc    *track.Service
	logger *zap.Logger
}

// NewTrackHandler builds a TrackHandler.
func NewTrackHandler(svc *track.Service, logger *zap.Logger) *TrackHandler {
	return &TrackHandler{svc: svc, logger: logger}
}

// Register binds the track route to the Echo instance.
func (h *TrackHandler) Register(e *echo.Echo) {
	e.GET("/v1/track", h.HandleTrack)
}

// HandleTrack godoc
// @Summary      Track a click or impression
// @Description  Routes an inbound ad-network click/impression report to its configured upstream, subject to debounce coalescing.
// @ID           handle-track
// @Tags         track
// @Produce      json
// @Success      200  {object}  Envelope
// @Failure      400  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /v1/track [get]
func (h *TrackHandler) HandleTrack(c echo.Context) error {
	resp := h.svc.Track(c.Request().Context(), c.QueryParams())
	return c.JSON(statusFor(resp.Code), Envelope{Success: resp.Success, Code: resp.Code, Message: resp.Message})
}

func statusFor(code int) int {
	switch code {
	case http.StatusOK, http.StatusBadRequest, http.StatusInternalServerError:
		return code
	default:
		return http.StatusOK
	}
}
