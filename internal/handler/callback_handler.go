package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/arc-self/apps/adrelay-service/internal/callback"
)

// CallbackHandler serves GET /cb.
type CallbackHandler struct {
	svc    *callback.Service
	logger *zap.Logger
}

// NewCallbackHandler builds a CallbackHandler.
func NewCallbackHandler(svc *callback.Service, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{svc: svc, logger: logger}
}

// Register binds the callback route to the Echo instance.
func (h *CallbackHandler) Register(e *echo.Echo) {
	e.GET("/cb", h.HandleCallback)
}

// HandleCallback godoc
// @Summary      Receive an upstream conversion callback
// @Description  Correlates an inbound ad-network callback with its track-time request log row and forwards it to the configured downstream.
// @ID           handle-callback
// @Tags         callback
// @Produce      json
// @Param        rid  query  string  true  "request id returned by cb_url()"
// @Success      200  {object}  Envelope
// @Failure      500  {object}  Envelope
// @Router       /cb [get]
func (h *CallbackHandler) HandleCallback(c echo.Context) error {
	rid := c.QueryParam("rid")
	if rid == "" {
		return c.JSON(http.StatusInternalServerError, Envelope{Success: false, Code: 500, Message: "missing rid"})
	}

	var body map[string]interface{}
	if raw, err := io.ReadAll(c.Request().Body); err == nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	resp := h.svc.Callback(c.Request().Context(), rid, c.QueryParams(), body, c.RealIP(), c.Request().UserAgent())
	return c.JSON(statusFor(resp.Code), Envelope{Success: resp.Success, Code: resp.Code, Message: resp.Message})
}
