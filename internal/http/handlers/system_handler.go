package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	App    string `json:"app" example:"purchases-api"`
	Env    string `json:"env" example:"development"`
}

// Health godoc
// @ID       health
// @Summary  Liveness probe
// @Tags     System
// @Produce  json
// @Success  200  {object}  handlers.HealthResponse
// @Router   /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, HealthResponse{Status: "ok", App: h.info.AppName, Env: h.info.AppEnv})
}

// Ping godoc
// @ID       ping
// @Summary  Connectivity probe
// @Tags     System
// @Produce  json
// @Success  200  {object}  handlers.MessageResponse
// @Router   /ping [get]
func (h *Handlers) Ping(c *gin.Context) {
	ok(c, http.StatusOK, MessageResponse{Message: "pong"})
}

// Root answers GET / with a short landing message.
func (h *Handlers) Root(c *gin.Context) {
	base := h.info.APIBasePath
	if base == "/" {
		base = ""
	}
	ok(c, http.StatusOK, MessageResponse{
		Message: h.info.AppName + " up. Try " + base + "/ping or /health",
	})
}
