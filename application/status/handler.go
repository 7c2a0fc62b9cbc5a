// Package status exposes live counters of a running stream session over
// HTTP, so a benchmark can be observed without disturbing the hot path.
package status

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jsongen/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{svc: service}
}

func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/health", h.HealthCheck)
	v1 := api.Group("/v1")
	{
		v1.GET("/status", h.Status)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	send := c.MustGet("send").(func(middleware.Response))

	send(middleware.Response{
		Code:    http.StatusOK,
		Message: "Health check completed",
		Data:    h.svc.Health(),
	})
}

func (h *Handler) Status(c *gin.Context) {
	send := c.MustGet("send").(func(middleware.Response))

	send(middleware.Response{
		Code:    http.StatusOK,
		Message: "Live status",
		Data:    h.svc.Status(),
	})
}
