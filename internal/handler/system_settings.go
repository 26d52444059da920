package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"auctionhouse/internal/repository"
	"auctionhouse/internal/service"
)

// SystemSettingsHandler manages the feature switches that gate background
// jobs. Only known switches can be written.
type SystemSettingsHandler struct {
	Repo     repository.Repository
	Settings *service.SystemSettingsService
}

func (h *SystemSettingsHandler) Register(r gin.IRouter) {
	g := r.Group("/api/v1/admin/system-settings", requireAdmin())
	g.GET("", h.list)
	g.GET("/switches", h.listSwitches)
	g.PUT("/switches/:name", h.putSwitch)
}

// @Summary List stored settings
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/system-settings [get]
func (h *SystemSettingsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := clampLimit(intQuery(c, "limit", 200), 500)
	offset := intQuery(c, "offset", 0)
	var prefix *string
	if v := strings.TrimSpace(c.Query("prefix")); v != "" {
		prefix = &v
	}
	params := repository.ListSystemSettingsParams{
		Limit:   limit,
		Offset:  offset,
		Prefix:  prefix,
		OrderBy: "key",
		Asc:     boolPtr(true),
	}
	items, err := h.Repo.ListSystemSettings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountSystemSettings(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Current value of every feature switch
// @Tags admin
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/system-settings/switches [get]
func (h *SystemSettingsHandler) listSwitches(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	switches := h.Settings.Switches(c.Request.Context())
	out := make([]map[string]any, 0, len(switches))
	for key, enabled := range switches {
		out = append(out, map[string]any{
			"name":    strings.TrimPrefix(key, "feature."),
			"key":     key,
			"enabled": enabled,
		})
	}
	Ok(c, out, nil)
}

type putSwitchRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// @Summary Turn a feature switch on or off
// @Tags admin
// @Param name path string true "switch name without the feature. prefix"
// @Success 200 {object} apiResponse
// @Router /api/v1/admin/system-settings/switches/{name} [put]
func (h *SystemSettingsHandler) putSwitch(c *gin.Context) {
	if h.Settings == nil {
		Error(c, http.StatusInternalServerError, "settings service unavailable", nil)
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	key := "feature." + name
	if name == "" || !service.Known(key) {
		Error(c, http.StatusBadRequest, "unknown switch", nil)
		return
	}
	var req putSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if err := h.Settings.SetEnabled(c.Request.Context(), key, *req.Enabled); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{
		"name":    name,
		"key":     key,
		"enabled": *req.Enabled,
	}, nil)
}
