package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"capacity-checker/internal/mapdata"
	"capacity-checker/internal/parse"
)

// MapPage renders the interactive map shell. Features are loaded from MapData.
func (h *Handler) MapPage(c *gin.Context) {
	c.HTML(http.StatusOK, "map.html", gin.H{"Title": "Map", "Technologies": parse.MapTechnologies})
}

// MapData returns the components in the requested viewport as GeoJSON.
func (h *Handler) MapData(c *gin.Context) {
	q, err := mapdata.ParseQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fc, err := h.maps.Features(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("map data failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "map data unavailable"})
		return
	}
	c.JSON(http.StatusOK, fc)
}
