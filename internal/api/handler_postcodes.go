package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"capacity-checker/internal/parse"
	"capacity-checker/internal/postcode"
)

// AreaOutcodes returns the outcodes covering a named area.
func (h *Handler) AreaOutcodes(c *gin.Context) {
	area := strings.TrimSpace(c.Param("area"))
	outcodes, err := h.postcodes.OutcodesForArea(c.Request.Context(), area)
	if err != nil && !errors.Is(err, postcode.ErrNoMatch) {
		h.logger.Warn("area lookup failed", zap.String("area", area), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "area lookup failed"})
		return
	}
	if outcodes == nil {
		outcodes = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"area": area, "outcodes": outcodes})
}

// PostcodeOutcodes returns the outcode of a postcode, its nearby outcodes
// and the area it is mapped to.
func (h *Handler) PostcodeOutcodes(c *gin.Context) {
	raw := strings.ToUpper(strings.TrimSpace(c.Param("outcode")))
	if !parse.LooksLikePostcode(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid postcode"})
		return
	}
	outcodes, err := h.postcodes.OutcodesForPostcode(c.Request.Context(), raw)
	if err != nil && !errors.Is(err, postcode.ErrInvalidOutcode) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "postcode lookup failed"})
		return
	}
	if outcodes == nil {
		outcodes = []string{}
	}
	resp := gin.H{"postcode": raw, "outcode": parse.Outcode(raw), "outcodes": outcodes}
	if area, ok := h.postcodes.AreaForPostcode(raw); ok {
		resp["area"] = area
	}
	c.JSON(http.StatusOK, resp)
}
