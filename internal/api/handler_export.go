package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"capacity-checker/internal/export"
	"capacity-checker/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExportCompany downloads a company's components as an xlsx workbook.
func (h *Handler) ExportCompany(c *gin.Context) {
	ctx := c.Request.Context()
	companyID := c.Param("company_id")
	records, err := h.store.CMURecordsForCompany(ctx, companyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if len(records) == 0 {
		h.fail(c, store.ErrNotFound)
		return
	}
	cmuIDs := make([]string, len(records))
	for i, r := range records {
		cmuIDs[i] = r.CMUID
	}
	comps, err := h.store.ComponentsForCMUs(ctx, cmuIDs)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteComponentsXLSX(&buf, comps); err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_components.xlsx"`, companyID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
