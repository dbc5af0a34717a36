package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const mappingPageLimit = 200

type mappingEntry struct {
	CMUID   string
	Company string
}

// MappingCache shows the CMU to company mapping, filtered by q.
func (h *Handler) MappingCache(c *gin.Context) {
	h.renderMapping(c, c.Query("flash"))
}

// UpdateMappingCache sets, deletes or rebuilds mapping entries.
func (h *Handler) UpdateMappingCache(c *gin.Context) {
	ctx := c.Request.Context()
	mapping := h.search.Mapping()
	cmuID := strings.TrimSpace(c.PostForm("cmu_id"))

	var flash string
	switch c.PostForm("action") {
	case "set":
		company := strings.TrimSpace(c.PostForm("company"))
		if cmuID == "" || company == "" {
			h.failWith(c, http.StatusBadRequest, "Both a CMU ID and a company name are required.")
			return
		}
		if err := mapping.Set(ctx, cmuID, company); err != nil {
			h.fail(c, err)
			return
		}
		flash = fmt.Sprintf("Mapped %s to %s.", cmuID, company)
	case "delete":
		if cmuID == "" {
			h.failWith(c, http.StatusBadRequest, "A CMU ID is required.")
			return
		}
		if err := mapping.Delete(ctx, cmuID); err != nil {
			h.fail(c, err)
			return
		}
		flash = fmt.Sprintf("Removed %s.", cmuID)
	case "rebuild":
		records, err := h.store.AllCMURecords(ctx)
		if err != nil {
			h.fail(c, err)
			return
		}
		n, err := mapping.Rebuild(ctx, records)
		if err != nil {
			h.fail(c, err)
			return
		}
		h.logger.Info("cmu mapping rebuilt", zap.Int("entries", n))
		flash = fmt.Sprintf("Rebuilt mapping with %d entries.", n)
	default:
		h.failWith(c, http.StatusBadRequest, "Unknown action.")
		return
	}
	h.renderMapping(c, flash)
}

func (h *Handler) renderMapping(c *gin.Context, flash string) {
	all, err := h.search.Mapping().All(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	filter := strings.ToLower(strings.TrimSpace(c.Query("q")))
	entries := make([]mappingEntry, 0, len(all))
	for id, company := range all {
		if filter != "" && !strings.Contains(strings.ToLower(id), filter) && !strings.Contains(strings.ToLower(company), filter) {
			continue
		}
		entries = append(entries, mappingEntry{CMUID: id, Company: company})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CMUID < entries[j].CMUID })
	if len(entries) > mappingPageLimit {
		entries = entries[:mappingPageLimit]
	}
	c.HTML(http.StatusOK, "mapping_cache.html", gin.H{
		"Title":   "CMU mapping",
		"Flash":   flash,
		"Filter":  filter,
		"Total":   len(all),
		"Entries": entries,
	})
}
