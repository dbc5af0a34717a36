package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"capacity-checker/internal/parse"
	"capacity-checker/internal/search"
	"capacity-checker/internal/store"
)

// Home renders the unified company and component search.
func (h *Handler) Home(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	compSort := c.DefaultQuery("comp_sort", "desc")
	data := gin.H{"Query": q, "CompSort": compSort}
	if q != "" {
		data["Title"] = q
		data["Page"] = h.search.UnifiedSearch(c.Request.Context(), search.UnifiedQuery{
			Query:       q,
			CompanySort: c.Query("sort"),
			Components: search.ComponentSearch{
				Sort:    compSort,
				Page:    queryInt(c, "page", 1),
				PerPage: queryInt(c, "per_page", 0),
			},
		})
	}
	c.HTML(http.StatusOK, "search.html", data)
}

// ComponentsRedirect sends the legacy component search URL to the unified page.
func (h *Handler) ComponentsRedirect(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.Redirect(http.StatusFound, "/")
		return
	}
	c.Redirect(http.StatusFound, "/?q="+url.QueryEscape(q))
}

// Company renders a company with its delivery years and auctions.
func (h *Handler) Company(c *gin.Context) {
	page, err := h.search.CompanyDetail(c.Request.Context(), c.Param("company_id"), c.DefaultQuery("sort", "desc"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "company.html", gin.H{"Title": page.Name, "Company": page})
}

// Component renders one component with its registry details.
func (h *Handler) Component(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.fail(c, store.ErrNotFound)
		return
	}
	detail, err := h.search.ComponentDetail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "component.html", gin.H{"Title": detail.Component.Location, "Detail": detail})
}

// CompanyYears renders the CMU cards of one year, optionally one auction.
func (h *Handler) CompanyYears(c *gin.Context) {
	year := parse.FromURLParam(c.Param("year"))
	auction := parse.FromURLParam(c.Param("auction_name"))
	page, err := h.search.CompanyYears(c.Request.Context(), c.Param("company_id"), year, auction)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "company_years.html", gin.H{"Year": page})
}

// AuctionComponents renders a company's components for one auction.
func (h *Handler) AuctionComponents(c *gin.Context) {
	year := parse.FromURLParam(c.Param("year"))
	auction := parse.FromURLParam(c.Param("auction_name"))
	page, err := h.search.AuctionComponents(c.Request.Context(), c.Param("company_id"), year, auction)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "auction_components.html", gin.H{"Auction": page})
}

// CMUDetails renders the location summary of one CMU.
func (h *Handler) CMUDetails(c *gin.Context) {
	summary, err := h.search.CMUDetails(c.Request.Context(), c.Param("cmu_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "cmu_details.html", gin.H{"CMU": summary})
}

// Statistics renders the dashboard.
func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.search.Statistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.HTML(http.StatusOK, "statistics.html", gin.H{"Title": "Statistics", "Stats": stats})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
