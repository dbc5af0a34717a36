package api

import (
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"capacity-checker/config"
	"capacity-checker/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps, cfg config.ServerConfig) (*gin.Engine, error) {
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, err
	}

	handler := NewHandler(d)

	r := gin.New()
	// auction names such as "T-4_2020/21" travel as one escaped path segment
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.SetHTMLTemplate(tmpl)
	r.Use(mw.Recovery(handler.logger), mw.AccessLog(handler.logger))

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	cacheStore := cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	caching := mw.Cache(cacheStore, cfg.CacheTTL)

	r.GET("/", handler.Home)
	r.GET("/components/", handler.ComponentsRedirect)
	r.GET("/company/:company_id/", handler.Company)
	r.GET("/company/:company_id/export.xlsx", handler.ExportCompany)
	r.GET("/component/:id/", handler.Component)
	r.GET("/map/", handler.MapPage)
	r.GET("/statistics/", handler.Statistics)
	r.GET("/debug/mapping-cache/", handler.MappingCache)
	r.POST("/debug/mapping-cache/", handler.UpdateMappingCache)

	r.GET("/healthz", handler.Healthz)
	r.GET("/readyz", handler.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/company-years/:company_id/:year/", handler.CompanyYears)
		api.GET("/company-years/:company_id/:year/:auction_name/", handler.CompanyYears)
		api.GET("/auction-components/:company_id/:year/:auction_name/", handler.AuctionComponents)
		api.GET("/cmu-details/:cmu_id/", handler.CMUDetails)

		api.GET("/map-data/", caching, handler.MapData)
		api.GET("/postcodes/area/:area", caching, handler.AreaOutcodes)
		api.GET("/postcodes/outcode/:outcode", caching, handler.PostcodeOutcodes)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r, nil
}
