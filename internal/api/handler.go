package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"capacity-checker/internal/mapdata"
	"capacity-checker/internal/rcache"
	"capacity-checker/internal/search"
	"capacity-checker/internal/store"
)

// PostcodeLookup resolves areas and postcodes for the JSON endpoints.
type PostcodeLookup interface {
	OutcodesForArea(ctx context.Context, area string) ([]string, error)
	OutcodesForPostcode(ctx context.Context, postcode string) ([]string, error)
	AreaForPostcode(postcode string) (string, bool)
}

// Deps are the services the handlers are built on.
type Deps struct {
	Store     store.Store
	Cache     *rcache.Cache
	Search    *search.Service
	Maps      *mapdata.Service
	Postcodes PostcodeLookup
	WebPush   *webpush.Options
	Logger    *zap.Logger
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	cache     *rcache.Cache
	search    *search.Service
	maps      *mapdata.Service
	postcodes PostcodeLookup
	webpush   *webpush.Options
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:     d.Store,
		cache:     d.Cache,
		search:    d.Search,
		maps:      d.Maps,
		postcodes: d.Postcodes,
		webpush:   d.WebPush,
		logger:    logger,
	}
}

// isHTMX reports whether the request was issued by htmx.
func isHTMX(c *gin.Context) bool {
	return c.GetHeader("HX-Request") == "true"
}

// fail renders err as an error page, or as an alert fragment for htmx requests.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong while loading this page."
	if errors.Is(err, store.ErrNotFound) {
		status = http.StatusNotFound
		message = "The requested item could not be found."
	} else {
		h.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	h.failWith(c, status, message)
}

func (h *Handler) failWith(c *gin.Context, status int, message string) {
	data := gin.H{"Title": http.StatusText(status), "Status": status, "Message": message}
	if isHTMX(c) {
		c.HTML(status, "alert.html", data)
		return
	}
	c.HTML(status, "error.html", data)
}
