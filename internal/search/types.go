package search

import (
	"capacity-checker/internal/model"
	"capacity-checker/internal/store"
)

// CompanyResult is one company in the search results.
type CompanyResult struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CMUCount       int    `json:"cmu_count"`
	ComponentCount int64  `json:"component_count"`
	Score          int    `json:"score"`
}

// ComponentSearch are the component search parameters.
type ComponentSearch struct {
	Query   string
	Sort    string // asc or desc on delivery year
	Page    int
	PerPage int
}

// Search modes report how a component query was interpreted.
const (
	ModeCMU      = "cmu"
	ModePostcode = "postcode"
	ModeArea     = "area"
	ModeText     = "text"
)

// ComponentResults is one page of component search results.
type ComponentResults struct {
	Query      string            `json:"query"`
	Mode       string            `json:"mode"`
	Outcodes   []string          `json:"outcodes,omitempty"`
	Components []model.Component `json:"components"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PerPage    int               `json:"per_page"`
	TotalPages int               `json:"total_pages"`
	PageRange  []int             `json:"page_range"`
	Sort       string            `json:"sort"`
}

// HasPrev reports whether a previous page exists.
func (r *ComponentResults) HasPrev() bool { return r.Page > 1 }

// HasNext reports whether a next page exists.
func (r *ComponentResults) HasNext() bool { return r.Page < r.TotalPages }

// UnifiedQuery drives the combined search page.
type UnifiedQuery struct {
	Query       string
	CompanySort string
	Components  ComponentSearch
}

// SearchPage holds both halves of the unified search.
type SearchPage struct {
	Query          string
	Companies      []CompanyResult
	Components     *ComponentResults
	CompanyError   string
	ComponentError string
}

// AuctionLink is one auction inside a delivery year of a company.
type AuctionLink struct {
	Name       string   `json:"name"`
	URLName    string   `json:"url_name"`
	Badge      string   `json:"badge"`
	BadgeClass string   `json:"badge_class"`
	CMUIDs     []string `json:"cmu_ids"`
}

// YearGroup is one delivery year of a company with its auctions.
type YearGroup struct {
	Year     string        `json:"year"`
	YearID   string        `json:"year_id"`
	Auctions []AuctionLink `json:"auctions"`
}

// CompanyPage is the company detail view.
type CompanyPage struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	CMUCount       int         `json:"cmu_count"`
	ComponentCount int64       `json:"component_count"`
	Sort           string      `json:"sort"`
	Years          []YearGroup `json:"years"`
}

// CMUCard is one CMU with its components for the year fragment.
type CMUCard struct {
	CMUID       string            `json:"cmu_id"`
	AuctionName string            `json:"auction_name"`
	Components  []model.Component `json:"components"`
}

// CompanyYear is the year fragment of a company page.
type CompanyYear struct {
	CompanyID   string    `json:"company_id"`
	CompanyName string    `json:"company_name"`
	Year        string    `json:"year"`
	AuctionName string    `json:"auction_name,omitempty"`
	Cards       []CMUCard `json:"cards"`
}

// AuctionGroup is the components of one auction name.
type AuctionGroup struct {
	AuctionName string            `json:"auction_name"`
	Components  []model.Component `json:"components"`
}

// AuctionPage is the auction components fragment.
type AuctionPage struct {
	CompanyID   string         `json:"company_id"`
	CompanyName string         `json:"company_name"`
	Year        string         `json:"year"`
	AuctionName string         `json:"auction_name"`
	TNumber     string         `json:"t_number"`
	YearRange   string         `json:"year_range"`
	Groups      []AuctionGroup `json:"groups"`
	Total       int            `json:"total"`
}

// LocationEntry is one location of a CMU and the components at it.
type LocationEntry struct {
	Location   string            `json:"location"`
	Components []model.Component `json:"components"`
}

// CMUSummary is the CMU details fragment.
type CMUSummary struct {
	CMUID          string          `json:"cmu_id"`
	CompanyName    string          `json:"company_name"`
	ComponentCount int             `json:"component_count"`
	Locations      []LocationEntry `json:"locations"`
}

// Field is a labelled value on the component page.
type Field struct {
	Label string
	Value string
}

// Section groups fields on the component page.
type Section struct {
	Title  string
	Fields []Field
}

// ComponentPage is the component detail view.
type ComponentPage struct {
	Component       model.Component
	CompanyName     string
	CompanyID       string
	Category        string
	DeratedCapacity *float64
	CapacitySource  string
	Sections        []Section
	Registry        *model.CMURecord
}

// CategoryStat aggregates technologies into simplified categories.
type CategoryStat struct {
	Category string  `json:"category"`
	Count    int64   `json:"count"`
	Capacity float64 `json:"capacity"`
}

// TopCompany is a company on the statistics page.
type TopCompany struct {
	store.CompanyStat
	CompanyID string `json:"company_id"`
}

// Statistics is the dashboard data.
type Statistics struct {
	Totals        store.Totals           `json:"totals"`
	Technologies  []store.TechnologyStat `json:"technologies"`
	Categories    []CategoryStat         `json:"categories"`
	TopCompanies  []TopCompany           `json:"top_companies"`
	DeliveryYears []store.YearStat       `json:"delivery_years"`
	LastCrawl     *model.CrawlRun        `json:"last_crawl,omitempty"`
}
