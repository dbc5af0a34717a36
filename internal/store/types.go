package store

// ComponentQuery filters the component search. Text and Outcodes are OR-ed:
// a component matches when it sits in one of the outcodes or its text matches.
type ComponentQuery struct {
	Text       string
	Outcodes   []string
	CMUIDs     []string
	Technology string
	SortOrder  string // "asc" or "desc" on delivery year
	Page       int    // 1-based
	PerPage    int
}

// MapFilter selects geocoded components inside a viewport.
type MapFilter struct {
	Technologies []string // raw technology classes
	CompanyName  string
	DeliveryYear string
	CMUID        string
	North        *float64
	South        *float64
	East         *float64
	West         *float64
	Limit        int
}

// ComponentFilter narrows Iterate to one CMU or one company.
type ComponentFilter struct {
	CMUID       string
	CompanyName string
}

// TechnologyStat is the component count and capacity for one technology class.
type TechnologyStat struct {
	Technology string  `json:"technology"`
	Count      int64   `json:"count"`
	Capacity   float64 `json:"capacity"`
}

// CompanyStat is the component count and capacity for one company.
type CompanyStat struct {
	CompanyName string  `json:"company_name"`
	Count       int64   `json:"count"`
	Capacity    float64 `json:"capacity"`
}

// YearStat is the component count for one delivery year.
type YearStat struct {
	DeliveryYear string `json:"delivery_year"`
	Count        int64  `json:"count"`
}

// LocationCount is how many components share one location string.
type LocationCount struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// Totals are the headline numbers for the statistics page.
type Totals struct {
	Components int64   `json:"components"`
	CMUs       int64   `json:"cmus"`
	Companies  int64   `json:"companies"`
	Capacity   float64 `json:"capacity"`
}
