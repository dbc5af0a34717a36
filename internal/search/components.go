package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"capacity-checker/internal/model"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/store"
)

const (
	auctionCachePrefix = "auction_components"
	auctionCacheTTL    = 24 * time.Hour
	// Auction fragments quicker than this are not worth caching.
	slowFragment = 500 * time.Millisecond
)

// SearchComponents interprets the query as a CMU id, a postcode or outcode,
// an area name, or plain text, and returns one page of matches.
func (s *Service) SearchComponents(ctx context.Context, req ComponentSearch) (*ComponentResults, error) {
	query := strings.TrimSpace(req.Query)
	res := &ComponentResults{
		Query:   query,
		Mode:    ModeText,
		Page:    req.Page,
		PerPage: req.PerPage,
		Sort:    normalizeSort(req.Sort),
	}
	if res.PerPage <= 0 {
		res.PerPage = defaultPerPage
	}
	if res.PerPage > maxPerPage {
		res.PerPage = maxPerPage
	}
	if res.Page < 1 {
		res.Page = 1
	}
	if query == "" {
		return res, nil
	}

	q := store.ComponentQuery{Text: query, SortOrder: res.Sort, Page: res.Page, PerPage: res.PerPage}

	isCMU, err := s.isCMUID(ctx, query)
	if err != nil {
		return nil, err
	}
	switch {
	case isCMU:
		res.Mode = ModeCMU
		q = store.ComponentQuery{CMUIDs: []string{strings.ToUpper(query)}, SortOrder: res.Sort, Page: res.Page, PerPage: res.PerPage}
	case parse.LooksLikePostcode(query):
		codes, err := s.resolver.OutcodesForPostcode(ctx, query)
		if err != nil {
			s.logger.Info("postcode lookup failed, using text search", zap.String("query", query), zap.Error(err))
			break
		}
		res.Mode = ModePostcode
		res.Outcodes = codes
		q.Outcodes = codes
	default:
		codes, err := s.resolver.OutcodesForArea(ctx, query)
		if err != nil {
			s.logger.Debug("area lookup found nothing, using text search", zap.String("query", query), zap.Error(err))
			break
		}
		res.Mode = ModeArea
		res.Outcodes = codes
		q.Outcodes = codes
	}

	comps, total, err := s.store.SearchComponents(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search components: %w", err)
	}
	s.fillCompanyNames(ctx, comps)

	res.Components = comps
	res.Total = total
	res.TotalPages = int((total + int64(res.PerPage) - 1) / int64(res.PerPage))
	res.PageRange = pageRange(res.Page, res.TotalPages)
	return res, nil
}

func (s *Service) isCMUID(ctx context.Context, query string) (bool, error) {
	if strings.ContainsAny(query, " \t") {
		return false, nil
	}
	id := strings.ToUpper(query)
	if _, err := s.store.GetCMURecord(ctx, id); err == nil {
		return true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("look up cmu %s: %w", id, err)
	}
	counts, err := s.store.CountComponentsByCMU(ctx, []string{id})
	if err != nil {
		return false, fmt.Errorf("count components for %s: %w", id, err)
	}
	return counts[id] > 0, nil
}

// fillCompanyNames labels components without a company from the CMU mapping,
// which is read at most once.
func (s *Service) fillCompanyNames(ctx context.Context, comps []model.Component) {
	var mapping map[string]string
	for i := range comps {
		if comps[i].CompanyName != "" {
			continue
		}
		if mapping == nil {
			all, err := s.mapping.All(ctx)
			if err != nil {
				s.logger.Warn("failed to load cmu mapping", zap.Error(err))
				return
			}
			mapping = all
		}
		if name, ok := companyFor(mapping, comps[i].CMUID); ok {
			comps[i].CompanyName = name
		}
	}
}

func pageRange(page, totalPages int) []int {
	if totalPages == 0 {
		return nil
	}
	start, end := page-pageWindow, page+pageWindow
	if start < 1 {
		start = 1
	}
	if end > totalPages {
		end = totalPages
	}
	out := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		out = append(out, p)
	}
	return out
}

// UnifiedSearch runs the company and component searches for the home page.
// A failure in one half is reported on the page without hiding the other.
func (s *Service) UnifiedSearch(ctx context.Context, q UnifiedQuery) *SearchPage {
	page := &SearchPage{Query: strings.TrimSpace(q.Query)}
	if page.Query == "" {
		return page
	}

	companies, err := s.SearchCompanies(ctx, page.Query)
	if err != nil {
		s.logger.Error("company search failed", zap.String("query", page.Query), zap.Error(err))
		page.CompanyError = "Company search is temporarily unavailable."
	}
	if q.CompanySort == "asc" {
		sort.SliceStable(companies, func(i, j int) bool { return companies[i].Name < companies[j].Name })
	}
	page.Companies = companies

	cs := q.Components
	cs.Query = page.Query
	comps, err := s.SearchComponents(ctx, cs)
	if err != nil {
		s.logger.Error("component search failed", zap.String("query", page.Query), zap.Error(err))
		page.ComponentError = "Component search is temporarily unavailable."
	}
	page.Components = comps
	return page
}

// AuctionComponents lists a company's components belonging to one auction,
// matched by T-number and year range and grouped by auction name. Results
// that are slow to build are cached for a day.
func (s *Service) AuctionComponents(ctx context.Context, companyID, year, auctionName string) (*AuctionPage, error) {
	key := parse.CacheKey(auctionCachePrefix, companyID+"_"+year+"_"+auctionName)
	var cached AuctionPage
	if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	start := s.clock.Now()
	records, err := s.store.CMURecordsForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	info := parse.ParseAuction(auctionName)
	page := &AuctionPage{
		CompanyID:   companyID,
		CompanyName: records[0].FullName,
		Year:        year,
		AuctionName: auctionName,
		TNumber:     info.TNumber,
		YearRange:   info.YearRange,
	}

	cmuIDs := make([]string, 0, len(records))
	for _, r := range records {
		cmuIDs = append(cmuIDs, r.CMUID)
	}
	comps, err := s.store.ComponentsForCMUs(ctx, cmuIDs)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}

	groups := make(map[string][]model.Component)
	for _, c := range comps {
		if !info.Matches(c.AuctionName) {
			continue
		}
		name := c.AuctionName
		if name == "" {
			name = "No Auction"
		}
		groups[name] = append(groups[name], c)
		page.Total++
	}
	for name, cs := range groups {
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].Location < cs[j].Location })
		page.Groups = append(page.Groups, AuctionGroup{AuctionName: name, Components: cs})
	}
	sort.Slice(page.Groups, func(i, j int) bool { return page.Groups[i].AuctionName < page.Groups[j].AuctionName })

	if elapsed := s.clock.Since(start); elapsed > slowFragment {
		if err := s.cache.SetJSON(ctx, key, page, auctionCacheTTL); err != nil {
			s.logger.Warn("failed to cache auction components", zap.String("key", key), zap.Error(err))
		}
	}
	return page, nil
}

// CMUDetails summarises the components of one CMU by location.
func (s *Service) CMUDetails(ctx context.Context, cmuID string) (*CMUSummary, error) {
	comps, err := s.store.ComponentsForCMUs(ctx, []string{cmuID})
	if err != nil {
		return nil, err
	}

	summary := &CMUSummary{CMUID: cmuID, ComponentCount: len(comps)}
	if rec, err := s.store.GetCMURecord(ctx, cmuID); err == nil {
		summary.CompanyName = rec.FullName
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if summary.CompanyName == "" {
		for _, c := range comps {
			if c.CompanyName != "" {
				summary.CompanyName = c.CompanyName
				break
			}
		}
	}

	idx := make(map[string]int)
	for _, c := range comps {
		loc := c.Location
		if loc == "" {
			loc = "Unknown location"
		}
		i, ok := idx[loc]
		if !ok {
			i = len(summary.Locations)
			idx[loc] = i
			summary.Locations = append(summary.Locations, LocationEntry{Location: loc})
		}
		summary.Locations[i].Components = append(summary.Locations[i].Components, c)
	}
	return summary, nil
}

// ComponentDetail assembles the component page. The derated capacity comes
// from the component when known, otherwise from its CMU registry record.
func (s *Service) ComponentDetail(ctx context.Context, id int64) (*ComponentPage, error) {
	comp, err := s.store.GetComponent(ctx, id)
	if err != nil {
		return nil, err
	}

	page := &ComponentPage{
		Component:   *comp,
		CompanyName: comp.CompanyName,
		Category:    parse.SimplifyTechnology(comp.Technology),
	}

	rec, err := s.store.GetCMURecord(ctx, comp.CMUID)
	switch {
	case err == nil:
		page.Registry = rec
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, err
	}

	if page.CompanyName == "" && page.Registry != nil {
		page.CompanyName = page.Registry.FullName
	}
	if page.CompanyName == "" {
		page.CompanyName, _ = s.mapping.Company(ctx, comp.CMUID)
	}
	if page.CompanyName != "" {
		page.CompanyID = parse.Normalize(page.CompanyName)
	}

	switch {
	case comp.DeratedCapacityMW != nil:
		page.DeratedCapacity = comp.DeratedCapacityMW
		page.CapacitySource = "component"
	case page.Registry != nil && page.Registry.DeratedCapacity != nil:
		page.DeratedCapacity = page.Registry.DeratedCapacity
		page.CapacitySource = "cmu registry"
	}

	page.Sections = buildSections(page)
	return page, nil
}

var knownComponentFields = map[string]struct{}{
	"_id": {}, "CMU ID": {}, "Location and Post Code": {}, "Description of CMU Components": {},
	"Generating Technology Class": {}, "Company Name": {}, "Auction Name": {}, "Delivery Year": {},
	"Status": {}, "Type": {}, "De-Rated Capacity": {}, "Generation Type": {}, "Connection Type": {},
	"Connection / DSR Capacity": {}, "Clearing Price": {},
}

func buildSections(p *ComponentPage) []Section {
	c := p.Component
	extra := decodeAdditional(c.AdditionalData)

	capacity := "N/A"
	if p.DeratedCapacity != nil {
		capacity = strconv.FormatFloat(*p.DeratedCapacity, 'f', -1, 64) + " MW"
	}

	sections := []Section{
		{Title: "Basic Information", Fields: []Field{
			{"Location", orNA(c.Location)},
			{"Description", orNA(c.Description)},
			{"Company", orNA(p.CompanyName)},
			{"CMU ID", orNA(c.CMUID)},
		}},
		{Title: "Technical Details", Fields: []Field{
			{"Technology", orNA(c.Technology)},
			{"Category", p.Category},
			{"Generation Type", orNA(extra["Generation Type"])},
			{"Connection Type", orNA(extra["Connection Type"])},
			{"De-Rated Capacity", capacity},
			{"Connection / DSR Capacity", orNA(extra["Connection / DSR Capacity"])},
			{"Type", orNA(c.Type)},
		}},
		{Title: "Auction Information", Fields: []Field{
			{"Auction", orNA(c.AuctionName)},
			{"Delivery Year", orNA(c.DeliveryYear)},
			{"Status", orNA(c.Status)},
			{"Clearing Price", orNA(extra["Clearing Price"])},
		}},
	}

	loc := Section{Title: "Location Details", Fields: []Field{
		{"Outward Code", orNA(c.OutwardCode)},
		{"County", orNA(c.County)},
	}}
	if c.Latitude != nil && c.Longitude != nil {
		loc.Fields = append(loc.Fields, Field{"Coordinates", fmt.Sprintf("%.5f, %.5f", *c.Latitude, *c.Longitude)})
	}
	sections = append(sections, loc)

	var keys []string
	for k := range extra {
		if _, known := knownComponentFields[k]; !known {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		add := Section{Title: "Additional Information"}
		for _, k := range keys {
			add.Fields = append(add.Fields, Field{k, extra[k]})
		}
		sections = append(sections, add)
	}

	if r := p.Registry; r != nil {
		sections = append(sections, Section{Title: "CMU Registry", Fields: []Field{
			{"Name of Applicant", orNA(r.NameOfApplicant)},
			{"Parent Company", orNA(r.ParentCompany)},
			{"Delivery Year", orNA(r.DeliveryYear)},
			{"Auction", orNA(r.AuctionName)},
		}})
	}
	return sections
}

func decodeAdditional(raw []byte) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
