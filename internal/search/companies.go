package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"capacity-checker/internal/model"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/store"
)

// SearchCompanies finds companies by name or CMU id. Companies without any
// stored component are left out.
func (s *Service) SearchCompanies(ctx context.Context, query string) ([]CompanyResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	matches, err := s.index.Find(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find companies: %w", err)
	}
	if len(matches) > maxCompanies {
		matches = matches[:maxCompanies]
	}

	var cmuIDs []string
	for _, m := range matches {
		cmuIDs = append(cmuIDs, m.Company.CMUIDs...)
	}
	counts, err := s.store.CountComponentsByCMU(ctx, cmuIDs)
	if err != nil {
		return nil, fmt.Errorf("count components: %w", err)
	}

	results := make([]CompanyResult, 0, len(matches))
	for _, m := range matches {
		var n int64
		for _, id := range m.Company.CMUIDs {
			n += counts[id]
		}
		if n == 0 {
			continue
		}
		results = append(results, CompanyResult{
			ID:             m.Company.ID,
			Name:           m.Company.Name,
			CMUCount:       len(m.Company.CMUIDs),
			ComponentCount: n,
			Score:          m.Score,
		})
	}

	s.logger.Debug("company search",
		zap.String("query", query),
		zap.Int("matches", len(matches)),
		zap.Int("with_components", len(results)),
	)
	return results, nil
}

// CompanyDetail groups a company's CMUs by delivery year and auction. Only
// auctions with at least one stored component are listed.
func (s *Service) CompanyDetail(ctx context.Context, companyID, sortOrder string) (*CompanyPage, error) {
	records, err := s.store.CMURecordsForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	cmuIDs := make([]string, 0, len(records))
	for _, r := range records {
		cmuIDs = append(cmuIDs, r.CMUID)
	}
	counts, err := s.store.CountComponentsByCMU(ctx, cmuIDs)
	if err != nil {
		return nil, fmt.Errorf("count components: %w", err)
	}

	page := &CompanyPage{
		ID:       companyID,
		Name:     records[0].FullName,
		CMUCount: len(records),
		Sort:     normalizeSort(sortOrder),
	}
	for _, n := range counts {
		page.ComponentCount += n
	}

	byYear := make(map[string]map[string][]string)
	for _, r := range records {
		if counts[r.CMUID] == 0 || r.AuctionName == "" {
			continue
		}
		year := cleanYear(r.DeliveryYear)
		if byYear[year] == nil {
			byYear[year] = make(map[string][]string)
		}
		byYear[year][r.AuctionName] = append(byYear[year][r.AuctionName], r.CMUID)
	}

	for year, auctions := range byYear {
		group := YearGroup{
			Year:   year,
			YearID: fmt.Sprintf("year-%s-%s", strings.ReplaceAll(year, " ", ""), companyID),
		}
		for name, ids := range auctions {
			badge, class := parse.Badge(name)
			group.Auctions = append(group.Auctions, AuctionLink{
				Name:       name,
				URLName:    parse.ToURLParam(name),
				Badge:      badge,
				BadgeClass: class,
				CMUIDs:     ids,
			})
		}
		sort.Slice(group.Auctions, func(i, j int) bool { return group.Auctions[i].Name < group.Auctions[j].Name })
		page.Years = append(page.Years, group)
	}

	asc := page.Sort == "asc"
	sort.Slice(page.Years, func(i, j int) bool {
		yi, yj := parse.ParseYear(page.Years[i].Year), parse.ParseYear(page.Years[j].Year)
		if yi == yj {
			return page.Years[i].Year < page.Years[j].Year
		}
		if asc {
			return yi < yj
		}
		return yi > yj
	})
	return page, nil
}

// CompanyYears returns the CMU cards of one delivery year, optionally
// narrowed to one auction.
func (s *Service) CompanyYears(ctx context.Context, companyID, year, auctionName string) (*CompanyYear, error) {
	records, err := s.store.CMURecordsForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, store.ErrNotFound
	}

	out := &CompanyYear{
		CompanyID:   companyID,
		CompanyName: records[0].FullName,
		Year:        year,
		AuctionName: auctionName,
	}

	auctionOf := make(map[string]string)
	var cmuIDs []string
	for _, r := range records {
		if cleanYear(r.DeliveryYear) != year {
			continue
		}
		if auctionName != "" && r.AuctionName != auctionName {
			continue
		}
		if _, seen := auctionOf[r.CMUID]; !seen {
			cmuIDs = append(cmuIDs, r.CMUID)
		}
		auctionOf[r.CMUID] = r.AuctionName
	}
	if len(cmuIDs) == 0 {
		return out, nil
	}

	comps, err := s.store.ComponentsForCMUs(ctx, cmuIDs)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	byCMU := make(map[string][]model.Component)
	for _, c := range comps {
		if c.DeliveryYear != "" && cleanYear(c.DeliveryYear) != year {
			continue
		}
		if auctionName != "" && c.AuctionName != "" && c.AuctionName != auctionName {
			continue
		}
		byCMU[c.CMUID] = append(byCMU[c.CMUID], c)
	}

	for _, id := range cmuIDs {
		if len(byCMU[id]) == 0 {
			continue
		}
		out.Cards = append(out.Cards, CMUCard{CMUID: id, AuctionName: auctionOf[id], Components: byCMU[id]})
	}
	return out, nil
}

func cleanYear(year string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(year), "Years:"))
}

func normalizeSort(s string) string {
	if s == "asc" {
		return "asc"
	}
	return "desc"
}
