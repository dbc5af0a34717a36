package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"capacity-checker/internal/app"
	"capacity-checker/internal/crawler"
	"capacity-checker/internal/dupes"
	"capacity-checker/internal/export"
	"capacity-checker/internal/model"
	"capacity-checker/internal/parse"
	"capacity-checker/internal/store"
)

func runCrawl(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("crawl")
	batchSize := fs.Int("batch-size", a.Config.Crawler.BatchSize, "CMUs per registry page")
	limit := fs.Int("limit", 0, "stop after this many CMUs (0 for all)")
	offset := fs.Int("offset", 0, "registry offset to start at")
	cmuID := fs.String("cmu", "", "crawl a single CMU")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a.StartAlerts(ctx)

	var (
		run *model.CrawlRun
		err error
	)
	if *cmuID != "" {
		run, err = a.Crawler.CrawlCMU(ctx, *cmuID)
	} else {
		run, err = a.Crawler.CrawlAll(ctx, crawler.Options{BatchSize: *batchSize, Limit: *limit, Offset: *offset})
	}
	if run != nil {
		fmt.Fprintf(out, "CMUs processed:       %d of %d\n", run.CMUsProcessed, run.TotalCMUs)
		fmt.Fprintf(out, "CMUs with components: %d\n", run.CMUsWithComponents)
		fmt.Fprintf(out, "Components found:     %d\n", run.ComponentsFound)
		fmt.Fprintf(out, "Components added:     %d\n", run.ComponentsAdded)
		fmt.Fprintf(out, "Errors:               %d\n", run.Errors)
	}
	return err
}

func runBuildCompanyIndex(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if err := newFlagSet("build-company-index").Parse(args); err != nil {
		return err
	}
	n, err := a.Search.Index().Build(ctx)
	if err != nil {
		return err
	}
	records, err := a.Store.AllCMURecords(ctx)
	if err != nil {
		return err
	}
	mapped, err := a.Search.Mapping().Rebuild(ctx, records)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Indexed %d companies, mapped %d CMUs\n", n, mapped)
	return nil
}

func runBuildMapCache(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("build-map-cache")
	clearFirst := fs.Bool("clear", false, "drop cached map data first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clearFirst {
		n, err := a.Maps.Clear(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %d cached map entries\n", n)
	}
	n, err := a.Maps.Warm(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cached %d map views\n", n)
	return nil
}

func runUpdatePostcodeMappings(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("update-postcode-mappings")
	minComponents := fs.Int("min-components", 3, "minimum components at a place to map it")
	testLocation := fs.String("test-location", "", "resolve this area after updating")
	forceRebuild := fs.Bool("force-rebuild", false, "drop cached area lookups first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *forceRebuild {
		n, err := a.Postcode.ClearCache(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %d cached area lookups\n", n)
	}

	before := a.Postcode.Mappings().Areas()
	fmt.Fprintf(out, "Current mapping has %d areas\n", before)

	missing, err := a.Postcode.UnmappedPlaces(ctx, a.Store, *minComponents)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		fmt.Fprintln(out, "No missing places found")
	} else {
		fmt.Fprintf(out, "%d places are missing from the mapping, top ones:\n", len(missing))
		for i, p := range missing {
			if i == 10 {
				break
			}
			fmt.Fprintf(out, "  - %s (%d components)\n", p.Place, p.Count)
		}
	}

	added, err := a.Postcode.RefreshFromComponents(ctx, a.Store, *minComponents)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Mapping now has %d areas (%d added)\n", a.Postcode.Mappings().Areas(), added)

	if *testLocation != "" {
		return resolveArea(ctx, a, out, *testLocation)
	}
	return nil
}

func runResolveArea(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("resolve-area")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("resolve-area needs an area name")
	}
	return resolveArea(ctx, a, out, strings.Join(fs.Args(), " "))
}

func resolveArea(ctx context.Context, a *app.App, out io.Writer, area string) error {
	outcodes, err := a.Postcode.OutcodesForArea(ctx, area)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", area, err)
	}
	fmt.Fprintf(out, "%s: %s\n", area, strings.Join(outcodes, ", "))
	return nil
}

func runPopulateLocationFields(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("populate-location-fields")
	batchSize := fs.Int("batch-size", 500, "components per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rep, err := a.Crawler.PopulateLocationFields(ctx, a.Postcode, *batchSize)
	fmt.Fprintf(out, "Updated %d components, geocoded %d (%d could not be placed)\n", rep.Updated, rep.Geocoded, rep.Failed)
	return err
}

func runGeocodeComponents(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("geocode-components")
	limit := fs.Int("limit", 0, "stop after this many components, 0 for all")
	force := fs.Bool("force", false, "re-geocode components that already have coordinates")
	batchSize := fs.Int("batch-size", 500, "components per batch")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rep, err := a.Crawler.GeocodeComponents(ctx, a.Postcode, crawler.GeocodeOptions{
		BatchSize: *batchSize,
		Limit:     *limit,
		Force:     *force,
	})
	fmt.Fprintf(out, "Geocoded %d components (%d could not be placed)\n", rep.Geocoded, rep.Failed)
	return err
}

func runDetectDuplicates(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("detect-duplicates")
	matchLevel := fs.String("match-level", "standard", "exact, standard or relaxed")
	cmuID := fs.String("cmu", "", "only scan this CMU")
	company := fs.String("company", "", "only scan this company name")
	clean := fs.Bool("clean", false, "delete all but one component of each set")
	dryRun := fs.Bool("dry-run", false, "with --clean, report what would be deleted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	level, err := dupes.ParseLevel(*matchLevel)
	if err != nil {
		return err
	}

	report, err := dupes.Scan(ctx, a.Store, store.ComponentFilter{CMUID: strings.ToUpper(*cmuID), CompanyName: *company}, level)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Scanned %d components at %s level: %d unique, %d duplicates in %d sets\n",
		report.Total, report.Level, report.Unique, report.Duplicates, len(report.Sets))
	for i, set := range report.Sets {
		if i == 20 {
			fmt.Fprintf(out, "  ... %d more sets\n", len(report.Sets)-i)
			break
		}
		first := set.Components[0]
		fmt.Fprintf(out, "  %s %q x%d (keeping id %d)\n", first.CMUID, first.Location, len(set.Components), first.ID)
	}

	if !*clean {
		return nil
	}
	if *dryRun {
		fmt.Fprintf(out, "Would delete %d components\n", len(dupes.Redundant(report)))
		return nil
	}
	deleted, err := dupes.Clean(ctx, a.Store, report)
	fmt.Fprintf(out, "Deleted %d components\n", deleted)
	return err
}

func runExport(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("export")
	company := fs.String("company", "", "company name to export")
	output := fs.String("output", "", "xlsx file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *company == "" || *output == "" {
		return errors.New("export needs --company and --output")
	}

	records, err := a.Store.CMURecordsForCompany(ctx, parse.Normalize(*company))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("company %q: %w", *company, store.ErrNotFound)
	}
	cmuIDs := make([]string, len(records))
	for i, r := range records {
		cmuIDs[i] = r.CMUID
	}
	comps, err := a.Store.ComponentsForCMUs(ctx, cmuIDs)
	if err != nil {
		return err
	}

	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := export.WriteComponentsXLSX(f, comps); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %d components from %d CMUs to %s\n", len(comps), len(records), *output)
	return nil
}

var cacheGroups = []struct {
	label   string
	pattern string
}{
	{"Company index", "company_index*"},
	{"CMU mapping", "cmu_to_company_mapping"},
	{"Statistics", "statistics_*"},
	{"Auction fragments", "auction_components*"},
	{"Map data", "map_data:*"},
	{"Area lookups", "area_postcodes:*"},
	{"Outcode neighbours", "outcode_neighbours:*"},
	{"Outcode counties", "outcode_county:*"},
	{"Outcode centroids", "outcode_centroid:*"},
}

func runCacheStatus(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	if err := newFlagSet("cache-status").Parse(args); err != nil {
		return err
	}
	if !a.Cache.Enabled() {
		fmt.Fprintln(out, "Redis is not configured")
		return nil
	}
	if err := a.Cache.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}

	for _, g := range cacheGroups {
		keys, err := a.Cache.Keys(ctx, g.pattern)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%-20s %6d keys\n", g.label, len(keys))
	}
	if updated, ok := a.Search.Index().LastUpdated(ctx); ok {
		fmt.Fprintf(out, "Company index built %s\n", updated.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(out, "Postcode mapping file: %d areas\n", a.Postcode.Mappings().Areas())
	return nil
}

func runClearCache(ctx context.Context, a *app.App, out io.Writer, args []string) error {
	fs := newFlagSet("clear-cache")
	pattern := fs.String("pattern", "*", "key glob to delete")
	if err := fs.Parse(args); err != nil {
		return err
	}
	n, err := a.Cache.DeletePattern(ctx, *pattern)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Deleted %d keys matching %q\n", n, *pattern)
	return nil
}
