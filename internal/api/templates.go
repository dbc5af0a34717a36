package api

import (
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"capacity-checker/internal/parse"
)

//go:embed templates/*.html
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"urlParam":  urlParam,
	"companyID": parse.Normalize,
	"mw":        formatMW,
	"join":      strings.Join,
	"add":       func(a, b int) int { return a + b },
	"sub":       func(a, b int) int { return a - b },
}

// urlParam encodes s as a single path segment of the HTMX routes.
func urlParam(s string) string {
	return url.PathEscape(parse.ToURLParam(s))
}

func formatMW(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f MW", *v)
}

// LoadTemplates parses the embedded page and fragment templates.
func LoadTemplates() (*template.Template, error) {
	return template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
}
