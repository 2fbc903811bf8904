// Package sites holds the static registry of supported e-commerce sites and
// their scrapeable field schemas.
package sites

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownSite signals a lookup for a site that is not registered.
var ErrUnknownSite = errors.New("unknown site")

// Field describes one named attribute a site's worker can extract.
type Field struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Site is one registered e-commerce target together with its worker-launch
// descriptor. Worker scripts are referenced by bare file name only; the
// bridge joins them onto its configured worker directory.
type Site struct {
	ID            string
	Name          string
	Fields        []Field
	DefaultFields []string
	// WorkerScript is the scrape worker file name, e.g. "amazon_scraper.py".
	WorkerScript string
	// CaptchaScript is the companion CAPTCHA validation worker, empty when
	// the site has none.
	CaptchaScript string
}

// aliases maps legacy client-side field names onto the worker schema.
var aliases = map[string]string{
	"price":  "exact_price",
	"seller": "supplier",
	"rating": "feedback",
	"specs":  "specifications",
	"brand":  "brand_name",
}

// Registry answers lookups about registered sites. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	sites map[string]Site
	order []string
}

// NewRegistry builds the registry from the built-in site table.
func NewRegistry() *Registry {
	r := &Registry{sites: make(map[string]Site, len(builtin))}
	for _, s := range builtin {
		r.sites[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	sort.Strings(r.order)
	return r
}

// ListSites returns every registered site in stable ID order.
func (r *Registry) ListSites() []Site {
	out := make([]Site, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sites[id])
	}
	return out
}

// Lookup resolves a site by identifier, case-insensitively.
func (r *Registry) Lookup(id string) (Site, error) {
	s, ok := r.sites[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Site{}, fmt.Errorf("%w: %s", ErrUnknownSite, id)
	}
	return s, nil
}

// FieldsFor returns the field definitions for a site.
func (r *Registry) FieldsFor(id string) ([]Field, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]Field, len(s.Fields))
	copy(out, s.Fields)
	return out, nil
}

// DefaultFieldsFor returns the default field selection for a site.
func (r *Registry) DefaultFieldsFor(id string) ([]string, error) {
	s, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(s.DefaultFields))
	copy(out, s.DefaultFields)
	return out, nil
}

// Normalize maps a requested field id through the legacy aliases onto the
// worker schema name.
func Normalize(field string) string {
	f := strings.ToLower(strings.TrimSpace(field))
	if mapped, ok := aliases[f]; ok {
		return mapped
	}
	return f
}

// ValidateFields partitions the requested field ids into those registered for
// the site and those that are not. Aliases are normalized before matching, so
// "price" validates against a site that registers "exact_price". The two
// returned slices are disjoint and together cover the input.
func (r *Registry) ValidateFields(id string, fields []string) (valid, invalid []string, err error) {
	s, lookupErr := r.Lookup(id)
	if lookupErr != nil {
		return nil, nil, lookupErr
	}
	known := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		known[f.ID] = struct{}{}
	}
	for _, f := range fields {
		normalized := Normalize(f)
		if _, ok := known[normalized]; ok {
			valid = append(valid, normalized)
		} else {
			invalid = append(invalid, f)
		}
	}
	return valid, invalid, nil
}
