package source

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/lead-finder/internal/lead"
)

// Registry maps sources to their scrapers.
type Registry struct {
	scrapers map[lead.Source]lead.Scraper
	order    []lead.Source
}

// NewRegistry registers scrapers in order. A later scraper for the same source replaces an earlier one.
func NewRegistry(scrapers ...lead.Scraper) *Registry {
	r := &Registry{scrapers: make(map[lead.Source]lead.Scraper)}
	for _, s := range scrapers {
		r.Register(s)
	}
	return r
}

// Register adds or replaces a scraper.
func (r *Registry) Register(s lead.Scraper) {
	src := s.Source()
	if _, exists := r.scrapers[src]; !exists {
		r.order = append(r.order, src)
	}
	r.scrapers[src] = s
}

// Get returns the scraper for src.
func (r *Registry) Get(src lead.Source) (lead.Scraper, bool) {
	s, ok := r.scrapers[src]
	return s, ok
}

// Sources lists registered sources in registration order.
func (r *Registry) Sources() []lead.Source {
	out := make([]lead.Source, len(r.order))
	copy(out, r.order)
	return out
}

// Select resolves source names to scrapers. No names selects every scraper.
func (r *Registry) Select(names ...string) ([]lead.Scraper, error) {
	if len(names) == 0 {
		out := make([]lead.Scraper, 0, len(r.order))
		for _, src := range r.order {
			out = append(out, r.scrapers[src])
		}
		return out, nil
	}
	out := make([]lead.Scraper, 0, len(names))
	for _, name := range names {
		src, err := ParseSource(name)
		if err != nil {
			return nil, err
		}
		s, ok := r.scrapers[src]
		if !ok {
			return nil, fmt.Errorf("source %q is not enabled", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// ParseSource accepts full source names and the short forms used in config.
func ParseSource(name string) (lead.Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "search", "duckduckgo", "google":
		return lead.SourceSearch, nil
	case "europages", string(lead.SourceEuropages):
		return lead.SourceEuropages, nil
	case "kompass", string(lead.SourceKompass):
		return lead.SourceKompass, nil
	default:
		return "", fmt.Errorf("unknown source %q", name)
	}
}
