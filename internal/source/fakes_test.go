package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/lead-finder/internal/fetcher"
	"github.com/JakeFAU/lead-finder/internal/lead"
)

// scriptedFetcher serves canned pages by URL; unknown URLs fail permanently.
type scriptedFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	called []string
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{pages: map[string]string{}, errs: map[string]error{}}
}

func (f *scriptedFetcher) Fetch(_ context.Context, rawURL string) (lead.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return lead.Page{}, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return lead.Page{}, &fetcher.FetchError{Kind: fetcher.Permanent, URL: rawURL, StatusCode: 404, Attempts: 1, Err: fmt.Errorf("%w: 404", fetcher.ErrStatus)}
	}
	return lead.Page{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *scriptedFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

func collect(seq func(func(lead.Lead, error) bool)) ([]lead.Lead, []error) {
	var leads []lead.Lead
	var errs []error
	for l, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		leads = append(leads, l)
	}
	return leads, errs
}
