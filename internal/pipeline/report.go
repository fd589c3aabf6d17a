package pipeline

import (
	"sync"
	"time"
)

// StageCount tallies one stage of a batch.
type StageCount struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func (c *StageCount) observe(ok bool) {
	c.Attempted++
	if ok {
		c.Succeeded++
	} else {
		c.Failed++
	}
}

// Report summarizes a batch.
type Report struct {
	Passes     StageCount    `json:"passes"`
	Listings   StageCount    `json:"listings"`
	Validation StageCount    `json:"validation"`
	Enrichment StageCount    `json:"enrichment"`
	Upserts    StageCount    `json:"upserts"`
	Inserted   int           `json:"inserted"`
	Merged     int           `json:"merged"`
	Duration   time.Duration `json:"duration"`
}

// tally guards a Report shared by concurrent passes.
type tally struct {
	mu     sync.Mutex
	report Report
}

func (t *tally) update(fn func(r *Report)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.report)
}

func (t *tally) snapshot(started time.Time) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.report
	r.Duration = time.Since(started)
	return r
}
