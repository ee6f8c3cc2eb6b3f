package api

import (
	"sync"
	"time"

	"seedharness/internal/scenario"
)

// ResultView is the JSON form of a finished scenario.
type ResultView struct {
	Scenario string  `json:"scenario"`
	Method   string  `json:"method"`
	Verdict  string  `json:"verdict"`
	JobID    string  `json:"jobId,omitempty"`
	Status   string  `json:"status,omitempty"`
	Stage    string  `json:"stage,omitempty"`
	Polls    int     `json:"polls,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"durationSeconds"`
}

// ProgressResponse is returned by GET /v1/results.
type ProgressResponse struct {
	StartedAt time.Time      `json:"startedAt"`
	Planned   int            `json:"planned"`
	Counts    map[string]int `json:"counts"`
	Results   []ResultView   `json:"results"`
}

// Progress collects scenario results as a session produces them.
type Progress struct {
	mu        sync.RWMutex
	startedAt time.Time
	planned   int
	results   []ResultView
}

// NewProgress returns an empty Progress for a session of planned scenarios.
func NewProgress(planned int) *Progress {
	return &Progress{startedAt: time.Now(), planned: planned}
}

// Record adds a finished scenario. It matches scenario.SessionOptions.OnResult.
func (p *Progress) Record(r scenario.Result) {
	view := ResultView{
		Scenario: r.Scenario,
		Method:   string(r.Method),
		Verdict:  r.Verdict.String(),
		JobID:    r.JobID,
		Reason:   r.Reason,
		Duration: r.Duration.Seconds(),
	}
	if r.Outcome != nil {
		view.Status = r.Outcome.RawStatus
		view.Stage = r.Outcome.Stage
		view.Polls = r.Outcome.Polls
	}
	if r.Err != nil {
		view.Error = r.Err.Error()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, view)
}

// Snapshot returns the results so far.
func (p *Progress) Snapshot() ProgressResponse {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range p.results {
		counts[r.Verdict]++
	}
	return ProgressResponse{
		StartedAt: p.startedAt,
		Planned:   p.planned,
		Counts:    counts,
		Results:   append([]ResultView(nil), p.results...),
	}
}

// Get returns the result for the named scenario.
func (p *Progress) Get(name string) (ResultView, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.results {
		if r.Scenario == name {
			return r, true
		}
	}
	return ResultView{}, false
}
