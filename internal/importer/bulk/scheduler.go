// Package bulk fans a list of product URLs out over the import pipeline with
// bounded concurrency and aggregates the per-URL outcomes.
package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/shopopti/go-import-fulfillment/internal/importer"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
)

const defaultConcurrency = 2

// Progress reports one finished URL out of a bulk run.
type Progress struct {
	URL       string         `json:"url"`
	Index     int            `json:"index"`
	Total     int            `json:"total"`
	State     importer.State `json:"state"`
	Reason    string         `json:"reason,omitempty"`
	Completed int            `json:"completed"`
}

// Summary buckets every URL of a bulk run by terminal outcome.
// Succeeded+Drafted+Blocked+Failed always equals the number of input URLs.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Drafted   int `json:"drafted"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
}

func (s Summary) Total() int {
	return s.Succeeded + s.Drafted + s.Blocked + s.Failed
}

// String renders only the non-zero buckets, e.g. "7 imported, 2 blocked, 1 failed".
func (s Summary) String() string {
	var parts []string
	if s.Succeeded > 0 {
		parts = append(parts, fmt.Sprintf("%d imported", s.Succeeded))
	}
	if s.Drafted > 0 {
		parts = append(parts, fmt.Sprintf("%d drafted", s.Drafted))
	}
	if s.Blocked > 0 {
		parts = append(parts, fmt.Sprintf("%d blocked", s.Blocked))
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	if len(parts) == 0 {
		return "nothing to import"
	}
	return strings.Join(parts, ", ")
}

// Scheduler runs bulk imports. Every URL is processed in silent mode so a
// warning on one product cannot stall the whole batch waiting for a human.
type Scheduler struct {
	pipeline    *importer.Pipeline
	concurrency int
	log         *logging.Logger
	progress    func(Progress)
}

type Option func(*Scheduler)

// WithConcurrency bounds the number of in-flight imports.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithProgress registers a callback invoked once per finished URL.
func WithProgress(fn func(Progress)) Option {
	return func(s *Scheduler) { s.progress = fn }
}

func NewScheduler(pipeline *importer.Pipeline, log *logging.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Scheduler{pipeline: pipeline, concurrency: defaultConcurrency, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run imports every URL and returns the aggregate summary. Individual
// failures are absorbed into the summary; the returned error is reserved for
// context cancellation.
func (s *Scheduler) Run(ctx context.Context, urls []string, opts importer.ProcessOptions) (Summary, error) {
	opts.Silent = true

	var (
		mu        sync.Mutex
		summary   Summary
		completed int
	)
	sem := make(chan struct{}, s.concurrency)

	var wg conc.WaitGroup
	for i, url := range urls {
		i, url := i, url
		wg.Go(func() {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				summary.Failed++
				completed++
				mu.Unlock()
				return
			}

			res, err := s.pipeline.ProcessURL(ctx, url, opts)
			state := res.State
			reason := res.Reason
			if err != nil {
				state = importer.StateFailed
				reason = err.Error()
			}

			mu.Lock()
			switch state {
			case importer.StateCompleted:
				summary.Succeeded++
			case importer.StateCompletedAsDraft:
				summary.Drafted++
			case importer.StateBlocked:
				summary.Blocked++
			default:
				summary.Failed++
			}
			completed++
			done := completed
			mu.Unlock()

			if s.progress != nil {
				s.progress(Progress{URL: url, Index: i, Total: len(urls), State: state, Reason: reason, Completed: done})
			}
		})
	}
	wg.Wait()

	s.log.Info("bulk import finished", "total", len(urls), "summary", summary.String())
	return summary, ctx.Err()
}
