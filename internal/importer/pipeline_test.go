package importer

import (
	"context"
	"errors"
	"testing"
)

type stubExtractor struct {
	raw RawListing
	err error
}

func (s *stubExtractor) Extract(ctx context.Context, url string) (RawListing, error) {
	if s.err != nil {
		return RawListing{}, s.err
	}
	raw := s.raw
	raw.SourceURL = url
	return raw, nil
}

type stubValidator struct {
	report Report
}

func (s *stubValidator) Validate(ctx context.Context, p NormalizedProduct) (Report, error) {
	return s.report, nil
}

type stubCommitter struct {
	calls   int
	lastOpt CommitOptions
	receipt Receipt
	err     error
}

func (s *stubCommitter) Commit(ctx context.Context, p NormalizedProduct, opts CommitOptions) (Receipt, error) {
	s.calls++
	s.lastOpt = opts
	if s.err != nil {
		return Receipt{}, s.err
	}
	return s.receipt, nil
}

func goodListing() RawListing {
	return RawListing{
		Platform: "aliexpress",
		Fields: map[string]any{
			"title":       "Wireless Earbuds Pro",
			"description": "Noise cancelling earbuds",
			"price":       29.99,
			"images":      []any{"https://img.example.com/1.jpg"},
		},
	}
}

func newTestPipeline(ex Extractor, v Validator, c Committer) *Pipeline {
	return NewPipeline(ex, FieldNormalizer{}, v, c, nil)
}

func TestProcessURLCleanProductCompletes(t *testing.T) {
	committer := &stubCommitter{receipt: Receipt{ProductID: "prod-1"}}
	p := newTestPipeline(&stubExtractor{raw: goodListing()}, FallbackValidator{}, committer)

	res, err := p.ProcessURL(context.Background(), "https://example.com/item/1", ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessURL returned error: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s (reason %q)", res.State, res.Reason)
	}
	if res.Report == nil || res.Report.Score != 100 || !res.Report.CanImport {
		t.Fatalf("expected passing report with score 100, got %+v", res.Report)
	}
	if committer.calls != 1 {
		t.Fatalf("expected exactly one commit, got %d", committer.calls)
	}
	if committer.lastOpt.AsDraft {
		t.Fatalf("clean product must not be committed as draft")
	}
}

func TestProcessURLMissingTitleBlocks(t *testing.T) {
	raw := goodListing()
	delete(raw.Fields, "title")
	raw.Fields["external_id"] = "abc-1"
	committer := &stubCommitter{}
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, committer)

	res, err := p.ProcessURL(context.Background(), "https://example.com/item/2", ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessURL returned error: %v", err)
	}
	if res.State != StateBlocked {
		t.Fatalf("expected BLOCKED, got %s", res.State)
	}
	if res.Report.Score != priceWeight+imageWeight {
		t.Fatalf("expected score %d, got %d", priceWeight+imageWeight, res.Report.Score)
	}
	if res.Reason == "" {
		t.Fatalf("blocked result must carry a reason")
	}
	if committer.calls != 0 {
		t.Fatalf("blocked product must never be committed")
	}
}

func TestProcessURLZeroPriceBlocks(t *testing.T) {
	raw := goodListing()
	raw.Fields["price"] = 0.0
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, &stubCommitter{})

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/3", ProcessOptions{})
	if res.State != StateBlocked {
		t.Fatalf("expected BLOCKED, got %s", res.State)
	}
	if res.Report.Score != titleWeight+imageWeight {
		t.Fatalf("expected score %d, got %d", titleWeight+imageWeight, res.Report.Score)
	}
}

func TestProcessURLNoImagesBlocks(t *testing.T) {
	raw := goodListing()
	delete(raw.Fields, "images")
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, &stubCommitter{})

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/4", ProcessOptions{})
	if res.State != StateBlocked {
		t.Fatalf("expected BLOCKED, got %s", res.State)
	}
	if got := res.Report.MissingFields; len(got) != 1 || got[0] != "images" {
		t.Fatalf("expected missing fields [images], got %v", got)
	}
}

func TestProcessURLWarningsPauseForConfirmation(t *testing.T) {
	raw := goodListing()
	delete(raw.Fields, "description")
	committer := &stubCommitter{receipt: Receipt{ProductID: "prod-2"}}
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, committer)

	res, err := p.ProcessURL(context.Background(), "https://example.com/item/5", ProcessOptions{})
	if err != nil {
		t.Fatalf("ProcessURL returned error: %v", err)
	}
	if res.State != StateAwaitingConfirmation {
		t.Fatalf("expected AWAITING_CONFIRMATION, got %s", res.State)
	}
	if committer.calls != 0 {
		t.Fatalf("commit must wait for confirmation")
	}

	confirmed, err := p.ConfirmImport(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("ConfirmImport: %v", err)
	}
	if confirmed.State != StateCompleted {
		t.Fatalf("expected COMPLETED after confirmation, got %s", confirmed.State)
	}
	if committer.calls != 1 {
		t.Fatalf("expected one commit after confirmation, got %d", committer.calls)
	}
}

func TestProcessURLSilentSkipsConfirmation(t *testing.T) {
	raw := goodListing()
	delete(raw.Fields, "description")
	committer := &stubCommitter{}
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, committer)

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/6", ProcessOptions{Silent: true})
	if res.State != StateCompleted {
		t.Fatalf("silent run must commit despite warnings, got %s", res.State)
	}
	if committer.calls != 1 {
		t.Fatalf("expected one commit, got %d", committer.calls)
	}
}

func TestProcessURLDraftRecommendation(t *testing.T) {
	validator := &stubValidator{report: Report{
		Score: 70, CanImport: true, Decision: DecisionDraft,
		ShouldDraft: true, DraftReason: "thin description",
	}}
	committer := &stubCommitter{}
	p := newTestPipeline(&stubExtractor{raw: goodListing()}, validator, committer)

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/7", ProcessOptions{})
	if res.State != StateCompletedAsDraft {
		t.Fatalf("expected COMPLETED_AS_DRAFT, got %s", res.State)
	}
	if !committer.lastOpt.AsDraft || committer.lastOpt.DraftReason != "thin description" {
		t.Fatalf("draft options not forwarded: %+v", committer.lastOpt)
	}
}

func TestProcessURLForceFullImportOverridesDraft(t *testing.T) {
	validator := &stubValidator{report: Report{Score: 70, CanImport: true, ShouldDraft: true}}
	committer := &stubCommitter{}
	p := newTestPipeline(&stubExtractor{raw: goodListing()}, validator, committer)

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/8", ProcessOptions{ForceFullImport: true})
	if res.State != StateCompleted {
		t.Fatalf("expected COMPLETED with force flag, got %s", res.State)
	}
	if committer.lastOpt.AsDraft {
		t.Fatalf("force full import must not commit a draft")
	}
}

func TestProcessURLExtractFailure(t *testing.T) {
	p := newTestPipeline(&stubExtractor{err: errors.New("page unreachable")}, FallbackValidator{}, &stubCommitter{})

	res, err := p.ProcessURL(context.Background(), "https://example.com/item/9", ProcessOptions{})
	if err != nil {
		t.Fatalf("pipeline failures are reported in the result, not the error: %v", err)
	}
	if res.State != StateFailed {
		t.Fatalf("expected FAILED, got %s", res.State)
	}
	job, err := p.Jobs().Get(res.JobID)
	if err != nil {
		t.Fatalf("Get job: %v", err)
	}
	if job.Error == "" {
		t.Fatalf("failed job must record its error")
	}
}

func TestCancelAwaitingJob(t *testing.T) {
	raw := goodListing()
	delete(raw.Fields, "description")
	committer := &stubCommitter{}
	p := newTestPipeline(&stubExtractor{raw: raw}, FallbackValidator{}, committer)

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/10", ProcessOptions{})
	if res.State != StateAwaitingConfirmation {
		t.Fatalf("expected AWAITING_CONFIRMATION, got %s", res.State)
	}

	job, err := p.CancelImport(res.JobID)
	if err != nil {
		t.Fatalf("CancelImport: %v", err)
	}
	if job.State != StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", job.State)
	}
	if _, err := p.ConfirmImport(context.Background(), res.JobID); !errors.Is(err, ErrJobNotAwaiting) {
		t.Fatalf("confirming a cancelled job: want ErrJobNotAwaiting, got %v", err)
	}
	if committer.calls != 0 {
		t.Fatalf("cancelled job must not be committed")
	}
}

func TestStepEventsEmitted(t *testing.T) {
	p := newTestPipeline(&stubExtractor{raw: goodListing()}, FallbackValidator{}, &stubCommitter{})

	res, _ := p.ProcessURL(context.Background(), "https://example.com/item/11", ProcessOptions{})
	if res.State != StateCompleted {
		t.Fatalf("expected COMPLETED, got %s", res.State)
	}

	want := []State{StateExtracting, StateNormalizing, StateValidating, StateImporting, StateCompleted}
	for _, state := range want {
		select {
		case ev := <-p.Events():
			if ev.State != state {
				t.Fatalf("expected event %s, got %s", state, ev.State)
			}
		default:
			t.Fatalf("missing event %s", state)
		}
	}
}
