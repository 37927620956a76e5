// Package importer runs the product import decision pipeline: extract,
// normalize, validate, then commit, draft, block, or hold for confirmation.
package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/shopopti/go-import-fulfillment/internal/logging"
)

// ProcessOptions tunes one pipeline run.
type ProcessOptions struct {
	// Silent suppresses the confirmation pause on warnings; used by bulk runs.
	Silent bool
	// ForceFullImport publishes even when the validator recommends a draft.
	ForceFullImport bool
	Metadata        map[string]string
}

// Result is what the caller gets back from a pipeline run. Exactly one of the
// terminal-ish states applies; AWAITING_CONFIRMATION results carry the job id
// for the later ConfirmImport or CancelImport call.
type Result struct {
	JobID   string   `json:"job_id"`
	State   State    `json:"state"`
	Report  *Report  `json:"report,omitempty"`
	Receipt *Receipt `json:"receipt,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

// Pipeline owns the import state machine. Stage capabilities are injected;
// progress is observable through the job store and the event channel.
type Pipeline struct {
	extractor  Extractor
	normalizer Normalizer
	validator  Validator
	committer  Committer
	jobs       *JobStore
	events     chan StepEvent
	log        *logging.Logger
}

func NewPipeline(extractor Extractor, normalizer Normalizer, validator Validator, committer Committer, log *logging.Logger) *Pipeline {
	if log == nil {
		log = logging.NewNop()
	}
	return &Pipeline{
		extractor:  extractor,
		normalizer: normalizer,
		validator:  validator,
		committer:  committer,
		jobs:       NewJobStore(),
		events:     make(chan StepEvent, 64),
		log:        log,
	}
}

// Jobs exposes the job store for status queries.
func (p *Pipeline) Jobs() *JobStore { return p.jobs }

// Events is a best-effort progress feed. Slow consumers lose events rather
// than stalling the pipeline.
func (p *Pipeline) Events() <-chan StepEvent { return p.events }

// ProcessURL drives one URL through the full decision pipeline.
func (p *Pipeline) ProcessURL(ctx context.Context, url string, opts ProcessOptions) (Result, error) {
	job := p.jobs.create(uuid.NewString(), url)
	p.log.Info("import started", "job_id", job.ID, "url", url, "silent", opts.Silent)

	p.step(job.ID, StateExtracting, "")
	raw, err := p.extractor.Extract(ctx, url)
	if err != nil {
		return p.fail(job.ID, fmt.Errorf("extract: %w", err))
	}
	if cancelled, res := p.checkCancelled(job.ID); cancelled {
		return res, nil
	}

	p.step(job.ID, StateNormalizing, "")
	product, err := p.normalizer.Normalize(ctx, raw)
	if err != nil {
		return p.fail(job.ID, fmt.Errorf("normalize: %w", err))
	}
	p.jobs.setProduct(job.ID, product)
	if cancelled, res := p.checkCancelled(job.ID); cancelled {
		return res, nil
	}

	p.step(job.ID, StateValidating, "")
	report, err := p.validator.Validate(ctx, product)
	if err != nil {
		return p.fail(job.ID, fmt.Errorf("validate: %w", err))
	}
	p.jobs.setReport(job.ID, report)
	if cancelled, res := p.checkCancelled(job.ID); cancelled {
		return res, nil
	}

	return p.decide(ctx, job.ID, product, report, opts)
}

// decide applies the decision ordering: critical failures block, a draft
// recommendation drafts unless overridden, warnings pause for confirmation
// unless silent, and a clean report publishes.
func (p *Pipeline) decide(ctx context.Context, jobID string, product NormalizedProduct, report Report, opts ProcessOptions) (Result, error) {
	switch {
	case !report.CanImport || len(report.CriticalFailures) > 0:
		reason := report.BlockReason()
		p.step(jobID, StateBlocked, reason)
		p.log.Warn("import blocked", "job_id", jobID, "reason", reason, "score", report.Score)
		return Result{JobID: jobID, State: StateBlocked, Report: &report, Reason: reason}, nil

	case report.ShouldDraft && !opts.ForceFullImport:
		return p.commit(ctx, jobID, product, CommitOptions{
			AsDraft:     true,
			DraftReason: report.DraftReason,
			Metadata:    opts.Metadata,
		})

	case len(report.Warnings) > 0 && !opts.Silent:
		p.step(jobID, StateAwaitingConfirmation, "validation raised warnings")
		return Result{JobID: jobID, State: StateAwaitingConfirmation, Report: &report}, nil

	default:
		return p.commit(ctx, jobID, product, CommitOptions{Metadata: opts.Metadata})
	}
}

// ConfirmImport resumes a job paused on warnings and publishes it.
func (p *Pipeline) ConfirmImport(ctx context.Context, jobID string) (Result, error) {
	job, err := p.jobs.Get(jobID)
	if err != nil {
		return Result{}, err
	}
	if job.State != StateAwaitingConfirmation {
		return Result{}, fmt.Errorf("%w: state %s", ErrJobNotAwaiting, job.State)
	}
	if job.Product == nil {
		return p.fail(jobID, fmt.Errorf("job %s has no normalized product", jobID))
	}
	return p.commit(ctx, jobID, *job.Product, CommitOptions{})
}

// CancelImport marks a non-terminal job cancelled. A job paused on warnings is
// the usual target, but an in-flight job also observes the cancellation at its
// next stage boundary.
func (p *Pipeline) CancelImport(jobID string) (Job, error) {
	job, err := p.jobs.transition(jobID, StateCancelled, "cancelled by caller")
	if err != nil {
		return job, err
	}
	p.emit(StepEvent{JobID: jobID, State: StateCancelled})
	p.log.Info("import cancelled", "job_id", jobID)
	return job, nil
}

func (p *Pipeline) commit(ctx context.Context, jobID string, product NormalizedProduct, opts CommitOptions) (Result, error) {
	importing := StateImporting
	done := StateCompleted
	if opts.AsDraft {
		importing = StateImportingAsDraft
		done = StateCompletedAsDraft
	}
	p.step(jobID, importing, opts.DraftReason)

	receipt, err := p.committer.Commit(ctx, product, opts)
	if err != nil {
		return p.fail(jobID, err)
	}
	p.jobs.setReceipt(jobID, receipt)
	p.step(jobID, done, "")
	p.log.Info("import committed",
		"job_id", jobID, "product_id", receipt.ProductID, "draft", opts.AsDraft, "queued", receipt.Queued)

	job, _ := p.jobs.Get(jobID)
	return Result{JobID: jobID, State: done, Report: job.Report, Receipt: &receipt}, nil
}

func (p *Pipeline) fail(jobID string, err error) (Result, error) {
	p.jobs.setError(jobID, err)
	p.step(jobID, StateFailed, err.Error())
	p.log.Error("import failed", "job_id", jobID, "error", err)
	return Result{JobID: jobID, State: StateFailed, Reason: err.Error()}, nil
}

func (p *Pipeline) checkCancelled(jobID string) (bool, Result) {
	job, err := p.jobs.Get(jobID)
	if err == nil && job.State == StateCancelled {
		return true, Result{JobID: jobID, State: StateCancelled, Reason: "cancelled"}
	}
	return false, Result{}
}

func (p *Pipeline) step(jobID string, state State, message string) {
	job, err := p.jobs.transition(jobID, state, message)
	if err != nil {
		return
	}
	p.emit(job.Steps[len(job.Steps)-1])
}

func (p *Pipeline) emit(ev StepEvent) {
	select {
	case p.events <- ev:
	default:
	}
}
