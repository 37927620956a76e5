package importer

import (
	"context"
	"strings"
)

// Score weights for the offline ruleset. The three critical fields are worth
// the whole budget; descriptive fields only generate warnings.
const (
	titleWeight = 33
	priceWeight = 34
	imageWeight = 33
)

// FallbackValidator is the deterministic local ruleset used when no external
// scoring service is wired in. A product passes iff it has a usable title, a
// positive price, and at least one image.
type FallbackValidator struct{}

func (FallbackValidator) Validate(ctx context.Context, p NormalizedProduct) (Report, error) {
	var report Report

	if len(strings.TrimSpace(p.Title)) >= 3 {
		report.Score += titleWeight
	} else {
		report.CriticalFailures = append(report.CriticalFailures, FieldFailure{Field: "title", Reason: "title must be at least 3 characters"})
		report.MissingFields = append(report.MissingFields, "title")
	}

	if p.Price > 0 {
		report.Score += priceWeight
	} else {
		report.CriticalFailures = append(report.CriticalFailures, FieldFailure{Field: "price", Reason: "price must be greater than zero"})
		report.MissingFields = append(report.MissingFields, "price")
	}

	if len(p.Images) > 0 {
		report.Score += imageWeight
	} else {
		report.CriticalFailures = append(report.CriticalFailures, FieldFailure{Field: "images", Reason: "at least one image is required"})
		report.MissingFields = append(report.MissingFields, "images")
	}

	if strings.TrimSpace(p.Description) == "" {
		report.Warnings = append(report.Warnings, FieldFailure{Field: "description", Reason: "description is empty"})
	}

	report.CanImport = len(report.CriticalFailures) == 0
	if report.CanImport {
		report.Decision = DecisionImport
	} else {
		report.Decision = DecisionBlock
	}
	return report, nil
}
