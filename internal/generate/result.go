// Package generate turns bounded prompt requests into validated section
// pages. Every call ends in exactly one of two outcomes: a well-formed page
// or a typed failure. Partial pages are never returned.
package generate

import (
	"context"

	"github.com/sells-group/collection-cli/internal/model"
	"github.com/sells-group/collection-cli/internal/prompt"
	"github.com/sells-group/collection-cli/pkg/anthropic"
)

// FailureKind classifies why a generation call produced no page.
type FailureKind string

const (
	FailureMalformed   FailureKind = "malformed"
	FailureEmpty       FailureKind = "empty"
	FailureOversized   FailureKind = "oversized"
	FailureTimeout     FailureKind = "timeout"
	FailureEngine      FailureKind = "engine"
	FailureUnavailable FailureKind = "unavailable"
)

// Failure is a terminal generation failure for one (asset, section) pair.
type Failure struct {
	Kind FailureKind
	Err  error

	retryable bool
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Result is the tagged outcome of a generation call: Page is set on success,
// Failure otherwise.
type Result struct {
	Page     *model.SectionPage
	Failure  *Failure
	Attempts int
	Usage    anthropic.TokenUsage
}

// OK reports whether the call produced a page.
func (r Result) OK() bool {
	return r.Failure == nil && r.Page != nil
}

// Succeeded wraps a page as a successful result.
func Succeeded(page *model.SectionPage) Result {
	return Result{Page: page, Attempts: 1}
}

// Failed builds a failed result.
func Failed(kind FailureKind, err error) Result {
	return Result{Failure: &Failure{Kind: kind, Err: err}, Attempts: 1}
}

// Invoker sends one request to a reasoning engine. Retries, if any, are
// internal; callers only see the final Result.
type Invoker interface {
	Generate(ctx context.Context, req prompt.Request) Result
}
