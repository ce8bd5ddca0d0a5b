package scan

import (
	"context"
	"time"

	"github.com/urlsentry/urlsentry/internal/signals"
	"github.com/urlsentry/urlsentry/internal/types"
)

// Phase score budgets. They sum to 100 so the aggregate percentage reads
// directly as a safety percentage when every producer reports.
const (
	BudgetHeuristics = 25
	BudgetContent    = 20
	BudgetStructure  = 15
	BudgetSSL        = 15
	BudgetReputation = 15
	BudgetRedirects  = 10
)

// DefaultProducerTimeout bounds each producer call.
const DefaultProducerTimeout = 5 * time.Second

// Target is what a producer gets to inspect: the submitted URL, the signals
// extracted from it, and the optional evidence context.
type Target struct {
	URL     string
	Signals signals.Set
	Context signals.Context
}

// Result is one producer's contribution to a scan.
type Result struct {
	Score    int               `json:"score"`
	MaxScore int               `json:"max_score"`
	Status   types.PhaseStatus `json:"status"`
	// Available is false when the producer could not assess the target
	// (missing context, timeout, provider error). Unavailable phases are
	// excluded from aggregation rather than counted as safe.
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Findings  []string      `json:"findings,omitempty"`
	Mandate   types.Mandate `json:"mandate,omitempty"`
}

// Phase is a named producer result inside a decision.
type Phase struct {
	Name string `json:"name"`
	Result
}

// Producer is one evidence source. Implementations must be safe for
// concurrent use; the engine enforces the per-call timeout.
type Producer interface {
	Name() string
	MaxScore() int
	Check(ctx context.Context, target Target) Result
}

// Unavailable builds the neutral result a producer returns when it has
// nothing to assess.
func Unavailable(maxScore int, reason string) Result {
	return Result{
		MaxScore: maxScore,
		Status:   types.StatusSafe,
		Reason:   reason,
	}
}
