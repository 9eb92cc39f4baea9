package state

// Default trigger intervals. Both are configurable; the summary interval in
// particular has varied across deployments.
const (
	DefaultAnalysisInterval = 2
	DefaultSummaryInterval  = 3
)

// TriggerPolicy decides, from a just-completed turn number, when the
// background analysis and summarization tasks should fire. Both predicates
// are pure functions of the turn counter.
type TriggerPolicy struct {
	AnalysisInterval int
	SummaryInterval  int
}

// DefaultTriggerPolicy returns the policy with the default intervals.
func DefaultTriggerPolicy() TriggerPolicy {
	return TriggerPolicy{
		AnalysisInterval: DefaultAnalysisInterval,
		SummaryInterval:  DefaultSummaryInterval,
	}
}

// ShouldAnalyze reports whether element analysis should run after the
// completed turn n. Turn 0 never triggers.
func (p TriggerPolicy) ShouldAnalyze(n int) bool {
	return p.AnalysisInterval > 0 && n > 0 && n%p.AnalysisInterval == 0
}

// ShouldSummarize reports whether summarization should run after the
// completed turn n. Turn 0 never triggers.
func (p TriggerPolicy) ShouldSummarize(n int) bool {
	return p.SummaryInterval > 0 && n > 0 && n%p.SummaryInterval == 0
}
