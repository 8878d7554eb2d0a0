package detect

import "sync/atomic"

// Verdict reasons beyond rule names.
const (
	// ReasonAnomaly marks a query the novelty model scored as an outlier.
	ReasonAnomaly = "ml-anomaly"

	// ReasonUntrained marks a query that no rule matched while no model was
	// fitted yet. Untrained is a defined state, not an error: the query is
	// treated as not dangerous.
	ReasonUntrained = "model-untrained"
)

// Verdict is the outcome of classifying one query.
type Verdict struct {
	Dangerous bool
	Reason    string
}

// Classifier combines the rule matcher with the novelty model. Rules always
// run first and short-circuit, so a stale or poisoned model can never mask a
// known-bad shape. Without a fitted model the classifier runs rule-only.
type Classifier struct {
	rules *Matcher
	model atomic.Pointer[Forest]
}

// NewClassifier returns a Classifier with the given rules and no fitted
// model. A nil matcher gets the built-in rules.
func NewClassifier(rules *Matcher) *Classifier {
	if rules == nil {
		rules = NewMatcher()
	}
	return &Classifier{rules: rules}
}

// SetModel swaps in a newly fitted model. The swap is atomic: concurrent
// Evaluate calls see either the old model or the new one, never a partial
// state. A nil model is ignored.
func (c *Classifier) SetModel(f *Forest) {
	if f == nil {
		return
	}
	c.model.Store(f)
}

// Model returns the current model, or nil while untrained.
func (c *Classifier) Model() *Forest {
	return c.model.Load()
}

// Evaluate classifies one query string. Deterministic for a given model
// state, so re-evaluating the same record after a crash yields the same
// verdict.
func (c *Classifier) Evaluate(query string) Verdict {
	if name, ok := c.rules.Match(query); ok {
		return Verdict{Dangerous: true, Reason: name}
	}

	model := c.model.Load()
	if model == nil {
		return Verdict{Reason: ReasonUntrained}
	}

	if model.Anomalous(Extract(query)) {
		return Verdict{Dangerous: true, Reason: ReasonAnomaly}
	}
	return Verdict{}
}
