// Package detect holds the query classification engine: feature extraction,
// the dangerous-pattern rule matcher, the isolation-forest novelty model,
// and the classifier that combines them.
package detect

import (
	"regexp"
	"strings"
)

// NumFeatures is the fixed width of a FeatureVector.
const NumFeatures = 6

// FeatureVector is the numeric representation of one query, in fixed order:
// query length, SELECT count, WHERE count, JOIN count, ";--" count, UNION count.
type FeatureVector [NumFeatures]float64

var (
	selectToken = regexp.MustCompile(`(?i)\bselect\b`)
	whereToken  = regexp.MustCompile(`(?i)\bwhere\b`)
	joinToken   = regexp.MustCompile(`(?i)\bjoin\b`)
	unionToken  = regexp.MustCompile(`(?i)\bunion\b`)
)

// Extract converts a raw query string into its feature vector. Pure function:
// identical input yields an identical vector, the empty string yields the
// zero vector, and no input can make it fail.
func Extract(query string) FeatureVector {
	if query == "" {
		return FeatureVector{}
	}
	return FeatureVector{
		float64(len(query)),
		float64(countMatches(selectToken, query)),
		float64(countMatches(whereToken, query)),
		float64(countMatches(joinToken, query)),
		float64(strings.Count(query, ";--")),
		float64(countMatches(unionToken, query)),
	}
}

func countMatches(re *regexp.Regexp, s string) int {
	return len(re.FindAllStringIndex(s, -1))
}
