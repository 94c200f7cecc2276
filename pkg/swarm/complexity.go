package swarm

import (
	"regexp"

	"github.com/opus-nx/orchestrator/pkg/runner"
)

// Complexity is the fallback classifier's closed output set (§4.3.2).
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

// simplePatterns and complexPatterns are ported from original_source's
// COMPLEXITY_PATTERNS (agents/src/swarm.py), itself ported from an earlier
// orchestrator's regex table. The first matching set wins, simple checked
// before complex, exactly as the original does.
var simplePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:hi|hello|hey|thanks|thank you|ok|sure|yes|no)\b`),
	regexp.MustCompile(`(?i)^(?:what (?:is|are)|who (?:is|are)|when (?:did|was|is))\b`),
	regexp.MustCompile(`(?i)^(?:define|explain briefly|summarize)\b`),
}

var complexPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:debug|troubleshoot|diagnose|fix (?:the|this|my))\b`),
	regexp.MustCompile(`(?i)(?:architect|design|plan|strategy|analyze in depth)\b`),
	regexp.MustCompile(`(?i)(?:compare and contrast|trade-?offs?|pros? and cons?)\b`),
	regexp.MustCompile(`(?i)(?:research|investigate|deep dive|comprehensive)\b`),
	regexp.MustCompile(`(?i)(?:step by step|multi-?step|workflow|pipeline)\b`),
	regexp.MustCompile(`(?i)(?:refactor|optimize|improve performance)\b`),
}

// ClassifyComplexity implements the regex fallback classifier (§4.3.2): a
// "simple" pattern set checked first, then "complex"; no match falls
// through to "standard".
func ClassifyComplexity(query string) Complexity {
	for _, p := range simplePatterns {
		if p.MatchString(query) {
			return ComplexitySimple
		}
	}
	for _, p := range complexPatterns {
		if p.MatchString(query) {
			return ComplexityComplex
		}
	}
	return ComplexityStandard
}

// effortForComplexity is the fixed simple/standard/complex -> effort table
// (EFFORT_MAP in original_source/agents/src/swarm.py).
var effortForComplexity = map[Complexity]runner.Effort{
	ComplexitySimple:   runner.EffortMedium,
	ComplexityStandard: runner.EffortHigh,
	ComplexityComplex:  runner.EffortMax,
}
