// Package closure classifies diagnostics into blockers and warnings and
// decides whether an audit may be completed.
package closure

import (
	"fmt"

	"sliptacore/internal/diagnostics"
)

// Level distinguishes blocking entries from advisory ones.
type Level string

// Blocker levels.
const (
	LevelBlock Level = "block"
	LevelWarn  Level = "warn"
)

// Blocker summarises one diagnostic category.
type Blocker struct {
	Type     diagnostics.Category `json:"type"`
	Count    int                  `json:"count"`
	Message  string               `json:"message"`
	Severity Level                `json:"severity"`
}

// Decision is the closure gate verdict.
type Decision struct {
	CanClose          bool      `json:"can_close"`
	Blockers          []Blocker `json:"blockers"`
	EvidenceFlagCount int       `json:"evidence_flag_count"`
	Warnings          []Blocker `json:"warnings,omitempty"`
}

var blocking = map[diagnostics.Category]string{
	diagnostics.CategoryUnanswered:             "%d question(s) have no response",
	diagnostics.CategoryNCWithoutFinding:       "%d non-conforming response(s) have no finding",
	diagnostics.CategoryNAWithoutJustification: "%d NA response(s) lack a justification",
	diagnostics.CategoryMissingComments:        "%d P/N/NA response(s) lack a comment",
	diagnostics.CategoryCompositeViolations:    "%d composite question(s) answered Y with incomplete sub-questions",
}

var advisory = map[diagnostics.Category]string{
	diagnostics.CategoryEvidenceMissing: "%d non-conforming response(s) have no evidence attached",
	diagnostics.CategoryContradictions:  "%d response(s) contradict related records",
}

// Blocking reports whether a category prevents completion.
func Blocking(c diagnostics.Category) bool {
	_, ok := blocking[c]
	return ok
}

// Evaluate applies the gate to a diagnostics report. CanClose is true iff no
// blocking category has entries; evidence and contradiction counts only
// surface as warnings.
func Evaluate(rep diagnostics.Report) Decision {
	d := Decision{Blockers: []Blocker{}}
	for _, c := range diagnostics.Categories() {
		n := len(rep.Gaps(c))
		if n == 0 {
			continue
		}
		if format, ok := blocking[c]; ok {
			d.Blockers = append(d.Blockers, Blocker{Type: c, Count: n, Message: fmt.Sprintf(format, n), Severity: LevelBlock})
			continue
		}
		if format, ok := advisory[c]; ok {
			d.Warnings = append(d.Warnings, Blocker{Type: c, Count: n, Message: fmt.Sprintf(format, n), Severity: LevelWarn})
		}
	}
	d.EvidenceFlagCount = len(rep.EvidenceMissing)
	d.CanClose = len(d.Blockers) == 0
	return d
}

// Find returns the entry of the given type from blockers or warnings.
func (d Decision) Find(c diagnostics.Category) (Blocker, bool) {
	for _, b := range d.Blockers {
		if b.Type == c {
			return b, true
		}
	}
	for _, w := range d.Warnings {
		if w.Type == c {
			return w, true
		}
	}
	return Blocker{}, false
}
