package catalog

import (
	"fmt"

	"sliptacore/pkg/domain"
)

// Fixed shape of the SLIPTA checklist.
const (
	ExpectedQuestions = 151
	ExpectedSections  = 12
	TotalPoints       = 367
)

// SectionMaxPoints is the closed lookup of each section's maximum score.
var SectionMaxPoints = map[int]int{
	1:  29,
	2:  19,
	3:  34,
	4:  19,
	5:  39,
	6:  24,
	7:  32,
	8:  44,
	9:  29,
	10: 27,
	11: 22,
	12: 49,
}

// MaxPointsFor returns the fixed maximum for a section code.
func MaxPointsFor(sectionCode int) (int, bool) {
	v, ok := SectionMaxPoints[sectionCode]
	return v, ok
}

// Validate checks the catalog against the immutable checklist shape. The
// first violation is returned as a domain.IntegrityError.
func Validate(r Reader) error {
	questions := r.Questions()
	sections := r.Sections()

	if len(questions) != ExpectedQuestions {
		return domain.IntegrityError{Message: fmt.Sprintf("expected %d questions, found %d", ExpectedQuestions, len(questions))}
	}
	if len(sections) != ExpectedSections {
		return domain.IntegrityError{Message: fmt.Sprintf("expected %d sections, found %d", ExpectedSections, len(sections))}
	}

	total := 0
	perSection := make(map[int]int, len(sections))
	for _, q := range questions {
		if !q.Weight.Valid() {
			return domain.IntegrityError{
				Section: q.SectionCode,
				Message: fmt.Sprintf("question %s has weight %d, expected 2 or 3", q.Code, q.Weight),
			}
		}
		total += int(q.Weight)
		perSection[q.SectionCode] += int(q.Weight)
	}
	if total != TotalPoints {
		return domain.IntegrityError{Message: fmt.Sprintf("question weights sum to %d, expected %d", total, TotalPoints)}
	}

	for _, s := range sections {
		want, ok := SectionMaxPoints[s.Code]
		if !ok {
			return domain.IntegrityError{Section: s.Code, Message: "section code is not part of the checklist"}
		}
		if s.MaxPoints != want {
			return domain.IntegrityError{Section: s.Code, Message: fmt.Sprintf("declared maximum %d, expected %d", s.MaxPoints, want)}
		}
		if got := perSection[s.Code]; got != want {
			return domain.IntegrityError{Section: s.Code, Message: fmt.Sprintf("question weights sum to %d, expected %d", got, want)}
		}
	}
	return nil
}
