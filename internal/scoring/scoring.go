// Package scoring computes audit and section scores from responses. Every
// function is pure: scores are recomputed on demand and never stored.
package scoring

import (
	"fmt"
	"math"

	"sliptacore/internal/catalog"
	"sliptacore/pkg/domain"
)

// Score is the computed result for an audit or a single section.
type Score struct {
	Earned              int     `json:"earned"`
	TotalPossible       int     `json:"total_possible"`
	NAPointsExcluded    int     `json:"na_points_excluded"`
	AdjustedDenominator int     `json:"adjusted_denominator"`
	Percentage          float64 `json:"percentage"`
	StarLevel           int     `json:"star_level"`
	Answered            int     `json:"answered"`
}

// SectionScore pairs a section with its score. Score is nil when the section
// has no responses.
type SectionScore struct {
	SectionCode int    `json:"section_code"`
	Title       string `json:"title"`
	Score       *Score `json:"score"`
}

type starBand struct {
	threshold float64
	stars     int
}

// starBands are ordered from the highest threshold down; lower edges are inclusive.
var starBands = []starBand{
	{95, 5},
	{85, 4},
	{75, 3},
	{65, 2},
	{55, 1},
	{0, 0},
}

// Stars maps a percentage onto the 0-5 star level.
func Stars(percentage float64) int {
	for _, b := range starBands {
		if percentage >= b.threshold {
			return b.stars
		}
	}
	return 0
}

// Audit scores all responses of an audit against the catalog total. It
// returns nil when there are no responses.
func Audit(cat *catalog.Catalog, responses []domain.Response) (*Score, error) {
	if len(responses) == 0 {
		return nil, nil
	}
	earned, naPoints, err := tally(cat, responses)
	if err != nil {
		return nil, err
	}
	return build(earned, naPoints, catalog.TotalPoints, len(responses)), nil
}

// Section scores the responses that belong to one section against the
// section's fixed maximum. It returns nil when the section has no responses.
func Section(cat *catalog.Catalog, sectionCode int, responses []domain.Response) (*Score, error) {
	maxPoints, ok := catalog.MaxPointsFor(sectionCode)
	if !ok {
		return nil, domain.IntegrityError{Section: sectionCode, Message: "no fixed maximum for section"}
	}
	var inSection []domain.Response
	for _, r := range responses {
		q, known := cat.Question(r.QuestionID)
		if known && q.SectionCode == sectionCode {
			inSection = append(inSection, r)
			continue
		}
		if !known && (r.Answer == domain.AnswerYes || r.Answer == domain.AnswerNotApplicable) {
			return nil, unmapped(r)
		}
	}
	if len(inSection) == 0 {
		return nil, nil
	}
	earned, naPoints, err := tally(cat, inSection)
	if err != nil {
		return nil, err
	}
	return build(earned, naPoints, maxPoints, len(inSection)), nil
}

// Sections scores every catalog section in order.
func Sections(cat *catalog.Catalog, responses []domain.Response) ([]SectionScore, error) {
	out := make([]SectionScore, 0, len(cat.Sections()))
	for _, s := range cat.Sections() {
		sc, err := Section(cat, s.Code, responses)
		if err != nil {
			return nil, err
		}
		out = append(out, SectionScore{SectionCode: s.Code, Title: s.Title, Score: sc})
	}
	return out, nil
}

func tally(cat *catalog.Catalog, responses []domain.Response) (earned, naPoints int, err error) {
	for _, r := range responses {
		switch r.Answer {
		case domain.AnswerYes, domain.AnswerNotApplicable:
			w, err := weightOf(cat, r)
			if err != nil {
				return 0, 0, err
			}
			if r.Answer == domain.AnswerYes {
				earned += w
			} else {
				naPoints += w
			}
		case domain.AnswerPartial:
			earned++
		case domain.AnswerNo:
		default:
			return 0, 0, domain.ValidationError{Field: "answer", Message: fmt.Sprintf("response %s has unknown answer %q", r.QuestionID, r.Answer)}
		}
	}
	return earned, naPoints, nil
}

// weightOf resolves a response's weight. An unmapped question or invalid
// weight is catalog corruption, never a zero.
func weightOf(cat *catalog.Catalog, r domain.Response) (int, error) {
	q, ok := cat.Question(r.QuestionID)
	if !ok {
		return 0, unmapped(r)
	}
	if !q.Weight.Valid() {
		return 0, domain.IntegrityError{
			Section: q.SectionCode,
			Message: fmt.Sprintf("question %s resolves to invalid weight %d", q.Code, q.Weight),
		}
	}
	return int(q.Weight), nil
}

func unmapped(r domain.Response) error {
	return domain.IntegrityError{Message: fmt.Sprintf("response for question %q does not map to a catalog weight", r.QuestionID)}
}

func build(earned, naPoints, total, answered int) *Score {
	den := total - naPoints
	if den < 1 {
		den = 1
	}
	pct := Round2(float64(earned) / float64(den) * 100)
	return &Score{
		Earned:              earned,
		TotalPossible:       total,
		NAPointsExcluded:    naPoints,
		AdjustedDenominator: den,
		Percentage:          pct,
		StarLevel:           Stars(pct),
		Answered:            answered,
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
