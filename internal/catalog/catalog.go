// Package catalog holds the SLIPTA checklist definition and the integrity
// checks that must pass before any score derived from it is trusted.
package catalog

import (
	"sort"

	"sliptacore/pkg/domain"
)

// Reader exposes the checklist definition supplied by the catalog collaborator.
type Reader interface {
	Sections() []domain.Section
	Questions() []domain.Question
	SubQuestions() []domain.SubQuestion
}

// Catalog is an indexed, read-only checklist definition.
type Catalog struct {
	version      string
	sections     []domain.Section
	questions    []domain.Question
	subQuestions []domain.SubQuestion

	sectionByCode map[int]domain.Section
	questionByID  map[string]domain.Question
	subByID       map[string]domain.SubQuestion
	subsByParent  map[string][]domain.SubQuestion
}

var _ Reader = (*Catalog)(nil)

// New indexes the supplied definitions. Questions are ordered by section and
// then by code so that every consumer iterates them identically.
func New(version string, sections []domain.Section, questions []domain.Question, subs []domain.SubQuestion) *Catalog {
	c := &Catalog{
		version:       version,
		sections:      append([]domain.Section(nil), sections...),
		questions:     append([]domain.Question(nil), questions...),
		subQuestions:  append([]domain.SubQuestion(nil), subs...),
		sectionByCode: make(map[int]domain.Section, len(sections)),
		questionByID:  make(map[string]domain.Question, len(questions)),
		subByID:       make(map[string]domain.SubQuestion, len(subs)),
		subsByParent:  make(map[string][]domain.SubQuestion),
	}
	sort.SliceStable(c.sections, func(i, j int) bool { return c.sections[i].Code < c.sections[j].Code })
	sort.SliceStable(c.questions, func(i, j int) bool {
		if c.questions[i].SectionCode != c.questions[j].SectionCode {
			return c.questions[i].SectionCode < c.questions[j].SectionCode
		}
		return lessCode(c.questions[i].Code, c.questions[j].Code)
	})
	for _, s := range c.sections {
		c.sectionByCode[s.Code] = s
	}
	for _, q := range c.questions {
		c.questionByID[q.ID] = q
	}
	for _, sq := range c.subQuestions {
		c.subByID[sq.ID] = sq
		c.subsByParent[sq.QuestionID] = append(c.subsByParent[sq.QuestionID], sq)
	}
	return c
}

// FromReader builds an indexed catalog from any Reader.
func FromReader(r Reader) *Catalog {
	if c, ok := r.(*Catalog); ok {
		return c
	}
	return New("", r.Sections(), r.Questions(), r.SubQuestions())
}

// Version returns the catalog version label.
func (c *Catalog) Version() string { return c.version }

// Sections returns the sections ordered by code.
func (c *Catalog) Sections() []domain.Section {
	return append([]domain.Section(nil), c.sections...)
}

// Questions returns every question ordered by section and code.
func (c *Catalog) Questions() []domain.Question {
	return append([]domain.Question(nil), c.questions...)
}

// SubQuestions returns every sub-question.
func (c *Catalog) SubQuestions() []domain.SubQuestion {
	return append([]domain.SubQuestion(nil), c.subQuestions...)
}

// Section looks up a section by its numeric code.
func (c *Catalog) Section(code int) (domain.Section, bool) {
	s, ok := c.sectionByCode[code]
	return s, ok
}

// Question looks up a question by id.
func (c *Catalog) Question(id string) (domain.Question, bool) {
	q, ok := c.questionByID[id]
	return q, ok
}

// SubQuestion looks up a sub-question by id.
func (c *Catalog) SubQuestion(id string) (domain.SubQuestion, bool) {
	sq, ok := c.subByID[id]
	return sq, ok
}

// SubQuestionsOf returns the sub-questions attached to a composite question.
func (c *Catalog) SubQuestionsOf(questionID string) []domain.SubQuestion {
	return append([]domain.SubQuestion(nil), c.subsByParent[questionID]...)
}

// QuestionsInSection returns the questions of one section in catalog order.
func (c *Catalog) QuestionsInSection(code int) []domain.Question {
	var out []domain.Question
	for _, q := range c.questions {
		if q.SectionCode == code {
			out = append(out, q)
		}
	}
	return out
}

// lessCode orders dotted codes numerically so that "3.10" sorts after "3.9".
func lessCode(a, b string) bool {
	pa, pb := splitCode(a), splitCode(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return len(pa) < len(pb)
}

func splitCode(code string) []int {
	var parts []int
	n, digits := 0, false
	for _, r := range code {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			digits = true
			continue
		}
		if digits {
			parts = append(parts, n)
		}
		n, digits = 0, false
	}
	if digits {
		parts = append(parts, n)
	}
	return parts
}
