package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"sliptacore/pkg/domain"
)

//go:embed slipta.yaml
var defaultCatalogYAML []byte

type fileSubQuestion struct {
	ID   string `yaml:"id"`
	Code string `yaml:"code"`
	Text string `yaml:"text"`
}

type fileQuestion struct {
	ID                    string            `yaml:"id"`
	Code                  string            `yaml:"code"`
	Weight                domain.Weight     `yaml:"weight"`
	Text                  string            `yaml:"text"`
	RequiresAllSubsForYes bool              `yaml:"requires_all_subs_for_yes"`
	SubQuestions          []fileSubQuestion `yaml:"sub_questions"`
}

type fileSection struct {
	ID        string         `yaml:"id"`
	Code      int            `yaml:"code"`
	Title     string         `yaml:"title"`
	MaxPoints int            `yaml:"max_points"`
	Questions []fileQuestion `yaml:"questions"`
}

type fileCatalog struct {
	Version  string        `yaml:"version"`
	Sections []fileSection `yaml:"sections"`
}

// Default returns the embedded SLIPTA catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// LoadFile reads a catalog definition from a YAML file. An empty path yields
// the embedded default.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	// #nosec G304 -- operator supplied catalog path
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog. Missing ids are derived from codes: sections
// become "S<code>", questions use their code, sub-questions append their code
// to the parent's id.
func Parse(data []byte) (*Catalog, error) {
	var fc fileCatalog
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	var (
		sections  []domain.Section
		questions []domain.Question
		subs      []domain.SubQuestion
	)
	for _, fs := range fc.Sections {
		sectionID := fs.ID
		if sectionID == "" {
			sectionID = "S" + strconv.Itoa(fs.Code)
		}
		sections = append(sections, domain.Section{
			ID:        sectionID,
			Code:      fs.Code,
			Title:     fs.Title,
			MaxPoints: fs.MaxPoints,
		})
		for _, fq := range fs.Questions {
			questionID := fq.ID
			if questionID == "" {
				questionID = fq.Code
			}
			questions = append(questions, domain.Question{
				ID:                    questionID,
				SectionID:             sectionID,
				SectionCode:           fs.Code,
				Code:                  fq.Code,
				Weight:                fq.Weight,
				Text:                  fq.Text,
				RequiresAllSubsForYes: fq.RequiresAllSubsForYes,
			})
			for _, fsq := range fq.SubQuestions {
				subID := fsq.ID
				if subID == "" {
					subID = questionID + fsq.Code
				}
				subs = append(subs, domain.SubQuestion{
					ID:         subID,
					QuestionID: questionID,
					Code:       fsq.Code,
					Text:       fsq.Text,
				})
			}
		}
	}
	return New(fc.Version, sections, questions, subs), nil
}
