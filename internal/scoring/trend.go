package scoring

// Trend compares an audit's score with the audit it follows up on.
type Trend struct {
	Current         *Score  `json:"current"`
	Previous        *Score  `json:"previous"`
	PercentageDelta float64 `json:"percentage_delta"`
	StarDelta       int     `json:"star_delta"`
	Comparable      bool    `json:"comparable"`
}

// Compare builds a trend. Deltas are only meaningful when both scores exist.
func Compare(current, previous *Score) Trend {
	t := Trend{Current: current, Previous: previous}
	if current == nil || previous == nil {
		return t
	}
	t.Comparable = true
	t.PercentageDelta = Round2(current.Percentage - previous.Percentage)
	t.StarDelta = current.StarLevel - previous.StarLevel
	return t
}
