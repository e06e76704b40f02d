package feedback

import (
	"fmt"
	"math"
	"strings"
)

// DefaultCompletionScore is reported when no section carries a score.
const DefaultCompletionScore = 50

// DefaultSuggestionThreshold is the score below which a section earns a suggestion.
const DefaultSuggestionThreshold = 4.0

// Profile display defaults.
const (
	DefaultProfileName     = "LinkedIn profile"
	DefaultProfileHeadline = "Professional"
	DefaultConnections     = "500+"
)

// ScorePolicy selects which sections contribute to the completion score.
type ScorePolicy int

const (
	// ScoreFourSections averages every section except projects.
	ScoreFourSections ScorePolicy = 4
	// ScoreFiveSections averages all sections.
	ScoreFiveSections ScorePolicy = 5
)

func (p ScorePolicy) sections() []Section {
	if p == ScoreFiveSections {
		return allSections
	}
	return []Section{SectionHeadline, SectionAbout, SectionExperience, SectionCertificates}
}

// ParseScorePolicy maps the configured section count to a policy.
func ParseScorePolicy(n int) (ScorePolicy, error) {
	switch n {
	case 4:
		return ScoreFourSections, nil
	case 5:
		return ScoreFiveSections, nil
	default:
		return 0, fmt.Errorf("unsupported score section count %d", n)
	}
}

// Completeness decides whether a record is worth displaying.
type Completeness string

const (
	// CompletenessAny requires at least one complete section.
	CompletenessAny Completeness = "any"
	// CompletenessAll requires every section to be complete.
	CompletenessAll Completeness = "all"
)

// Ready applies the completeness rule to r.
func (c Completeness) Ready(r Record) bool {
	if c == CompletenessAll {
		return AllSectionsFilled(r)
	}
	return HasMinimumData(r)
}

// HasMinimumData reports whether at least one section has both text and score.
func HasMinimumData(r Record) bool {
	for _, s := range allSections {
		if r.Section(s).Complete() {
			return true
		}
	}
	return false
}

// AllSectionsFilled reports whether every section has both text and score.
func AllSectionsFilled(r Record) bool {
	for _, s := range allSections {
		if !r.Section(s).Complete() {
			return false
		}
	}
	return true
}

// CompletionScore averages the available scores on a 0-100 scale.
func CompletionScore(r Record, policy ScorePolicy) int {
	var (
		total float64
		n     int
	)
	for _, s := range policy.sections() {
		if sc := r.Section(s).Score; sc != nil {
			total += *sc
			n++
		}
	}
	if n == 0 {
		return DefaultCompletionScore
	}
	score := int(math.Round(total / float64(n) * 20))
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}

var sectionSuggestions = map[Section]string{
	SectionHeadline:     "Rework your headline so it states your core skills and the role you want",
	SectionAbout:        "Expand the About section with more detail on your professional story",
	SectionExperience:   "Describe your experience entries in more depth and highlight measurable results",
	SectionProjects:     "Add relevant projects that demonstrate your practical skills",
	SectionCertificates: "Add certifications that are relevant to your field",
}

var genericSuggestions = []string{
	"Keep your profile up to date",
	"Add keywords that recruiters in your field search for",
	"Ask colleagues and managers for recommendations",
}

// SuggestImprovements lists one suggestion per section scored below the default threshold.
func SuggestImprovements(r Record) []string {
	return SuggestImprovementsBelow(r, DefaultSuggestionThreshold)
}

// SuggestImprovementsBelow is SuggestImprovements with an explicit threshold.
// The result is never empty.
func SuggestImprovementsBelow(r Record, threshold float64) []string {
	var out []string
	for _, s := range allSections {
		if sc := r.Section(s).Score; sc != nil && *sc < threshold {
			out = append(out, sectionSuggestions[s])
		}
	}
	if len(out) == 0 {
		out = append(out, genericSuggestions...)
	}
	return out
}

// SectionResult is one section as displayed.
type SectionResult struct {
	Section        Section  `json:"section"`
	Text           string   `json:"text,omitempty"`
	Score          *float64 `json:"score,omitempty"`
	BelowThreshold bool     `json:"belowThreshold"`
}

// Profile is the normalized, display-ready view of a record.
type Profile struct {
	URL                   string          `json:"url"`
	Name                  string          `json:"name"`
	Headline              string          `json:"headline"`
	Connections           string          `json:"connections"`
	Recommendations       int             `json:"recommendations"`
	CompletionScore       int             `json:"completionScore"`
	SuggestedImprovements []string        `json:"suggestedImprovements"`
	Sections              []SectionResult `json:"sections"`
}

// Normalizer turns records into profiles according to configured rules.
type Normalizer struct {
	Completeness Completeness
	Scores       ScorePolicy
	Threshold    float64
}

// DefaultNormalizer returns the rules used when nothing is configured.
func DefaultNormalizer() Normalizer {
	return Normalizer{
		Completeness: CompletenessAny,
		Scores:       ScoreFourSections,
		Threshold:    DefaultSuggestionThreshold,
	}
}

// Ready reports whether r satisfies the completeness rule.
func (n Normalizer) Ready(r Record) bool {
	return n.Completeness.Ready(r)
}

// Normalize builds a fresh Profile from r. url wins over the record's own URL
// when set.
func (n Normalizer) Normalize(r Record, url string) Profile {
	if url == "" {
		url = r.URL
	}
	threshold := n.Threshold
	if threshold <= 0 {
		threshold = DefaultSuggestionThreshold
	}
	p := Profile{
		URL:                   url,
		Name:                  DefaultProfileName,
		Connections:           DefaultConnections,
		CompletionScore:       CompletionScore(r, n.Scores),
		SuggestedImprovements: SuggestImprovementsBelow(r, threshold),
	}
	if strings.TrimSpace(r.Section(SectionHeadline).Text) != "" {
		p.Headline = DefaultProfileHeadline
	}
	for _, s := range allSections {
		f := r.Section(s)
		if f.Text == "" && f.Score == nil {
			continue
		}
		res := SectionResult{Section: s, Text: f.Text}
		if f.Score != nil {
			v := *f.Score
			res.Score = &v
			res.BelowThreshold = v < threshold
		}
		p.Sections = append(p.Sections, res)
	}
	return p
}

// Normalize applies the default rules with the given score policy.
func Normalize(r Record, url string, policy ScorePolicy) Profile {
	n := DefaultNormalizer()
	n.Scores = policy
	return n.Normalize(r, url)
}
