// Package feedback holds the domain types shared by the submission, polling
// and session packages: feedback records, normalized profiles and the
// presentation contract rendered by the HTTP surface and the CLI.
package feedback

import (
	"math"
	"strings"
	"time"
)

// Section identifies one analysed part of a profile.
type Section string

const (
	SectionHeadline     Section = "headline"
	SectionAbout        Section = "about"
	SectionExperience   Section = "experience"
	SectionProjects     Section = "projects"
	SectionCertificates Section = "certificates"
)

var allSections = []Section{
	SectionHeadline,
	SectionAbout,
	SectionExperience,
	SectionProjects,
	SectionCertificates,
}

// Sections returns every section in display order.
func Sections() []Section {
	return append([]Section(nil), allSections...)
}

// TextColumn is the datastore column holding the section's feedback text.
func (s Section) TextColumn() string {
	switch s {
	case SectionHeadline:
		return "feedback_headline"
	case SectionAbout:
		return "feedback_sobre"
	case SectionExperience:
		return "feedback_experience"
	case SectionProjects:
		return "feedback_projetos"
	case SectionCertificates:
		return "feedback_certificados"
	default:
		return ""
	}
}

// ScoreColumn is the datastore column holding the section's score.
func (s Section) ScoreColumn() string {
	if c := s.TextColumn(); c != "" {
		return c + "_nota"
	}
	return ""
}

// Score bounds accepted from the datastore.
const (
	MinScore = 1.0
	MaxScore = 5.0
)

// ValidScore reports whether v is a usable section score.
func ValidScore(v float64) bool {
	return !math.IsNaN(v) && v >= MinScore && v <= MaxScore
}

// Score returns a pointer to v, or nil when v is outside the accepted range.
func Score(v float64) *float64 {
	if !ValidScore(v) {
		return nil
	}
	return &v
}

// SectionFeedback is the text and score produced for one section.
type SectionFeedback struct {
	Text  string   `json:"text,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// Complete reports whether both halves of the pair are populated.
func (f SectionFeedback) Complete() bool {
	return strings.TrimSpace(f.Text) != "" && f.Score != nil
}

// Record is one row of the feedback datastore. Sections are filled in
// asynchronously by the analysis pipeline; absent keys mean "not yet".
type Record struct {
	ID        string                      `json:"id"`
	URL       string                      `json:"linkedinUrl"`
	Email     *string                     `json:"email,omitempty"`
	CreatedAt time.Time                   `json:"createdAt"`
	Feedback  map[Section]SectionFeedback `json:"feedback,omitempty"`
}

// Section returns the feedback for s, zero when absent.
func (r Record) Section(s Section) SectionFeedback {
	return r.Feedback[s]
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if r.Email != nil {
		e := *r.Email
		out.Email = &e
	}
	if r.Feedback != nil {
		out.Feedback = make(map[Section]SectionFeedback, len(r.Feedback))
		for k, v := range r.Feedback {
			if v.Score != nil {
				sc := *v.Score
				v.Score = &sc
			}
			out.Feedback[k] = v
		}
	}
	return out
}

// WithSection returns a copy of r with s set to f.
func (r Record) WithSection(s Section, f SectionFeedback) Record {
	out := r.Clone()
	if out.Feedback == nil {
		out.Feedback = make(map[Section]SectionFeedback, 1)
	}
	out.Feedback[s] = f
	return out
}

// Notification is the payload announcing a new record to the analysis pipeline.
type Notification struct {
	LinkedinURL string    `json:"linkedinUrl"`
	RecordID    string    `json:"recordId"`
	Email       *string   `json:"email"`
	RequestTime time.Time `json:"requestTime"`
}
