// Package row decodes feedback rows as the analysis pipeline writes them:
// one text and one score column per section, with scores stored as numbers or
// numeric strings depending on the writer.
package row

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Column names shared by every writer.
const (
	ColumnID        = "id"
	ColumnURL       = "linkedin_url"
	ColumnEmail     = "email"
	ColumnCreatedAt = "created_at"
)

// Decode converts row into a Record. Sections whose score was present but
// unusable are returned in invalid; their score is dropped and their text kept.
func Decode(row gjson.Result) (rec feedback.Record, invalid []feedback.Section, err error) {
	if !row.IsObject() {
		return feedback.Record{}, nil, feedback.ErrMalformedRecord
	}
	rec = feedback.Record{
		ID:       row.Get(ColumnID).String(),
		URL:      row.Get(ColumnURL).String(),
		Feedback: make(map[feedback.Section]feedback.SectionFeedback),
	}
	if e := row.Get(ColumnEmail); e.Type == gjson.String {
		v := e.String()
		rec.Email = &v
	}
	if ts := row.Get(ColumnCreatedAt).String(); ts != "" {
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			rec.CreatedAt = parsed
		}
	}
	for _, s := range feedback.Sections() {
		sc, ok := Score(row.Get(s.ScoreColumn()))
		if !ok {
			invalid = append(invalid, s)
		}
		f := feedback.SectionFeedback{Score: sc}
		if text := row.Get(s.TextColumn()); text.Type == gjson.String {
			f.Text = text.String()
		}
		if f.Text != "" || f.Score != nil {
			rec.Feedback[s] = f
		}
	}
	return rec, invalid, nil
}

// First returns the first element of an array body, or body itself.
func First(body gjson.Result) gjson.Result {
	if body.IsArray() {
		return body.Get("0")
	}
	return body
}

// Score accepts numbers and numeric strings within the score range. The bool
// is false when a value was present but unusable.
func Score(v gjson.Result) (*float64, bool) {
	switch v.Type {
	case gjson.Null:
		return nil, true
	case gjson.Number:
		sc := feedback.Score(v.Float())
		return sc, sc != nil
	case gjson.String:
		raw := strings.TrimSpace(v.String())
		if raw == "" {
			return nil, true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		sc := feedback.Score(f)
		return sc, sc != nil
	default:
		return nil, false
	}
}
