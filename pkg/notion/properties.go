package notion

import (
	"sort"
	"strings"
	"time"

	"github.com/jacobrmount/Acrostic/pkg/jsonvalue"
)

// Candidate property names in rank order. Matching is case-insensitive; when no
// candidate matches, the first property of an accepted type wins.
var (
	TitleCandidates      = []string{"Name", "Title", "Task", "Task Name"}
	CompletionCandidates = []string{"Done", "Completed", "Complete", "Status", "Checkbox"}
	DueDateCandidates    = []string{"Due", "Due Date", "Deadline", "Date", "When"}
)

// Status or select option names that count as completed
var completedOptions = []string{"done", "complete", "completed", "finished", "closed"}

// PlainText concatenates the plain text runs of a rich text array
func PlainText(runs []RichText) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.PlainText)
	}
	return b.String()
}

func plainTextValues(runs []jsonvalue.Value) string {
	var b strings.Builder
	for _, run := range runs {
		if text, ok := run.String("plain_text"); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}

// LookupProperty resolves a property by ranked candidate names and then by type.
// A candidate only matches when its type is one of kinds; an empty kinds list
// accepts any type and disables the type fallback.
func LookupProperty(props map[string]jsonvalue.Value, candidates []string, kinds ...string) (string, jsonvalue.Value, bool) {
	if len(props) == 0 {
		return "", jsonvalue.Value{}, false
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	accepts := func(prop jsonvalue.Value) bool {
		if len(kinds) == 0 {
			return true
		}
		kind, _ := prop.String("type")
		for _, k := range kinds {
			if kind == k {
				return true
			}
		}
		return false
	}

	for _, candidate := range candidates {
		for _, name := range names {
			if strings.EqualFold(strings.TrimSpace(name), candidate) && accepts(props[name]) {
				return name, props[name], true
			}
		}
	}

	if len(kinds) == 0 {
		return "", jsonvalue.Value{}, false
	}
	for _, name := range names {
		if accepts(props[name]) {
			return name, props[name], true
		}
	}
	return "", jsonvalue.Value{}, false
}

// PageTitle returns the plain text of the page's title property
func PageTitle(props map[string]jsonvalue.Value) string {
	_, prop, ok := LookupProperty(props, TitleCandidates, "title")
	if !ok {
		return ""
	}
	runs, _ := prop.Array("title")
	return strings.TrimSpace(plainTextValues(runs))
}

// IsCompleted reads a checkbox, status or select completion property
func IsCompleted(props map[string]jsonvalue.Value) bool {
	_, prop, ok := LookupProperty(props, CompletionCandidates, "checkbox", "status")
	if !ok {
		_, prop, ok = LookupProperty(props, CompletionCandidates, "select")
		if !ok {
			return false
		}
	}

	kind, _ := prop.String("type")
	switch kind {
	case "checkbox":
		checked, _ := prop.Bool("checkbox")
		return checked
	case "status", "select":
		option, ok := prop.Object(kind)
		if !ok {
			return false
		}
		name, _ := option.String("name")
		for _, done := range completedOptions {
			if strings.EqualFold(strings.TrimSpace(name), done) {
				return true
			}
		}
	}
	return false
}

// DueDate reads the start of the date property, if any
func DueDate(props map[string]jsonvalue.Value) *time.Time {
	_, prop, ok := LookupProperty(props, DueDateCandidates, "date")
	if !ok {
		return nil
	}
	start, ok := prop.Path("date", "start")
	if !ok {
		return nil
	}
	raw, ok := start.AsString()
	if !ok {
		return nil
	}
	return ParseDate(raw)
}

// ParseDate accepts full timestamps and bare dates
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
