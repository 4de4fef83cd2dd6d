package services

import "strings"

// Placeholder names a substitutable token; it appears in bodies as
// "{name}".
type Placeholder string

const (
	PlaceholderCallName  Placeholder = "callName"
	PlaceholderCastName  Placeholder = "castName"
	PlaceholderLastVisit Placeholder = "lastVisit"
	PlaceholderStoreName Placeholder = "storeName"
)

var knownPlaceholders = []Placeholder{
	PlaceholderCallName, PlaceholderCastName, PlaceholderLastVisit, PlaceholderStoreName,
}

// TemplateVars supplies placeholder values. Missing or empty entries leave
// their tokens untouched.
type TemplateVars map[Placeholder]string

// RenderTemplate replaces every occurrence of each recognized placeholder
// that has a non-empty value. Unknown placeholders stay verbatim, and
// substituted values are never re-scanned for tokens.
func RenderTemplate(body string, vars TemplateVars) string {
	pairs := make([]string, 0, 2*len(knownPlaceholders))
	for _, p := range knownPlaceholders {
		if v := vars[p]; v != "" {
			pairs = append(pairs, "{"+string(p)+"}", v)
		}
	}
	if len(pairs) == 0 {
		return body
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
