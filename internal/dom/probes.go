package dom

import (
	"regexp"
	"strings"
)

// Probe helpers. All of them are conservative: when state cannot be
// determined they answer "not visible" / "disabled" / "" rather than guess.

var (
	spaceRun  = regexp.MustCompile(`\s+`)
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	digitOnly = regexp.MustCompile(`\D+`)
)

// Norm lowercases, collapses whitespace runs and trims.
func Norm(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(strings.ToLower(s), " "))
}

// Slug lowercases and replaces every run of non-alphanumerics with a single
// hyphen, trimming leading and trailing hyphens. Used to compare option
// labels against tokens insensitively to punctuation.
func Slug(s string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Digits strips everything but ASCII digits.
func Digits(s string) string {
	return digitOnly.ReplaceAllString(s, "")
}

// ContainsAny reports whether the normalized haystack contains any of the
// normalized tokens. Empty tokens never match.
func ContainsAny(hay string, tokens []string) bool {
	h := Norm(hay)
	if h == "" {
		return false
	}
	for _, t := range tokens {
		t = Norm(t)
		if t != "" && strings.Contains(h, t) {
			return true
		}
	}
	return false
}

// Visible reports whether the element takes part in layout and is not hidden
// via computed style. A nil element is not visible.
func Visible(el Element) bool {
	if el == nil {
		return false
	}
	if strings.EqualFold(el.Style("display"), "none") {
		return false
	}
	if strings.EqualFold(el.Style("visibility"), "hidden") {
		return false
	}
	if el.Style("opacity") == "0" {
		return false
	}
	return !el.BoxEmpty()
}

// Disabled reports whether a button is inert: missing, disabled, marked
// aria-disabled, carrying a disabled class, or with pointer events off.
func Disabled(btn Element) bool {
	if btn == nil {
		return true
	}
	if _, ok := btn.Attr("disabled"); ok {
		return true
	}
	if aria, ok := btn.Attr("aria-disabled"); ok && strings.EqualFold(strings.TrimSpace(aria), "true") {
		return true
	}
	if cls, ok := btn.Attr("class"); ok && strings.Contains(strings.ToLower(cls), "disabled") {
		return true
	}
	return strings.EqualFold(btn.Style("pointer-events"), "none")
}

// LabelFor returns the label element bound to the given control id, or nil.
func LabelFor(doc Document, id string) Element {
	if id == "" {
		return nil
	}
	return doc.Query(`label[for='` + cssEscape(id) + `']`)
}

// QuestionLabel extracts the question text for a control: the label container
// inside the enclosing form line, falling back to a bound label element.
func QuestionLabel(doc Document, el Element) string {
	if el == nil {
		return ""
	}
	if line := el.Closest("li.form-line"); line != nil {
		if lab := line.Query(".jsQuestionLabelContainer, label.form-label, .form-label"); lab != nil {
			if t := Norm(lab.Text()); t != "" {
				return t
			}
		}
	}
	if lab := LabelFor(doc, el.ID()); lab != nil {
		return Norm(lab.Text())
	}
	return ""
}

// cssEscape quotes characters that would terminate an attribute selector.
// Control ids on these forms are [A-Za-z0-9_-] in practice; this only guards
// against the quoting characters.
func cssEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
