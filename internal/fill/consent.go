package fill

import (
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/form"
)

// Consent vocabulary. A lone checkbox or a radio group whose text hits any
// of these is treated as an agreement control. The match is conservative by
// list, not by heuristic scoring.
var consentWords = []string{
	"agree", "accept", "consent", "terms", "policy", "privacy",
	"understand", "acknowledge", "waiver", "confirm",
}

// agreeWords rank the options of a consent radio group.
var agreeWords = []string{"i agree", "agree", "accept", "yes", "ok", "okay"}

// refuseWords guard against picking the refusing option of a consent group.
var refuseWords = []string{"disagree", "decline", "do not", "don't"}

// ConsentToggles agrees to every consent control on the card: lone
// checkboxes whose label reads like an agreement, and consent radio groups.
// Reports whether anything changed, so callers know a re-check of the Next
// button is worthwhile.
func (f *Filler) ConsentToggles(card *form.Card) bool {
	if card == nil || card.El == nil {
		return false
	}
	changed := false
	for _, line := range card.El.QueryAll("li.form-line") {
		boxes := checkboxes(line)
		if len(boxes) == 1 && !boxes[0].Checked() {
			if f.resolveConsentBox(line, boxes[0]) {
				changed = true
			}
		}
		radios := line.QueryAll("input[type='radio']")
		if len(radios) > 0 && f.isConsentGroup(line, radios) {
			if f.selectAgreeRadio(radios) {
				changed = true
			}
		}
	}
	return changed
}

// resolveConsentBox checks a lone checkbox when its text reads like consent.
func (f *Filler) resolveConsentBox(line dom.Element, box dom.Element) bool {
	if box.Checked() {
		return false
	}
	text := optionLabelText(f.doc, box)
	if text == "" {
		text = line.Text()
	}
	if !dom.ContainsAny(text, consentWords) {
		return false
	}
	f.check(box)
	return box.Checked()
}

// isConsentGroup recognizes agreement radio groups by the question label or
// by the options themselves.
func (f *Filler) isConsentGroup(line dom.Element, radios []dom.Element) bool {
	if dom.ContainsAny(line.Text(), consentWords) {
		return true
	}
	for _, r := range radios {
		if dom.ContainsAny(optionLabelText(f.doc, r), agreeWords) {
			return true
		}
	}
	return false
}

// selectAgreeRadio picks the affirming option of a consent group, skipping
// anything that reads like a refusal.
func (f *Filler) selectAgreeRadio(radios []dom.Element) bool {
	for _, r := range radios {
		if r.Checked() {
			return false
		}
	}
	for _, word := range agreeWords {
		for _, r := range radios {
			text := optionLabelText(f.doc, r)
			if dom.ContainsAny(text, refuseWords) {
				continue
			}
			if matchesWord(text, word) || matchesWord(r.Value(), word) {
				f.check(r)
				return r.Checked()
			}
		}
	}
	return false
}

// matchesWord is a substring match for phrases but an exact slug match for
// short words, so "ok" cannot hit inside "look good".
func matchesWord(text, word string) bool {
	if len(word) <= 3 {
		return dom.Slug(text) == dom.Slug(word)
	}
	return dom.ContainsAny(text, []string{word})
}
