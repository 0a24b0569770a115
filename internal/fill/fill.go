package fill

import (
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/form"
	"go.uber.org/zap"
)

// Filler writes Values into detected fields.
type Filler struct {
	doc dom.Document
	log *zap.Logger
}

// New builds a Filler over the parent document.
func New(doc dom.Document, log *zap.Logger) *Filler {
	return &Filler{doc: doc, log: log.Named("fill")}
}

// Fill dispatches every detected field to its filler. Widget fields are not
// filled here; the driver negotiates those over the bridge.
func (f *Filler) Fill(card *form.Card, fields []Field, v Values) {
	for _, fld := range fields {
		switch fld.Kind {
		case KindFirstName:
			f.setText(fld.Input, v.FirstName)
		case KindLastName:
			f.setText(fld.Input, v.LastName)
		case KindEmail:
			f.setText(fld.Input, v.Email)
		case KindPhone:
			f.fillPhone(fld.Line, v.Phone)
		case KindDate:
			f.fillDate(fld.Line, v)
		case KindFreeText:
			f.fillFreeText(fld.Input, v.TextMappings)
		case KindCheckbox:
			f.fillCheckboxes(fld.Line, v.Tokens())
		case KindRadio:
			f.fillRadios(fld.Line, v.Tokens())
		case KindWidget:
			// Handled by the bridge, outside this dispatcher.
		}
	}
}

// setText writes a value with the full event storm the framework's own
// change tracking expects: focus, clear, a plain input, the value, then a
// paste-shaped input carrying the written data, change, blur. A value
// already in place is left untouched and fires nothing.
func (f *Filler) setText(el dom.Element, value string) {
	if el == nil || value == "" {
		return
	}
	if el.Value() == value {
		return
	}
	el.Focus()
	el.SetValue("")
	el.Dispatch("input")
	el.SetValue(value)
	el.DispatchInput(value)
	el.Dispatch("change")
	el.Blur()
}

// fillFreeText routes the first mapping whose keywords hit the question
// label. Unmatched questions stay empty rather than receive a guess.
func (f *Filler) fillFreeText(input dom.Element, mappings []TextMapping) {
	if input == nil {
		return
	}
	label := dom.QuestionLabel(f.doc, input)
	if label == "" {
		return
	}
	for _, m := range mappings {
		if m.Value == "" {
			continue
		}
		if dom.ContainsAny(label, m.Keywords) {
			f.setText(input, m.Value)
			return
		}
	}
}

// fillCheckboxes handles a plain checkbox group: a lone box goes through the
// consent resolver; several boxes are matched against the token groups.
func (f *Filler) fillCheckboxes(line dom.Element, tokens []string) {
	boxes := checkboxes(line)
	switch len(boxes) {
	case 0:
		return
	case 1:
		f.resolveConsentBox(line, boxes[0])
	default:
		for _, box := range boxes {
			if box.Checked() {
				continue
			}
			if dom.ContainsAny(optionLabelText(f.doc, box), tokens) ||
				dom.ContainsAny(box.Value(), tokens) {
				f.check(box)
			}
		}
	}
}

// fillRadios picks a radio option: consent groups take the agree-shaped
// option, other groups take the first token hit.
func (f *Filler) fillRadios(line dom.Element, tokens []string) {
	radios := line.QueryAll("input[type='radio']")
	if len(radios) == 0 {
		return
	}
	for _, r := range radios {
		if r.Checked() {
			return // selection already made; never fight it
		}
	}
	if f.isConsentGroup(line, radios) {
		f.selectAgreeRadio(radios)
		return
	}
	for _, r := range radios {
		if dom.ContainsAny(optionLabelText(f.doc, r), tokens) ||
			dom.ContainsAny(r.Value(), tokens) {
			f.check(r)
			return
		}
	}
}

// check clicks an unchecked control and mirrors the framework events.
func (f *Filler) check(box dom.Element) {
	if box == nil || box.Checked() {
		return
	}
	box.Click()
	if !box.Checked() {
		// Some themes swallow the synthetic click; set state directly.
		box.SetChecked(true)
	}
	box.Dispatch("input")
	box.Dispatch("change")
}

func checkboxes(line dom.Element) []dom.Element {
	return line.QueryAll("input[type='checkbox']")
}

// optionLabelText resolves the visible text for one checkbox/radio option.
func optionLabelText(doc dom.Document, box dom.Element) string {
	if box == nil {
		return ""
	}
	if lab := dom.LabelFor(doc, box.ID()); lab != nil {
		return lab.Text()
	}
	if p := box.Parent(); p != nil {
		return p.Text()
	}
	return ""
}
