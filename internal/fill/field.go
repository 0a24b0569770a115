// Package fill detects the fields on a card and writes the configured
// values into them. Fillers are idempotent: a value already in place writes
// nothing and fires no events, so revisiting a card is safe.
package fill

import (
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/form"
)

// Kind tags what a detected field is. The dispatcher switches exhaustively
// over it; adding a Kind without a Fill arm is a compile-visible gap.
type Kind int

const (
	KindFirstName Kind = iota
	KindLastName
	KindEmail
	KindPhone
	KindDate
	KindFreeText
	KindCheckbox
	KindRadio
	KindWidget
)

func (k Kind) String() string {
	switch k {
	case KindFirstName:
		return "first_name"
	case KindLastName:
		return "last_name"
	case KindEmail:
		return "email"
	case KindPhone:
		return "phone"
	case KindDate:
		return "date"
	case KindFreeText:
		return "free_text"
	case KindCheckbox:
		return "checkbox"
	case KindRadio:
		return "radio"
	case KindWidget:
		return "widget"
	default:
		return "unknown"
	}
}

// Field is one detected fillable unit on a card. Line is the hosting
// li.form-line; Input is the concrete control where one exists.
type Field struct {
	Kind  Kind
	Line  dom.Element
	Input dom.Element
}

// Detect scans a card's form lines and tags every field it knows how to
// handle. Unknown data-types are skipped, not guessed at.
func Detect(card *form.Card) []Field {
	if card == nil || card.El == nil {
		return nil
	}
	var out []Field
	for _, line := range card.El.QueryAll("li.form-line[data-type]") {
		dt, _ := line.Attr("data-type")
		switch dt {
		case "control_fullname":
			if in := firstNameInput(line); in != nil {
				out = append(out, Field{Kind: KindFirstName, Line: line, Input: in})
			}
			if in := lastNameInput(line); in != nil {
				out = append(out, Field{Kind: KindLastName, Line: line, Input: in})
			}
		case "control_email":
			if in := queryFirst(line, "input[type='email']", "input"); in != nil {
				out = append(out, Field{Kind: KindEmail, Line: line, Input: in})
			}
		case "control_phone":
			out = append(out, Field{Kind: KindPhone, Line: line})
		case "control_datetime":
			out = append(out, Field{Kind: KindDate, Line: line})
		case "control_textbox", "control_textarea":
			if in := queryFirst(line, "input[type='text']", "textarea", "input"); in != nil {
				out = append(out, Field{Kind: KindFreeText, Line: line, Input: in})
			}
		case "control_checkbox":
			out = append(out, Field{Kind: KindCheckbox, Line: line})
		case "control_radio":
			out = append(out, Field{Kind: KindRadio, Line: line})
		case "control_widget":
			out = append(out, Field{Kind: KindWidget, Line: line})
		}
	}

	// Loose name inputs outside a fullname line (some themes flatten them).
	if len(out) == 0 {
		if in := card.El.Query("input[id^='first_']"); in != nil {
			out = append(out, Field{Kind: KindFirstName, Input: in})
		}
		if in := card.El.Query("input[id^='last_']"); in != nil {
			out = append(out, Field{Kind: KindLastName, Input: in})
		}
	}
	return out
}

func firstNameInput(line dom.Element) dom.Element {
	return queryFirst(line, "input[data-component='first']", "input[id^='first_']")
}

func lastNameInput(line dom.Element) dom.Element {
	return queryFirst(line, "input[data-component='last']", "input[id^='last_']")
}

func queryFirst(scope dom.Element, selectors ...string) dom.Element {
	for _, sel := range selectors {
		if el := scope.Query(sel); el != nil {
			return el
		}
	}
	return nil
}
