// Package form encodes the card-form product surface: where the cards, the
// progress rail, the error markers and the action buttons live. Everything
// above it (fillers, navigation, recovery) goes through this package instead
// of hard-coding selectors.
package form

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"go.uber.org/zap"
)

// Selector constants for the hosted product. These are intentionally
// hard-coded: the tool targets one form framework, not forms in general.
const (
	selCardWrapper   = ".jfCard-wrapper"
	selVisibleCard   = ".jfCard-wrapper.isVisible"
	selRailItem      = "#cardProgress .jfProgress-item"
	selRailLabel     = "#cardProgress .jfProgress-itemLabel[data-item-id]"
	selNextButton    = "[data-testid^='nextButton_'], .form-pagebreak-next, [name='next']"
	selSubmitButton  = "[class*='form-submit-button']"
	selStartButton   = "#jfCard-welcome-start button, #jfCard-welcome-start"
	selLineError     = "li.form-line-error, li.form-line[aria-invalid='true'], .form-line.form-validation-error"
	selCardLineError = ".form-line-error, .form-validation-error"
	selFixLink       = ".form-button-error a[href*='#cid_'], .jfCard-actionsNotification a[href*='#cid_']"
	selErrorBanner   = ".form-button-error, .jfCard-actionsNotification"
	selWidgetLine    = "li.form-line[data-type='control_widget']"
	selCardTitle     = ".jfCard-title, .jsQuestionLabelContainer"
	selFirstInput    = "input, textarea, select"
)

var (
	cidHashRe = regexp.MustCompile(`#cid_(\d+)`)
	cidIDRe   = regexp.MustCompile(`^(?:cid|id)_(\d+)$`)
)

// Card is one visible question card.
type Card struct {
	El  dom.Element
	QID string
}

// Form wraps one parent document.
type Form struct {
	doc dom.Document
	clk await.Clock
	t   config.TimingConfig
	log *zap.Logger
}

// New builds a Form over the parent document.
func New(doc dom.Document, clk await.Clock, t config.TimingConfig, log *zap.Logger) *Form {
	return &Form{doc: doc, clk: clk, t: t, log: log.Named("form")}
}

// Doc exposes the underlying document for collaborators that need raw
// queries (the bridge client writes widget values into hidden fields).
func (f *Form) Doc() dom.Document { return f.doc }

// ActiveCard returns the currently shown card, or nil between transitions.
// When the framework briefly keeps two wrappers visible, the last one is the
// incoming card.
func (f *Form) ActiveCard() *Card {
	wrappers := f.doc.QueryAll(selVisibleCard)
	if len(wrappers) == 0 {
		return nil
	}
	el := wrappers[len(wrappers)-1]
	return &Card{El: el, QID: qidFromWrapper(el)}
}

func qidFromWrapper(el dom.Element) string {
	if el == nil {
		return ""
	}
	if m := cidIDRe.FindStringSubmatch(el.ID()); m != nil {
		return m[1]
	}
	// Some wrappers carry the qid on the inner card node instead.
	if inner := el.Query("[id^='cid_']"); inner != nil {
		if m := cidIDRe.FindStringSubmatch(inner.ID()); m != nil {
			return m[1]
		}
	}
	return ""
}

// Title returns the normalized question title of a card.
func (f *Form) Title(c *Card) string {
	if c == nil || c.El == nil {
		return ""
	}
	if t := c.El.Query(selCardTitle); t != nil {
		return dom.Norm(t.Text())
	}
	return ""
}

// RailLabel returns the progress-rail label for a question id, or nil.
func (f *Form) RailLabel(qid string) dom.Element {
	if qid == "" {
		return nil
	}
	return f.doc.Query("#cardProgress .jfProgress-itemLabel[data-item-id='" + qid + "']")
}

// RailHasError reports whether the rail flags the question as erroring.
func (f *Form) RailHasError(qid string) bool {
	lab := f.RailLabel(qid)
	if lab == nil {
		return false
	}
	item := lab.Closest(".jfProgress-item")
	return item != nil && item.HasClass("hasError")
}

// ErrorQIDs collects the question ids currently flagged as invalid, in
// precedence order: the progress rail first, then inline line markers, then
// the error banner's fix links. Duplicates collapse, order is preserved.
func (f *Form) ErrorQIDs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(qid string) {
		if qid != "" && !seen[qid] {
			seen[qid] = true
			out = append(out, qid)
		}
	}

	for _, lab := range f.doc.QueryAll(selRailLabel) {
		item := lab.Closest(".jfProgress-item")
		if item == nil || !item.HasClass("hasError") {
			continue
		}
		qid, _ := lab.Attr("data-item-id")
		add(qid)
	}

	for _, line := range f.doc.QueryAll(selLineError) {
		if qid, ok := line.Attr("data-qid"); ok {
			add(qid)
			continue
		}
		if m := cidIDRe.FindStringSubmatch(line.ID()); m != nil {
			add(m[1])
		}
	}

	for _, a := range f.doc.QueryAll(selFixLink) {
		href, _ := a.Attr("href")
		if m := cidHashRe.FindStringSubmatch(href); m != nil {
			add(m[1])
		}
	}

	return out
}

// HasValidationErrors reports whether any error surface is present at all.
func (f *Form) HasValidationErrors() bool {
	return len(f.ErrorQIDs()) > 0
}

// HasLineError reports inline validation markers inside one card.
func (f *Form) HasLineError(c *Card) bool {
	return c != nil && c.El != nil && c.El.Query(selCardLineError) != nil
}

// NextButton finds the card's advance button through the prioritized
// selector list.
func (f *Form) NextButton(c *Card) dom.Element {
	if c == nil || c.El == nil {
		return nil
	}
	for _, sel := range []string{"[data-testid^='nextButton_']", ".form-pagebreak-next", "[name='next']"} {
		if b := c.El.Query(sel); b != nil {
			return b
		}
	}
	return nil
}

// SubmitButton looks on the card first, then document-wide.
func (f *Form) SubmitButton(c *Card) dom.Element {
	if c != nil && c.El != nil {
		if b := c.El.Query(selSubmitButton); b != nil {
			return b
		}
	}
	return f.doc.Query(selSubmitButton)
}

// StartButton returns the welcome screen's start control, or nil once the
// form is past it.
func (f *Form) StartButton() dom.Element {
	return f.doc.Query(selStartButton)
}

// WidgetLines returns the widget-hosting form lines on a card.
func (f *Form) WidgetLines(c *Card) []dom.Element {
	if c == nil || c.El == nil {
		return nil
	}
	return c.El.QueryAll(selWidgetLine)
}

// WidgetFrame returns the widget iframe on a card once it mounted, or nil.
func (f *Form) WidgetFrame(c *Card) dom.Element {
	for _, line := range f.WidgetLines(c) {
		for _, sel := range []string{
			"iframe[id^='customFieldFrame_']",
			"iframe[name*='custom-field-frame']",
			"iframe[src*='app-widgets']",
			"iframe",
		} {
			if fr := line.Query(sel); fr != nil {
				return fr
			}
		}
	}
	return nil
}

// HasWidget reports whether the card hosts an embedded widget.
func (f *Form) HasWidget(c *Card) bool {
	return len(f.WidgetLines(c)) > 0
}

// RemoveErrorBanners strips the error notification chrome from a card after
// its cause was fixed, so stale banners don't keep the Next button locked.
func (f *Form) RemoveErrorBanners(c *Card) {
	if c == nil || c.El == nil {
		return
	}
	for _, b := range c.El.QueryAll(selErrorBanner) {
		b.Remove()
	}
}

// StateSignature fingerprints the observable loop state. The watchdog calls
// the run stalled when this stops changing.
func (f *Form) StateSignature() string {
	c := f.ActiveCard()
	if c == nil {
		return "none|true|false"
	}
	next := f.NextButton(c)
	return fmt.Sprintf("%s|%t|%t", c.QID, dom.Disabled(next), f.HasLineError(c))
}

// WaitCardClean waits for inline error markers on the card to clear. Expiry
// is a soft outcome; the caller re-reads state either way.
func (f *Form) WaitCardClean(ctx context.Context, c *Card) error {
	if c == nil || c.El == nil {
		return nil
	}
	return await.Condition(ctx, f.clk, f.doc, await.ConditionOpts{
		Budget: f.t.CardCleanTimeout,
		Tick:   f.t.Tick,
		Settle: f.t.Settle,
	}, func() bool { return c.El.Query(selCardLineError) == nil })
}

// WaitRailCleared waits for the rail's error flag on one question to drop.
func (f *Form) WaitRailCleared(ctx context.Context, qid string) error {
	return await.Condition(ctx, f.clk, f.doc, await.ConditionOpts{
		Budget: f.t.RailTimeout,
		Tick:   f.t.Tick,
		Settle: f.t.Settle,
	}, func() bool { return !f.RailHasError(qid) })
}

// GotoCard navigates to a question by clicking its rail entry, falling back
// to a location-hash jump, and waits for the card to become active.
func (f *Form) GotoCard(ctx context.Context, qid string) error {
	arrived := func() bool {
		c := f.ActiveCard()
		return c != nil && c.QID == qid
	}
	if arrived() {
		return nil
	}

	if lab := f.RailLabel(qid); lab != nil {
		target := lab.Closest(".jfProgress-item")
		if target == nil {
			target = lab
		}
		target.Click()
		if err := f.waitArrived(ctx, arrived); err == nil {
			f.focusFirstInput()
			return nil
		}
	}

	// The rail may be collapsed or the item unclickable; hash routing is the
	// framework's own deep link.
	f.log.Debug("Rail navigation missed, falling back to hash jump", zap.String("qid", qid))
	f.doc.SetLocationHash("#cid_" + qid)
	if err := f.waitArrived(ctx, arrived); err != nil {
		return fmt.Errorf("card %s did not become active: %w", qid, err)
	}
	f.focusFirstInput()
	return nil
}

func (f *Form) waitArrived(ctx context.Context, arrived func() bool) error {
	return await.Condition(ctx, f.clk, f.doc, await.ConditionOpts{
		Budget: f.t.CardSwitch,
		Tick:   f.t.Tick,
		Settle: f.t.Settle,
	}, arrived)
}

func (f *Form) focusFirstInput() {
	c := f.ActiveCard()
	if c == nil || c.El == nil {
		return
	}
	if in := c.El.Query(selFirstInput); in != nil && !strings.EqualFold(in.Tag(), "select") {
		in.Focus()
	}
}
