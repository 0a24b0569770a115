package fill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nxtri/cardpilot/internal/dom/memdom"
	"github.com/nxtri/cardpilot/internal/form"
)

func newFiller(t *testing.T, html string) (*Filler, *memdom.Document, *form.Card) {
	t.Helper()
	doc := memdom.MustParse(html, "https://form.jotform.com/f")
	card := &form.Card{El: doc.Query(".jfCard-wrapper"), QID: "1"}
	require.NotNil(t, card.El)
	return New(doc, zaptest.NewLogger(t)), doc, card
}

func card(inner string) string {
	return `<div class="jfCard-wrapper isVisible" id="cid_1"><ul>` + inner + `</ul></div>`
}

func TestDetectKinds(t *testing.T) {
	t.Parallel()
	_, _, c := newFiller(t, card(`
<li class="form-line" data-type="control_fullname">
  <input data-component="first" id="first_3"><input data-component="last" id="last_3">
</li>
<li class="form-line" data-type="control_email"><input type="email" id="input_4"></li>
<li class="form-line" data-type="control_phone"><input type="tel" id="input_5_full"></li>
<li class="form-line" data-type="control_datetime"><input id="lite_mode_6"></li>
<li class="form-line" data-type="control_textbox"><input type="text" id="input_7"></li>
<li class="form-line" data-type="control_checkbox"><input type="checkbox" id="input_8_0"></li>
<li class="form-line" data-type="control_radio"><input type="radio" id="input_9_0"></li>
<li class="form-line" data-type="control_widget"><iframe src="https://app-widgets.jotform.io/w"></iframe></li>
<li class="form-line" data-type="control_unknown"><input id="mystery"></li>
`))

	fields := Detect(c)
	kinds := make([]Kind, 0, len(fields))
	for _, f := range fields {
		kinds = append(kinds, f.Kind)
	}
	assert.Equal(t, []Kind{
		KindFirstName, KindLastName, KindEmail, KindPhone,
		KindDate, KindFreeText, KindCheckbox, KindRadio, KindWidget,
	}, kinds)
}

func TestDetectLooseNameInputs(t *testing.T) {
	t.Parallel()
	_, _, c := newFiller(t, card(`
<li class="form-line"><input id="first_11"><input id="last_11"></li>
`))
	fields := Detect(c)
	require.Len(t, fields, 2)
	assert.Equal(t, KindFirstName, fields[0].Kind)
	assert.Equal(t, KindLastName, fields[1].Kind)
}

func TestSetTextIsIdempotent(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_email"><input type="email" id="input_4"></li>
`))
	fields := Detect(c)
	v := Values{Email: "a@b.test"}

	f.Fill(c, fields, v)
	in := doc.Query("#input_4")
	assert.Equal(t, "a@b.test", in.Value())
	assert.Equal(t, []string{"focus", "input", "input", "change", "blur"}, doc.EventTypes(in))

	// The second input is the paste-shaped one carrying the written value.
	var rich []string
	for _, ev := range doc.Events() {
		if ev.Target != nil && ev.Target.Same(in) && ev.Data != "" {
			rich = append(rich, ev.Data)
		}
	}
	assert.Equal(t, []string{"a@b.test"}, rich)

	// Second pass over the same card writes and fires nothing.
	f.Fill(c, fields, v)
	assert.Equal(t, []string{"focus", "input", "input", "change", "blur"}, doc.EventTypes(in))
}

func TestFillFreeTextFirstMappingWins(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_textbox">
  <label class="form-label">Company name</label>
  <input type="text" id="input_7">
</li>
`))
	f.Fill(c, Detect(c), Values{TextMappings: []TextMapping{
		{Value: "ignored", Keywords: []string{"address"}},
		{Value: "Acme", Keywords: []string{"company"}},
		{Value: "too late", Keywords: []string{"name"}},
	}})
	assert.Equal(t, "Acme", doc.Query("#input_7").Value())
}

func TestFillFreeTextUnmatchedStaysEmpty(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_textbox">
  <label class="form-label">Favourite colour</label>
  <input type="text" id="input_7">
</li>
`))
	f.Fill(c, Detect(c), Values{TextMappings: []TextMapping{
		{Value: "Acme", Keywords: []string{"company"}},
	}})
	assert.Equal(t, "", doc.Query("#input_7").Value())
}

func TestFillCheckboxGroupByTokens(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_checkbox">
  <input type="checkbox" id="b0" value="Workshop A"><label for="b0">Workshop A</label>
  <input type="checkbox" id="b1" value="Workshop B"><label for="b1">Workshop B</label>
  <input type="checkbox" id="b2" value="Dinner"><label for="b2">Dinner</label>
</li>
`))
	f.Fill(c, Detect(c), Values{TokenGroups: [][]string{{"workshop b"}, {"dinner"}}})

	assert.False(t, doc.Query("#b0").Checked())
	assert.True(t, doc.Query("#b1").Checked())
	assert.True(t, doc.Query("#b2").Checked())
}

func TestLoneConsentCheckbox(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_checkbox">
  <input type="checkbox" id="b0"><label for="b0">I agree to the terms and privacy policy</label>
</li>
`))
	f.Fill(c, Detect(c), Values{})
	assert.True(t, doc.Query("#b0").Checked())
}

func TestLoneNonConsentCheckboxUntouched(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_checkbox">
  <input type="checkbox" id="b0"><label for="b0">Subscribe to the newsletter</label>
</li>
`))
	f.Fill(c, Detect(c), Values{})
	assert.False(t, doc.Query("#b0").Checked())
}

func TestRadiosNeverFightExistingSelection(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_radio">
  <input type="radio" name="q" id="r0" value="Morning" checked><label for="r0">Morning</label>
  <input type="radio" name="q" id="r1" value="Evening"><label for="r1">Evening</label>
</li>
`))
	f.Fill(c, Detect(c), Values{TokenGroups: [][]string{{"evening"}}})

	assert.True(t, doc.Query("#r0").Checked(), "an existing selection is left alone")
	assert.False(t, doc.Query("#r1").Checked())
}

func TestRadioTokenSelection(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_radio">
  <input type="radio" name="q" id="r0" value="Morning"><label for="r0">Morning</label>
  <input type="radio" name="q" id="r1" value="Evening"><label for="r1">Evening</label>
</li>
`))
	f.Fill(c, Detect(c), Values{TokenGroups: [][]string{{"evening"}}})
	assert.True(t, doc.Query("#r1").Checked())
}

func TestConsentRadioPicksAgree(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_radio">
  <label class="form-label">Do you accept the waiver?</label>
  <input type="radio" name="q" id="r0" value="No"><label for="r0">I do not agree</label>
  <input type="radio" name="q" id="r1" value="Yes"><label for="r1">I agree</label>
</li>
`))
	f.Fill(c, Detect(c), Values{})
	assert.False(t, doc.Query("#r0").Checked(), "the refusing option must never be picked")
	assert.True(t, doc.Query("#r1").Checked())
}

func TestConsentToggles(t *testing.T) {
	t.Parallel()
	f, doc, c := newFiller(t, card(`
<li class="form-line" data-type="control_checkbox">
  <input type="checkbox" id="b0"><label for="b0">I acknowledge the waiver</label>
</li>
<li class="form-line" data-type="control_radio">
  <input type="radio" name="q" id="r0" value="Yes"><label for="r0">I agree</label>
  <input type="radio" name="q" id="r1" value="No"><label for="r1">Decline</label>
</li>
`))
	changed := f.ConsentToggles(c)
	assert.True(t, changed)
	assert.True(t, doc.Query("#b0").Checked())
	assert.True(t, doc.Query("#r0").Checked())

	// Second pass changes nothing.
	assert.False(t, f.ConsentToggles(c))
}

func TestMatchesWordShortWordsAreExact(t *testing.T) {
	t.Parallel()
	assert.False(t, matchesWord("Looks good to me", "ok"))
	assert.True(t, matchesWord("  OK ", "ok"))
	assert.True(t, matchesWord("I agree to everything", "agree"))
}

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "phone", KindPhone.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
