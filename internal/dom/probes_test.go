package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/dom/memdom"
)

func TestNorm(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"  Hello   World ", "hello world"},
		{"ALL\tCAPS\nLINES", "all caps lines"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dom.Norm(tt.in))
	}
}

func TestSlug(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"Day 12 - Morning Session!", "day-12-morning-session"},
		{"  OK  ", "ok"},
		{"___", ""},
		{"a/b/c", "a-b-c"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dom.Slug(tt.in))
	}
}

func TestDigits(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "15551234567", dom.Digits("+1 (555) 123-4567"))
	assert.Equal(t, "", dom.Digits("no digits"))
}

func TestContainsAny(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		hay    string
		tokens []string
		want   bool
	}{
		{"hit after normalization", "  I AGREE to the Terms ", []string{"terms"}, true},
		{"no hit", "first name", []string{"email"}, false},
		{"empty tokens never match", "anything", []string{"", "  "}, false},
		{"empty haystack", "", []string{"x"}, false},
		{"second token hits", "privacy policy", []string{"waiver", "policy"}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, dom.ContainsAny(tt.hay, tt.tokens))
		})
	}
}

func TestVisible(t *testing.T) {
	t.Parallel()
	doc := memdom.MustParse(`
<div id="shown">visible</div>
<div id="none" style="display: none">hidden</div>
<div id="vis-hidden" style="visibility: hidden">hidden</div>
<div id="clear" style="opacity: 0">hidden</div>
<div style="display:none"><span id="nested">hidden by ancestor</span></div>
<div id="boxless" data-box-empty>collapsed</div>
`, "https://form.example.com/f")

	assert.True(t, dom.Visible(doc.Query("#shown")))
	assert.False(t, dom.Visible(doc.Query("#none")))
	assert.False(t, dom.Visible(doc.Query("#vis-hidden")))
	assert.False(t, dom.Visible(doc.Query("#clear")))
	assert.False(t, dom.Visible(doc.Query("#nested")))
	assert.False(t, dom.Visible(doc.Query("#boxless")))
	assert.False(t, dom.Visible(nil))
}

func TestDisabled(t *testing.T) {
	t.Parallel()
	doc := memdom.MustParse(`
<button id="live">Next</button>
<button id="attr" disabled>Next</button>
<button id="aria" aria-disabled="true">Next</button>
<button id="cls" class="form-pagebreak-next disabled">Next</button>
<button id="ptr" style="pointer-events: none">Next</button>
<button id="aria-false" aria-disabled="false">Next</button>
`, "https://form.example.com/f")

	assert.False(t, dom.Disabled(doc.Query("#live")))
	assert.True(t, dom.Disabled(doc.Query("#attr")))
	assert.True(t, dom.Disabled(doc.Query("#aria")))
	assert.True(t, dom.Disabled(doc.Query("#cls")))
	assert.True(t, dom.Disabled(doc.Query("#ptr")))
	assert.False(t, dom.Disabled(doc.Query("#aria-false")))
	assert.True(t, dom.Disabled(nil))
}

func TestLabelFor(t *testing.T) {
	t.Parallel()
	doc := memdom.MustParse(`
<label for="input_7">Your email</label>
<input id="input_7" type="email">
`, "https://form.example.com/f")

	lab := dom.LabelFor(doc, "input_7")
	require.NotNil(t, lab)
	assert.Equal(t, "your email", dom.Norm(lab.Text()))
	assert.Nil(t, dom.LabelFor(doc, ""))
	assert.Nil(t, dom.LabelFor(doc, "missing"))
}

func TestQuestionLabel(t *testing.T) {
	t.Parallel()
	doc := memdom.MustParse(`
<ul>
  <li class="form-line" data-type="control_textbox">
    <label class="form-label">Company  Name</label>
    <input id="input_4" type="text">
  </li>
  <li class="form-line" data-type="control_textbox">
    <input id="input_5" type="text">
  </li>
</ul>
<label for="input_5">Fallback label</label>
`, "https://form.example.com/f")

	assert.Equal(t, "company name", dom.QuestionLabel(doc, doc.Query("#input_4")))
	assert.Equal(t, "fallback label", dom.QuestionLabel(doc, doc.Query("#input_5")))
	assert.Equal(t, "", dom.QuestionLabel(doc, nil))
}
