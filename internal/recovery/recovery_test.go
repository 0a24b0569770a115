package recovery

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/bridge"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/dom/memdom"
	"github.com/nxtri/cardpilot/internal/fill"
	"github.com/nxtri/cardpilot/internal/form"
)

func recoveryTiming() config.TimingConfig {
	return config.TimingConfig{
		Tick:             10 * time.Millisecond,
		Settle:           time.Millisecond,
		NextWait:         50 * time.Millisecond,
		RailTimeout:      50 * time.Millisecond,
		CardCleanTimeout: 50 * time.Millisecond,
		ErrorsWaitMax:    100 * time.Millisecond,
		CardSwitch:       50 * time.Millisecond,
		MaxErrorPasses:   3,
		FrameAppear:      50 * time.Millisecond,
		PingInterval:     10 * time.Millisecond,
		Handshake:        30 * time.Millisecond,
		WidgetReply:      50 * time.Millisecond,
	}
}

const recoveryFixture = `
<div id="cardProgress">
  <div class="jfProgress-item hasError"><span class="jfProgress-itemLabel" data-item-id="10">Consent</span></div>
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="30">Finish</span></div>
</div>
<div class="jfCard-wrapper" id="cid_10">
  <ul><li class="form-line" data-type="control_checkbox">
    <input type="checkbox" id="b0"><label for="b0">I agree to the terms</label>
  </li></ul>
</div>
<div class="jfCard-wrapper isVisible" id="cid_30">
  <button class="form-submit-button">Submit</button>
</div>
`

type recoveryHarness struct {
	engine    *Engine
	f         *form.Form
	doc       *memdom.Document
	gate      *bridge.ResolveGate
	widgetEnd *bridge.PipeEnd
	visited   []string
}

func newRecoveryHarness(t *testing.T, html string) *recoveryHarness {
	t.Helper()
	doc := memdom.MustParse(html, "https://form.jotform.com/f")
	clk := await.NewFakeClock(time.Unix(0, 0))
	log := zaptest.NewLogger(t)
	f := form.New(doc, clk, recoveryTiming(), log)
	filler := fill.New(doc, log)
	gate := &bridge.ResolveGate{}
	parentEnd, widgetEnd := bridge.NewPipe("https://form.jotform.com", "https://app-widgets.jotform.io")
	client := bridge.NewClient(f, parentEnd,
		bridge.NewOriginPolicy([]string{"https://*.jotform.io"}), gate, clk, recoveryTiming(), log)
	h := &recoveryHarness{
		engine: New(f, filler, client, gate, clk, recoveryTiming(), log),
		f:      f, doc: doc, gate: gate, widgetEnd: widgetEnd,
	}
	h.wireRouter()
	return h
}

// attachWidget answers bridge traffic with a live agent over the widget
// document.
func (h *recoveryHarness) attachWidget(t *testing.T, html string) *memdom.Document {
	t.Helper()
	wdoc := memdom.MustParse(html, "https://app-widgets.jotform.io/w")
	agent := bridge.NewAgent(wdoc, h.widgetEnd,
		bridge.NewOriginPolicy([]string{"https://form.jotform.com"}),
		await.NewFakeClock(time.Unix(0, 0)), recoveryTiming(), zaptest.NewLogger(t))
	h.widgetEnd.Consume(func(env bridge.Envelope) { agent.Handle(context.Background(), env) })
	return wdoc
}

// wireRouter simulates rail clicks and hash jumps switching cards.
func (h *recoveryHarness) wireRouter() {
	show := func(qid string) {
		target := h.doc.Query("#cid_" + qid)
		if target == nil {
			return
		}
		h.visited = append(h.visited, qid)
		for _, w := range h.doc.QueryAll(".jfCard-wrapper.isVisible") {
			w.RemoveClass("isVisible")
		}
		target.AddClass("isVisible")
	}
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		switch {
		case eventType == "click" && target != nil && target.Matches(".jfProgress-item"):
			if lab := target.Query("[data-item-id]"); lab != nil {
				qid, _ := lab.Attr("data-item-id")
				show(qid)
			}
		case eventType == "hashchange":
			loc := h.doc.Location()
			if i := strings.Index(loc, "#cid_"); i >= 0 {
				show(loc[i+len("#cid_"):])
			}
		}
	})
}

// clearErrorOnConsent drops the rail flag once the consent box is checked.
func (h *recoveryHarness) clearErrorOnConsent() {
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "change" && target != nil && target.ID() == "b0" && target.Checked() {
			item := h.doc.Query("[data-item-id='10']").Closest(".jfProgress-item")
			item.RemoveClass("hasError")
		}
	})
}

func TestResolveFixesConsentCard(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, recoveryFixture)
	h.clearErrorOnConsent()

	remaining, err := h.engine.Resolve(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
	assert.True(t, h.doc.Query("#b0").Checked())
	assert.False(t, h.gate.Held(), "the gate is released when resolution finishes")
}

func TestResolveHoldsGateWhileWorking(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, recoveryFixture)
	h.clearErrorOnConsent()

	heldDuringFix := false
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "change" && target != nil && target.ID() == "b0" {
			heldDuringFix = h.gate.Held()
		}
	})

	_, err := h.engine.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, heldDuringFix)
}

func TestResolveGivesUpOnStagnation(t *testing.T) {
	t.Parallel()
	// The consent fix never clears the rail flag: no pass makes progress.
	h := newRecoveryHarness(t, recoveryFixture)

	remaining, err := h.engine.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
	assert.False(t, h.gate.Held())
}

func TestResolveAndResubmitCleanRun(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, recoveryFixture)
	h.clearErrorOnConsent()

	submits := 0
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "click" && target != nil && target.Matches(".form-submit-button") {
			submits++
		}
	})

	clean, err := h.engine.ResolveAndResubmit(context.Background(), "30")
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, 1, submits)
	assert.Equal(t, "30", h.f.ActiveCard().QID, "resubmit happens from the remembered card")
}

const widgetRecoveryFixture = `
<div id="cardProgress">
  <div class="jfProgress-item hasError"><span class="jfProgress-itemLabel" data-item-id="10">Consent</span></div>
  <div class="jfProgress-item hasError"><span class="jfProgress-itemLabel" data-item-id="20">Session</span></div>
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="30">Finish</span></div>
</div>
<div class="jfCard-wrapper" id="cid_10">
  <ul><li class="form-line" data-type="control_checkbox">
    <input type="checkbox" id="b0"><label for="b0">I agree to the terms</label>
  </li></ul>
</div>
<div class="jfCard-wrapper" id="cid_20">
  <ul><li class="form-line form-line-error" data-type="control_widget" id="id_20">
    <iframe id="customFieldFrame_20" src="https://app-widgets.jotform.io/w"></iframe>
    <input type="hidden" id="input_20" value="Day 12 Session">
  </li></ul>
</div>
<div class="jfCard-wrapper isVisible" id="cid_30">
  <button class="form-submit-button">Submit</button>
</div>
`

const staleWidgetList = `
<ul id="gr_list">
  <li class="line-through"><input type="checkbox" id="w1" checked value="Day 12"><label for="w1">Day 12 Session</label></li>
  <li><input type="checkbox" id="w2" value="Day 13"><label for="w2">Day 13 Session</label></li>
</ul>
`

func TestResolveAndResubmitFixesWidgetAndConsentCards(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, widgetRecoveryFixture)
	h.clearErrorOnConsent()
	wdoc := h.attachWidget(t, staleWidgetList)

	// The page drops the widget card's flags once the bridge rewrites its
	// hidden field.
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "change" && target != nil && target.ID() == "input_20" {
			h.doc.Query("#id_20").RemoveClass("form-line-error")
			h.doc.Query("[data-item-id='20']").Closest(".jfProgress-item").RemoveClass("hasError")
		}
	})
	submits := 0
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "click" && target != nil && target.Matches(".form-submit-button") {
			submits++
		}
	})

	clean, err := h.engine.ResolveAndResubmit(context.Background(), "30")
	require.NoError(t, err)
	assert.True(t, clean)
	assert.Equal(t, 1, submits)
	assert.Equal(t, []string{"10", "20", "30"}, h.visited,
		"flagged cards in rail order, then the submit card")
	assert.True(t, h.doc.Query("#b0").Checked())
	assert.False(t, wdoc.Query("#w1").Checked(), "the stale unavailable pick is dropped")
	assert.Equal(t, "", h.doc.Query("#input_20").Value())
}

func TestResolveAndResubmitStopsWhenErrorsPersist(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, recoveryFixture)
	// Nothing ever fixes the flag: the pass budget must bound the loop.

	clean, err := h.engine.ResolveAndResubmit(context.Background(), "30")
	require.NoError(t, err)
	assert.False(t, clean)
}

func TestResolveAndResubmitBoundedWhenErrorsRecur(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, recoveryFixture)
	h.clearErrorOnConsent()

	// Every submit re-flags the consent card and unchecks the box: the form
	// never goes through, and the attempt budget has to cut the loop.
	submits := 0
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "click" && target != nil && target.Matches(".form-submit-button") {
			submits++
			h.doc.Query("[data-item-id='10']").Closest(".jfProgress-item").AddClass("hasError")
			h.doc.Query("#b0").SetChecked(false)
		}
	})

	clean, err := h.engine.ResolveAndResubmit(context.Background(), "30")
	require.NoError(t, err)
	assert.False(t, clean)
	assert.Equal(t, recoveryTiming().MaxErrorPasses, submits)
}

func TestResolveNoErrorsIsImmediatelyClean(t *testing.T) {
	t.Parallel()
	h := newRecoveryHarness(t, `
<div id="cardProgress">
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="30">Finish</span></div>
</div>
<div class="jfCard-wrapper isVisible" id="cid_30">
  <button class="form-submit-button">Submit</button>
</div>
`)
	remaining, err := h.engine.Resolve(context.Background())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
