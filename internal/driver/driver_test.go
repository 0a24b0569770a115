package driver

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
	"github.com/nxtri/cardpilot/internal/nav"
	"github.com/nxtri/cardpilot/internal/recovery"
)

const (
	parentOrigin = "https://form.jotform.com"
	widgetOrigin = "https://app-widgets.jotform.io"
)

func driverTiming() config.TimingConfig {
	return config.TimingConfig{
		Tick:             10 * time.Millisecond,
		Settle:           time.Millisecond,
		NextWait:         50 * time.Millisecond,
		RailTimeout:      50 * time.Millisecond,
		CardCleanTimeout: 50 * time.Millisecond,
		ErrorsWaitMax:    100 * time.Millisecond,
		CardSwitch:       50 * time.Millisecond,
		StallAfter:       300 * time.Millisecond,
		HardResetAfter:   2,
		MaxErrorPasses:   3,
		FrameAppear:      50 * time.Millisecond,
		PingInterval:     10 * time.Millisecond,
		Handshake:        30 * time.Millisecond,
		WidgetReply:      50 * time.Millisecond,
	}
}

const runFixture = `
<div id="jfCard-welcome-start"><button id="start">Start</button></div>
<div id="cardProgress">
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="10">Name</span></div>
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="20">Day 12</span></div>
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="30">Finish</span></div>
</div>
<div class="jfCard-wrapper" id="cid_10">
  <ul><li class="form-line" data-type="control_fullname">
    <input data-component="first" id="first_10"><input data-component="last" id="last_10">
  </li></ul>
  <button data-testid="nextButton_10">Next</button>
</div>
<div class="jfCard-wrapper" id="cid_20">
  <div class="jfCard-title">Day 12 - Morning</div>
  <ul><li class="form-line" data-type="control_widget" id="id_20">
    <iframe id="customFieldFrame_20" src="https://app-widgets.jotform.io/w"></iframe>
    <input type="hidden" id="input_20">
  </li></ul>
  <button data-testid="nextButton_20" disabled>Next</button>
</div>
<div class="jfCard-wrapper" id="cid_30">
  <button class="form-submit-button">Submit</button>
</div>
`

const widgetListFixture = `
<ul id="gr_list">
  <li><input type="checkbox" id="o0" value="Day 12"><label for="o0">Day 12 Session</label></li>
  <li><input type="checkbox" id="o1" value="Day 13"><label for="o1">Day 13 Session</label></li>
</ul>
`

type runHarness struct {
	drv       *Driver
	doc       *memdom.Document
	wdoc      *memdom.Document
	clk       await.Clock
	widgetEnd *bridge.PipeEnd
}

// newRunHarness wires the full loop over memdom documents and a pipe
// transport, with the widget answered synchronously. The fake clock makes
// every wait budget elapse instantly.
func newRunHarness(t *testing.T, html, widgetHTML string) *runHarness {
	clk := await.NewFakeClock(time.Unix(0, 0))
	return newRunHarnessWith(t, html, widgetHTML, clk, driverTiming())
}

func newRunHarnessWith(t *testing.T, html, widgetHTML string, clk await.Clock, tcfg config.TimingConfig) *runHarness {
	t.Helper()
	doc := memdom.MustParse(html, parentOrigin+"/f")
	log := zaptest.NewLogger(t)

	gate := &bridge.ResolveGate{}
	f := form.New(doc, clk, tcfg, log)
	filler := fill.New(doc, log)
	parentEnd, widgetEnd := bridge.NewPipe(parentOrigin, widgetOrigin)
	client := bridge.NewClient(f, parentEnd,
		bridge.NewOriginPolicy([]string{"https://*.jotform.io"}), gate, clk, tcfg, log)

	var wdoc *memdom.Document
	if widgetHTML != "" {
		wdoc = memdom.MustParse(widgetHTML, widgetOrigin+"/w")
		agent := bridge.NewAgent(wdoc, widgetEnd,
			bridge.NewOriginPolicy([]string{parentOrigin}),
			await.NewFakeClock(time.Unix(0, 0)), tcfg, log)
		widgetEnd.Consume(func(env bridge.Envelope) { agent.Handle(context.Background(), env) })
	}

	drv := New(Deps{
		Doc:    doc,
		Form:   f,
		Filler: filler,
		Client: client,
		Nav:    nav.New(f, filler, client, gate, clk, tcfg, log),
		Engine: recovery.New(f, filler, client, gate, clk, tcfg, log),
		Gate:   gate,
		Clock:  clk,
		Timing: tcfg,
		Log:    log,
	})
	return &runHarness{drv: drv, doc: doc, wdoc: wdoc, clk: clk, widgetEnd: widgetEnd}
}

// wirePage simulates the hosted page: start button, next routing, and a
// card sequence ending on the submit card.
func (h *runHarness) wirePage() {
	show := func(qid string) {
		for _, w := range h.doc.QueryAll(".jfCard-wrapper.isVisible") {
			w.RemoveClass("isVisible")
		}
		if target := h.doc.Query("#cid_" + qid); target != nil {
			target.AddClass("isVisible")
		}
	}
	route := map[string]string{"10": "20", "20": "30"}
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType != "click" || target == nil {
			return
		}
		switch {
		case target.ID() == "start":
			h.doc.Query("#jfCard-welcome-start").Remove()
			show("10")
		default:
			if id, ok := target.Attr("data-testid"); ok && strings.HasPrefix(id, "nextButton_") {
				from := strings.TrimPrefix(id, "nextButton_")
				if to, ok := route[from]; ok {
					show(to)
				}
			}
		}
	})
}

func waitDone(t *testing.T, drv *Driver) {
	t.Helper()
	select {
	case <-drv.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func TestRunFillsAndSubmits(t *testing.T) {
	t.Parallel()
	h := newRunHarness(t, runFixture, widgetListFixture)
	h.wirePage()

	p := Payload{
		FirstName:      "Ada",
		LastName:       "Lovelace",
		SubmitForm:     true,
		CheckboxTxtArr: [][]string{{"day 12"}},
	}
	require.NoError(t, h.drv.Start(context.Background(), p))
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeSubmitted, h.drv.Outcome())
	assert.False(t, h.drv.Running())
	assert.Equal(t, "Ada", h.doc.Query("#first_10").Value())
	assert.Equal(t, "Lovelace", h.doc.Query("#last_10").Value())
	assert.True(t, h.wdoc.Query("#o0").Checked())
	assert.Equal(t, "Day 12 Session", h.doc.Query("#input_20").Value())
}

func TestRunSkipsWidgetOnDisabledDay(t *testing.T) {
	t.Parallel()
	h := newRunHarness(t, runFixture, widgetListFixture)
	h.wirePage()
	// The widget card's value report is what normally unlocks Next; with the
	// day gated off the page has to do it itself once the card is shown.
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "click" {
			if next := h.doc.Query("[data-testid='nextButton_20']"); next != nil {
				next.RemoveAttr("disabled")
			}
		}
	})

	p := Payload{
		FirstName:      "Ada",
		LastName:       "Lovelace",
		SubmitForm:     true,
		CheckboxTxtArr: [][]string{{"day 12"}},
		EnabledDays:    NewDaySet(13), // card title says day 12
	}
	require.NoError(t, h.drv.Start(context.Background(), p))
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeSubmitted, h.drv.Outcome())
	assert.False(t, h.wdoc.Query("#o0").Checked(), "a gated-off day selects nothing")
}

// idleTiming keeps a run alive on wall time: a fake clock would burn through
// the stall budget before the test gets a word in.
func idleTiming() config.TimingConfig {
	tcfg := driverTiming()
	tcfg.Tick = 5 * time.Millisecond
	tcfg.StallAfter = time.Minute
	return tcfg
}

const idleFixture = `
<div class="jfCard-wrapper isVisible" id="cid_10">
  <button data-testid="nextButton_10" disabled>Next</button>
</div>
`

func TestRunDuplicateStart(t *testing.T) {
	t.Parallel()
	h := newRunHarnessWith(t, idleFixture, "", await.RealClock{}, idleTiming())

	require.NoError(t, h.drv.Start(context.Background(), Payload{}))
	err := h.drv.Start(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, h.drv.Running())

	h.drv.Stop()
	waitDone(t, h.drv)
}

func TestRunStopCancels(t *testing.T) {
	t.Parallel()
	h := newRunHarnessWith(t, idleFixture, "", await.RealClock{}, idleTiming())

	require.NoError(t, h.drv.Start(context.Background(), Payload{}))
	time.Sleep(20 * time.Millisecond)
	h.drv.Stop()
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeStopped, h.drv.Outcome())
	assert.False(t, h.drv.Running())
}

func TestRunStallsOutOnFrozenForm(t *testing.T) {
	t.Parallel()
	// No router, no consent, a permanently disabled Next: the signature never
	// changes and the watchdog has to end the run on its own.
	h := newRunHarness(t, `
<div class="jfCard-wrapper isVisible" id="cid_10">
  <ul><li class="form-line" data-type="control_textbox"><input type="text" id="input_10"></li></ul>
  <button data-testid="nextButton_10" disabled>Next</button>
</div>
`, "")

	require.NoError(t, h.drv.Start(context.Background(), Payload{FirstName: "x"}))
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeStalled, h.drv.Outcome())
}

func TestRunPacesLoopWithPayloadDelay(t *testing.T) {
	t.Parallel()
	h := newRunHarness(t, `
<div class="jfCard-wrapper isVisible" id="cid_10">
  <ul><li class="form-line" data-type="control_textbox"><input type="text" id="input_10"></li></ul>
  <button data-testid="nextButton_10" disabled>Next</button>
</div>
`, "")

	start := h.clk.Now()
	require.NoError(t, h.drv.Start(context.Background(), Payload{FirstName: "x", DelayTime: 500}))
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeStalled, h.drv.Outcome())
	// Every stall window costs at least one 500ms beat, so the run spends a
	// few fake seconds. A seconds-scale reading of delayTime would push the
	// clock past eight minutes before the first card was even looked at.
	elapsed := h.clk.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
	assert.Less(t, elapsed, 2*time.Minute)
}

const watchdogFixture = `
<div id="cardProgress">
  <div class="jfProgress-item"><span class="jfProgress-itemLabel" data-item-id="20">Day 12</span></div>
</div>
<div class="jfCard-wrapper isVisible" id="cid_20">
  <ul><li class="form-line" data-type="control_widget" id="id_20">
    <iframe id="customFieldFrame_20" src="https://app-widgets.jotform.io/w"></iframe>
    <input type="hidden" id="input_20">
  </li></ul>
  <button data-testid="nextButton_20" disabled>Next</button>
</div>
`

func TestRunWatchdogRescuesThenHardResets(t *testing.T) {
	t.Parallel()
	h := newRunHarness(t, watchdogFixture, "")

	// Attach the agent by hand so the clear-invalid round trips can be
	// counted on the wire.
	wdoc := memdom.MustParse(`<ul id="gr_list"></ul>`, widgetOrigin+"/w")
	agent := bridge.NewAgent(wdoc, h.widgetEnd,
		bridge.NewOriginPolicy([]string{parentOrigin}),
		await.NewFakeClock(time.Unix(0, 0)), driverTiming(), zaptest.NewLogger(t))
	clearRounds := 0
	h.widgetEnd.Consume(func(env bridge.Envelope) {
		if env.Msg.Type == bridge.TypeResolve {
			clearRounds++
		}
		agent.Handle(context.Background(), env)
	})
	railClicks := 0
	h.doc.OnEvent(func(target dom.Element, eventType string) {
		if eventType == "click" && target != nil && target.Matches(".jfProgress-item") {
			railClicks++
		}
	})

	require.NoError(t, h.drv.Start(context.Background(), Payload{}))
	waitDone(t, h.drv)

	assert.Equal(t, OutcomeStalled, h.drv.Outcome())
	// Stall windows alternate a cheap rescue with a hard reset until the
	// hard-reset budget is spent; the counters on the wire and the rail
	// show exactly that cadence.
	assert.Equal(t, 3, clearRounds, "one clear-invalid round per rescue")
	assert.Equal(t, driverTiming().HardResetAfter, railClicks)
}

func TestRunFailsWhenPageDies(t *testing.T) {
	t.Parallel()
	doc := &failingDoc{Document: memdom.MustParse(`<div></div>`, parentOrigin+"/f")}
	clk := await.NewFakeClock(time.Unix(0, 0))
	log := zaptest.NewLogger(t)
	tcfg := driverTiming()
	gate := &bridge.ResolveGate{}
	f := form.New(doc, clk, tcfg, log)
	filler := fill.New(doc, log)
	parentEnd, _ := bridge.NewPipe(parentOrigin, widgetOrigin)
	client := bridge.NewClient(f, parentEnd,
		bridge.NewOriginPolicy([]string{"https://*.jotform.io"}), gate, clk, tcfg, log)

	drv := New(Deps{
		Doc: doc, Form: f, Filler: filler, Client: client,
		Nav:    nav.New(f, filler, client, gate, clk, tcfg, log),
		Engine: recovery.New(f, filler, client, gate, clk, tcfg, log),
		Gate:   gate, Clock: clk, Timing: tcfg, Log: log,
	})

	require.NoError(t, drv.Start(context.Background(), Payload{}))
	waitDone(t, drv)
	assert.Equal(t, OutcomeFailed, drv.Outcome())
}

// failingDoc reports a dead page.
type failingDoc struct {
	*memdom.Document
}

func (d *failingDoc) Err() error { return assert.AnError }
