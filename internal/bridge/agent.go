package bridge

import (
	"context"
	"strings"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"go.uber.org/zap"
)

const selOptionList = "#gr_list, #checklist, ul.checklist"

// Agent is the widget-iframe side of the protocol. It owns the option list
// inside the widget document and answers the parent's requests.
type Agent struct {
	doc    dom.Document
	tr     Transport
	policy OriginPolicy
	clk    await.Clock
	t      config.TimingConfig
	log    *zap.Logger
}

// NewAgent wires the widget document to a transport.
func NewAgent(doc dom.Document, tr Transport, policy OriginPolicy, clk await.Clock, t config.TimingConfig, log *zap.Logger) *Agent {
	return &Agent{doc: doc, tr: tr, policy: policy, clk: clk, t: t, log: log.Named("bridge.agent")}
}

// Run consumes the inbox until the context ends.
func (a *Agent) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-a.tr.Inbox():
			a.Handle(ctx, env)
		}
	}
}

// Handle processes one inbound envelope. Exported so transports can drive
// the agent synchronously.
func (a *Agent) Handle(ctx context.Context, env Envelope) {
	if !a.policy.Allowed(env.Origin) {
		a.log.Debug("Dropping message from unlisted origin",
			zap.String("origin", env.Origin), zap.String("type", env.Msg.Type))
		return
	}
	switch env.Msg.Type {
	case TypePing:
		a.post(ctx, Message{Type: TypePong})
	case TypeSelect:
		a.handleSelect(ctx, env.Msg)
	case TypeResolve:
		a.handleResolve(ctx, env.Msg)
	}
}

// option is one selectable row in the widget list.
type option struct {
	item  dom.Element
	input dom.Element
	label dom.Element
	text  string
}

func (a *Agent) options() []option {
	list := a.doc.Query(selOptionList)
	if list == nil {
		return nil
	}
	var out []option
	for _, li := range list.QueryAll("li") {
		in := li.Query("input[type='checkbox']")
		if in == nil {
			continue
		}
		lab := dom.LabelFor(a.doc, in.ID())
		if lab == nil {
			lab = li.Query("label")
		}
		text := ""
		if lab != nil {
			text = lab.Text()
		}
		if dom.Norm(text) == "" {
			text = li.Text()
		}
		out = append(out, option{item: li, input: in, label: lab, text: text})
	}
	return out
}

// available applies the three unavailability signals: the disabled flag, the
// struck-through or muted styling, and a "none left" badge.
func (a *Agent) available(o option) bool {
	if _, ok := o.input.Attr("disabled"); ok {
		return false
	}
	for _, el := range []dom.Element{o.label, o.item} {
		if el == nil {
			continue
		}
		if el.HasClass("line-through") || el.HasClass("text-muted") || el.HasClass("disabled") {
			return false
		}
	}
	if badge := o.item.Query(".items-left, .badge"); badge != nil {
		b := dom.Norm(badge.Text())
		if b == "none" || strings.HasPrefix(b, "0 ") || b == "0" {
			return false
		}
	}
	return true
}

func (o option) matches(token string) bool {
	nt := dom.Norm(token)
	if nt == "" {
		return false
	}
	if strings.Contains(dom.Norm(o.text), nt) {
		return true
	}
	if dom.Slug(o.text) == dom.Slug(token) {
		return true
	}
	return dom.Norm(o.input.Value()) == nt
}

// handleSelect applies a selection request. In single mode the tokens are a
// ranked preference list and at most one option may stay checked; in multi
// mode every available match is checked and existing checks are kept.
func (a *Agent) handleSelect(ctx context.Context, msg Message) {
	if err := a.waitReady(ctx); err != nil {
		a.log.Warn("Widget list never appeared", zap.Error(err))
		a.post(ctx, Message{Type: TypeSelected, Changed: false})
		return
	}
	opts := a.options()
	changed := false
	picked := ""

	if msg.Single {
		var chosen *option
		for _, token := range msg.Tokens {
			for i := range opts {
				if a.available(opts[i]) && opts[i].matches(token) {
					chosen = &opts[i]
					break
				}
			}
			if chosen != nil {
				break
			}
		}
		// At most one checked, and it must be the chosen one. When no token
		// matched anything available the list is left exactly as it was:
		// the empty pick is the answer, and dropping selections that went
		// invalid is clear-invalid's job, not select's.
		if chosen != nil {
			for i := range opts {
				if a.toggle(opts[i], opts[i].input.Same(chosen.input)) {
					changed = true
				}
			}
			picked = strings.TrimSpace(chosen.text)
		}
	} else {
		for i := range opts {
			if !opts[i].input.Checked() && a.available(opts[i]) && anyMatch(opts[i], msg.Tokens) {
				if a.toggle(opts[i], true) {
					changed = true
				}
			}
		}
	}

	if changed {
		a.announce()
	}
	a.reportValue(ctx, TypeValue)
	a.post(ctx, Message{Type: TypeSelected, Changed: changed, Picked: picked})
}

// handleResolve clears invalid state: checked options that are no longer
// available are unchecked. Valid selections are left alone.
func (a *Agent) handleResolve(ctx context.Context, msg Message) {
	if msg.Mode != ModeClearInvalid {
		a.post(ctx, Message{Type: TypeResolved, Fixed: false})
		return
	}
	fixed := false
	for _, o := range a.options() {
		if o.input.Checked() && !a.available(o) {
			if a.toggle(o, false) {
				fixed = true
			}
		}
	}
	if fixed {
		a.announce()
	}
	a.reportValue(ctx, TypeValue)
	a.reportValue(ctx, TypeValueDirty)
	a.post(ctx, Message{Type: TypeResolved, Fixed: fixed})
}

// toggle drives one option to the wanted checked state, reporting whether
// anything changed. The click goes through the label when one exists, the
// way a user's click would.
func (a *Agent) toggle(o option, want bool) bool {
	if o.input.Checked() == want {
		return false
	}
	if o.label != nil {
		o.label.Click()
	} else {
		o.input.Click()
	}
	if o.input.Checked() != want {
		o.input.SetChecked(want)
	}
	o.input.Dispatch("input")
	o.input.Dispatch("change")
	return true
}

// announce fires the list- and document-level events the widget's own code
// uses to recompute its hidden value.
func (a *Agent) announce() {
	if list := a.doc.Query(selOptionList); list != nil {
		list.Dispatch("change")
	}
	a.doc.DispatchEvent("change")
}

// reportValue pushes the current selection to the parent.
func (a *Agent) reportValue(ctx context.Context, typ string) {
	var values []string
	for _, o := range a.options() {
		if o.input.Checked() {
			values = append(values, strings.TrimSpace(o.text))
		}
	}
	a.post(ctx, Message{Type: typ, Values: values, Value: strings.Join(values, ", ")})
}

func (a *Agent) waitReady(ctx context.Context) error {
	return await.Condition(ctx, a.clk, a.doc, await.ConditionOpts{
		Budget: a.t.WidgetReply,
		Tick:   a.t.Tick,
		Settle: a.t.Settle,
	}, func() bool { return len(a.options()) > 0 })
}

func (a *Agent) post(ctx context.Context, msg Message) {
	if err := a.tr.Post(ctx, msg); err != nil {
		a.log.Warn("Failed to post to parent", zap.String("type", msg.Type), zap.Error(err))
	}
}

func anyMatch(o option, tokens []string) bool {
	for _, t := range tokens {
		if o.matches(t) {
			return true
		}
	}
	return false
}
