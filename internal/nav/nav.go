// Package nav decides how a card is left: advance, submit, or stay. Every
// advance is rail-guarded so a card the framework flags as invalid right
// after leaving gets revisited instead of abandoned.
package nav

import (
	"context"
	"errors"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/bridge"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/fill"
	"github.com/nxtri/cardpilot/internal/form"
	"go.uber.org/zap"
)

// Result is the outcome of one advancement attempt.
type Result int

const (
	// Blocked means the card did not change; the caller re-ticks.
	Blocked Result = iota
	// Advanced means a new card is active.
	Advanced
	// Submitted means the submit button was pressed.
	Submitted
)

func (r Result) String() string {
	switch r {
	case Advanced:
		return "advanced"
	case Submitted:
		return "submitted"
	default:
		return "blocked"
	}
}

// Controller owns leaving a card.
type Controller struct {
	form   *form.Form
	filler *fill.Filler
	client *bridge.Client
	gate   *bridge.ResolveGate
	clk    await.Clock
	t      config.TimingConfig
	log    *zap.Logger
}

// New builds a Controller.
func New(f *form.Form, filler *fill.Filler, client *bridge.Client, gate *bridge.ResolveGate, clk await.Clock, t config.TimingConfig, log *zap.Logger) *Controller {
	return &Controller{form: f, filler: filler, client: client, gate: gate, clk: clk, t: t, log: log.Named("nav")}
}

// Advance tries to leave the card: Next when one is visible, otherwise
// submit when allowed and no validation errors are outstanding. A disabled
// Next gets one consent pass and, on widget cards with inline errors, one
// clear-invalid nudge before giving up for this tick.
func (c *Controller) Advance(ctx context.Context, card *form.Card, allowSubmit bool) (Result, error) {
	if card == nil || card.El == nil {
		return Blocked, nil
	}

	next := c.form.NextButton(card)
	if next != nil && dom.Visible(next) {
		return c.advanceNext(ctx, card, next)
	}

	if allowSubmit && !c.form.HasValidationErrors() {
		if sub := c.form.SubmitButton(card); sub != nil && dom.Visible(sub) && !dom.Disabled(sub) {
			if c.gate.Held() {
				return Blocked, nil
			}
			c.log.Info("Submitting form", zap.String("qid", card.QID))
			oldQID := card.QID
			sub.Click()
			// Some themes route through a final card on submit. When that
			// happens the card just left still gets the rail guard; a late
			// flag pulls the run back instead of counting the submit.
			if c.waitMoved(ctx, oldQID) {
				if res, err := c.guardOldCard(ctx, oldQID); res != Advanced {
					return Blocked, err
				}
			}
			return Submitted, nil
		}
	}
	return Blocked, nil
}

func (c *Controller) advanceNext(ctx context.Context, card *form.Card, next dom.Element) (Result, error) {
	if dom.Disabled(next) {
		if c.filler.ConsentToggles(card) {
			next = c.form.NextButton(card)
		}
		if dom.Disabled(next) && c.form.HasWidget(card) && c.form.HasLineError(card) {
			c.nudgeWidget(ctx, card)
			next = c.form.NextButton(card)
		}
		if dom.Disabled(next) {
			return Blocked, nil
		}
	}

	// While recovery rewrites widget state no navigation may happen on its
	// back.
	if c.gate.Held() {
		return Blocked, nil
	}

	oldQID := card.QID
	next.Click()
	if c.waitMoved(ctx, oldQID) {
		return c.guardOldCard(ctx, oldQID)
	}

	// Still on the same card. One fix-and-retry for widget cards whose
	// validation landed after the click.
	if c.form.HasWidget(card) && c.form.HasLineError(card) {
		c.nudgeWidget(ctx, card)
		if retry := c.form.NextButton(card); retry != nil && !dom.Disabled(retry) {
			retry.Click()
			if c.waitMoved(ctx, oldQID) {
				return c.guardOldCard(ctx, oldQID)
			}
		}
	}
	return Blocked, nil
}

// guardOldCard checks the rail for a late error flag on the card just left.
// A flagged card is returned to and the advance does not count.
func (c *Controller) guardOldCard(ctx context.Context, oldQID string) (Result, error) {
	if oldQID == "" || !c.form.RailHasError(oldQID) {
		return Advanced, nil
	}
	c.log.Info("Rail flagged the card just left, going back", zap.String("qid", oldQID))
	if err := c.form.GotoCard(ctx, oldQID); err != nil {
		return Blocked, err
	}
	return Blocked, nil
}

// nudgeWidget clears invalid widget state and waits for the card and rail to
// settle. An unreachable widget is not an error here; the caller's re-check
// of the button decides what happens next.
func (c *Controller) nudgeWidget(ctx context.Context, card *form.Card) {
	if _, err := c.client.ClearInvalid(ctx, card); err != nil {
		if !errors.Is(err, bridge.ErrWidgetUnreachable) {
			c.log.Warn("Clear-invalid failed", zap.String("qid", card.QID), zap.Error(err))
		}
		return
	}
	if err := c.form.WaitCardClean(ctx, card); err != nil && !errors.Is(err, await.ErrTimeout) {
		return
	}
	_ = c.form.WaitRailCleared(ctx, card.QID)
}

// waitMoved waits up to the next-wait budget for a different card to become
// active.
func (c *Controller) waitMoved(ctx context.Context, oldQID string) bool {
	err := await.Condition(ctx, c.clk, c.form.Doc(), await.ConditionOpts{
		Budget: c.t.NextWait,
		Tick:   c.t.Tick,
		Settle: c.t.Settle,
	}, func() bool {
		cur := c.form.ActiveCard()
		return cur != nil && cur.QID != oldQID
	})
	return err == nil
}
