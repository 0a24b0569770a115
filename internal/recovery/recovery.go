// Package recovery is the post-submit error resolver: it walks every card
// the form flags as invalid, fixes what it can, and re-submits from the card
// the submit happened on. Passes are bounded and progress-checked so a form
// that refuses to heal cannot trap the run.
package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/bridge"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/fill"
	"github.com/nxtri/cardpilot/internal/form"
	"go.uber.org/zap"
)

// stagnantPassLimit cuts the loop when two consecutive passes fail to shrink
// the error set.
const stagnantPassLimit = 2

// Engine drives multi-pass error resolution. It holds the resolve gate for
// its whole run: value reports must not unlock navigation while cards are
// being rewritten underneath the user-visible state.
type Engine struct {
	form   *form.Form
	filler *fill.Filler
	client *bridge.Client
	gate   *bridge.ResolveGate
	clk    await.Clock
	t      config.TimingConfig
	log    *zap.Logger
}

// New builds an Engine.
func New(f *form.Form, filler *fill.Filler, client *bridge.Client, gate *bridge.ResolveGate, clk await.Clock, t config.TimingConfig, log *zap.Logger) *Engine {
	return &Engine{form: f, filler: filler, client: client, gate: gate, clk: clk, t: t, log: log.Named("recovery")}
}

// Resolve runs bounded fix passes over the flagged cards and reports how
// many remain flagged.
func (e *Engine) Resolve(ctx context.Context) (int, error) {
	e.gate.Hold()
	defer e.gate.Release()
	return e.resolvePasses(ctx)
}

// ResolveAndResubmit resolves the error set and, when it empties, returns to
// the remembered submit card and presses submit again. It keeps going until
// a submit sticks, the error set stops shrinking, or the pass budget runs
// out. Returns true when the form went through cleanly.
func (e *Engine) ResolveAndResubmit(ctx context.Context, submitQID string) (bool, error) {
	e.gate.Hold()
	defer e.gate.Release()

	for attempt := 0; attempt < e.t.MaxErrorPasses; attempt++ {
		remaining, err := e.resolvePasses(ctx)
		if err != nil {
			return false, err
		}
		if remaining > 0 {
			e.log.Warn("Error set did not empty", zap.Int("remaining", remaining))
			return false, nil
		}
		if submitQID == "" {
			return true, nil
		}

		if err := e.form.GotoCard(ctx, submitQID); err != nil {
			return false, fmt.Errorf("returning to submit card: %w", err)
		}
		card := e.form.ActiveCard()
		sub := e.form.SubmitButton(card)
		if sub == nil || !dom.Visible(sub) || dom.Disabled(sub) {
			e.log.Warn("Submit button unavailable after resolution", zap.String("qid", submitQID))
			return false, nil
		}
		e.log.Info("Re-submitting after error resolution", zap.Int("attempt", attempt+1))
		sub.Click()

		if !e.waitErrors(ctx) {
			return true, nil
		}
		// New errors surfaced; next attempt resolves them.
	}
	return false, nil
}

// resolvePasses is the core loop. Caller holds the gate.
func (e *Engine) resolvePasses(ctx context.Context) (int, error) {
	if !e.waitErrors(ctx) {
		return 0, ctx.Err()
	}

	prev := -1
	stagnant := 0
	for pass := 0; pass < e.t.MaxErrorPasses; pass++ {
		ids := e.form.ErrorQIDs()
		if len(ids) == 0 {
			return 0, nil
		}
		e.log.Info("Error resolution pass",
			zap.Int("pass", pass+1), zap.Strings("qids", ids))

		for _, qid := range ids {
			if err := ctx.Err(); err != nil {
				return len(ids), err
			}
			e.fixCard(ctx, qid)
		}

		cur := len(e.form.ErrorQIDs())
		if prev >= 0 && cur >= prev {
			stagnant++
			if stagnant >= stagnantPassLimit {
				e.log.Warn("No progress across passes, giving up", zap.Int("remaining", cur))
				return cur, nil
			}
		} else {
			stagnant = 0
		}
		prev = cur
	}
	return len(e.form.ErrorQIDs()), nil
}

// fixCard navigates to one flagged card and applies the per-kind fix:
// clear-invalid for widget cards, consent toggles for agreement cards. A fix
// that fails is logged and skipped; the pass structure retries it.
func (e *Engine) fixCard(ctx context.Context, qid string) {
	if err := e.form.GotoCard(ctx, qid); err != nil {
		e.log.Warn("Could not reach flagged card", zap.String("qid", qid), zap.Error(err))
		return
	}
	card := e.form.ActiveCard()
	if card == nil || card.QID != qid {
		return
	}

	if e.form.HasWidget(card) {
		if _, err := e.client.ClearInvalid(ctx, card); err != nil {
			if !errors.Is(err, bridge.ErrWidgetUnreachable) {
				e.log.Warn("Clear-invalid failed", zap.String("qid", qid), zap.Error(err))
			}
		} else {
			_ = e.form.WaitCardClean(ctx, card)
		}
	}

	e.filler.ConsentToggles(card)
	_ = e.form.WaitRailCleared(ctx, qid)
}

// waitErrors waits for the framework's validation markers to land after a
// submit. Reports whether any error surface is present when it returns.
func (e *Engine) waitErrors(ctx context.Context) bool {
	err := await.Poll(ctx, e.clk, e.t.Tick, e.t.ErrorsWaitMax, func() (bool, error) {
		return e.form.HasValidationErrors(), nil
	})
	if err != nil {
		return e.form.HasValidationErrors()
	}
	return true
}
