package driver

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/bridge"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/dom"
	"github.com/nxtri/cardpilot/internal/fill"
	"github.com/nxtri/cardpilot/internal/form"
	"github.com/nxtri/cardpilot/internal/nav"
	"github.com/nxtri/cardpilot/internal/recovery"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start while a run is in progress. The
// control surface turns it into an acknowledged no-op, not a failure.
var ErrAlreadyRunning = errors.New("driver: run already in progress")

// Outcome is the terminal state of a run.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeSubmitted Outcome = "submitted"
	OutcomeStopped   Outcome = "stopped"
	OutcomeStalled   Outcome = "stalled"
	OutcomeFailed    Outcome = "failed"
)

// Deps bundles the collaborators a Driver needs.
type Deps struct {
	Doc    dom.Document
	Form   *form.Form
	Filler *fill.Filler
	Client *bridge.Client
	Nav    *nav.Controller
	Engine *recovery.Engine
	Gate   *bridge.ResolveGate
	Clock  await.Clock
	Timing config.TimingConfig
	Log    *zap.Logger
}

// Driver owns the fill loop. At most one run is active at a time.
type Driver struct {
	d Deps

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// New builds a Driver.
func New(deps Deps) *Driver {
	deps.Log = deps.Log.Named("driver")
	return &Driver{d: deps}
}

// Start launches a run. A second Start while one is active returns
// ErrAlreadyRunning and leaves the first run untouched.
func (dr *Driver) Start(ctx context.Context, p Payload) error {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	if dr.running {
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	dr.running = true
	dr.cancel = cancel
	dr.done = make(chan struct{})
	dr.outcome = OutcomeNone

	go dr.run(runCtx, p)
	return nil
}

// Stop cancels the active run, if any. It returns immediately; Done() can
// be waited on for the loop to unwind.
func (dr *Driver) Stop() {
	dr.mu.Lock()
	cancel := dr.cancel
	dr.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether a run is active.
func (dr *Driver) Running() bool {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.running
}

// Done returns a channel closed when the current run finishes, or nil when
// none was started.
func (dr *Driver) Done() <-chan struct{} {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.done
}

// Outcome returns the terminal state of the last run.
func (dr *Driver) Outcome() Outcome {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	return dr.outcome
}

func (dr *Driver) finish(o Outcome) {
	dr.mu.Lock()
	dr.running = false
	dr.cancel = nil
	dr.outcome = o
	done := dr.done
	dr.mu.Unlock()
	if done != nil {
		close(done)
	}
}

var dayNumberRe = regexp.MustCompile(`\b([0-9]{1,2})\b`)

// run is the main loop. One iteration per tick: honor the start gate, drain
// widget value reports, fill the active card, negotiate widget selection,
// try to advance, and let the watchdog judge progress.
func (dr *Driver) run(ctx context.Context, p Payload) {
	log := dr.d.Log.With(zap.String("run_id", uuid.NewString()))
	log.Info("Run starting",
		zap.Bool("submit", p.SubmitForm), zap.Int("pace_ms", p.DelayTime))

	// The payload's delayTime paces the loop; the configured tick is only
	// the floor for payloads that carry none.
	pace := time.Duration(p.DelayTime) * time.Millisecond
	if pace <= 0 {
		pace = dr.d.Timing.Tick
	}

	vals := p.Values()

	lastSig := ""
	lastSigAt := dr.d.Clock.Now()
	rescues := 0
	hardResets := 0
	widgetDone := make(map[string]bool)

	for {
		if ctx.Err() != nil {
			log.Info("Run stopped")
			dr.finish(OutcomeStopped)
			return
		}
		if err := dr.d.Doc.Err(); err != nil {
			log.Error("Page connection lost", zap.Error(err))
			dr.finish(OutcomeFailed)
			return
		}

		if sb := dr.d.Form.StartButton(); sb != nil && dom.Visible(sb) {
			log.Debug("Pressing start")
			sb.Click()
			_ = dr.d.Clock.Sleep(ctx, pace)
			continue
		}

		dr.d.Client.Drain()

		card := dr.d.Form.ActiveCard()
		if card == nil {
			_ = dr.d.Clock.Sleep(ctx, pace)
			continue
		}

		fields := fill.Detect(card)
		dr.d.Filler.Fill(card, fields, vals)

		if dr.d.Form.HasWidget(card) && !widgetDone[card.QID] && !dr.d.Gate.Held() {
			dr.selectWidget(ctx, log, card, p, widgetDone)
		}

		res, err := dr.d.Nav.Advance(ctx, card, p.SubmitForm)
		if err != nil && ctx.Err() == nil {
			log.Warn("Advance failed", zap.String("qid", card.QID), zap.Error(err))
		}
		if res == nav.Submitted {
			clean, rerr := dr.d.Engine.ResolveAndResubmit(ctx, card.QID)
			if rerr != nil && ctx.Err() == nil {
				log.Warn("Error recovery failed", zap.Error(rerr))
			}
			if clean {
				log.Info("Form submitted cleanly")
				dr.finish(OutcomeSubmitted)
				return
			}
			if ctx.Err() != nil {
				continue
			}
			// Unresolved errors: allow widget re-selection on flagged cards
			// and keep looping; the watchdog bounds the retries.
			widgetDone = make(map[string]bool)
		}

		// Watchdog. Quiet periods while recovery holds the gate are work,
		// not a stall.
		sig := dr.d.Form.StateSignature()
		now := dr.d.Clock.Now()
		switch {
		case sig != lastSig || dr.d.Gate.Held():
			lastSig = sig
			lastSigAt = now
		case now.Sub(lastSigAt) >= dr.d.Timing.StallAfter:
			rescues++
			lastSigAt = now
			delete(widgetDone, card.QID)
			if rescues < dr.d.Timing.HardResetAfter {
				log.Warn("Stall detected, rescuing card",
					zap.String("qid", card.QID), zap.Int("rescue", rescues))
				dr.rescue(ctx, card)
				break
			}
			rescues = 0
			hardResets++
			if hardResets > dr.d.Timing.HardResetAfter {
				log.Error("Still stalled after hard resets, giving up",
					zap.String("qid", card.QID), zap.String("signature", sig))
				dr.finish(OutcomeStalled)
				return
			}
			log.Warn("Hard resetting card",
				zap.String("qid", card.QID), zap.Int("hard_reset", hardResets))
			dr.hardReset(card)
		}

		_ = dr.d.Clock.Sleep(ctx, pace)
	}
}

// selectWidget applies the ranked tokens to the card's widget, honoring the
// enabledDays gate. Success and a definitively unreachable widget both mark
// the card done; transient failures retry next tick.
func (dr *Driver) selectWidget(ctx context.Context, log *zap.Logger, card *form.Card, p Payload, widgetDone map[string]bool) {
	tokens := dr.widgetTokens(card, p)
	if len(tokens) == 0 {
		log.Info("Widget card gated off, leaving selection empty", zap.String("qid", card.QID))
		widgetDone[card.QID] = true
		return
	}
	res, err := dr.d.Client.Select(ctx, card, tokens, true)
	switch {
	case err == nil:
		log.Info("Widget selection applied",
			zap.String("qid", card.QID),
			zap.Bool("changed", res.Changed),
			zap.String("picked", res.Picked))
		widgetDone[card.QID] = true
	case errors.Is(err, bridge.ErrWidgetUnreachable):
		log.Warn("Widget unreachable, will not block on it", zap.String("qid", card.QID))
		widgetDone[card.QID] = true
	case ctx.Err() != nil:
		// Shutdown; the loop head handles it.
	default:
		log.Warn("Widget selection failed, retrying next tick",
			zap.String("qid", card.QID), zap.Error(err))
	}
}

// widgetTokens applies the day filter: when enabledDays is set and the card
// title names a day number outside the set, the widget is skipped, unless
// the special-event override applies.
func (dr *Driver) widgetTokens(card *form.Card, p Payload) []string {
	tokens := p.Values().Tokens()
	if p.EnabledDays.Empty() {
		return tokens
	}
	title := dr.d.Form.Title(card)
	m := dayNumberRe.FindStringSubmatch(title)
	if m == nil {
		return tokens
	}
	day, err := strconv.Atoi(m[1])
	if err != nil || p.EnabledDays.Contains(day) {
		return tokens
	}
	if p.IncludeSpecialEvent && dom.ContainsAny(title, []string{"special event", "special"}) {
		return tokens
	}
	return nil
}

// rescue re-applies the cheap fixes to a stalled card: consent toggles and,
// on widget cards, a clear-invalid round trip.
func (dr *Driver) rescue(ctx context.Context, card *form.Card) {
	dr.d.Filler.ConsentToggles(card)
	if dr.d.Form.HasWidget(card) {
		if _, err := dr.d.Client.ClearInvalid(ctx, card); err == nil {
			_ = dr.d.Form.WaitCardClean(ctx, card)
		}
	}
}

// hardReset forces the framework to re-render the card via its own router:
// rail click plus a hash jump.
func (dr *Driver) hardReset(card *form.Card) {
	if lab := dr.d.Form.RailLabel(card.QID); lab != nil {
		if item := lab.Closest(".jfProgress-item"); item != nil {
			item.Click()
		} else {
			lab.Click()
		}
	}
	dr.d.Doc.SetLocationHash("#cid_" + card.QID)
}
