package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nxtri/cardpilot/internal/await"
	"github.com/nxtri/cardpilot/internal/config"
	"github.com/nxtri/cardpilot/internal/form"
	"go.uber.org/zap"
)

// SelectResult is the agent's answer to a selection request.
type SelectResult struct {
	Changed bool
	Picked  string
}

// Client is the parent-page side of the protocol. It is single-threaded by
// design, mirroring the page's event loop: requests consume the inbox
// inline, and the driver drains stray value reports between requests.
type Client struct {
	form   *form.Form
	tr     Transport
	policy OriginPolicy
	gate   *ResolveGate
	clk    await.Clock
	t      config.TimingConfig
	log    *zap.Logger
}

// NewClient wires the parent form to a transport.
func NewClient(f *form.Form, tr Transport, policy OriginPolicy, gate *ResolveGate, clk await.Clock, t config.TimingConfig, log *zap.Logger) *Client {
	return &Client{form: f, tr: tr, policy: policy, gate: gate, clk: clk, t: t, log: log.Named("bridge.client")}
}

// Select asks the widget to apply the ranked tokens. It waits for the iframe
// to mount, completes the ping/pong handshake, then posts the request and
// waits for the answer. A widget that never answers yields
// ErrWidgetUnreachable.
func (c *Client) Select(ctx context.Context, card *form.Card, tokens []string, single bool) (SelectResult, error) {
	if err := c.prepare(ctx, card); err != nil {
		return SelectResult{}, err
	}
	if err := c.tr.Post(ctx, Message{Type: TypeSelect, Tokens: tokens, Single: single}); err != nil {
		return SelectResult{}, fmt.Errorf("posting select: %w", err)
	}
	msg, ok, err := c.recv(ctx, TypeSelected, c.t.WidgetReply)
	if err != nil {
		return SelectResult{}, err
	}
	if !ok {
		return SelectResult{}, fmt.Errorf("no answer to select: %w", ErrWidgetUnreachable)
	}
	return SelectResult{Changed: msg.Changed, Picked: msg.Picked}, nil
}

// ClearInvalid asks the widget to drop selections that became unavailable.
// Reports whether the widget fixed anything.
func (c *Client) ClearInvalid(ctx context.Context, card *form.Card) (bool, error) {
	if err := c.prepare(ctx, card); err != nil {
		return false, err
	}
	if err := c.tr.Post(ctx, Message{Type: TypeResolve, Mode: ModeClearInvalid}); err != nil {
		return false, fmt.Errorf("posting resolve: %w", err)
	}
	msg, ok, err := c.recv(ctx, TypeResolved, c.t.WidgetReply)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("no answer to resolve: %w", ErrWidgetUnreachable)
	}
	return msg.Fixed, nil
}

// Drain applies any buffered value reports without blocking. The driver
// calls it every tick so reports pushed outside a request still land.
func (c *Client) Drain() {
	for {
		select {
		case env := <-c.tr.Inbox():
			c.dispatch(env)
		default:
			return
		}
	}
}

// prepare waits for the iframe and completes the handshake.
func (c *Client) prepare(ctx context.Context, card *form.Card) error {
	err := await.Condition(ctx, c.clk, c.form.Doc(), await.ConditionOpts{
		Budget: c.t.FrameAppear,
		Tick:   c.t.Tick,
		Settle: c.t.Settle,
	}, func() bool { return c.form.WidgetFrame(card) != nil })
	if err != nil {
		return fmt.Errorf("widget iframe never mounted: %w", ErrWidgetUnreachable)
	}
	return c.handshake(ctx)
}

// handshake pings until a pong arrives or the budget runs out. The ping is
// re-sent every interval; widgets load late and miss early pings routinely.
func (c *Client) handshake(ctx context.Context) error {
	deadline := c.clk.Now().Add(c.t.Handshake)
	for {
		if err := c.tr.Post(ctx, Message{Type: TypePing}); err != nil {
			return fmt.Errorf("posting ping: %w", err)
		}
		msg, ok, err := c.recv(ctx, TypePong, c.t.PingInterval)
		if err != nil {
			return err
		}
		if ok && msg.Type == TypePong {
			return nil
		}
		if !c.clk.Now().Before(deadline) {
			return fmt.Errorf("handshake timed out after %s: %w", c.t.Handshake, ErrWidgetUnreachable)
		}
	}
}

// recv consumes the inbox until a message of the wanted type arrives or the
// budget elapses. Side-effect messages (value reports) are applied inline,
// exactly as the page's message listener would. The bool result reports
// whether the wanted message arrived.
func (c *Client) recv(ctx context.Context, want string, budget time.Duration) (Message, bool, error) {
	deadline := c.clk.Now().Add(budget)
	for {
		// Sweep everything already queued.
	drained:
		for {
			select {
			case env := <-c.tr.Inbox():
				if msg, ok := c.dispatch(env); ok && msg.Type == want {
					return msg, true, nil
				}
			default:
				break drained
			}
		}

		if !c.clk.Now().Before(deadline) {
			return Message{}, false, nil
		}

		tick := c.t.Tick
		if remain := deadline.Sub(c.clk.Now()); remain < tick {
			tick = remain
		}
		slept := make(chan error, 1)
		sleepCtx, cancel := context.WithCancel(ctx)
		go func() { slept <- c.clk.Sleep(sleepCtx, tick) }()

		select {
		case <-ctx.Done():
			cancel()
			return Message{}, false, ctx.Err()
		case env := <-c.tr.Inbox():
			cancel()
			if msg, ok := c.dispatch(env); ok && msg.Type == want {
				return msg, true, nil
			}
		case err := <-slept:
			cancel()
			if err != nil {
				return Message{}, false, err
			}
		}
	}
}

// dispatch gates the origin and applies side effects. Returns the message
// when it passed the gate.
func (c *Client) dispatch(env Envelope) (Message, bool) {
	if !c.policy.Allowed(env.Origin) {
		c.log.Debug("Dropping message from unlisted origin",
			zap.String("origin", env.Origin), zap.String("type", env.Msg.Type))
		return Message{}, false
	}
	switch env.Msg.Type {
	case TypeValue, TypeValueDirty:
		c.applyValueReport(env.Msg)
	}
	return env.Msg, true
}

// applyValueReport mirrors the widget's value into the parent question's
// hidden field, strips stale error banners, and unlocks the Next button
// unless recovery holds the gate.
func (c *Client) applyValueReport(msg Message) {
	card := c.form.ActiveCard()
	lines := c.form.WidgetLines(card)
	if len(lines) == 0 {
		return
	}
	line := lines[0]
	if hidden := line.Query("input[type='hidden'], textarea"); hidden != nil {
		if hidden.Value() != msg.Value {
			hidden.SetValue(msg.Value)
			hidden.Dispatch("input")
			hidden.Dispatch("change")
		}
	}
	if msg.Type != TypeValue {
		return
	}
	c.form.RemoveErrorBanners(card)
	if c.gate.Held() || msg.Value == "" {
		return
	}
	if next := c.form.NextButton(card); next != nil {
		next.RemoveAttr("disabled")
		next.RemoveClass("disabled")
		next.SetAttr("aria-disabled", "false")
	}
}
