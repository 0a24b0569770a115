package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/nxtri/cardpilot/internal/bridge"
	"go.uber.org/zap"
)

// recvBinding is the CDP binding the page-side listener calls with every
// message event it sees.
const recvBinding = "__cpRecv"

// listenerJS wires window "message" events into the binding. Idempotent so
// re-installation after a reload is safe.
const listenerJS = `(function(){
  if (window.__cpRecvHooked) return;
  window.__cpRecvHooked = true;
  window.addEventListener('message', function(e){
    try { ` + recvBinding + `(JSON.stringify({origin: e.origin, data: e.data})); } catch (_) {}
  });
})();`

// PageTransport is the production bridge transport: it lives on the form
// tab, posts into the widget iframe's contentWindow and receives the
// widget's replies through a CDP binding on the parent window.
type PageTransport struct {
	ctx      context.Context
	frameSel string
	log      *zap.Logger
	inbox    chan bridge.Envelope
}

var _ bridge.Transport = (*PageTransport)(nil)

// bindingPayload mirrors what listenerJS stringifies.
type bindingPayload struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// NewPageTransport installs the message listener on the tab and starts
// feeding the inbox. frameSel selects the widget iframe to post into.
func NewPageTransport(ctx context.Context, frameSel string, log *zap.Logger) (*PageTransport, error) {
	t := &PageTransport{
		ctx:      ctx,
		frameSel: frameSel,
		log:      log.Named("bridge.page"),
		inbox:    make(chan bridge.Envelope, 32),
	}

	chromedp.ListenTarget(ctx, t.onEvent)

	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(c context.Context) error {
			return runtime.AddBinding(recvBinding).Do(c)
		}),
		chromedp.Evaluate(listenerJS, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("installing message listener: %w", err)
	}
	return t, nil
}

func (t *PageTransport) onEvent(ev any) {
	bc, ok := ev.(*runtime.EventBindingCalled)
	if !ok || bc.Name != recvBinding {
		return
	}
	var p bindingPayload
	if err := json.Unmarshal([]byte(bc.Payload), &p); err != nil {
		t.log.Debug("Unreadable message event", zap.Error(err))
		return
	}
	msg, err := bridge.Decode(p.Data)
	if err != nil || msg.Type == "" {
		// Hosted pages postMessage all sorts of unrelated traffic; only
		// typed frames belong in the inbox.
		return
	}
	select {
	case t.inbox <- bridge.Envelope{Origin: p.Origin, Msg: msg}:
	default:
		t.log.Warn("Inbox full, dropping message", zap.String("type", msg.Type))
	}
}

// Post implements bridge.Transport. The message is addressed to the frame's
// own origin, never broadcast: a frame that navigated elsewhere silently
// drops it instead of receiving form data.
func (t *PageTransport) Post(ctx context.Context, msg bridge.Message) error {
	raw, err := bridge.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type, err)
	}

	opCtx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()
	if ctx != nil {
		if dl, ok := ctx.Deadline(); ok && dl.Before(time.Now().Add(10*time.Second)) {
			cancel()
			opCtx, cancel = context.WithDeadline(t.ctx, dl)
			defer cancel()
		}
	}

	var posted bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(postExpr(t.frameSel, string(raw)), &posted)); err != nil {
		return fmt.Errorf("posting %s: %w", msg.Type, err)
	}
	if !posted {
		return fmt.Errorf("posting %s: no widget frame with a resolvable origin matches %q", msg.Type, t.frameSel)
	}
	return nil
}

// postExpr builds the page-side snippet that delivers one message into the
// widget iframe. The target origin is derived from the frame's src, so the
// post carries an explicit destination.
func postExpr(frameSel, raw string) string {
	return fmt.Sprintf(`(function(sel, raw){
  var f = document.querySelector(sel);
  if (!f || !f.contentWindow) return false;
  var target = '';
  try { target = new URL(f.src, location.href).origin; } catch (_) {}
  if (!target || target === 'null') return false;
  f.contentWindow.postMessage(JSON.parse(raw), target);
  return true;
})(%s, %s)`, jsArg(frameSel), jsArg(raw))
}

// Inbox implements bridge.Transport.
func (t *PageTransport) Inbox() <-chan bridge.Envelope { return t.inbox }

// FrameSelector builds the iframe selector matching any of the configured
// src hints.
func FrameSelector(hints []string) string {
	if len(hints) == 0 {
		return "iframe"
	}
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, fmt.Sprintf("iframe[src*='%s']", h))
	}
	return strings.Join(parts, ", ")
}

func jsArg(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
