// Package cdp binds dom.Document to a live Chrome target over chromedp.
// Every primitive evaluates one JS snippet and unmarshals the JSON result.
// Elements are addressed by a marker attribute stamped onto the node the
// first time it is returned from a query, so handles survive reflows and
// sibling reordering.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	// opTimeout bounds one snippet evaluation.
	opTimeout = 10 * time.Second
	// watchPoll is the generation-counter polling cadence behind Watch.
	watchPoll = 150 * time.Millisecond
)

// bootstrap installs the handle registry and the mutation generation
// counter. It is idempotent and prepended to every snippet, because a
// navigation wipes the window object at any time.
const bootstrap = `(function(){
  if (window.__cpx) return;
  var seq = 0;
  window.__cpx = {
    mark: function(n){
      var h = n.getAttribute('data-cpx');
      if (!h) { h = 'h' + (++seq) + '-' + Date.now().toString(36); n.setAttribute('data-cpx', h); }
      return h;
    },
    get: function(h){ return document.querySelector('[data-cpx="' + h + '"]'); },
    gen: 0
  };
  new MutationObserver(function(){ window.__cpx.gen++; })
    .observe(document.documentElement, {subtree: true, childList: true, attributes: true, characterData: true});
})();`

// Document drives one browsing context (the form tab or the widget iframe
// target).
type Document struct {
	ctx context.Context
	log *zap.Logger

	errMu   sync.Mutex
	lastErr error

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	watchSeq int
	watching bool
	stop     context.CancelFunc
}

// NewDocument wraps a chromedp target context.
func NewDocument(ctx context.Context, log *zap.Logger) *Document {
	return &Document{
		ctx:      ctx,
		log:      log.Named("dom.cdp"),
		watchers: make(map[int]chan struct{}),
	}
}

// Close stops the watch poller. The chromedp context itself belongs to the
// browser manager.
func (d *Document) Close() {
	d.watchMu.Lock()
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	d.watching = false
	d.watchMu.Unlock()
}

// eval runs one snippet and decodes the result. A nil out discards it.
func (d *Document) eval(expr string, out any) error {
	opCtx, cancel := context.WithTimeout(d.ctx, opTimeout)
	defer cancel()

	var raw json.RawMessage
	err := chromedp.Run(opCtx, chromedp.Evaluate(bootstrap+expr, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}))
	if err != nil {
		d.fail(fmt.Errorf("evaluating snippet: %w", err))
		return err
	}
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding snippet result: %w", err)
	}
	return nil
}

func (d *Document) fail(err error) {
	// Context-cancel errors during shutdown are not page failures.
	if d.ctx.Err() != nil {
		return
	}
	d.errMu.Lock()
	if d.lastErr == nil {
		d.lastErr = err
	}
	d.errMu.Unlock()
	d.log.Debug("Snippet evaluation failed", zap.Error(err))
}

// Err implements dom.Document.
func (d *Document) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastErr
}

// arg JSON-encodes a snippet argument.
func arg(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
