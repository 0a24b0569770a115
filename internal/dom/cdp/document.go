package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/nxtri/cardpilot/internal/dom"
)

var _ dom.Document = (*Document)(nil)

// Query implements dom.Document.
func (d *Document) Query(selector string) dom.Element {
	var h string
	err := d.eval(fmt.Sprintf(`(function(sel){
  var n = document.querySelector(sel);
  return n ? window.__cpx.mark(n) : null;
})(%s)`, arg(selector)), &h)
	if err != nil || h == "" {
		return nil
	}
	return &element{d: d, h: h}
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) []dom.Element {
	var hs []string
	err := d.eval(fmt.Sprintf(`(function(sel){
  return Array.prototype.map.call(document.querySelectorAll(sel), window.__cpx.mark);
})(%s)`, arg(selector)), &hs)
	if err != nil {
		return nil
	}
	out := make([]dom.Element, 0, len(hs))
	for _, h := range hs {
		out = append(out, &element{d: d, h: h})
	}
	return out
}

// Location implements dom.Document.
func (d *Document) Location() string {
	var loc string
	_ = d.eval(`location.href`, &loc)
	return loc
}

// SetLocationHash implements dom.Document.
func (d *Document) SetLocationHash(hash string) {
	_ = d.eval(fmt.Sprintf(`(function(h){ location.hash = h; })(%s)`, arg(hash)), nil)
}

// DispatchEvent implements dom.Document.
func (d *Document) DispatchEvent(eventType string) {
	_ = d.eval(fmt.Sprintf(`(function(t){
  document.dispatchEvent(new Event(t, {bubbles: true, cancelable: true}));
})(%s)`, arg(eventType)), nil)
}

// Watch implements dom.Document. A background poller reads the page's
// mutation generation counter and fans out a token whenever it moved.
func (d *Document) Watch() (<-chan struct{}, func()) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	d.watchSeq++
	id := d.watchSeq
	ch := make(chan struct{}, 1)
	d.watchers[id] = ch

	if !d.watching {
		d.watching = true
		pollCtx, cancel := context.WithCancel(d.ctx)
		d.stop = cancel
		go d.pollGenerations(pollCtx)
	}

	return ch, func() {
		d.watchMu.Lock()
		delete(d.watchers, id)
		d.watchMu.Unlock()
	}
}

func (d *Document) pollGenerations(ctx context.Context) {
	t := time.NewTicker(watchPoll)
	defer t.Stop()
	last := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		var gen int
		if err := d.eval(`window.__cpx.gen`, &gen); err != nil {
			continue
		}
		if gen != last {
			last = gen
			d.broadcast()
		}
	}
}

func (d *Document) broadcast() {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
