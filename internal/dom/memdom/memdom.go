// Package memdom is an in-memory dom.Document over golang.org/x/net/html.
// It backs tests and dry runs: no layout engine, but enough click and form
// semantics (checkbox toggle, radio exclusivity, label forwarding) to drive
// the same state machine the live binding drives. Behavior hooks let a
// fixture play the part of the hosting page's own scripts.
package memdom

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/nxtri/cardpilot/internal/dom"
	"golang.org/x/net/html"
)

// EventRecord is one synthetic event observed on the document. Data is set
// only for rich input events.
type EventRecord struct {
	Target dom.Element // nil for document-level events
	Type   string
	Data   string
}

// Hook reacts to a dispatched event, after default semantics ran. Hooks may
// mutate the document; fixtures use them to simulate the host page.
type Hook func(target dom.Element, eventType string)

// Document holds the parsed tree plus the mutation and event plumbing.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
	loc  *url.URL

	evMu    sync.Mutex
	events  []EventRecord
	hooks   []Hook
	inHook  bool
	pending []EventRecord

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	watchSeq int

	selMu sync.Mutex
	sels  map[string]cascadia.SelectorGroup
}

var _ dom.Document = (*Document)(nil)

// Parse builds a Document from raw HTML. The location is used for hash
// navigation fallbacks.
func Parse(rawHTML, location string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture HTML: %w", err)
	}
	loc, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture location %q: %w", location, err)
	}
	return &Document{
		root:     root,
		loc:      loc,
		watchers: make(map[int]chan struct{}),
		sels:     make(map[string]cascadia.SelectorGroup),
	}, nil
}

// MustParse is Parse for fixtures known to be well formed.
func MustParse(rawHTML, location string) *Document {
	d, err := Parse(rawHTML, location)
	if err != nil {
		panic(err)
	}
	return d
}

// OnEvent registers a behavior hook. Hooks run synchronously in dispatch
// order after the event's default semantics.
func (d *Document) OnEvent(h Hook) {
	d.evMu.Lock()
	d.hooks = append(d.hooks, h)
	d.evMu.Unlock()
}

// Events returns a copy of every recorded event so far.
func (d *Document) Events() []EventRecord {
	d.evMu.Lock()
	defer d.evMu.Unlock()
	out := make([]EventRecord, len(d.events))
	copy(out, d.events)
	return out
}

// EventTypes returns the event types recorded against one element, in order.
func (d *Document) EventTypes(el dom.Element) []string {
	d.evMu.Lock()
	defer d.evMu.Unlock()
	var out []string
	for _, ev := range d.events {
		if ev.Target != nil && el != nil && ev.Target.Same(el) {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (d *Document) compile(selector string) (cascadia.SelectorGroup, error) {
	d.selMu.Lock()
	defer d.selMu.Unlock()
	if sel, ok := d.sels[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, err
	}
	d.sels[selector] = sel
	return sel, nil
}

func (d *Document) match(scope *html.Node, selector string, all bool) []*html.Node {
	sel, err := d.compile(selector)
	if err != nil {
		// A bad selector is a programming error in this codebase; surface it
		// loudly in tests instead of silently matching nothing.
		panic(fmt.Sprintf("bad selector %q: %v", selector, err))
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if all {
		return cascadia.QueryAll(scope, sel)
	}
	if n := cascadia.Query(scope, sel); n != nil {
		return []*html.Node{n}
	}
	return nil
}

// Query implements dom.Document.
func (d *Document) Query(selector string) dom.Element {
	ns := d.match(d.root, selector, false)
	if len(ns) == 0 {
		return nil
	}
	return &element{d: d, n: ns[0]}
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) []dom.Element {
	ns := d.match(d.root, selector, true)
	out := make([]dom.Element, 0, len(ns))
	for _, n := range ns {
		out = append(out, &element{d: d, n: n})
	}
	return out
}

// Location implements dom.Document.
func (d *Document) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loc.String()
}

// SetLocationHash implements dom.Document. A hashchange event is dispatched
// so fixtures can react the way the hosted page's router does.
func (d *Document) SetLocationHash(hash string) {
	d.mu.Lock()
	d.loc.Fragment = strings.TrimPrefix(hash, "#")
	d.mu.Unlock()
	d.record(nil, "hashchange")
	d.notify()
}

// DispatchEvent implements dom.Document.
func (d *Document) DispatchEvent(eventType string) {
	d.record(nil, eventType)
	d.notify()
}

// Watch implements dom.Document.
func (d *Document) Watch() (<-chan struct{}, func()) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	d.watchSeq++
	id := d.watchSeq
	ch := make(chan struct{}, 1)
	d.watchers[id] = ch
	return ch, func() {
		d.watchMu.Lock()
		delete(d.watchers, id)
		d.watchMu.Unlock()
	}
}

// Err implements dom.Document. The in-memory binding cannot lose its page.
func (d *Document) Err() error { return nil }

func (d *Document) notify() {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()
	for _, ch := range d.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *Document) record(target dom.Element, eventType string) {
	d.recordEvent(EventRecord{Target: target, Type: eventType})
}

// recordEvent stores the event and runs hooks. Re-entrant dispatches from
// inside a hook are queued so hooks observe a consistent order.
func (d *Document) recordEvent(ev EventRecord) {
	d.evMu.Lock()
	if d.inHook {
		d.pending = append(d.pending, ev)
		d.evMu.Unlock()
		return
	}
	d.inHook = true
	d.events = append(d.events, ev)
	queue := []EventRecord{ev}
	hooks := append([]Hook(nil), d.hooks...)
	d.evMu.Unlock()

	for len(queue) > 0 {
		ev := queue[0]
		queue = queue[1:]
		for _, h := range hooks {
			h(ev.Target, ev.Type)
		}
		d.evMu.Lock()
		if len(d.pending) > 0 {
			d.events = append(d.events, d.pending...)
			queue = append(queue, d.pending...)
			d.pending = nil
		}
		d.evMu.Unlock()
	}

	d.evMu.Lock()
	d.inHook = false
	d.evMu.Unlock()
}
