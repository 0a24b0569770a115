package memdom

import (
	"strings"

	"github.com/nxtri/cardpilot/internal/dom"
	"golang.org/x/net/html"
)

// element is a handle to one node in the tree. Handles stay valid across
// mutations; a detached node simply stops matching queries.
type element struct {
	d *Document
	n *html.Node
}

var _ dom.Element = (*element)(nil)

func (e *element) Query(selector string) dom.Element {
	ns := e.d.match(e.n, selector, false)
	if len(ns) == 0 {
		return nil
	}
	return &element{d: e.d, n: ns[0]}
}

func (e *element) QueryAll(selector string) []dom.Element {
	ns := e.d.match(e.n, selector, true)
	out := make([]dom.Element, 0, len(ns))
	for _, n := range ns {
		out = append(out, &element{d: e.d, n: n})
	}
	return out
}

func (e *element) Tag() string {
	return strings.ToLower(e.n.Data)
}

func (e *element) ID() string {
	id, _ := e.Attr("id")
	return id
}

func (e *element) Attr(name string) (string, bool) {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) SetAttr(name, value string) {
	e.d.mu.Lock()
	setAttr(e.n, name, value)
	e.d.mu.Unlock()
	e.d.notify()
}

func (e *element) RemoveAttr(name string) {
	e.d.mu.Lock()
	removeAttr(e.n, name)
	e.d.mu.Unlock()
	e.d.notify()
}

func (e *element) classes() []string {
	cls, _ := e.Attr("class")
	return strings.Fields(cls)
}

func (e *element) HasClass(class string) bool {
	for _, c := range e.classes() {
		if c == class {
			return true
		}
	}
	return false
}

func (e *element) AddClass(class string) {
	if e.HasClass(class) {
		return
	}
	cls, _ := e.Attr("class")
	e.SetAttr("class", strings.TrimSpace(cls+" "+class))
}

func (e *element) RemoveClass(class string) {
	kept := make([]string, 0, 4)
	for _, c := range e.classes() {
		if c != class {
			kept = append(kept, c)
		}
	}
	e.SetAttr("class", strings.Join(kept, " "))
}

func (e *element) Text() string {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	var sb strings.Builder
	collectText(e.n, &sb)
	return sb.String()
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

func (e *element) Value() string {
	if e.Tag() == "textarea" {
		return e.Text()
	}
	v, _ := e.Attr("value")
	return v
}

func (e *element) SetValue(value string) {
	e.d.mu.Lock()
	if strings.EqualFold(e.n.Data, "textarea") {
		// For textarea the value is the child text node. Clear and replace.
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			c = next
		}
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	} else {
		setAttr(e.n, "value", value)
	}
	e.d.mu.Unlock()
	e.d.notify()
}

func (e *element) Checked() bool {
	_, ok := e.Attr("checked")
	return ok
}

func (e *element) SetChecked(checked bool) {
	e.d.mu.Lock()
	if checked {
		setAttr(e.n, "checked", "checked")
	} else {
		removeAttr(e.n, "checked")
	}
	e.d.mu.Unlock()
	e.d.notify()
}

// Style reads the property from the inline style attribute. Fixtures express
// hidden state inline; there is no cascade here.
func (e *element) Style(property string) string {
	style, _ := e.Attr("style")
	for _, decl := range strings.Split(style, ";") {
		name, val, ok := strings.Cut(decl, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), property) {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// BoxEmpty approximates layout: an element occupies no space when it, or any
// ancestor, is display:none or carries the hidden attribute. Fixtures can
// also force it with data-box-empty.
func (e *element) BoxEmpty() bool {
	if _, ok := e.Attr("data-box-empty"); ok {
		return true
	}
	for el := e; el != nil; {
		if _, ok := el.Attr("hidden"); ok {
			return true
		}
		if strings.EqualFold(el.Style("display"), "none") {
			return true
		}
		p := el.parent()
		if p == nil {
			return false
		}
		el = p
	}
	return false
}

// Click applies default HTML semantics (checkbox toggle, radio exclusivity,
// label forwarding) and then dispatches the click event to hooks.
func (e *element) Click() {
	tag := e.Tag()
	typ, _ := e.Attr("type")
	typ = strings.ToLower(typ)

	var forward *element
	switch {
	case tag == "input" && typ == "checkbox":
		e.SetChecked(!e.Checked())
	case tag == "input" && typ == "radio":
		e.selectRadio()
	case tag == "label":
		if forID, ok := e.Attr("for"); ok && forID != "" {
			if t := e.d.Query("#" + cssIdent(forID)); t != nil {
				forward = t.(*element)
			}
		}
	}

	e.d.record(e, "click")
	e.d.notify()
	if forward != nil {
		forward.Click()
	}
}

// selectRadio ensures only one radio in the group stays checked.
func (e *element) selectRadio() {
	name, _ := e.Attr("name")
	if name == "" {
		e.SetChecked(true)
		return
	}
	for _, other := range e.d.QueryAll(`input[type='radio'][name='` + name + `']`) {
		other.SetChecked(other.Same(e))
	}
}

func (e *element) Focus() { e.d.record(e, "focus"); e.d.notify() }
func (e *element) Blur()  { e.d.record(e, "blur"); e.d.notify() }

func (e *element) Dispatch(eventType string) {
	e.d.record(e, eventType)
	e.d.notify()
}

func (e *element) DispatchInput(data string) {
	e.d.recordEvent(EventRecord{Target: e, Type: "input", Data: data})
	e.d.notify()
}

func (e *element) Remove() {
	e.d.mu.Lock()
	if e.n.Parent != nil {
		e.n.Parent.RemoveChild(e.n)
	}
	e.d.mu.Unlock()
	e.d.notify()
}

func (e *element) parent() *element {
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return &element{d: e.d, n: p}
		}
	}
	return nil
}

func (e *element) Parent() dom.Element {
	if p := e.parent(); p != nil {
		return p
	}
	return nil
}

func (e *element) Closest(selector string) dom.Element {
	for el := e; el != nil; el = el.parent() {
		if el.Matches(selector) {
			return el
		}
	}
	return nil
}

func (e *element) Matches(selector string) bool {
	sel, err := e.d.compile(selector)
	if err != nil {
		panic(err)
	}
	e.d.mu.RLock()
	defer e.d.mu.RUnlock()
	return sel.Match(e.n)
}

func (e *element) Same(other dom.Element) bool {
	o, ok := other.(*element)
	return ok && o != nil && o.n == e.n
}

// Helper functions for node attribute manipulation. Callers hold d.mu.
func removeAttr(n *html.Node, key string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func setAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// cssIdent escapes an id for use in an id selector.
func cssIdent(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteRune('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
