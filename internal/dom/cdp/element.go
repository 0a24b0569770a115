package cdp

import (
	"fmt"
	"strings"

	"github.com/nxtri/cardpilot/internal/dom"
)

// element addresses one node by its marker handle.
type element struct {
	d *Document
	h string
}

var _ dom.Element = (*element)(nil)

// evalNode runs a snippet with the resolved node bound to n. A node that
// left the document resolves to null and the snippet returns null.
func (e *element) evalNode(body string, out any, args ...any) error {
	encoded := make([]string, 0, len(args)+1)
	encoded = append(encoded, fmt.Sprintf("window.__cpx.get(%s)", arg(e.h)))
	params := []string{"n"}
	for i, a := range args {
		encoded = append(encoded, arg(a))
		params = append(params, fmt.Sprintf("a%d", i))
	}
	expr := fmt.Sprintf(`(function(%s){ if (!n) return null; %s })(%s)`,
		strings.Join(params, ", "), body, strings.Join(encoded, ", "))
	return e.d.eval(expr, out)
}

func (e *element) Query(selector string) dom.Element {
	var h string
	err := e.evalNode(`var m = n.querySelector(a0); return m ? window.__cpx.mark(m) : null;`, &h, selector)
	if err != nil || h == "" {
		return nil
	}
	return &element{d: e.d, h: h}
}

func (e *element) QueryAll(selector string) []dom.Element {
	var hs []string
	err := e.evalNode(`return Array.prototype.map.call(n.querySelectorAll(a0), window.__cpx.mark);`, &hs, selector)
	if err != nil {
		return nil
	}
	out := make([]dom.Element, 0, len(hs))
	for _, h := range hs {
		out = append(out, &element{d: e.d, h: h})
	}
	return out
}

func (e *element) Tag() string {
	var tag string
	_ = e.evalNode(`return n.tagName.toLowerCase();`, &tag)
	return tag
}

func (e *element) ID() string {
	var id string
	_ = e.evalNode(`return n.id || '';`, &id)
	return id
}

func (e *element) Attr(name string) (string, bool) {
	var res *string
	_ = e.evalNode(`return n.hasAttribute(a0) ? n.getAttribute(a0) : null;`, &res, name)
	if res == nil {
		return "", false
	}
	return *res, true
}

func (e *element) SetAttr(name, value string) {
	_ = e.evalNode(`n.setAttribute(a0, a1);`, nil, name, value)
}

func (e *element) RemoveAttr(name string) {
	_ = e.evalNode(`n.removeAttribute(a0);`, nil, name)
}

func (e *element) HasClass(class string) bool {
	var ok bool
	_ = e.evalNode(`return n.classList.contains(a0);`, &ok, class)
	return ok
}

func (e *element) AddClass(class string) {
	_ = e.evalNode(`n.classList.add(a0);`, nil, class)
}

func (e *element) RemoveClass(class string) {
	_ = e.evalNode(`n.classList.remove(a0);`, nil, class)
}

func (e *element) Text() string {
	var t string
	_ = e.evalNode(`return n.textContent || '';`, &t)
	return t
}

func (e *element) Value() string {
	var v string
	_ = e.evalNode(`return ('value' in n) ? String(n.value) : (n.getAttribute('value') || '');`, &v)
	return v
}

// SetValue writes through the prototype's native setter so framework change
// tracking (which wraps the own-property setter) still sees the write.
func (e *element) SetValue(value string) {
	_ = e.evalNode(`
  var proto = n.tagName === 'TEXTAREA' ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
  var desc = Object.getOwnPropertyDescriptor(proto, 'value');
  if (desc && desc.set) { desc.set.call(n, a0); } else { n.value = a0; }`, nil, value)
}

func (e *element) Checked() bool {
	var c bool
	_ = e.evalNode(`return !!n.checked;`, &c)
	return c
}

func (e *element) SetChecked(checked bool) {
	_ = e.evalNode(`
  var proto = HTMLInputElement.prototype;
  var desc = Object.getOwnPropertyDescriptor(proto, 'checked');
  if (desc && desc.set) { desc.set.call(n, a0); } else { n.checked = a0; }`, nil, checked)
}

func (e *element) Style(property string) string {
	var v string
	_ = e.evalNode(`return window.getComputedStyle(n).getPropertyValue(a0);`, &v, property)
	return strings.TrimSpace(v)
}

func (e *element) BoxEmpty() bool {
	empty := true
	_ = e.evalNode(`var r = n.getBoundingClientRect(); return r.width === 0 || r.height === 0;`, &empty)
	return empty
}

func (e *element) Click() {
	_ = e.evalNode(`n.click();`, nil)
}

func (e *element) Focus() {
	_ = e.evalNode(`if (n.focus) n.focus();`, nil)
}

func (e *element) Blur() {
	_ = e.evalNode(`if (n.blur) n.blur();`, nil)
}

func (e *element) Dispatch(eventType string) {
	_ = e.evalNode(`n.dispatchEvent(new Event(a0, {bubbles: true, cancelable: true}));`, nil, eventType)
}

func (e *element) DispatchInput(data string) {
	_ = e.evalNode(
		`n.dispatchEvent(new InputEvent('input', {bubbles: true, cancelable: true, inputType: 'insertFromPaste', data: a0}));`,
		nil, data)
}

func (e *element) Remove() {
	_ = e.evalNode(`n.remove();`, nil)
}

func (e *element) Parent() dom.Element {
	var h string
	err := e.evalNode(`var p = n.parentElement; return p ? window.__cpx.mark(p) : null;`, &h)
	if err != nil || h == "" {
		return nil
	}
	return &element{d: e.d, h: h}
}

func (e *element) Closest(selector string) dom.Element {
	var h string
	err := e.evalNode(`var m = n.closest(a0); return m ? window.__cpx.mark(m) : null;`, &h, selector)
	if err != nil || h == "" {
		return nil
	}
	return &element{d: e.d, h: h}
}

func (e *element) Matches(selector string) bool {
	var ok bool
	_ = e.evalNode(`return n.matches(a0);`, &ok, selector)
	return ok
}

func (e *element) Same(other dom.Element) bool {
	o, ok := other.(*element)
	return ok && o != nil && o.h == e.h
}
