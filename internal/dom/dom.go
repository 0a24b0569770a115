// Package dom defines the document primitives the fill state machine is
// written against. Two implementations exist: memdom (in-memory, backed by
// golang.org/x/net/html) used by tests and dry runs, and cdp (chromedp)
// used against a live tab.
package dom

// Document is one browsing context: the parent form page or the widget
// iframe. Queries take CSS selectors; implementations are expected to
// support tag, #id, .class, attribute ([a], [a=v], [a^=v], [a$=v], [a*=v]),
// descendant combinators and comma lists. Anything fancier is filtered on
// the Go side.
type Document interface {
	// Query returns the first element matching the selector, or nil.
	Query(selector string) Element
	// QueryAll returns every element matching the selector in document order.
	QueryAll(selector string) []Element
	// Location returns the document URL.
	Location() string
	// SetLocationHash rewrites only the fragment of the document URL.
	SetLocationHash(hash string)
	// DispatchEvent fires a synthetic event on the document itself.
	DispatchEvent(eventType string)
	// Watch subscribes to change notifications. The channel receives a token
	// after any mutation batch; cancel releases the subscription.
	Watch() (changes <-chan struct{}, cancel func())
	// Err reports a sticky transport failure (tab gone, eval broken).
	// In-memory documents always return nil.
	Err() error
}

// Element is a live handle to one DOM node. Mutators are best-effort the way
// page scripting is; a broken transport surfaces through Document.Err.
type Element interface {
	Query(selector string) Element
	QueryAll(selector string) []Element

	Tag() string
	ID() string
	Attr(name string) (string, bool)
	SetAttr(name, value string)
	RemoveAttr(name string)
	HasClass(class string) bool
	AddClass(class string)
	RemoveClass(class string)
	Text() string

	Value() string
	SetValue(value string)
	Checked() bool
	SetChecked(checked bool)

	// Style returns the computed style value for one property.
	Style(property string) string
	// BoxEmpty reports a zero-size client rect.
	BoxEmpty() bool

	Click()
	Focus()
	Blur()
	Dispatch(eventType string)
	// DispatchInput fires an input event carrying paste-like metadata
	// (inputType insertFromPaste plus the written data), the richer shape
	// framework change trackers listen for.
	DispatchInput(data string)
	Remove()

	Parent() Element
	Closest(selector string) Element
	Matches(selector string) bool
	// Same reports whether both handles address the same underlying node.
	Same(other Element) bool
}
