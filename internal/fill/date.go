package fill

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nxtri/cardpilot/internal/dom"
)

var liteIDRe = regexp.MustCompile(`^lite_mode_(\d+)$`)

// fillDate writes the configured date into a lite-mode date field: the
// visible composite input formatted per the field's own format and separator
// attributes, the hidden ISO sibling, and the framework's date:changed
// notification on the form line.
func (f *Filler) fillDate(line dom.Element, v Values) {
	if line == nil || !v.HasDate() {
		return
	}
	lite := line.Query("input[id^='lite_mode_']")
	if lite == nil {
		return
	}

	sep := attrFirst(lite, "/", "data-seperator", "seperator")
	format := strings.ToLower(attrFirst(lite, "mmddyyyy", "data-format", "format"))

	dd := fmt.Sprintf("%02d", v.Day)
	mm := fmt.Sprintf("%02d", v.Month)
	yyyy := fmt.Sprintf("%04d", v.Year)

	var composite string
	switch format {
	case "ddmmyyyy":
		composite = dd + sep + mm + sep + yyyy
	case "yyyymmdd":
		composite = yyyy + sep + mm + sep + dd
	default: // mmddyyyy
		composite = mm + sep + dd + sep + yyyy
	}
	f.setText(lite, composite)

	qid := ""
	if m := liteIDRe.FindStringSubmatch(lite.ID()); m != nil {
		qid = m[1]
	}
	if qid != "" {
		if iso := f.doc.Query("#input_" + qid); iso != nil {
			f.setText(iso, yyyy+"-"+mm+"-"+dd)
		}
	}
	// The picker listens on the line, not the input.
	line.Dispatch("date:changed")
}

// attrFirst returns the first present attribute value, else the default.
// The misspelled "seperator" is the product's own attribute name.
func attrFirst(el dom.Element, def string, names ...string) string {
	for _, n := range names {
		if v, ok := el.Attr(n); ok && v != "" {
			return v
		}
	}
	return def
}
