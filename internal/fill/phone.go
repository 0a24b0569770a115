package fill

import (
	"strconv"
	"strings"

	"github.com/nxtri/cardpilot/internal/dom"
	"go.uber.org/zap"
)

const defaultMask = "(###) ###-####"

// fillPhone writes the phone number into whichever of the four supported
// shapes the line carries, checked in order: masked single input,
// international-format input, split area/number parts, plain tel input.
func (f *Filler) fillPhone(line dom.Element, phone string) {
	digits := dom.Digits(phone)
	if line == nil || digits == "" {
		return
	}

	if masked := queryFirst(line,
		"input[id$='_full'][data-type='mask-number']",
		"input.mask-phone-number",
		"input.forPhone",
	); masked != nil {
		f.fillMasked(masked, digits)
		return
	}

	if intl := line.Query(".iti input[type='tel']"); intl != nil {
		f.setText(intl, digits)
		return
	}

	area := queryFirst(line, "input[data-component='area']", "input[id^='input_'][id$='_area']")
	num := queryFirst(line, "input[data-component='phone']", "input[id^='input_'][id$='_phone']")
	if area != nil && num != nil {
		f.fillSplit(area, num, digits)
		return
	}

	if plain := queryFirst(line, "input[type='tel']", "input[data-component='phone']"); plain != nil {
		f.setText(plain, digits)
	}
}

// fillMasked applies the input's mask pattern to the digits. Too few digits
// for the mask means the write is skipped entirely; a half-filled mask would
// only trip validation.
func (f *Filler) fillMasked(input dom.Element, digits string) {
	pattern := maskPattern(input)
	masked, ok := applyMask(pattern, digits)
	if !ok {
		f.log.Debug("Not enough digits for phone mask, skipping",
			zap.String("mask", pattern), zap.Int("digits", len(digits)))
		return
	}
	f.setText(input, masked)
}

func maskPattern(input dom.Element) string {
	for _, attr := range []string{"maskvalue", "data-maskvalue", "placeholder"} {
		if v, ok := input.Attr(attr); ok {
			if strings.ContainsAny(v, "#_9") {
				return v
			}
		}
	}
	return defaultMask
}

// applyMask substitutes mask placeholders (#, _, 9) with successive digits.
func applyMask(pattern, digits string) (string, bool) {
	need := 0
	for _, r := range pattern {
		if r == '#' || r == '_' || r == '9' {
			need++
		}
	}
	if need == 0 || len(digits) < need {
		return "", false
	}
	var sb strings.Builder
	i := 0
	for _, r := range pattern {
		if r == '#' || r == '_' || r == '9' {
			sb.WriteByte(digits[i])
			i++
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String(), true
}

// fillSplit distributes digits between an area-code input and the number
// input, sized by the area input's maxlength (default 3).
func (f *Filler) fillSplit(area, num dom.Element, digits string) {
	alen := 3
	if v, ok := area.Attr("maxlength"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			alen = n
		}
	}
	if len(digits) <= alen {
		f.setText(num, digits)
		return
	}
	// A leading country 1 on an 11-digit number is dropped for US shapes.
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}
	f.setText(area, digits[:alen])
	f.setText(num, digits[alen:])
}
