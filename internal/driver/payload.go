// Package driver runs the fill loop: start gate, per-card filling, widget
// negotiation, advancement, submit handling and the stall watchdog.
package driver

import (
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nxtri/cardpilot/internal/fill"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// TextEntry routes one value to free-text questions by label keywords.
type TextEntry struct {
	Value string   `json:"value"`
	Text  []string `json:"text"`
}

// defaultDelayMS paces the main loop when the payload does not say.
const defaultDelayMS = 250

// Payload is the fill request as it arrives over the control surface.
type Payload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`

	// DelayTime is the pause between main-loop beats, in milliseconds.
	DelayTime int `json:"delayTime"`

	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`

	SubmitForm bool `json:"submitForm"`

	InputTxtArr    []TextEntry `json:"inputTxtArr"`
	CheckboxTxtArr [][]string  `json:"checkboxTxtArr"`

	EnabledDays         DaySet `json:"enabledDays"`
	IncludeSpecialEvent bool   `json:"includeSpecialEvent"`
}

// ParsePayload decodes and validates a payload. Malformed input is rejected
// here, at the boundary; nothing downstream defaults a bad field.
func ParsePayload(data []byte) (Payload, error) {
	p := Payload{DelayTime: defaultDelayMS}
	if err := codec.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decoding payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// Validate enforces the payload contract.
func (p *Payload) Validate() error {
	if p.DelayTime < 0 {
		return fmt.Errorf("delayTime must not be negative, got %d", p.DelayTime)
	}
	dateFields := 0
	for _, v := range []int{p.Year, p.Month, p.Day} {
		if v != 0 {
			dateFields++
		}
	}
	if dateFields != 0 && dateFields != 3 {
		return fmt.Errorf("year, month and day must be provided together")
	}
	if dateFields == 3 {
		if p.Month < 1 || p.Month > 12 {
			return fmt.Errorf("month out of range: %d", p.Month)
		}
		if p.Day < 1 || p.Day > 31 {
			return fmt.Errorf("day out of range: %d", p.Day)
		}
		if p.Year < 1900 || p.Year > 2200 {
			return fmt.Errorf("year out of range: %d", p.Year)
		}
	}
	for i, e := range p.InputTxtArr {
		if strings.TrimSpace(e.Value) == "" {
			return fmt.Errorf("inputTxtArr[%d]: empty value", i)
		}
		if len(nonEmpty(e.Text)) == 0 {
			return fmt.Errorf("inputTxtArr[%d]: no keywords", i)
		}
	}
	for i, g := range p.CheckboxTxtArr {
		if len(nonEmpty(g)) == 0 {
			return fmt.Errorf("checkboxTxtArr[%d]: empty token group", i)
		}
	}
	return nil
}

// Values converts the wire payload into the fillers' input.
func (p *Payload) Values() fill.Values {
	v := fill.Values{
		FirstName: strings.TrimSpace(p.FirstName),
		LastName:  strings.TrimSpace(p.LastName),
		Email:     strings.TrimSpace(p.Email),
		Phone:     strings.TrimSpace(p.Phone),
		Year:      p.Year,
		Month:     p.Month,
		Day:       p.Day,
	}
	for _, e := range p.InputTxtArr {
		v.TextMappings = append(v.TextMappings, fill.TextMapping{
			Value:    strings.TrimSpace(e.Value),
			Keywords: nonEmpty(e.Text),
		})
	}
	for _, g := range p.CheckboxTxtArr {
		if clean := nonEmpty(g); len(clean) > 0 {
			v.TokenGroups = append(v.TokenGroups, clean)
		}
	}
	return v
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// DaySet is the enabledDays filter: day numbers and "a-b" ranges, as
// numbers or strings on the wire. Empty means every day is allowed.
type DaySet struct {
	days map[int]bool
}

// NewDaySet builds a set from already-parsed day numbers; tests use it.
func NewDaySet(days ...int) DaySet {
	s := DaySet{days: make(map[int]bool)}
	for _, d := range days {
		s.days[d] = true
	}
	return s
}

// Empty reports whether no filter applies.
func (s DaySet) Empty() bool { return len(s.days) == 0 }

// Contains reports whether the day passes the filter. An empty set passes
// everything.
func (s DaySet) Contains(day int) bool {
	return s.Empty() || s.days[day]
}

// UnmarshalJSON accepts [5, "12", "20-23"].
func (s *DaySet) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("enabledDays: %w", err)
	}
	s.days = make(map[int]bool)
	for _, item := range raw {
		switch v := item.(type) {
		case float64:
			d := int(v)
			if d < 1 || d > 31 {
				return fmt.Errorf("enabledDays: day out of range: %d", d)
			}
			s.days[d] = true
		case string:
			if err := s.addSpec(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("enabledDays: unsupported entry %v", item)
		}
	}
	return nil
}

// MarshalJSON round-trips as a sorted number array.
func (s DaySet) MarshalJSON() ([]byte, error) {
	out := make([]int, 0, len(s.days))
	for d := 1; d <= 31; d++ {
		if s.days[d] {
			out = append(out, d)
		}
	}
	return codec.Marshal(out)
}

func (s *DaySet) addSpec(spec string) error {
	spec = strings.TrimSpace(spec)
	if lo, hi, ok := strings.Cut(spec, "-"); ok {
		a, err1 := strconv.Atoi(strings.TrimSpace(lo))
		b, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil || a < 1 || b > 31 || a > b {
			return fmt.Errorf("enabledDays: bad range %q", spec)
		}
		for d := a; d <= b; d++ {
			s.days[d] = true
		}
		return nil
	}
	d, err := strconv.Atoi(spec)
	if err != nil || d < 1 || d > 31 {
		return fmt.Errorf("enabledDays: bad day %q", spec)
	}
	s.days[d] = true
	return nil
}
