package fill

// TextMapping routes a value to free-text questions whose label contains any
// of the keywords.
type TextMapping struct {
	Value    string
	Keywords []string
}

// Values is everything the fillers can write. The control surface validates
// and converts its wire payload into this before a run starts.
type Values struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string

	Year  int
	Month int
	Day   int

	TextMappings []TextMapping
	// TokenGroups rank widget and checkbox choices: earlier groups are
	// preferred, tokens within a group are equivalent.
	TokenGroups [][]string
}

// HasDate reports whether a full date was provided.
func (v Values) HasDate() bool {
	return v.Year > 0 && v.Month > 0 && v.Day > 0
}

// Tokens flattens the ranked groups preserving priority order.
func (v Values) Tokens() []string {
	var out []string
	for _, g := range v.TokenGroups {
		out = append(out, g...)
	}
	return out
}
