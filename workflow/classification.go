package workflow

import "strings"

// Classification is a security classification level. The same type is used
// for a fact's marking and for a caller's clearance.
type Classification string

// Classification levels in ascending order of sensitivity.
const (
	Unclassified Classification = "unclassified"
	Confidential Classification = "confidential"
	Secret       Classification = "secret"
	TopSecret    Classification = "top_secret"
)

var ranks = map[Classification]int{
	Unclassified: 0,
	Confidential: 1,
	Secret:       2,
	TopSecret:    3,
}

// Classifications returns the levels in ascending order.
func Classifications() []Classification {
	return []Classification{Unclassified, Confidential, Secret, TopSecret}
}

// NormalizeClassification lowercases s and accepts the spaced and hyphenated
// spellings used by upstream systems ("TOP SECRET", "top-secret").
func NormalizeClassification(s string) Classification {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	return Classification(s)
}

// ParseClassification validates s as a known level.
func ParseClassification(s string) (Classification, error) {
	c := NormalizeClassification(s)
	if _, ok := ranks[c]; !ok {
		return "", ErrInvalidClassification
	}
	return c, nil
}

// Rank returns the ordinal of the level. Unknown levels rank as Unclassified
// so an unrecognized clearance never widens visibility.
func (c Classification) Rank() int {
	return ranks[NormalizeClassification(string(c))]
}

// Valid reports whether c is a known level.
func (c Classification) Valid() bool {
	_, ok := ranks[NormalizeClassification(string(c))]
	return ok
}

// Classified is implemented by anything carrying an optional marking.
// A nil marking means the item is unmarked and visible to everyone.
type Classified interface {
	Marking() *Classification
}

// CanView reports whether a caller holding clearance may see an item marked
// with marking. An unrecognized marking ranks as TopSecret.
func CanView(marking *Classification, clearance Classification) bool {
	if marking == nil {
		return true
	}
	rank := ranks[TopSecret]
	if marking.Valid() {
		rank = marking.Rank()
	}
	return rank <= clearance.Rank()
}

// FilterByClearance returns the items visible at the given clearance,
// preserving order. Disallowed items are dropped silently.
func FilterByClearance[T Classified](items []T, clearance Classification) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if CanView(item.Marking(), clearance) {
			out = append(out, item)
		}
	}
	return out
}
