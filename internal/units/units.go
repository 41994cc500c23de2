// Package units holds the imperial unit table: every recognized spelling of a
// unit, the canonical entry it resolves to, and the metric conversion for it.
//
// The alias list exported by Aliases is the only place unit spellings are
// declared. The tokenizer in internal/convert is built from it, so a spelling
// the tokenizer can produce always resolves through Lookup.
package units

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Definition describes one canonical imperial unit.
type Definition struct {
	// Key is the canonical lowercase name (e.g. "foot").
	Key string

	// Aliases are every lowercase spelling that resolves to this entry,
	// including Key itself.
	Aliases []string

	// Ratio multiplies an imperial value into Label units.
	// Unused when Affine is true.
	Ratio float64

	// Affine marks temperature: the conversion is (v-32)*5/9, not v*Ratio.
	Affine bool

	// Label is the metric unit printed after the converted value.
	Label string

	// Plural is the canonical plural spelling.
	Plural string
}

// Precision returns the number of fractional digits Convert emits.
func (d Definition) Precision() int {
	if d.Affine {
		return 1
	}
	return 2
}

// Value converts v into the metric unit without rounding.
func (d Definition) Value(v float64) float64 {
	if d.Affine {
		return (v - 32) * 5 / 9
	}
	return v * d.Ratio
}

// Convert converts v and formats it in fixed-point notation with exactly
// Precision fractional digits. Trailing zeros are kept ("37.0", "8.10").
//
// Non-finite inputs yield ok=false.
func (d Definition) Convert(v float64) (string, bool) {
	out := d.Value(v)
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return "", false
	}
	return strconv.FormatFloat(out, 'f', d.Precision(), 64), true
}

var table = []Definition{
	// distance
	{Key: "mile", Aliases: []string{"mile", "miles"}, Ratio: 1.60934, Label: "km", Plural: "miles"},
	{Key: "foot", Aliases: []string{"foot", "feet", "ft"}, Ratio: 0.3048, Label: "m", Plural: "feet"},
	{Key: "inch", Aliases: []string{"inch", "inches", "in"}, Ratio: 2.54, Label: "cm", Plural: "inches"},
	{Key: "yard", Aliases: []string{"yard", "yards", "yd"}, Ratio: 0.9144, Label: "m", Plural: "yards"},

	// weight
	{Key: "pound", Aliases: []string{"pound", "pounds", "lb", "lbs"}, Ratio: 0.453592, Label: "kg", Plural: "pounds"},
	{Key: "ounce", Aliases: []string{"ounce", "ounces", "oz"}, Ratio: 28.3495, Label: "g", Plural: "ounces"},

	// volume
	{Key: "gallon", Aliases: []string{"gallon", "gallons", "gal"}, Ratio: 3.78541, Label: "L", Plural: "gallons"},
	{Key: "quart", Aliases: []string{"quart", "quarts", "qt"}, Ratio: 0.946353, Label: "L", Plural: "quarts"},
	{Key: "pint", Aliases: []string{"pint", "pints", "pt"}, Ratio: 0.473176, Label: "L", Plural: "pints"},

	// temperature
	{Key: "fahrenheit", Aliases: []string{"fahrenheit", "°f"}, Affine: true, Label: "°C", Plural: "fahrenheit"},
}

// byAlias indexes table by alias. Built once at init.
var byAlias = func() map[string]int {
	m := make(map[string]int)
	for i, d := range table {
		for _, a := range d.Aliases {
			if _, dup := m[a]; dup {
				panic("units: alias declared twice: " + a)
			}
			m[a] = i
		}
	}
	return m
}()

// Normalize lowercases a unit token using Unicode case rules and trims
// surrounding whitespace, so "°F", "LBS" and " Feet" map onto table aliases.
func Normalize(token string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(token))
}

// Lookup resolves a unit token (any case) to its canonical definition.
func Lookup(token string) (Definition, bool) {
	i, ok := byAlias[Normalize(token)]
	if !ok {
		return Definition{}, false
	}
	return table[i], true
}

// Aliases returns every recognized spelling, longest first, ties ordered
// lexically. Longest-first ordering lets an alternation built from the list
// prefer "inches" over "in".
func Aliases() []string {
	out := make([]string, 0, len(byAlias))
	for a := range byAlias {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		li, lj := len([]rune(out[i])), len([]rune(out[j]))
		if li != lj {
			return li > lj
		}
		return out[i] < out[j]
	})
	return out
}

// Definitions returns a copy of the canonical entries in table order.
func Definitions() []Definition {
	out := make([]Definition, len(table))
	copy(out, table)
	return out
}
