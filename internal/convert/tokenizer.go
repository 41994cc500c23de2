// Package convert finds imperial quantities in a string and turns one text
// node's content into an edit script: the literal runs to keep and the
// original/metric pairs to splice in. It knows nothing about documents.
package convert

import (
	"fmt"
	"regexp"
	"strings"

	"metricize/internal/units"
)

// Match is one quantity+unit occurrence inside a scanned string.
// Start and End are byte offsets into that string.
type Match struct {
	Full   string
	Number string
	Unit   string
	Start  int
	End    int
}

// Tokenizer recognizes <number><optional space><unit><word boundary>.
//
// The number is an unsigned integer or decimal; a leading minus or thousands
// separator is never part of a match. Matching is case-insensitive.
type Tokenizer struct {
	re *regexp.Regexp
}

// NewTokenizer builds a tokenizer recognizing exactly the given unit spellings.
// Callers should pass units.Aliases() (longest first) so longer spellings win
// over their prefixes.
func NewTokenizer(aliases []string) (*Tokenizer, error) {
	if len(aliases) == 0 {
		return nil, fmt.Errorf("convert: no unit aliases")
	}
	quoted := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if strings.TrimSpace(a) == "" {
			return nil, fmt.Errorf("convert: empty unit alias")
		}
		quoted = append(quoted, regexp.QuoteMeta(a))
	}

	// Spaces include no-break space and the other Unicode space separators,
	// which is how "5&nbsp;miles" arrives after HTML parsing.
	pattern := `(?i)(\d+(?:\.\d+)?)[\s\p{Zs}]*(` + strings.Join(quoted, "|") + `)\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("convert: compile unit pattern: %w", err)
	}
	return &Tokenizer{re: re}, nil
}

var defaultTokenizer = func() *Tokenizer {
	t, err := NewTokenizer(units.Aliases())
	if err != nil {
		panic(err)
	}
	return t
}()

// Default returns the tokenizer built from the unit table.
func Default() *Tokenizer { return defaultTokenizer }

// Find returns every non-overlapping match in text, left to right.
func (t *Tokenizer) Find(text string) []Match {
	idx := t.re.FindAllStringSubmatchIndex(text, -1)
	if len(idx) == 0 {
		return nil
	}
	out := make([]Match, 0, len(idx))
	for _, loc := range idx {
		out = append(out, Match{
			Full:   text[loc[0]:loc[1]],
			Number: text[loc[2]:loc[3]],
			Unit:   text[loc[4]:loc[5]],
			Start:  loc[0],
			End:    loc[1],
		})
	}
	return out
}

// StartsWithWordChar reports whether s begins with a character that would
// prevent a word boundary right before it (ASCII letter, digit or '_').
func StartsWithWordChar(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '_' ||
		('0' <= c && c <= '9') ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z')
}
