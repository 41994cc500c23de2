package pageload

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"metricize/internal/dom"
	"metricize/internal/rewrite"
)

// DebugPrintConversions prints one "original => value label" line for every
// conversion found inside elements matching selector, in document order.
// This is used by the command's "-selector" debug mode.
func DebugPrintConversions(w io.Writer, html, selector string) error {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return fmt.Errorf("compile selector %q: %w", selector, err)
	}

	gq, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	doc := dom.NewDocument(gq.Nodes[0])

	var werr error
	sc := rewrite.New(doc, rewrite.WithRecorder(rewrite.RecorderFunc(func(c rewrite.Conversion) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(w, "%s => %s %s\n", c.Original, c.Value, c.Label)
	})))

	// Nested matches are fine: the scanner never converts its own output twice.
	gq.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			sc.Scan(n)
		}
	})
	return werr
}
