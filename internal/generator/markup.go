package generator

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	htmlTag    = regexp.MustCompile(`(?i)</?(p|br|hr|div|li|ul|ol|b|strong|i|em|span|h[1-6])\b[^>]*>`)
	codeFence  = regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$")
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// CleanMarkup reduces generator output to the plain-text contract the plan
// parser expects. Models sometimes answer in HTML or markdown despite the
// prompt; tags are flattened to lines and emphasis markers dropped.
func CleanMarkup(s string) string {
	if htmlTag.MatchString(s) {
		s = htmlToText(s)
	}
	s = codeFence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")

	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.HasPrefix(line, "#") {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		lines[i] = line
	}
	s = blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

func htmlToText(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}

	doc.Find("script, style").Each(func(_ int, sel *goquery.Selection) {
		sel.Remove()
	})
	doc.Find("br").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("\n")
	})
	doc.Find("li").Each(func(_ int, sel *goquery.Selection) {
		sel.PrependHtml("- ")
	})
	doc.Find("p, div, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	doc.Find("hr").Each(func(_ int, sel *goquery.Selection) {
		sel.ReplaceWithHtml("---\n")
	})

	return doc.Find("body").Text()
}
