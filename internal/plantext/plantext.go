// Package plantext parses the loosely structured text the plan generator
// returns.
//
// Grammar:
//
//	document       = block { "---" block } [ recommendation ]
//	recommendation = "Recommendation:" text      (runs to end of input)
//	block          = line { "\n" line }
//	line           = key ":" value | heading
//
// A line is split on its first colon. Lines without a colon are kept as
// headings ("OPTION 1", "Travel Estimate") or bullet text. Parsing never fails:
// an absent field reads as NotAvailable.
package plantext

import (
	"net/url"
	"strings"
)

const (
	// NotAvailable is returned for fields the generator left out.
	NotAvailable = "N/A"
	// DefaultTitle is used when a block carries no Title line.
	DefaultTitle = "Your Vibe Plan"

	separator         = "---"
	recommendationKey = "Recommendation:"
)

// Field is one "Key: Value" line.
type Field struct {
	Key   string
	Value string
}

// Block is one suggested hangout, or the travel enrichment of a final plan.
type Block struct {
	Raw    string
	Fields []Field
	Lines  []string
}

// Document is a full generator response.
type Document struct {
	Options        []Block
	Recommendation string
}

// Parse splits text into option blocks and the trailing recommendation.
func Parse(text string) Document {
	var doc Document
	body := text
	if i := strings.Index(text, recommendationKey); i >= 0 {
		body = text[:i]
		doc.Recommendation = strings.TrimSpace(text[i+len(recommendationKey):])
	}
	for _, raw := range strings.Split(body, separator) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		doc.Options = append(doc.Options, ParseBlock(raw))
	}
	return doc
}

// ParseBlock parses a single block.
func ParseBlock(raw string) Block {
	b := Block{Raw: strings.TrimSpace(raw)}
	for _, line := range strings.Split(b.Raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "- "), ":")
		if !ok {
			b.Lines = append(b.Lines, line)
			continue
		}
		b.Fields = append(b.Fields, Field{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)})
	}
	return b
}

// Lookup returns the first field named key.
func (b Block) Lookup(key string) (string, bool) {
	for _, f := range b.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Field returns the value of key, or NotAvailable.
func (b Block) Field(key string) string {
	if v, ok := b.Lookup(key); ok && v != "" {
		return v
	}
	return NotAvailable
}

// Title returns the block title, or DefaultTitle.
func (b Block) Title() string {
	if v, ok := b.Lookup("Title"); ok && v != "" {
		return v
	}
	return DefaultTitle
}

// Destination extracts the value of the first "Location:" line of plan.
func Destination(plan string) (string, bool) {
	for _, line := range strings.Split(plan, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Location:") {
			continue
		}
		dest := strings.TrimSpace(strings.TrimPrefix(line, "Location:"))
		return dest, dest != ""
	}
	return "", false
}

// Compose joins a chosen plan and its travel enrichment into a final plan.
func Compose(selected, travel string) string {
	return selected + "\n\n" + separator + "\n" + travel
}

// MapURL builds a Google Maps search link for a place in city.
func MapURL(place, city string) string {
	q := url.Values{}
	q.Set("api", "1")
	q.Set("query", place+", "+city)
	return "https://www.google.com/maps/search/?" + q.Encode()
}

// CalendarURL builds a Google Calendar event template for the block.
func CalendarURL(b Block, appName string) string {
	details := []string{
		detail(b, "Description"),
		"\nCost: " + detail(b, "Cost"),
		"Rating: " + detail(b, "Rating"),
		"Pro-Tip: " + detail(b, "Pro-Tip"),
		"Opening Hours: " + detail(b, "Opening Hours"),
		"\nGenerated by " + appName,
	}
	location, _ := b.Lookup("Location")

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", "Vibe Plan: "+detail(b, "Title"))
	q.Set("location", location)
	q.Set("details", strings.Join(details, "\n"))
	return "https://www.google.com/calendar/render?" + q.Encode()
}

func detail(b Block, key string) string {
	v, _ := b.Lookup(key)
	return v
}
