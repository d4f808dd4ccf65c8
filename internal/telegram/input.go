package telegram

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vibe-planner/internal/hangout"
)

var clockPattern = regexp.MustCompile(`(?i)^(\d{1,2})(?:[:.](\d{2}))?\s*(am|pm)?$`)

// parseClock reads "7:30 PM", "7pm" or "19:30" into 12-hour clock parts.
func parseClock(s string) (hour, minute, ampm string, err error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", "", "", fmt.Errorf("send a time like 7:30 PM")
	}
	h, _ := strconv.Atoi(m[1])
	minute = m[2]
	if minute == "" {
		minute = "00"
	}
	ampm = strings.ToUpper(m[3])
	if ampm != "" {
		return strconv.Itoa(h), minute, ampm, nil
	}

	switch {
	case h > 23:
		return "", "", "", fmt.Errorf("send a time like 7:30 PM")
	case h == 0:
		h, ampm = 12, "AM"
	case h < 12:
		ampm = "AM"
	case h == 12:
		ampm = "PM"
	default:
		h, ampm = h-12, "PM"
	}
	return strconv.Itoa(h), minute, ampm, nil
}

// parseDateTime reads "2025-03-18 7:30 PM".
func parseDateTime(s string) (date, hour, minute, ampm string, err error) {
	date, rest, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok {
		return "", "", "", "", fmt.Errorf("send a date and time like 2025-03-18 7:30 PM")
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", "", "", "", fmt.Errorf("send a date and time like 2025-03-18 7:30 PM")
	}
	hour, minute, ampm, err = parseClock(rest)
	return date, hour, minute, ampm, err
}

// departureTime turns a reply to "when are you heading out?" into HH:MM.
func departureTime(s string, now time.Time) (string, error) {
	if strings.EqualFold(strings.TrimSpace(s), "now") {
		return now.Format("15:04"), nil
	}
	h, m, ap, err := parseClock(s)
	if err != nil {
		return "", err
	}
	return hangout.FormatSpecificTime("", h, m, ap)
}

// matchOption finds the option a typed answer refers to, by value or label.
func matchOption(q hangout.Question, text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, o := range q.Options {
		if strings.EqualFold(o.Value, text) || strings.EqualFold(o.Label, text) {
			return o.Value, true
		}
	}
	return "", false
}
