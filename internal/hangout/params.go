package hangout

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type (
	Vibe       string
	TimeWindow string
	Budget     string
	Audience   string
	Timing     string
	DateMeal   string
	Proximity  string
)

const (
	VibeRelax    Vibe = "Relax & Unwind"
	VibeFood     Vibe = "Food & Nightlife"
	VibeArts     Vibe = "Arts & Culture"
	VibeActive   Vibe = "Active & Adventure"
	VibeMovies   Vibe = "Movies & Plays"
	VibePicnic   Vibe = "Picnic & Parks"
	VibeShopping Vibe = "Shopping & Markets"
	VibeRomantic Vibe = "Romantic Date"
	VibeLucky    Vibe = "I'm Feeling Lucky!"
)

const (
	WindowQuickie  TimeWindow = "Quickie (1-2 hours)"
	WindowHalfDay  TimeWindow = "Half-Day Sesh (3-4 hours)"
	WindowMain     TimeWindow = "The Main Event (5+ hours)"
	WindowDayTrip  TimeWindow = "A Whole Day Trip (8+ hours)"
	BudgetFree     Budget     = "Basically Free"
	BudgetMidRange Budget     = "Mid-Range"
	BudgetFancy    Budget     = "Feeling Fancy"
)

const (
	AudienceSolo       Audience = "Solo Mission"
	AudienceCrew       Audience = "With the Crew"
	AudienceTwoOfUs    Audience = "Just the Two of Us"
	AudienceDoubleDate Audience = "It's a Double Date"
)

const (
	TimingNow      Timing = "Right Now!"
	TimingLater    Timing = "Later Today"
	TimingThisWeek Timing = "Sometime This Week"
)

const (
	MealBreakfast DateMeal = "Breakfast"
	MealBrunch    DateMeal = "Brunch"
	MealLunch     DateMeal = "Lunch"
	MealDinner    DateMeal = "Dinner"
)

const (
	ProximityAny   Proximity = "any"
	ProximityClose Proximity = "close"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	return fmt.Sprintf("%.5f,%.5f", l.Latitude, l.Longitude)
}

// Params is the draft a user builds up through the questionnaire. Empty
// strings and a zero GroupSize mean "not answered yet".
type Params struct {
	Vibe             Vibe       `json:"vibe"`
	DateMeal         DateMeal   `json:"dateMeal,omitempty"`
	TimeWindow       TimeWindow `json:"timeWindow"`
	Budget           Budget     `json:"budget"`
	Audience         Audience   `json:"audience"`
	GroupSize        int        `json:"groupSize,omitempty"`
	Timing           Timing     `json:"timing"`
	SpecificDateTime string     `json:"specificDateTime,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	Proximity        Proximity  `json:"proximity"`
}

// NewParams returns an empty draft with proximity "any".
func NewParams() Params {
	return Params{Proximity: ProximityAny}
}

// ParamKey names a single answerable field of Params.
type ParamKey string

const (
	KeyVibe             ParamKey = "vibe"
	KeyDateMeal         ParamKey = "dateMeal"
	KeyTimeWindow       ParamKey = "timeWindow"
	KeyBudget           ParamKey = "budget"
	KeyAudience         ParamKey = "audience"
	KeyGroupSize        ParamKey = "groupSize"
	KeyTiming           ParamKey = "timing"
	KeySpecificDateTime ParamKey = "specificDateTime"
)

// AnswerKeys lists every questionnaire key in base-sequence order.
var AnswerKeys = []ParamKey{
	KeyVibe, KeyDateMeal, KeyTimeWindow, KeyBudget, KeyAudience,
	KeyGroupSize, KeyTiming, KeySpecificDateTime,
}

// Set stores value under key. It does not validate against the option list;
// callers do that with Question.Accepts.
func (p *Params) Set(key ParamKey, value string) error {
	switch key {
	case KeyVibe:
		p.Vibe = Vibe(value)
	case KeyDateMeal:
		p.DateMeal = DateMeal(value)
	case KeyTimeWindow:
		p.TimeWindow = TimeWindow(value)
	case KeyBudget:
		p.Budget = Budget(value)
	case KeyAudience:
		p.Audience = Audience(value)
	case KeyGroupSize:
		n, err := ParseGroupSize(value)
		if err != nil {
			return err
		}
		p.GroupSize = n
	case KeyTiming:
		p.Timing = Timing(value)
	case KeySpecificDateTime:
		p.SpecificDateTime = value
	default:
		return fmt.Errorf("unknown parameter %q", key)
	}
	return nil
}

// Clear resets the answer stored under key.
func (p *Params) Clear(key ParamKey) {
	switch key {
	case KeyVibe:
		p.Vibe = ""
	case KeyDateMeal:
		p.DateMeal = ""
	case KeyTimeWindow:
		p.TimeWindow = ""
	case KeyBudget:
		p.Budget = ""
	case KeyAudience:
		p.Audience = ""
	case KeyGroupSize:
		p.GroupSize = 0
	case KeyTiming:
		p.Timing = ""
	case KeySpecificDateTime:
		p.SpecificDateTime = ""
	}
}

// Value returns the answer stored under key, or "" when unanswered.
func (p Params) Value(key ParamKey) string {
	switch key {
	case KeyVibe:
		return string(p.Vibe)
	case KeyDateMeal:
		return string(p.DateMeal)
	case KeyTimeWindow:
		return string(p.TimeWindow)
	case KeyBudget:
		return string(p.Budget)
	case KeyAudience:
		return string(p.Audience)
	case KeyGroupSize:
		if p.GroupSize == 0 {
			return ""
		}
		return strconv.Itoa(p.GroupSize)
	case KeyTiming:
		return string(p.Timing)
	case KeySpecificDateTime:
		return p.SpecificDateTime
	}
	return ""
}

// ParseGroupSize accepts a positive whole number, optionally followed by "+".
func ParseGroupSize(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(value), "+"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("group size must be a positive number, got %q", value)
	}
	return n, nil
}

// FormatSpecificTime converts a 12-hour clock answer into "HH:MM", prefixed
// with "YYYY-MM-DDT" when date is set.
func FormatSpecificTime(date, hour, minute, ampm string) (string, error) {
	h, err := strconv.Atoi(strings.TrimSpace(hour))
	if err != nil || h < 1 || h > 12 {
		return "", fmt.Errorf("hour must be between 1 and 12, got %q", hour)
	}
	m, err := strconv.Atoi(strings.TrimSpace(minute))
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("minute must be between 0 and 59, got %q", minute)
	}

	switch strings.ToUpper(strings.TrimSpace(ampm)) {
	case "PM":
		if h < 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	default:
		return "", fmt.Errorf("expected AM or PM, got %q", ampm)
	}

	formatted := fmt.Sprintf("%02d:%02d", h, m)
	if date = strings.TrimSpace(date); date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return "", fmt.Errorf("date must look like YYYY-MM-DD, got %q", date)
		}
		return date + "T" + formatted, nil
	}
	return formatted, nil
}
